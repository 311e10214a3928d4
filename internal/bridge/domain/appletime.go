package domain

import "time"

// appleEpochUnix is 2001-01-01T00:00:00Z, the epoch chat.db timestamps are
// measured from, expressed in Unix seconds.
const appleEpochUnix int64 = 978307200

const nanosPerSecond int64 = 1_000_000_000

// FromAppleTime converts nanoseconds since the Apple epoch to a UTC instant.
// Integer arithmetic only: delivered/read ordering depends on exactness.
func FromAppleTime(ns int64) time.Time {
	return time.Unix(appleEpochUnix+ns/nanosPerSecond, ns%nanosPerSecond).UTC()
}

// ToAppleTime converts a time to nanoseconds since the Apple epoch.
func ToAppleTime(t time.Time) int64 {
	return (t.Unix()-appleEpochUnix)*nanosPerSecond + int64(t.Nanosecond())
}
