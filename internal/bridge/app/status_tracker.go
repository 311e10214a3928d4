package app

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/nightline/iphone-bridge/internal/bridge/domain"
	"github.com/nightline/iphone-bridge/internal/bridge/repository/chatdb"
)

// StatusHandler is invoked for each detected status update. Errors are
// logged and never interrupt the check.
type StatusHandler func(ctx context.Context, update domain.StatusUpdate) error

const (
	// trackingWindow bounds how long a sent message is tracked before being
	// garbage-collected, resolved or not.
	trackingWindow = 24 * time.Hour

	// Resolution looks for the store row a send produced within an
	// asymmetric window around the track() time: clock skew before,
	// processing delay after.
	resolveLookback  = 30 * time.Second
	resolveLookahead = 60 * time.Second

	// resolveCandidateLimit caps own-message rows examined per unresolved
	// tracked message.
	resolveCandidateLimit = 10
)

// TrackedMessage is a sent message being watched for delivery/read receipts.
// GUID is empty until resolution binds it to a store row. Delivered/read
// stamps, once set, are never unset or overwritten.
type TrackedMessage struct {
	Phone       string
	Text        string
	SentAt      time.Time
	Channel     domain.ChannelKind
	GUID        string
	DeliveredAt time.Time
	ReadAt      time.Time
}

// StatusTracker correlates sent messages with the store rows they produce
// and detects receipt transitions. There is no shared identifier between an
// outbound send and its row: matching is recipient + time proximity only,
// first match wins on newest-row-first order, and rapid repeated sends to
// the same recipient can mis-bind. That imprecision is inherent to the
// source data, not something to paper over with stricter guesses.
type StatusTracker struct {
	onStatus StatusHandler
	logger   *slog.Logger

	mu      sync.Mutex
	tracked []*TrackedMessage

	now func() time.Time
}

// NewStatusTracker creates a tracker. onStatus may be nil.
func NewStatusTracker(onStatus StatusHandler, logger *slog.Logger) *StatusTracker {
	return &StatusTracker{
		onStatus: onStatus,
		logger:   logger.With("component", "status_tracker"),
		now:      time.Now,
	}
}

// Track registers a sent message for receipt tracking. SMS carries no
// receipts, so BASIC-channel sends are a logged no-op. Safe to call
// concurrently with CheckStatusUpdates.
func (t *StatusTracker) Track(phone, text string, channel domain.ChannelKind) {
	if !channel.Rich() {
		t.logger.Debug("Not tracking SMS message (no delivery receipts)", "phone", phone)
		return
	}

	t.mu.Lock()
	t.tracked = append(t.tracked, &TrackedMessage{
		Phone:   phone,
		Text:    text,
		SentAt:  t.now().UTC(),
		Channel: channel,
	})
	trackedMessagesGauge.Set(float64(len(t.tracked)))
	t.mu.Unlock()

	t.logger.Debug("Tracking message for delivery status", "phone", phone)
}

// CheckStatusUpdates runs once per poll cycle on the cycle's store
// connection. It garbage-collects expired entries, resolves unbound ones,
// and emits at most one update per (guid, kind) transition, delivered
// before read within a row. READ is terminal: the entry is removed after
// the update is emitted.
func (t *StatusTracker) CheckStatusUpdates(ctx context.Context, conn *chatdb.Conn) []domain.StatusUpdate {
	now := t.now().UTC()

	t.mu.Lock()
	t.cleanupLocked(now)
	snapshot := make([]*TrackedMessage, len(t.tracked))
	copy(snapshot, t.tracked)
	t.mu.Unlock()

	if len(snapshot) == 0 {
		return nil
	}

	t.resolvePending(ctx, conn, snapshot)

	// Entry fields are also read by Stats()/TrackingCount() from the HTTP
	// goroutine, so every field access here goes through the mutex.
	t.mu.Lock()
	byGUID := make(map[string]*TrackedMessage)
	var guids []string
	for _, m := range snapshot {
		if m.GUID != "" && m.ReadAt.IsZero() {
			byGUID[m.GUID] = m
			guids = append(guids, m.GUID)
		}
	}
	t.mu.Unlock()
	if len(guids) == 0 {
		return nil
	}

	receipts, err := conn.Receipts(ctx, guids)
	if err != nil {
		t.logger.ErrorContext(ctx, "Receipt query failed", "error", err)
		return nil
	}

	var updates []domain.StatusUpdate
	var terminal []string

	for _, r := range receipts {
		m, ok := byGUID[r.GUID]
		if !ok {
			continue
		}

		t.mu.Lock()
		var rowUpdates []domain.StatusUpdate
		if r.DateDelivered != 0 && m.DeliveredAt.IsZero() {
			m.DeliveredAt = domain.FromAppleTime(r.DateDelivered)
			rowUpdates = append(rowUpdates, domain.StatusUpdate{
				GUID:      m.GUID,
				Phone:     m.Phone,
				Kind:      domain.StatusDelivered,
				Timestamp: m.DeliveredAt,
				Channel:   m.Channel,
			})
		}
		if r.DateRead != 0 && m.ReadAt.IsZero() {
			m.ReadAt = domain.FromAppleTime(r.DateRead)
			rowUpdates = append(rowUpdates, domain.StatusUpdate{
				GUID:      m.GUID,
				Phone:     m.Phone,
				Kind:      domain.StatusRead,
				Timestamp: m.ReadAt,
				Channel:   m.Channel,
			})
			terminal = append(terminal, m.GUID)
		}
		t.mu.Unlock()

		for _, update := range rowUpdates {
			updates = append(updates, update)
			t.emit(ctx, update)
		}
	}

	if len(terminal) > 0 {
		t.removeByGUID(terminal)
	}

	return updates
}

// resolvePending binds unresolved tracked messages to own-message rows by
// recipient and send-time proximity. A row that already carries receipt
// stamps at bind time is stamped silently; only later transitions emit
// updates.
func (t *StatusTracker) resolvePending(ctx context.Context, conn *chatdb.Conn, snapshot []*TrackedMessage) {
	for _, m := range snapshot {
		t.mu.Lock()
		resolved := m.GUID != ""
		sentAt := m.SentAt
		t.mu.Unlock()
		if resolved {
			continue
		}

		from := domain.ToAppleTime(sentAt.Add(-resolveLookback))
		to := domain.ToAppleTime(sentAt.Add(resolveLookahead))

		rows, err := conn.OutgoingBetween(ctx, from, to, resolveCandidateLimit)
		if err != nil {
			t.logger.ErrorContext(ctx, "Resolution query failed", "error", err, "phone", m.Phone)
			continue
		}

		for _, row := range rows {
			if row.GUID == "" || !domain.SamePhone(row.Handle, m.Phone) {
				continue
			}

			t.mu.Lock()
			m.GUID = row.GUID
			if row.DateDelivered != 0 {
				m.DeliveredAt = domain.FromAppleTime(row.DateDelivered)
			}
			if row.DateRead != 0 {
				m.ReadAt = domain.FromAppleTime(row.DateRead)
			}
			t.mu.Unlock()

			t.logger.Debug("Resolved sent message to store row",
				"phone", m.Phone,
				"guid", row.GUID,
			)
			break
		}
	}
}

func (t *StatusTracker) emit(ctx context.Context, update domain.StatusUpdate) {
	statusUpdatesCounter.WithLabelValues(update.Kind.String()).Inc()
	t.logger.InfoContext(ctx, "Message status changed",
		"guid", update.GUID,
		"phone", update.Phone,
		"status", update.Kind.String(),
	)

	if t.onStatus == nil {
		return
	}
	if err := t.onStatus(ctx, update); err != nil {
		t.logger.ErrorContext(ctx, "Error in status handler", "error", err, "guid", update.GUID)
	}
}

// cleanupLocked drops entries older than the tracking window. Caller holds
// the mutex.
func (t *StatusTracker) cleanupLocked(now time.Time) {
	cutoff := now.Add(-trackingWindow)
	kept := t.tracked[:0]
	for _, m := range t.tracked {
		if m.SentAt.After(cutoff) {
			kept = append(kept, m)
		}
	}
	if removed := len(t.tracked) - len(kept); removed > 0 {
		t.logger.Debug("Cleaned up expired tracked messages", "removed", removed)
	}
	t.tracked = kept
	trackedMessagesGauge.Set(float64(len(t.tracked)))
}

func (t *StatusTracker) removeByGUID(guids []string) {
	drop := make(map[string]bool, len(guids))
	for _, g := range guids {
		drop[g] = true
	}

	t.mu.Lock()
	kept := t.tracked[:0]
	for _, m := range t.tracked {
		if !drop[m.GUID] {
			kept = append(kept, m)
		}
	}
	t.tracked = kept
	trackedMessagesGauge.Set(float64(len(t.tracked)))
	t.mu.Unlock()
}

// TrackingCount returns the number of messages currently tracked.
func (t *StatusTracker) TrackingCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.tracked)
}

// TrackerStats summarizes tracker state for the status endpoint.
type TrackerStats struct {
	TotalTracked      int `json:"total_tracked"`
	PendingResolution int `json:"pending_resolution"`
	WithGUID          int `json:"with_guid"`
}

// Stats returns tracking statistics.
func (t *StatusTracker) Stats() TrackerStats {
	t.mu.Lock()
	defer t.mu.Unlock()

	stats := TrackerStats{TotalTracked: len(t.tracked)}
	for _, m := range t.tracked {
		if m.GUID != "" {
			stats.WithGUID++
		}
	}
	stats.PendingResolution = stats.TotalTracked - stats.WithGUID
	return stats
}
