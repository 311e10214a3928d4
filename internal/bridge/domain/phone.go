package domain

import "strings"

// defaultCountryCode is prepended to bare 10-digit numbers.
const defaultCountryCode = "1"

// NormalizePhone canonicalizes a chat.db handle to E.164 where possible.
//
//	"5551234567"        -> "+15551234567"
//	"+1 (555) 123-4567" -> "+15551234567"
//	"user@icloud.com"   -> "user@icloud.com" (emails pass through)
//
// Short or otherwise ambiguous numbers are returned unchanged rather than
// rejected; the store itself contains such handles and receipts still need
// to match against them.
func NormalizePhone(handle string) string {
	if strings.Contains(handle, "@") {
		return handle
	}

	digits := digitsOnly(handle)

	switch {
	case len(digits) == 10:
		return "+" + defaultCountryCode + digits
	case len(digits) == 11 && strings.HasPrefix(digits, defaultCountryCode):
		return "+" + digits
	case len(digits) > 11:
		return "+" + digits
	}

	return handle
}

// SamePhone reports whether two handles refer to the same recipient. Each
// side is normalized and compared in three forms: full, digits-only, and
// digits without the leading country code. Used by status resolution, where
// the store row and the tracked send have no shared identifier.
func SamePhone(a, b string) bool {
	for _, fa := range phoneForms(a) {
		for _, fb := range phoneForms(b) {
			if fa != "" && fa == fb {
				return true
			}
		}
	}
	return false
}

func phoneForms(handle string) [3]string {
	norm := NormalizePhone(handle)
	digits := digitsOnly(norm)
	return [3]string{
		norm,
		digits,
		strings.TrimPrefix(digits, defaultCountryCode),
	}
}

func digitsOnly(s string) string {
	return strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, s)
}
