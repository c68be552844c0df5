// Package timestamp normalizes the loosely formatted timestamp strings that
// modems report into canonical UTC instants.
package timestamp

import (
	"fmt"
	"time"
)

// ParseError indicates the input could not be interpreted as an RFC3339
// timestamp, even after offset repair.
type ParseError struct {
	Input string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("malformed timestamp %q: not RFC3339", e.Input)
}

// Parse interprets s as an RFC3339 timestamp and returns it in UTC.
//
// Some modems report zone offsets without a minutes component ("+01" instead
// of "+01:00"), which strict RFC3339 parsing rejects. When the strict parse
// fails and the string ends in a two-digit offset, ":00" is appended and the
// parse retried once. No further fallback is attempted; Parse is pure and
// deterministic.
func Parse(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	if fixed, ok := repairOffset(s); ok {
		if t, err := time.Parse(time.RFC3339, fixed); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, &ParseError{Input: s}
}

// repairOffset reports whether s ends in a [+-]DD offset missing its minutes,
// returning the string with ":00" appended when it does.
func repairOffset(s string) (string, bool) {
	if len(s) < 3 {
		return "", false
	}
	sign := s[len(s)-3]
	if sign != '+' && sign != '-' {
		return "", false
	}
	if !isDigit(s[len(s)-2]) || !isDigit(s[len(s)-1]) {
		return "", false
	}
	return s + ":00", true
}

func isDigit(b byte) bool { return b >= '0' && b <= '9' }
