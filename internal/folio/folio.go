// Package folio formats the human-readable receipt identifiers printed on
// tickets. Sequence numbers are allocated by the store (one atomically
// advanced counter per calendar day); this package only renders them.
package folio

import (
	"fmt"
	"strings"
	"time"
)

const prefix = "TICK"

// Format renders a structured folio: TICK-YYYYMMDD-NNNN, where NNNN is the
// day-scoped sequence starting at 0001.
func Format(day time.Time, seq int) string {
	return fmt.Sprintf("%s-%s-%04d", prefix, day.UTC().Format("20060102"), seq)
}

// Fallback renders a degraded folio from the clock, used only when the
// per-day sequence cannot be allocated.
func Fallback(now time.Time) string {
	return fmt.Sprintf("%s-%d", prefix, now.UTC().UnixMilli())
}

// IsDegraded reports whether a folio came from the fallback path rather
// than the structured day/sequence format.
func IsDegraded(f string) bool {
	parts := strings.Split(f, "-")
	if len(parts) != 3 {
		return true
	}
	return parts[0] != prefix || !isDigits(parts[1]) || len(parts[1]) != 8 || !isDigits(parts[2]) || len(parts[2]) < 4
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
