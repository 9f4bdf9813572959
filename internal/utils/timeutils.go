package utils

import (
	"fmt"
	"time"
)

// NowUTC returns the current wall-clock time in UTC without a monotonic reading,
// so values survive a JSON round trip unchanged.
func NowUTC() time.Time {
	return time.Now().UTC()
}

// ElapsedMs reports whole milliseconds since start.
func ElapsedMs(start time.Time) int64 {
	return time.Since(start).Milliseconds()
}

// ParseRFC3339 returns a time from the provided string or an error.
func ParseRFC3339(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, fmt.Errorf("empty time value")
	}
	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse time: %w", err)
	}
	return t, nil
}

// FormatSeconds renders a millisecond duration as "12.3s" for operator-facing messages.
func FormatSeconds(ms int64) string {
	return fmt.Sprintf("%.1fs", float64(ms)/1000)
}
