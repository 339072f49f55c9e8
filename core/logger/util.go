package logger

import (
	"fmt"
	"strings"
	"time"
)

// Status maps err to the status field value: "fail" or "ok".
func Status(err error) string {
	if err != nil {
		return "fail"
	}
	return "ok"
}

// Took returns the time elapsed since start, rounded for logging.
func Took(start time.Time) time.Duration {
	return RoundMS(time.Since(start))
}

// RoundMS rounds d to whole milliseconds; negative values become zero.
func RoundMS(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	return d.Round(time.Millisecond)
}

// JoinLimit joins the first limit values with ", " and notes how many were
// left out, e.g. "a, b (+3 more)".
func JoinLimit(values []string, limit int) string {
	if limit < 0 {
		limit = 0
	}
	if len(values) <= limit {
		return strings.Join(values, ", ")
	}
	head := strings.Join(values[:limit], ", ")
	rest := len(values) - limit
	if head == "" {
		return fmt.Sprintf("(+%d more)", rest)
	}
	return fmt.Sprintf("%s (+%d more)", head, rest)
}
