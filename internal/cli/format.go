package cli

import (
	"fmt"
	"strconv"
	"time"
)

// FormatTime renders a timestamp for table cells, "-" when unset.
func FormatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04:05")
}

// FormatDuration renders a duration in the largest sensible unit.
func FormatDuration(d time.Duration) string {
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%.1fh", d.Hours())
	default:
		return fmt.Sprintf("%.1fd", d.Hours()/24)
	}
}

// FormatConfidence renders a 0-1 fraction as a percentage.
func FormatConfidence(v float64) string {
	return fmt.Sprintf("%.1f%%", v*100)
}

// TruncateString shortens s to max runes with an ellipsis.
func TruncateString(s string, max int) string {
	if max <= 3 {
		max = 3
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max-3]) + "..."
}

func formatInt(n int) string {
	return strconv.Itoa(n)
}
