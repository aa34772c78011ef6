package answer

import (
	"fmt"
	"math"
	"time"
)

// FormatDeadline renders a stored deadline date relative to now:
// OVERDUE, DUE TODAY, DUE IN N DAYS, or the plain date.
func FormatDeadline(deadlineDate string, now time.Time) string {
	if deadlineDate == "" || deadlineDate == "None" {
		return "No deadline"
	}

	deadline, err := time.Parse(time.RFC3339, deadlineDate)
	if err != nil {
		return "No deadline"
	}

	days := int(math.Floor(deadline.Sub(now).Hours() / 24))
	switch {
	case days < 0:
		return "OVERDUE"
	case days == 0:
		return "DUE TODAY"
	case days <= 3:
		return fmt.Sprintf("DUE IN %d DAYS", days)
	default:
		return deadline.Format("2006-01-02")
	}
}
