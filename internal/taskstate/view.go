package taskstate

import (
	"fmt"
	"strings"
	"time"

	"agentstudio/internal/domain/task"
)

// CurrentStep returns the most recent step, if any.
func (s State) CurrentStep() (int, bool) {
	if len(s.Steps) == 0 {
		return 0, false
	}
	return len(s.Steps) - 1, true
}

// ProgressMessage renders "Step N/total: message". The total is only known
// once the remote reports finished.
func (s State) ProgressMessage() string {
	idx, ok := s.CurrentStep()
	if !ok {
		if s.Running {
			return "Initializing automation..."
		}
		return ""
	}
	step := s.Steps[idx]
	number := step.Number
	if number <= 0 {
		number = idx + 1
	}
	total := "?"
	if s.Status == task.StatusFinished {
		total = fmt.Sprintf("%d", len(s.Steps))
	}
	return fmt.Sprintf("Step %d/%s: %s", number, total, step.Message())
}

// StatusLabel returns the user-facing status text.
func (s State) StatusLabel() string {
	if s.Phase == PhaseStarting {
		return "Starting"
	}
	return s.Status.Label()
}

// Duration is the elapsed time from start to end, or to now while running.
func (s State) Duration(now time.Time) time.Duration {
	if s.StartTime.IsZero() {
		return 0
	}
	end := s.EndTime
	if end.IsZero() {
		end = now
	}
	if end.Before(s.StartTime) {
		return 0
	}
	return end.Sub(s.StartTime)
}

// ShareURL prefers the public share link and falls back to the live session.
func (s State) ShareURL() string {
	if s.PublicShareURL != "" {
		return s.PublicShareURL
	}
	return s.LiveURL
}

// FormatValue renders output values for display; "Unknown" and empty values
// become "N/A".
func FormatValue(v any) string {
	switch typed := v.(type) {
	case nil:
		return "N/A"
	case string:
		t := strings.TrimSpace(typed)
		if t == "" || strings.EqualFold(t, "unknown") {
			return "N/A"
		}
		return t
	case []any:
		parts := make([]string, 0, len(typed))
		for _, item := range typed {
			if f := FormatValue(item); f != "N/A" {
				parts = append(parts, f)
			}
		}
		if len(parts) == 0 {
			return "N/A"
		}
		return strings.Join(parts, ", ")
	case float64:
		if typed == float64(int64(typed)) {
			return fmt.Sprintf("%d", int64(typed))
		}
		return fmt.Sprintf("%g", typed)
	default:
		return fmt.Sprint(typed)
	}
}
