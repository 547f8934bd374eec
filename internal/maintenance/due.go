package maintenance

import (
	"strings"
	"time"
)

// DefaultIntervalDays applies to categories without an entry in Intervals.
const DefaultIntervalDays = 365

// DefaultWindowDays is the look-ahead used for "upcoming" when none is given.
const DefaultWindowDays = 30

// Intervals maps an equipment category to its preventive maintenance
// interval in days.
var Intervals = map[string]int{
	"IMPRESSORA": 90,
	"SERVIDOR":   90,
	"NOTEBOOK":   180,
	"COMPUTADOR": 180,
	"PROJETOR":   120,
	"TELEFONE":   365,
	"MONITOR":    365,
}

type State string

const (
	StateOverdue  State = "overdue"
	StateUpcoming State = "upcoming"
	StateOK       State = "ok"
	StateUnknown  State = "unknown"
)

// Forecast is the maintenance outlook for one piece of equipment.
type Forecast struct {
	Category     string     `json:"category"`
	IntervalDays int        `json:"interval_days"`
	Baseline     *time.Time `json:"baseline,omitempty"`
	DueDate      *time.Time `json:"due_date,omitempty"`
	State        State      `json:"state"`
	Overdue      bool       `json:"overdue"`
	Upcoming     bool       `json:"upcoming"`
	DaysOverdue  int        `json:"days_overdue,omitempty"`
	DaysUntil    int        `json:"days_until,omitempty"`
}

// IntervalDays returns the interval for a category, ignoring case and
// surrounding space.
func IntervalDays(category string) int {
	if days, ok := Intervals[strings.ToUpper(strings.TrimSpace(category))]; ok {
		return days
	}
	return DefaultIntervalDays
}

// NextDue returns baseline + interval(category). A nil baseline yields nil:
// the due date is unknown.
func NextDue(category string, baseline *time.Time) *time.Time {
	if baseline == nil {
		return nil
	}
	due := startOfDay(*baseline).AddDate(0, 0, IntervalDays(category))
	return &due
}

// Evaluate computes the forecast for a category and baseline as of today.
// windowDays <= 0 uses DefaultWindowDays.
func Evaluate(category string, baseline *time.Time, today time.Time, windowDays int) Forecast {
	if windowDays <= 0 {
		windowDays = DefaultWindowDays
	}
	f := Forecast{
		Category:     category,
		IntervalDays: IntervalDays(category),
		State:        StateUnknown,
	}
	if baseline != nil {
		b := startOfDay(*baseline)
		f.Baseline = &b
	}

	due := NextDue(category, baseline)
	if due == nil {
		return f
	}
	f.DueDate = due

	today = startOfDay(today)
	diff := daysBetween(today, *due)

	f.Overdue = !due.After(today)
	f.Upcoming = !due.Before(today) && diff <= windowDays

	switch {
	case f.Overdue:
		f.State = StateOverdue
		f.DaysOverdue = -diff
	case f.Upcoming:
		f.State = StateUpcoming
		f.DaysUntil = diff
	default:
		f.State = StateOK
		f.DaysUntil = diff
	}
	return f
}

func startOfDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// daysBetween returns whole days from a to b; both are midnight UTC.
func daysBetween(a, b time.Time) int {
	return int(b.Sub(a).Hours() / 24)
}
