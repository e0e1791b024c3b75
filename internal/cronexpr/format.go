package cronexpr

import (
	"fmt"
	"strings"
	"time"
)

// HumanReadable describes the recognized shapes in words and echoes anything else.
func HumanReadable(expr string) string {
	e, err := Parse(expr)
	if err != nil {
		return expr
	}
	m, h := e.Minute().Value, e.Hour().Value
	switch ShapeOf(e) {
	case ShapeDaily:
		return fmt.Sprintf("Daily at %02d:%02d", h, m)
	case ShapeHourly:
		return fmt.Sprintf("Every hour at minute %d", m)
	case ShapeWeekly:
		return fmt.Sprintf("Weekly on %s at %02d:%02d", time.Weekday(e.Weekday().Value), h, m)
	case ShapeMonthly:
		return fmt.Sprintf("Monthly on day %d at %02d:%02d", e.DayOfMonth().Value, h, m)
	}
	return expr
}

// Kind names a schedule shape for GeneratePattern.
type Kind string

const (
	KindDaily   Kind = "daily"
	KindWeekly  Kind = "weekly"
	KindMonthly Kind = "monthly"
	KindHourly  Kind = "hourly"
	KindCustom  Kind = "custom"
)

// Options are the structured inputs of GeneratePattern.
// Nil fields take defaults: 09:00, Monday, day 1.
type Options struct {
	Hour       *int   `json:"hour,omitempty"`
	Minute     *int   `json:"minute,omitempty"`
	DayOfWeek  *int   `json:"day_of_week,omitempty"`
	DayOfMonth *int   `json:"day_of_month,omitempty"`
	Custom     string `json:"custom,omitempty"`
}

const (
	defaultHour       = 9
	defaultMinute     = 0
	defaultDayOfWeek  = 1
	defaultDayOfMonth = 1
)

// DefaultPattern is the daily 09:00 fallback.
const DefaultPattern = "0 9 * * *"

// GeneratePattern builds a valid 5-field expression from a shape and options.
// Out-of-range options fall back to defaults; an invalid custom pattern yields DefaultPattern.
func GeneratePattern(kind Kind, opt Options) string {
	h := pick(opt.Hour, defaultHour, fieldBounds[FieldHour])
	m := pick(opt.Minute, defaultMinute, fieldBounds[FieldMinute])

	switch Kind(strings.ToLower(strings.TrimSpace(string(kind)))) {
	case KindHourly:
		return fmt.Sprintf("%d * * * *", m)
	case KindWeekly:
		d := pick(opt.DayOfWeek, defaultDayOfWeek, fieldBounds[FieldWeekday])
		return fmt.Sprintf("%d %d * * %d", m, h, d)
	case KindMonthly:
		d := pick(opt.DayOfMonth, defaultDayOfMonth, fieldBounds[FieldDayOfMonth])
		return fmt.Sprintf("%d %d %d * *", m, h, d)
	case KindCustom:
		if e, err := Parse(opt.Custom); err == nil {
			return e.Source
		}
		return DefaultPattern
	default:
		return fmt.Sprintf("%d %d * * *", m, h)
	}
}

func pick(v *int, def int, b bounds) int {
	if v == nil || *v < b.min || *v > b.max {
		return def
	}
	return *v
}
