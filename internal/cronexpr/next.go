package cronexpr

import "time"

// Shape is the recurrence pattern an expression was recognized as.
type Shape int

const (
	ShapeOther Shape = iota
	ShapeDaily
	ShapeHourly
	ShapeWeekly
	ShapeMonthly
)

func (s Shape) String() string {
	switch s {
	case ShapeDaily:
		return "daily"
	case ShapeHourly:
		return "hourly"
	case ShapeWeekly:
		return "weekly"
	case ShapeMonthly:
		return "monthly"
	default:
		return "other"
	}
}

// ShapeOf classifies a parsed expression. Month must be "*" for every known shape.
func ShapeOf(e Expression) Shape {
	m, h, dom, mon, dow := e.Minute(), e.Hour(), e.DayOfMonth(), e.Month(), e.Weekday()
	if !m.Fixed || !mon.Any() {
		return ShapeOther
	}
	switch {
	case h.Fixed && dom.Any() && dow.Any():
		return ShapeDaily
	case h.Any() && dom.Any() && dow.Any():
		return ShapeHourly
	case h.Fixed && dom.Any() && dow.Fixed:
		return ShapeWeekly
	case h.Fixed && dom.Fixed && dow.Any():
		return ShapeMonthly
	}
	return ShapeOther
}

// NextRun returns the next trigger instant strictly after ref, in ref's location.
//
// Exact semantics exist for daily, hourly, weekly and monthly shapes. Any other
// valid expression falls back to the same time tomorrow.
func NextRun(expr string, ref time.Time) (time.Time, error) {
	e, err := Parse(expr)
	if err != nil {
		return time.Time{}, err
	}
	return e.Next(ref), nil
}

// Next is NextRun for an already parsed expression.
func (e Expression) Next(ref time.Time) time.Time {
	loc := ref.Location()
	y, mo, d := ref.Date()
	minute := e.Minute().Value
	hour := e.Hour().Value

	switch ShapeOf(e) {
	case ShapeDaily:
		next := time.Date(y, mo, d, hour, minute, 0, 0, loc)
		if !next.After(ref) {
			next = time.Date(y, mo, d+1, hour, minute, 0, 0, loc)
		}
		return next

	case ShapeHourly:
		next := time.Date(y, mo, d, ref.Hour(), minute, 0, 0, loc)
		if !next.After(ref) {
			next = time.Date(y, mo, d, ref.Hour()+1, minute, 0, 0, loc)
		}
		return next

	case ShapeWeekly:
		ahead := (e.Weekday().Value - int(ref.Weekday()) + 7) % 7
		next := time.Date(y, mo, d+ahead, hour, minute, 0, 0, loc)
		if !next.After(ref) {
			next = time.Date(y, mo, d+ahead+7, hour, minute, 0, 0, loc)
		}
		return next

	case ShapeMonthly:
		day := e.DayOfMonth().Value
		// Skip months without that day (31st, Feb 29/30). 13 covers a full year plus one.
		for i := 0; i < 13; i++ {
			first := time.Date(y, mo+time.Month(i), 1, 0, 0, 0, 0, loc)
			if daysIn(first) < day {
				continue
			}
			next := time.Date(first.Year(), first.Month(), day, hour, minute, 0, 0, loc)
			if next.After(ref) {
				return next
			}
		}
	}

	return time.Date(y, mo, d+1, ref.Hour(), ref.Minute(), 0, 0, loc)
}

func daysIn(firstOfMonth time.Time) int {
	return firstOfMonth.AddDate(0, 1, -1).Day()
}
