package cronexpr

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var ErrInvalidExpression = errors.New("invalid cron expression")

// Field positions in a 5-field expression.
const (
	FieldMinute = iota
	FieldHour
	FieldDayOfMonth
	FieldMonth
	FieldWeekday
)

type bounds struct {
	name     string
	min, max int
}

var fieldBounds = [5]bounds{
	{"minute", 0, 59},
	{"hour", 0, 23},
	{"day-of-month", 1, 31},
	{"month", 1, 12},
	{"weekday", 0, 6},
}

// Field is one parsed field of an expression.
type Field struct {
	Raw string
	// Fixed is set when Raw is a single plain number.
	Fixed bool
	Value int
}

// Any reports whether the field is the bare wildcard.
func (f Field) Any() bool { return f.Raw == "*" }

// Expression is a validated 5-field cron expression.
type Expression struct {
	Source string
	Fields [5]Field
}

func (e Expression) Minute() Field     { return e.Fields[FieldMinute] }
func (e Expression) Hour() Field       { return e.Fields[FieldHour] }
func (e Expression) DayOfMonth() Field { return e.Fields[FieldDayOfMonth] }
func (e Expression) Month() Field      { return e.Fields[FieldMonth] }
func (e Expression) Weekday() Field    { return e.Fields[FieldWeekday] }

// Validate reports whether expr satisfies the grammar.
func Validate(expr string) bool {
	_, err := Parse(expr)
	return err == nil
}

// Parse validates expr and returns its fields.
//
// Grammar per field: a comma list of "*", "N", "N-N", "N/N" or "*/N".
// Only ranges are checked; day 31 in February is accepted.
func Parse(expr string) (Expression, error) {
	parts := strings.Fields(expr)
	if len(parts) != 5 {
		return Expression{}, fmt.Errorf("%w: want 5 fields, got %d", ErrInvalidExpression, len(parts))
	}
	out := Expression{Source: strings.Join(parts, " ")}
	for i, raw := range parts {
		b := fieldBounds[i]
		if err := checkField(raw, b); err != nil {
			return Expression{}, fmt.Errorf("%w: %s: %v", ErrInvalidExpression, b.name, err)
		}
		f := Field{Raw: raw}
		if n, ok := plainNumber(raw); ok {
			f.Fixed = true
			f.Value = n
		}
		out.Fields[i] = f
	}
	return out, nil
}

func checkField(raw string, b bounds) error {
	if raw == "" {
		return errors.New("empty field")
	}
	for _, item := range strings.Split(raw, ",") {
		if err := checkItem(item, b); err != nil {
			return err
		}
	}
	return nil
}

func checkItem(item string, b bounds) error {
	switch {
	case item == "*":
		return nil
	case strings.Contains(item, "/"):
		base, step, ok := strings.Cut(item, "/")
		if !ok || strings.Contains(step, "/") {
			return fmt.Errorf("invalid step %q", item)
		}
		n, err := number(step)
		if err != nil || n < 1 || n > b.max {
			return fmt.Errorf("invalid step %q", item)
		}
		if base == "*" {
			return nil
		}
		return inRange(base, b)
	case strings.Contains(item, "-"):
		lo, hi, _ := strings.Cut(item, "-")
		if err := inRange(lo, b); err != nil {
			return err
		}
		if err := inRange(hi, b); err != nil {
			return err
		}
		a, _ := number(lo)
		z, _ := number(hi)
		if a > z {
			return fmt.Errorf("invalid range %q", item)
		}
		return nil
	default:
		return inRange(item, b)
	}
}

func inRange(s string, b bounds) error {
	n, err := number(s)
	if err != nil {
		return fmt.Errorf("invalid value %q", s)
	}
	if n < b.min || n > b.max {
		return fmt.Errorf("value %d out of range %d-%d", n, b.min, b.max)
	}
	return nil
}

// number parses an unsigned decimal without sign or whitespace.
func number(s string) (int, error) {
	if s == "" || len(s) > 2 {
		return 0, fmt.Errorf("invalid number %q", s)
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return 0, fmt.Errorf("invalid number %q", s)
		}
	}
	return strconv.Atoi(s)
}

func plainNumber(s string) (int, bool) {
	n, err := number(s)
	return n, err == nil
}
