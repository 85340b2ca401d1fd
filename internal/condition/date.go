package condition

import (
	"strings"
	"time"
)

var dateLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// parseDate accepts ISO-8601 dates and timestamps.
func parseDate(v any) (time.Time, bool) {
	s, ok := v.(string)
	if !ok {
		if t, ok := v.(time.Time); ok {
			return t, true
		}
		return time.Time{}, false
	}
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// day returns the calendar date of t, as seen in t's location, at UTC
// midnight so that dates from different zones compare by their face value.
func day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// orderDates returns -1, 0 or 1 comparing the calendar days of a and b. When
// either side is not a parseable date the raw strings are compared, which
// orders ISO-8601 values correctly.
func orderDates(a, b any) (int, bool) {
	ta, okA := parseDate(a)
	tb, okB := parseDate(b)
	if okA && okB {
		return day(ta).Compare(day(tb)), true
	}
	sa, okA := a.(string)
	sb, okB := b.(string)
	if !okA || !okB || sa == "" || sb == "" {
		return 0, false
	}
	return strings.Compare(sa, sb), true
}

func compareDate(op string, answer, value any, now time.Time) bool {
	switch op {
	case OpIsEmpty:
		return isEmpty(answer)
	case OpIsNotEmpty:
		return !isEmpty(answer)
	case OpEquals, OpBefore, OpAfter, OpOnOrBefore, OpOnOrAfter:
		c, ok := orderDates(answer, value)
		if !ok {
			return false
		}
		switch op {
		case OpEquals:
			return c == 0
		case OpBefore:
			return c < 0
		case OpAfter:
			return c > 0
		case OpOnOrBefore:
			return c <= 0
		case OpOnOrAfter:
			return c >= 0
		}
	case OpPastWeek, OpPastMonth, OpPastYear, OpNextWeek, OpNextMonth, OpNextYear:
		t, ok := parseDate(answer)
		if !ok {
			return false
		}
		return inWindow(op, day(t), day(now))
	}
	return false
}

// inWindow checks d against a rolling window anchored on today. Both ends
// are inclusive.
func inWindow(op string, d, today time.Time) bool {
	var from, to time.Time
	switch op {
	case OpPastWeek:
		from, to = today.AddDate(0, 0, -7), today
	case OpPastMonth:
		from, to = today.AddDate(0, -1, 0), today
	case OpPastYear:
		from, to = today.AddDate(-1, 0, 0), today
	case OpNextWeek:
		from, to = today, today.AddDate(0, 0, 7)
	case OpNextMonth:
		from, to = today, today.AddDate(0, 1, 0)
	case OpNextYear:
		from, to = today, today.AddDate(1, 0, 0)
	default:
		return false
	}
	return !d.Before(from) && !d.After(to)
}
