package model

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"time"
)

var (
	ErrInvalidDate     = errors.New("invalid date")
	ErrInvalidTimeSlot = errors.New("invalid time slot")
)

var timeSlotPattern = regexp.MustCompile(`^([0-2][0-9]):([0-5][0-9])-([0-2][0-9]):([0-5][0-9])$`)

const minutesPerDay = 24 * 60

// ParseDate accepts only the canonical YYYY-MM-DD form. The result is a
// calendar date at UTC midnight; callers must not convert it to another zone.
func ParseDate(s string) (time.Time, error) {
	d, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidDate, s)
	}
	if d.Format(time.DateOnly) != s {
		return time.Time{}, fmt.Errorf("%w: %q is not canonical", ErrInvalidDate, s)
	}
	return d, nil
}

// TimeSlot is a half-open interval expressed in minutes from midnight.
type TimeSlot struct {
	Start int
	End   int
}

func (t TimeSlot) Duration() time.Duration {
	return time.Duration(t.End-t.Start) * time.Minute
}

func (t TimeSlot) String() string {
	return fmt.Sprintf("%02d:%02d-%02d:%02d", t.Start/60, t.Start%60, t.End/60, t.End%60)
}

// ParseTimeSlot validates an HH:MM-HH:MM slot against a granularity: both
// boundaries aligned, duration exactly one unit. 24:00 is a valid end.
func ParseTimeSlot(s string, granularity time.Duration) (TimeSlot, error) {
	m := timeSlotPattern.FindStringSubmatch(s)
	if m == nil {
		return TimeSlot{}, fmt.Errorf("%w: %q, expected HH:MM-HH:MM", ErrInvalidTimeSlot, s)
	}

	start, err := minutesOf(m[1], m[2], false)
	if err != nil {
		return TimeSlot{}, fmt.Errorf("%w: %q: %v", ErrInvalidTimeSlot, s, err)
	}
	end, err := minutesOf(m[3], m[4], true)
	if err != nil {
		return TimeSlot{}, fmt.Errorf("%w: %q: %v", ErrInvalidTimeSlot, s, err)
	}
	if start >= end {
		return TimeSlot{}, fmt.Errorf("%w: %q ends before it starts", ErrInvalidTimeSlot, s)
	}

	ts := TimeSlot{Start: start, End: end}
	if granularity > 0 {
		unit := int(granularity / time.Minute)
		if start%unit != 0 || end%unit != 0 {
			return TimeSlot{}, fmt.Errorf("%w: %q is not aligned to %s", ErrInvalidTimeSlot, s, granularity)
		}
		if ts.Duration() != granularity {
			return TimeSlot{}, fmt.Errorf("%w: %q must last %s", ErrInvalidTimeSlot, s, granularity)
		}
	}
	return ts, nil
}

func minutesOf(hh, mm string, allowMidnightEnd bool) (int, error) {
	h, _ := strconv.Atoi(hh)
	m, _ := strconv.Atoi(mm)
	total := h*60 + m
	switch {
	case total == minutesPerDay && allowMidnightEnd:
		return total, nil
	case h > 23:
		return 0, fmt.Errorf("hour %d out of range", h)
	}
	return total, nil
}
