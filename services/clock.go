package services

import (
	"fmt"
	"time"
)

const dayLayout = "2006-01-02"

// Clock supplies the server-side time used for every day boundary.
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a function to Clock.
type ClockFunc func() time.Time

func (f ClockFunc) Now() time.Time { return f() }

// SystemClock returns the wall clock.
func SystemClock() Clock {
	return ClockFunc(time.Now)
}

// dayOf formats t as a calendar day in loc.
func dayOf(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	return t.In(loc).Format(dayLayout)
}

// previousDay returns the calendar day before day.
func previousDay(day string, loc *time.Location) (string, error) {
	if loc == nil {
		loc = time.UTC
	}
	d, err := time.ParseInLocation(dayLayout, day, loc)
	if err != nil {
		return "", fmt.Errorf("parse day %q: %w", day, err)
	}
	return d.AddDate(0, 0, -1).Format(dayLayout), nil
}
