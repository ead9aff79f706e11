package sla

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// DayWindow is one open interval of a business day, in local wall-clock time.
type DayWindow struct {
	Weekday time.Weekday
	Start   string // HH:MM
	End     string // HH:MM
}

type window struct {
	start int // minutes since midnight
	end   int
}

// Calendar answers whether an instant falls within business hours.
type Calendar struct {
	loc      *time.Location
	windows  map[time.Weekday][]window
	holidays map[string]struct{}
}

// NewCalendar builds a calendar for the given IANA timezone. Holidays are
// YYYY-MM-DD dates in that timezone and are closed all day.
func NewCalendar(timezone string, days []DayWindow, holidays []string) (*Calendar, error) {
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", timezone, err)
	}
	cal := &Calendar{
		loc:      loc,
		windows:  make(map[time.Weekday][]window, len(days)),
		holidays: make(map[string]struct{}, len(holidays)),
	}
	for _, d := range days {
		start, err := parseClock(d.Start)
		if err != nil {
			return nil, err
		}
		end, err := parseClock(d.End)
		if err != nil {
			return nil, err
		}
		if end <= start {
			return nil, fmt.Errorf("%s: window end %s must be after start %s", d.Weekday, d.End, d.Start)
		}
		cal.windows[d.Weekday] = append(cal.windows[d.Weekday], window{start: start, end: end})
	}
	for _, h := range holidays {
		day, err := time.ParseInLocation("2006-01-02", strings.TrimSpace(h), loc)
		if err != nil {
			return nil, fmt.Errorf("invalid holiday %q: %w", h, err)
		}
		cal.holidays[day.Format("2006-01-02")] = struct{}{}
	}
	return cal, nil
}

// Location returns the calendar timezone.
func (c *Calendar) Location() *time.Location {
	return c.loc
}

// IsBusinessHours reports whether t lies inside an open window.
func (c *Calendar) IsBusinessHours(t time.Time) bool {
	local := t.In(c.loc)
	if _, closed := c.holidays[local.Format("2006-01-02")]; closed {
		return false
	}
	minute := local.Hour()*60 + local.Minute()
	for _, w := range c.windows[local.Weekday()] {
		if minute >= w.start && minute < w.end {
			return true
		}
	}
	return false
}

// CalendarSource provides the calendar in force for a sweep.
type CalendarSource interface {
	Calendar(ctx context.Context) (*Calendar, error)
}

// StaticCalendar serves a fixed calendar.
type StaticCalendar struct {
	Cal *Calendar
}

// Calendar implements CalendarSource.
func (s StaticCalendar) Calendar(context.Context) (*Calendar, error) {
	if s.Cal == nil {
		return nil, fmt.Errorf("no business calendar configured")
	}
	return s.Cal, nil
}

// ParseWeekday accepts full or three-letter English day names.
func ParseWeekday(v string) (time.Weekday, error) {
	v = strings.ToLower(strings.TrimSpace(v))
	for d := time.Sunday; d <= time.Saturday; d++ {
		name := strings.ToLower(d.String())
		if v == name || v == name[:3] {
			return d, nil
		}
	}
	return 0, fmt.Errorf("unknown weekday %q", v)
}

func parseClock(v string) (int, error) {
	parsed, err := time.Parse("15:04", strings.TrimSpace(v))
	if err != nil {
		if strings.TrimSpace(v) == "24:00" {
			return 24 * 60, nil
		}
		return 0, fmt.Errorf("invalid clock time %q", v)
	}
	return parsed.Hour()*60 + parsed.Minute(), nil
}
