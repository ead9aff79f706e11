package sla

import (
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func weekdays(start, end string) []DayWindow {
	days := []DayWindow{}
	for d := time.Monday; d <= time.Friday; d++ {
		days = append(days, DayWindow{Weekday: d, Start: start, End: end})
	}
	return days
}

func TestCalendarIsBusinessHours(t *testing.T) {
	cal, err := NewCalendar("America/Sao_Paulo", weekdays("08:00", "18:00"), []string{"2026-03-04"})
	require.NoError(t, err)
	loc := cal.Location()

	cases := []struct {
		name string
		at   time.Time
		want bool
	}{
		{"monday morning", time.Date(2026, 3, 2, 8, 0, 0, 0, loc), true},
		{"monday before open", time.Date(2026, 3, 2, 7, 59, 0, 0, loc), false},
		{"monday at close", time.Date(2026, 3, 2, 18, 0, 0, 0, loc), false},
		{"saturday", time.Date(2026, 3, 7, 10, 0, 0, 0, loc), false},
		{"holiday", time.Date(2026, 3, 4, 10, 0, 0, 0, loc), false},
		// 13:30 UTC is 10:30 in Sao Paulo
		{"utc input", time.Date(2026, 3, 3, 13, 30, 0, 0, time.UTC), true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, cal.IsBusinessHours(tc.at))
		})
	}
}

func TestCalendarSplitDay(t *testing.T) {
	days := []DayWindow{
		{Weekday: time.Saturday, Start: "09:00", End: "12:00"},
		{Weekday: time.Saturday, Start: "14:00", End: "24:00"},
	}
	cal, err := NewCalendar("UTC", days, nil)
	require.NoError(t, err)

	assert.True(t, cal.IsBusinessHours(time.Date(2026, 3, 7, 11, 59, 0, 0, time.UTC)))
	assert.False(t, cal.IsBusinessHours(time.Date(2026, 3, 7, 13, 0, 0, 0, time.UTC)))
	assert.True(t, cal.IsBusinessHours(time.Date(2026, 3, 7, 23, 59, 0, 0, time.UTC)))
}

func TestNewCalendarRejectsBadInput(t *testing.T) {
	_, err := NewCalendar("Mars/Olympus", nil, nil)
	assert.Error(t, err)

	_, err = NewCalendar("UTC", []DayWindow{{Weekday: time.Monday, Start: "18:00", End: "08:00"}}, nil)
	assert.Error(t, err)

	_, err = NewCalendar("UTC", []DayWindow{{Weekday: time.Monday, Start: "8am", End: "18:00"}}, nil)
	assert.Error(t, err)

	_, err = NewCalendar("UTC", nil, []string{"25/12/2026"})
	assert.Error(t, err)
}

func TestParseWeekday(t *testing.T) {
	d, err := ParseWeekday("Mon")
	require.NoError(t, err)
	assert.Equal(t, time.Monday, d)

	d, err = ParseWeekday("sunday")
	require.NoError(t, err)
	assert.Equal(t, time.Sunday, d)

	_, err = ParseWeekday("funday")
	assert.Error(t, err)
}
