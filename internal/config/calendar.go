package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v2"

	"github.com/spec-kit/sla-engine/internal/sla"
)

// CalendarFile is the YAML layout of SLA_CALENDAR_FILE.
type CalendarFile struct {
	Timezone string        `yaml:"timezone"`
	Days     []CalendarDay `yaml:"days"`
	Holidays []string      `yaml:"holidays"`
}

// CalendarDay is one business window in the calendar file.
type CalendarDay struct {
	Weekday string `yaml:"weekday"`
	Start   string `yaml:"start"`
	End     string `yaml:"end"`
}

// LoadCalendar builds the business-hours calendar, from the YAML file when one is
// configured and from the SLA_BUSINESS_* variables otherwise.
func LoadCalendar(cfg SLAConfig) (*sla.Calendar, error) {
	if cfg.CalendarFile != "" {
		content, err := os.ReadFile(cfg.CalendarFile)
		if err != nil {
			return nil, fmt.Errorf("read calendar file: %w", err)
		}
		return ParseCalendar(content, cfg.Timezone)
	}

	days := make([]sla.DayWindow, 0, len(cfg.BusinessDays))
	for _, name := range cfg.BusinessDays {
		wd, err := sla.ParseWeekday(name)
		if err != nil {
			return nil, err
		}
		days = append(days, sla.DayWindow{Weekday: wd, Start: cfg.BusinessStart, End: cfg.BusinessEnd})
	}
	return sla.NewCalendar(cfg.Timezone, days, cfg.Holidays)
}

// ParseCalendar decodes a YAML calendar. defaultTZ applies when the file names none.
func ParseCalendar(content []byte, defaultTZ string) (*sla.Calendar, error) {
	var file CalendarFile
	if err := yaml.Unmarshal(content, &file); err != nil {
		return nil, fmt.Errorf("parse calendar file: %w", err)
	}
	tz := file.Timezone
	if tz == "" {
		tz = defaultTZ
	}
	days := make([]sla.DayWindow, 0, len(file.Days))
	for _, d := range file.Days {
		wd, err := sla.ParseWeekday(d.Weekday)
		if err != nil {
			return nil, err
		}
		days = append(days, sla.DayWindow{Weekday: wd, Start: d.Start, End: d.End})
	}
	return sla.NewCalendar(tz, days, file.Holidays)
}
