package recurrence

import (
	"fmt"
	"strings"
	"time"

	"github.com/djlord-it/orbitops/internal/domain"
)

// ConfigurationError rejects an automation's recurrence settings before the
// automation enters the schedule.
type ConfigurationError struct {
	Field   string
	Message string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// Config is the recurrence configuration surface as submitted by operators.
type Config struct {
	Frequency  string
	WeeklyDays []string
	SendTime   string
	Timezone   string
	StartDate  string // optional, YYYY-MM-DD
	EndDate    string // optional, YYYY-MM-DD
}

// Settings is a validated Config in domain types.
type Settings struct {
	Frequency  domain.Frequency
	WeeklyDays []domain.Weekday
	SendTime   domain.ClockTime
	Timezone   string
	StartDate  *domain.Date
	EndDate    *domain.Date
}

// Parse validates cfg. An empty timezone defaults to UTC and an empty
// frequency to daily. Weekday tokens are deduplicated and ordered Monday first.
func Parse(cfg Config) (Settings, error) {
	var s Settings

	switch freq := domain.Frequency(strings.ToLower(strings.TrimSpace(cfg.Frequency))); freq {
	case "", domain.FrequencyDaily:
		s.Frequency = domain.FrequencyDaily
	case domain.FrequencyWeekly:
		s.Frequency = domain.FrequencyWeekly
	default:
		return Settings{}, &ConfigurationError{Field: "frequency", Message: fmt.Sprintf("must be daily or weekly, got %q", cfg.Frequency)}
	}

	var set WeekdaySet
	for _, tok := range cfg.WeeklyDays {
		w, err := domain.ParseWeekday(tok)
		if err != nil {
			return Settings{}, &ConfigurationError{Field: "weekly_days", Message: err.Error()}
		}
		d, _ := w.Time()
		set |= NewWeekdaySet(d)
	}
	if s.Frequency == domain.FrequencyWeekly {
		if set.Empty() {
			return Settings{}, &ConfigurationError{Field: "weekly_days", Message: "at least one weekday is required for weekly frequency"}
		}
		s.WeeklyDays = set.Days()
	}

	at, err := domain.ParseClockTime(cfg.SendTime)
	if err != nil {
		return Settings{}, &ConfigurationError{Field: "send_time", Message: err.Error()}
	}
	s.SendTime = at

	s.Timezone = strings.TrimSpace(cfg.Timezone)
	if s.Timezone == "" {
		s.Timezone = "UTC"
	}
	if _, err := time.LoadLocation(s.Timezone); err != nil {
		return Settings{}, &ConfigurationError{Field: "timezone", Message: fmt.Sprintf("unknown timezone %q", s.Timezone)}
	}

	if cfg.StartDate != "" {
		d, err := domain.ParseDate(cfg.StartDate)
		if err != nil {
			return Settings{}, &ConfigurationError{Field: "start_date", Message: err.Error()}
		}
		s.StartDate = &d
	}
	if cfg.EndDate != "" {
		d, err := domain.ParseDate(cfg.EndDate)
		if err != nil {
			return Settings{}, &ConfigurationError{Field: "end_date", Message: err.Error()}
		}
		s.EndDate = &d
	}
	if s.StartDate != nil && s.EndDate != nil && s.EndDate.Before(*s.StartDate) {
		return Settings{}, &ConfigurationError{Field: "end_date", Message: "must not be before start_date"}
	}

	return s, nil
}

// Apply copies the settings onto an automation.
func (s Settings) Apply(a *domain.Automation) {
	a.Frequency = s.Frequency
	a.WeeklyDays = s.WeeklyDays
	a.SendTime = s.SendTime
	a.Timezone = s.Timezone
	a.StartDate = s.StartDate
	a.EndDate = s.EndDate
}

// FromAutomation builds the rule for a stored automation. Stored rows are
// re-validated: a row edited behind the API's back still cannot produce a
// weekly rule without weekdays.
func FromAutomation(a domain.Automation) (Rule, error) {
	loc, err := time.LoadLocation(a.Timezone)
	if err != nil {
		return Rule{}, &ConfigurationError{Field: "timezone", Message: fmt.Sprintf("unknown timezone %q", a.Timezone)}
	}
	if a.SendTime.Hour < 0 || a.SendTime.Hour > 23 || a.SendTime.Minute < 0 || a.SendTime.Minute > 59 {
		return Rule{}, &ConfigurationError{Field: "send_time", Message: fmt.Sprintf("out of range %s", a.SendTime)}
	}
	if a.StartDate != nil && a.EndDate != nil && a.EndDate.Before(*a.StartDate) {
		return Rule{}, &ConfigurationError{Field: "end_date", Message: "must not be before start_date"}
	}

	rule := Rule{
		At:       a.SendTime,
		Location: loc,
		Start:    a.StartDate,
		End:      a.EndDate,
	}

	switch a.Frequency {
	case domain.FrequencyDaily:
		rule.Cadence = Daily{}
	case domain.FrequencyWeekly:
		var set WeekdaySet
		for _, w := range a.WeeklyDays {
			d, ok := w.Time()
			if !ok {
				return Rule{}, &ConfigurationError{Field: "weekly_days", Message: fmt.Sprintf("unknown weekday %q", w)}
			}
			set |= NewWeekdaySet(d)
		}
		if set.Empty() {
			return Rule{}, &ConfigurationError{Field: "weekly_days", Message: "at least one weekday is required for weekly frequency"}
		}
		rule.Cadence = WeeklyOn{Days: set}
	default:
		return Rule{}, &ConfigurationError{Field: "frequency", Message: fmt.Sprintf("must be daily or weekly, got %q", a.Frequency)}
	}

	return rule, nil
}
