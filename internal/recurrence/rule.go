// Package recurrence computes when an automation is next due.
//
// A Rule is evaluated entirely in its own location: the send time is a wall
// clock reading and the start/end bounds are calendar dates in that zone.
// Next never reads the clock; callers pass the reference instant.
package recurrence

import (
	"time"

	"github.com/djlord-it/orbitops/internal/domain"
)

// maxSearchDays bounds the forward scan. A weekly rule whose only weekday is
// today, with the send time already passed, matches again seven days out.
const maxSearchDays = 7

// Cadence is either Daily or WeeklyOn.
type Cadence interface {
	Frequency() domain.Frequency
	matches(d time.Weekday) bool
}

// Daily fires every calendar day.
type Daily struct{}

func (Daily) Frequency() domain.Frequency { return domain.FrequencyDaily }

func (Daily) matches(time.Weekday) bool { return true }

// WeeklyOn fires on each weekday in Days.
type WeeklyOn struct {
	Days WeekdaySet
}

func (WeeklyOn) Frequency() domain.Frequency { return domain.FrequencyWeekly }

func (w WeeklyOn) matches(d time.Weekday) bool { return w.Days.Has(d) }

// WeekdaySet is a bitmask of time.Weekday values.
type WeekdaySet uint8

func NewWeekdaySet(days ...time.Weekday) WeekdaySet {
	var s WeekdaySet
	for _, d := range days {
		s |= 1 << uint(d)
	}
	return s
}

func (s WeekdaySet) Has(d time.Weekday) bool { return s&(1<<uint(d)) != 0 }

func (s WeekdaySet) Empty() bool { return s == 0 }

// Days lists the members Monday first, matching the configuration surface.
func (s WeekdaySet) Days() []domain.Weekday {
	var out []domain.Weekday
	for i := 1; i <= 7; i++ {
		d := time.Weekday(i % 7)
		if s.Has(d) {
			out = append(out, domain.WeekdayOf(d))
		}
	}
	return out
}

// Rule is an automation's recurrence.
type Rule struct {
	Cadence  Cadence
	At       domain.ClockTime
	Location *time.Location

	Start *domain.Date
	End   *domain.Date
}

// Next returns the first occurrence strictly after the given instant. The
// second result is false when the rule has no further occurrences, either
// because the end date has passed or the cadence matches no weekday.
func (r Rule) Next(after time.Time) (time.Time, bool) {
	loc := r.Location
	if loc == nil {
		loc = time.UTC
	}

	day := domain.DateOf(after.In(loc))
	if r.Start != nil && day.Before(*r.Start) {
		day = *r.Start
	}

	for i := 0; i <= maxSearchDays; i++ {
		d := addDays(day, i)
		if r.End != nil && d.After(*r.End) {
			return time.Time{}, false
		}
		if !r.Cadence.matches(weekdayOf(d)) {
			continue
		}
		// time.Date resolves the zone offset in effect on d, so DST and
		// historical policy changes are honored per date.
		at := r.At.On(d, loc)
		if at.After(after) {
			return at, true
		}
	}
	return time.Time{}, false
}

func addDays(d domain.Date, n int) domain.Date {
	return domain.DateOf(time.Date(d.Year, d.Month, d.Day+n, 0, 0, 0, 0, time.UTC))
}

func weekdayOf(d domain.Date) time.Weekday {
	return d.In(time.UTC).Weekday()
}
