package domain

import (
	"time"

	"github.com/google/uuid"
)

type Frequency string

const (
	FrequencyDaily  Frequency = "daily"
	FrequencyWeekly Frequency = "weekly"
)

// Automation binds a template and a set of associates to a recurrence.
//
// NextRunAt is nil until the scheduler first observes the automation, and
// again once the automation has retired past its end date.
type Automation struct {
	ID   uuid.UUID
	Name string

	TemplateID   uuid.UUID
	AssociateIDs []uuid.UUID

	Frequency  Frequency
	WeeklyDays []Weekday // only meaningful for FrequencyWeekly
	SendTime   ClockTime
	Timezone   string // IANA timezone

	StartDate *Date // inclusive, in Timezone
	EndDate   *Date // inclusive, in Timezone

	NextRunAt *time.Time
	LastRunAt *time.Time
	Retired   bool

	CreatedAt time.Time
	UpdatedAt time.Time
}
