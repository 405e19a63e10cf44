package domain

import (
	"time"

	"github.com/google/uuid"
)

type RunStatus string

const (
	RunStatusSent   RunStatus = "sent"
	RunStatusFailed RunStatus = "failed"
)

// Run records one fired occurrence of an automation. Runs are append-only.
type Run struct {
	ID uuid.UUID

	// AutomationID is uuid.Nil once the automation has been deleted.
	AutomationID   uuid.UUID
	AutomationName string

	ScheduledFor time.Time // the due occurrence, not the dispatch wall clock
	Status       RunStatus
	Error        string

	CreatedAt time.Time
}
