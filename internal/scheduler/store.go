package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/djlord-it/orbitops/internal/domain"
)

// ErrOccurrenceClaimed is returned by the store when the compare-and-swap on
// next_run_at finds a different value: another pass already handled the
// occurrence. It is a skip signal, not a failure.
var ErrOccurrenceClaimed = errors.New("occurrence already claimed")

type Store interface {
	// DueAutomations returns non-retired automations whose next_run_at is
	// unset or at or before now.
	DueAutomations(ctx context.Context, now time.Time) ([]domain.Automation, error)

	// InitializeNextRun sets next_run_at on an automation whose next_run_at is
	// still unset. A nil next retires the automation.
	// Returns ErrOccurrenceClaimed if next_run_at is no longer unset.
	InitializeNextRun(ctx context.Context, id uuid.UUID, next *time.Time) error

	// ClaimOccurrence atomically advances next_run_at from claim.Due to
	// claim.Next inside a transaction that stays open until the returned
	// Occurrence is recorded or released.
	// Returns ErrOccurrenceClaimed if next_run_at no longer equals claim.Due.
	ClaimOccurrence(ctx context.Context, claim Claim) (Occurrence, error)

	GetTemplate(ctx context.Context, id uuid.UUID) (domain.Template, error)
	GetAssociatesByIDs(ctx context.Context, ids []uuid.UUID) ([]domain.Associate, error)

	PingContext(ctx context.Context) error
}

type Claim struct {
	AutomationID uuid.UUID
	Due          time.Time
	Next         *time.Time // nil retires the automation
}

// Occurrence is a claimed, uncommitted advance of one automation.
type Occurrence interface {
	// Record inserts the run and commits the advance with it.
	Record(ctx context.Context, run domain.Run) error
	// Release rolls the advance back. It is a no-op after Record.
	Release() error
}
