package scheduler

import (
	"bytes"
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/djlord-it/orbitops/internal/domain"
)

// Resolver selects the automations an engine pass must handle.
type Resolver struct {
	store Store
}

func NewResolver(store Store) *Resolver {
	return &Resolver{store: store}
}

// Due returns the due set ordered by next_run_at ascending, unset first,
// ties broken by id. The order is re-established here so every store yields
// the same processing sequence.
func (r *Resolver) Due(ctx context.Context, now time.Time) ([]domain.Automation, error) {
	due, err := r.store.DueAutomations(ctx, now)
	if err != nil {
		return nil, fmt.Errorf("due automations: %w", err)
	}
	slices.SortStableFunc(due, compareDue)
	return due, nil
}

func compareDue(a, b domain.Automation) int {
	switch {
	case a.NextRunAt == nil && b.NextRunAt != nil:
		return -1
	case a.NextRunAt != nil && b.NextRunAt == nil:
		return 1
	case a.NextRunAt != nil && b.NextRunAt != nil:
		if c := a.NextRunAt.Compare(*b.NextRunAt); c != 0 {
			return c
		}
	}
	return bytes.Compare(a.ID[:], b.ID[:])
}
