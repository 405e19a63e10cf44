package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/djlord-it/orbitops/internal/dispatcher"
	"github.com/djlord-it/orbitops/internal/domain"
	"github.com/djlord-it/orbitops/internal/recurrence"
	"github.com/djlord-it/orbitops/internal/render"
	"github.com/djlord-it/orbitops/internal/store"
)

type Dispatcher interface {
	Dispatch(ctx context.Context, env dispatcher.Envelope) error
}

// AnalyticsSink receives every committed run. Implementations swallow their
// own errors.
type AnalyticsSink interface {
	Record(ctx context.Context, run domain.Run)
}

// Fired is the result of one fired occurrence.
type Fired struct {
	Run  domain.Run
	Next *time.Time // nil once the automation has retired
}

// Executor fires single occurrences.
type Executor struct {
	store      Store
	dispatcher Dispatcher
	log        logrus.FieldLogger
	analytics  AnalyticsSink // optional, nil = disabled
}

func NewExecutor(store Store, d Dispatcher, log logrus.FieldLogger) *Executor {
	return &Executor{store: store, dispatcher: d, log: log}
}

func (x *Executor) WithAnalytics(sink AnalyticsSink) *Executor {
	x.analytics = sink
	return x
}

// Fire claims the occurrence of a due at due, dispatches its work package and
// records the run in the same transaction that advances next_run_at to
// rule.Next(due). The advance happens whatever the dispatch outcome; a
// package that cannot be built or delivered is recorded as a failed run.
//
// Returns ErrOccurrenceClaimed when a concurrent pass got there first.
func (x *Executor) Fire(ctx context.Context, a domain.Automation, rule recurrence.Rule, due, now time.Time) (Fired, error) {
	var next *time.Time
	if n, ok := rule.Next(due); ok {
		next = &n
	}

	// Everything read from the store is read before the claim: the SQLite
	// store has a single connection, which the claim's transaction holds.
	pkg, recipients, buildErr := x.build(ctx, a, rule, due)
	if buildErr != nil && !isBuildFailure(buildErr) {
		return Fired{}, buildErr
	}

	occ, err := x.store.ClaimOccurrence(ctx, Claim{AutomationID: a.ID, Due: due, Next: next})
	if err != nil {
		if errors.Is(err, ErrOccurrenceClaimed) {
			return Fired{}, err
		}
		return Fired{}, fmt.Errorf("claim occurrence: %w", err)
	}
	defer occ.Release()

	run := domain.Run{
		ID:             uuid.New(),
		AutomationID:   a.ID,
		AutomationName: a.Name,
		ScheduledFor:   due,
		Status:         domain.RunStatusSent,
		CreatedAt:      now,
	}

	if buildErr != nil {
		run.Status = domain.RunStatusFailed
		run.Error = buildErr.Error()
	} else {
		err := x.dispatcher.Dispatch(ctx, dispatcher.Envelope{
			RunID:        run.ID,
			AutomationID: a.ID,
			Automation:   a.Name,
			ScheduledFor: due,
			Recipients:   recipients,
			Package:      pkg,
		})
		if err != nil {
			run.Status = domain.RunStatusFailed
			run.Error = err.Error()
		}
	}

	if err := occ.Record(ctx, run); err != nil {
		return Fired{}, fmt.Errorf("record run: %w", err)
	}

	if x.analytics != nil {
		x.analytics.Record(ctx, run)
	}

	x.log.WithFields(logrus.Fields{
		"automation_id": a.ID,
		"scheduled_for": due.UTC().Format(time.RFC3339),
		"status":        run.Status,
	}).Info("scheduler: fired")

	return Fired{Run: run, Next: next}, nil
}

// buildFailure marks errors that fail the run rather than the pass.
type buildFailure struct{ err error }

func (e *buildFailure) Error() string { return e.err.Error() }
func (e *buildFailure) Unwrap() error { return e.err }

func isBuildFailure(err error) bool {
	var bf *buildFailure
	return errors.As(err, &bf)
}

func (x *Executor) build(ctx context.Context, a domain.Automation, rule recurrence.Rule, due time.Time) (render.Package, []dispatcher.Recipient, error) {
	tpl, err := x.store.GetTemplate(ctx, a.TemplateID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return render.Package{}, nil, &buildFailure{fmt.Errorf("template %s not found", a.TemplateID)}
		}
		return render.Package{}, nil, fmt.Errorf("get template: %w", err)
	}

	associates, err := x.store.GetAssociatesByIDs(ctx, a.AssociateIDs)
	if err != nil {
		return render.Package{}, nil, fmt.Errorf("get associates: %w", err)
	}
	if len(associates) == 0 {
		return render.Package{}, nil, &buildFailure{errors.New("automation has no associates")}
	}

	pkg, err := render.Render(tpl, render.Context{
		AutomationName: a.Name,
		ScheduledFor:   due,
		Location:       rule.Location,
		Recipients:     associates,
	})
	if err != nil {
		return render.Package{}, nil, &buildFailure{err}
	}

	recipients := make([]dispatcher.Recipient, 0, len(associates))
	for _, as := range associates {
		recipients = append(recipients, dispatcher.Recipient{
			ID:       as.ID.String(),
			Name:     as.Name,
			Email:    as.Email,
			Role:     as.Role,
			Timezone: as.Timezone,
		})
	}
	return pkg, recipients, nil
}
