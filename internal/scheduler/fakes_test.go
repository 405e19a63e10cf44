package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/djlord-it/orbitops/internal/dispatcher"
	"github.com/djlord-it/orbitops/internal/domain"
	"github.com/djlord-it/orbitops/internal/store"
)

// fakeStore is an in-memory Store. The fn fields override individual methods.
type fakeStore struct {
	mu sync.Mutex

	automations map[uuid.UUID]domain.Automation
	templates   map[uuid.UUID]domain.Template
	associates  map[uuid.UUID]domain.Associate
	runs        []domain.Run
	released    int
	pings       int

	dueFn        func(ctx context.Context, now time.Time) ([]domain.Automation, error)
	associatesFn func(ctx context.Context, ids []uuid.UUID) ([]domain.Associate, error)
	claimFn      func(ctx context.Context, claim Claim) (Occurrence, error)
	recordFn     func(ctx context.Context, run domain.Run) error
	pingFn       func(ctx context.Context) error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		automations: make(map[uuid.UUID]domain.Automation),
		templates:   make(map[uuid.UUID]domain.Template),
		associates:  make(map[uuid.UUID]domain.Associate),
	}
}

func (s *fakeStore) add(tpl domain.Template, associates []domain.Associate, automations ...domain.Automation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.templates[tpl.ID] = tpl
	for _, a := range associates {
		s.associates[a.ID] = a
	}
	for _, a := range automations {
		s.automations[a.ID] = a
	}
}

func (s *fakeStore) automation(id uuid.UUID) domain.Automation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.automations[id]
}

func (s *fakeStore) allRuns() []domain.Run {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Run(nil), s.runs...)
}

func (s *fakeStore) DueAutomations(ctx context.Context, now time.Time) ([]domain.Automation, error) {
	if s.dueFn != nil {
		return s.dueFn(ctx, now)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var due []domain.Automation
	for _, a := range s.automations {
		if a.Retired {
			continue
		}
		if a.NextRunAt == nil || !a.NextRunAt.After(now) {
			due = append(due, a)
		}
	}
	return due, nil
}

func (s *fakeStore) InitializeNextRun(_ context.Context, id uuid.UUID, next *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.automations[id]
	if !ok || a.NextRunAt != nil || a.Retired {
		return ErrOccurrenceClaimed
	}
	a.NextRunAt = next
	a.Retired = next == nil
	s.automations[id] = a
	return nil
}

func (s *fakeStore) ClaimOccurrence(ctx context.Context, claim Claim) (Occurrence, error) {
	if s.claimFn != nil {
		return s.claimFn(ctx, claim)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.automations[claim.AutomationID]
	if !ok || a.Retired || a.NextRunAt == nil || !a.NextRunAt.Equal(claim.Due) {
		return nil, ErrOccurrenceClaimed
	}
	return &fakeOccurrence{store: s, claim: claim}, nil
}

func (s *fakeStore) GetTemplate(_ context.Context, id uuid.UUID) (domain.Template, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.templates[id]
	if !ok {
		return domain.Template{}, store.ErrNotFound
	}
	return t, nil
}

func (s *fakeStore) GetAssociatesByIDs(ctx context.Context, ids []uuid.UUID) ([]domain.Associate, error) {
	if s.associatesFn != nil {
		return s.associatesFn(ctx, ids)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Associate
	for _, id := range ids {
		if a, ok := s.associates[id]; ok {
			out = append(out, a)
		}
	}
	return out, nil
}

func (s *fakeStore) PingContext(ctx context.Context) error {
	s.mu.Lock()
	s.pings++
	s.mu.Unlock()
	if s.pingFn != nil {
		return s.pingFn(ctx)
	}
	return nil
}

// fakeOccurrence applies the claim only when the run is recorded.
type fakeOccurrence struct {
	store *fakeStore
	claim Claim
	done  bool
}

func (o *fakeOccurrence) Record(ctx context.Context, run domain.Run) error {
	if o.store.recordFn != nil {
		if err := o.store.recordFn(ctx, run); err != nil {
			return err
		}
	}
	s := o.store
	s.mu.Lock()
	defer s.mu.Unlock()
	a := s.automations[o.claim.AutomationID]
	if a.NextRunAt == nil || !a.NextRunAt.Equal(o.claim.Due) {
		return ErrOccurrenceClaimed
	}
	due := o.claim.Due
	a.LastRunAt = &due
	a.NextRunAt = o.claim.Next
	a.Retired = o.claim.Next == nil
	s.automations[a.ID] = a
	s.runs = append(s.runs, run)
	o.done = true
	return nil
}

func (o *fakeOccurrence) Release() error {
	if o.done {
		return nil
	}
	o.done = true
	o.store.mu.Lock()
	o.store.released++
	o.store.mu.Unlock()
	return nil
}

type fakeDispatcher struct {
	mu         sync.Mutex
	envelopes  []dispatcher.Envelope
	dispatchFn func(ctx context.Context, env dispatcher.Envelope) error
}

func (d *fakeDispatcher) Dispatch(ctx context.Context, env dispatcher.Envelope) error {
	d.mu.Lock()
	d.envelopes = append(d.envelopes, env)
	d.mu.Unlock()
	if d.dispatchFn != nil {
		return d.dispatchFn(ctx, env)
	}
	return nil
}

func (d *fakeDispatcher) sent() []dispatcher.Envelope {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]dispatcher.Envelope(nil), d.envelopes...)
}

type recordingAnalytics struct {
	mu   sync.Mutex
	runs []domain.Run
}

func (r *recordingAnalytics) Record(_ context.Context, run domain.Run) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs = append(r.runs, run)
}

type recordingMetrics struct {
	mu          sync.Mutex
	passes      int
	passErrors  int
	dueSizes    []int
	statuses    []string
	skipped     int
	initialized int
	retired     int
	errored     int
	lags        []time.Duration
}

func (m *recordingMetrics) PassStarted() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.passes++
}

func (m *recordingMetrics) PassCompleted(_ time.Duration, _ int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err != nil {
		m.passErrors++
	}
}

func (m *recordingMetrics) DueSetSize(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dueSizes = append(m.dueSizes, n)
}

func (m *recordingMetrics) RunRecorded(status string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statuses = append(m.statuses, status)
}

func (m *recordingMetrics) OccurrenceSkipped() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.skipped++
}

func (m *recordingMetrics) NextRunInitialized() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.initialized++
}

func (m *recordingMetrics) AutomationRetired() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.retired++
}

func (m *recordingMetrics) AutomationErrored() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errored++
}

func (m *recordingMetrics) FireLagObserve(lag time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lags = append(m.lags, lag)
}

var errStoreDown = errors.New("connection refused")
