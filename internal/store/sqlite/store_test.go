package sqlite

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/djlord-it/orbitops/internal/domain"
	"github.com/djlord-it/orbitops/internal/scheduler"
	"github.com/djlord-it/orbitops/internal/store"
	"github.com/djlord-it/orbitops/internal/testutil"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.Migrate(testutil.TestContext(t)))
	return s
}

// fixture stores one associate, one template and one daily 09:00 automation.
func fixture(t *testing.T, s *Store) (domain.Associate, domain.Template, domain.Automation) {
	t.Helper()
	ctx := testutil.TestContext(t)

	assoc := testutil.Associate("Ada", "ada@example.com")
	require.NoError(t, s.CreateAssociate(ctx, assoc))
	tpl := testutil.Template("Kickoff")
	require.NoError(t, s.CreateTemplate(ctx, tpl))
	a := testutil.DailyAutomation("Daily kickoff", tpl, domain.ClockTime{Hour: 9}, assoc)
	require.NoError(t, s.CreateAutomation(ctx, a))
	return assoc, tpl, a
}

func TestOpen_EmptyPath(t *testing.T) {
	_, err := Open(" ")
	assert.Error(t, err)
}

func TestMigrate_Idempotent(t *testing.T) {
	s := newTestStore(t)
	assert.NoError(t, s.Migrate(testutil.TestContext(t)))
}

func TestAssociates(t *testing.T) {
	s := newTestStore(t)
	ctx := testutil.TestContext(t)

	bea := testutil.Associate("Bea", "bea@example.com")
	bea.Role = "pod-b"
	ada := testutil.Associate("Ada", "ada@example.com")
	require.NoError(t, s.CreateAssociate(ctx, bea))
	require.NoError(t, s.CreateAssociate(ctx, ada))

	dup := testutil.Associate("Other", "ada@example.com")
	assert.ErrorIs(t, s.CreateAssociate(ctx, dup), store.ErrDuplicateEmail)

	list, err := s.ListAssociates(ctx, 10, 0)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "Ada", list[0].Name)
	assert.Equal(t, "pod-b", list[1].Role)
	assert.Equal(t, bea.CreatedAt, list[1].CreatedAt)

	page, err := s.ListAssociates(ctx, 1, 1)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "Bea", page[0].Name)

	byIDs, err := s.GetAssociatesByIDs(ctx, []uuid.UUID{bea.ID, uuid.New()})
	require.NoError(t, err)
	require.Len(t, byIDs, 1)
	assert.Equal(t, bea.ID, byIDs[0].ID)

	none, err := s.GetAssociatesByIDs(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, none)

	found, err := s.FindAssociateByEmail(ctx, "bea@example.com")
	require.NoError(t, err)
	assert.Equal(t, bea.ID, found.ID)

	_, err = s.FindAssociateByEmail(ctx, "nobody@example.com")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestTemplates(t *testing.T) {
	s := newTestStore(t)
	ctx := testutil.TestContext(t)

	tpl := testutil.Template("Kickoff")
	require.NoError(t, s.CreateTemplate(ctx, tpl))

	got, err := s.GetTemplate(ctx, tpl.ID)
	require.NoError(t, err)
	assert.Equal(t, tpl, got, "tasks and links keep their order")

	byTitle, err := s.FindTemplateByTitle(ctx, "Kickoff")
	require.NoError(t, err)
	assert.Equal(t, tpl.ID, byTitle.ID)

	_, err = s.GetTemplate(ctx, uuid.New())
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = s.FindTemplateByTitle(ctx, "Missing")
	assert.ErrorIs(t, err, store.ErrNotFound)

	other := testutil.Template("Retro")
	other.Tasks, other.Links = nil, nil
	other.CreatedAt = tpl.CreatedAt.Add(time.Hour)
	require.NoError(t, s.CreateTemplate(ctx, other))

	list, err := s.ListTemplates(ctx, 10, 0)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "Retro", list[0].Title, "newest first")
	assert.Len(t, list[1].Tasks, 2)
	assert.Len(t, list[1].Links, 1)
}

func TestAutomations_RoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := testutil.TestContext(t)

	assoc := testutil.Associate("Ada", "ada@example.com")
	require.NoError(t, s.CreateAssociate(ctx, assoc))
	tpl := testutil.Template("Kickoff")
	require.NoError(t, s.CreateTemplate(ctx, tpl))

	a := testutil.WeeklyAutomation("Weekly", tpl, domain.ClockTime{Hour: 17, Minute: 30},
		[]domain.Weekday{domain.Monday, domain.Friday}, assoc)
	a.Timezone = "America/New_York"
	a.StartDate = &domain.Date{Year: 2024, Month: time.February, Day: 1}
	a.EndDate = &domain.Date{Year: 2024, Month: time.December, Day: 31}
	require.NoError(t, s.CreateAutomation(ctx, a))

	got, err := s.GetAutomation(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, a, got)

	list, err := s.ListAutomations(ctx, 10, 0)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, []uuid.UUID{assoc.ID}, list[0].AssociateIDs)

	_, err = s.GetAutomation(ctx, uuid.New())
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestCreateAutomation_UnknownReference(t *testing.T) {
	s := newTestStore(t)
	ctx := testutil.TestContext(t)

	tpl := testutil.Template("Kickoff")
	require.NoError(t, s.CreateTemplate(ctx, tpl))

	ghost := testutil.Associate("Ghost", "ghost@example.com")
	a := testutil.DailyAutomation("Daily", tpl, domain.ClockTime{Hour: 9}, ghost)
	assert.ErrorIs(t, s.CreateAutomation(ctx, a), store.ErrUnknownReference)

	b := testutil.DailyAutomation("Daily", testutil.Template("Unsaved"), domain.ClockTime{Hour: 9})
	assert.ErrorIs(t, s.CreateAutomation(ctx, b), store.ErrUnknownReference)

	list, err := s.ListAutomations(ctx, 10, 0)
	require.NoError(t, err)
	assert.Empty(t, list, "failed creates leave nothing behind")
}

func TestUpdateAutomation_ResetsSchedule(t *testing.T) {
	s := newTestStore(t)
	ctx := testutil.TestContext(t)
	_, tpl, a := fixture(t, s)

	next := testutil.UTC(2024, time.January, 2, 9, 0)
	require.NoError(t, s.InitializeNextRun(ctx, a.ID, &next))

	bea := testutil.Associate("Bea", "bea@example.com")
	require.NoError(t, s.CreateAssociate(ctx, bea))

	a.Name = "Renamed"
	a.SendTime = domain.ClockTime{Hour: 11}
	a.AssociateIDs = []uuid.UUID{bea.ID}
	a.TemplateID = tpl.ID
	a.UpdatedAt = testutil.UTC(2024, time.January, 1, 12, 0)
	require.NoError(t, s.UpdateAutomation(ctx, a))

	got, err := s.GetAutomation(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, "Renamed", got.Name)
	assert.Equal(t, "11:00", got.SendTime.String())
	assert.Equal(t, []uuid.UUID{bea.ID}, got.AssociateIDs)
	assert.Nil(t, got.NextRunAt, "the engine recomputes the schedule")

	missing := a
	missing.ID = uuid.New()
	assert.ErrorIs(t, s.UpdateAutomation(ctx, missing), store.ErrNotFound)
}

func TestInitializeNextRun(t *testing.T) {
	s := newTestStore(t)
	ctx := testutil.TestContext(t)
	_, _, a := fixture(t, s)

	next := testutil.UTC(2024, time.January, 2, 9, 0)
	require.NoError(t, s.InitializeNextRun(ctx, a.ID, &next))
	assert.ErrorIs(t, s.InitializeNextRun(ctx, a.ID, &next), scheduler.ErrOccurrenceClaimed)

	got, err := s.GetAutomation(ctx, a.ID)
	require.NoError(t, err)
	require.NotNil(t, got.NextRunAt)
	assert.True(t, next.Equal(*got.NextRunAt))
	assert.False(t, got.Retired)
}

func TestInitializeNextRun_NilRetires(t *testing.T) {
	s := newTestStore(t)
	ctx := testutil.TestContext(t)
	_, _, a := fixture(t, s)

	require.NoError(t, s.InitializeNextRun(ctx, a.ID, nil))

	got, err := s.GetAutomation(ctx, a.ID)
	require.NoError(t, err)
	assert.True(t, got.Retired)
	assert.Nil(t, got.NextRunAt)

	due, err := s.DueAutomations(ctx, testutil.UTC(2030, time.January, 1, 0, 0))
	require.NoError(t, err)
	assert.Empty(t, due)
}

func TestDueAutomations(t *testing.T) {
	s := newTestStore(t)
	ctx := testutil.TestContext(t)
	assoc, tpl, fresh := fixture(t, s)

	later := testutil.DailyAutomation("Later", tpl, domain.ClockTime{Hour: 9}, assoc)
	require.NoError(t, s.CreateAutomation(ctx, later))
	next := testutil.UTC(2024, time.January, 3, 9, 0)
	require.NoError(t, s.InitializeNextRun(ctx, later.ID, &next))

	due, err := s.DueAutomations(ctx, testutil.UTC(2024, time.January, 2, 9, 0))
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, fresh.ID, due[0].ID, "uninitialized automations are always due")

	due, err = s.DueAutomations(ctx, next)
	require.NoError(t, err)
	require.Len(t, due, 2)
	assert.Equal(t, fresh.ID, due[0].ID)
	assert.Equal(t, later.ID, due[1].ID)
	assert.Equal(t, []uuid.UUID{assoc.ID}, due[1].AssociateIDs)
}

func claimFixture(t *testing.T, s *Store) (domain.Automation, time.Time, time.Time) {
	t.Helper()
	_, _, a := fixture(t, s)
	due := testutil.UTC(2024, time.January, 2, 9, 0)
	require.NoError(t, s.InitializeNextRun(testutil.TestContext(t), a.ID, &due))
	return a, due, due.Add(24 * time.Hour)
}

func sentRun(a domain.Automation, due time.Time) domain.Run {
	return domain.Run{
		ID:             uuid.New(),
		AutomationID:   a.ID,
		AutomationName: a.Name,
		ScheduledFor:   due,
		Status:         domain.RunStatusSent,
		CreatedAt:      due.Add(5 * time.Minute),
	}
}

func TestClaimOccurrence_RecordCommits(t *testing.T) {
	s := newTestStore(t)
	ctx := testutil.TestContext(t)
	a, due, next := claimFixture(t, s)

	occ, err := s.ClaimOccurrence(ctx, scheduler.Claim{AutomationID: a.ID, Due: due, Next: &next})
	require.NoError(t, err)
	require.NoError(t, occ.Record(ctx, sentRun(a, due)))
	assert.NoError(t, occ.Release(), "release after record is a no-op")

	got, err := s.GetAutomation(ctx, a.ID)
	require.NoError(t, err)
	assert.True(t, next.Equal(*got.NextRunAt))
	assert.True(t, due.Equal(*got.LastRunAt))

	runs, err := s.ListAutomationRuns(ctx, a.ID, 10, 0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, domain.RunStatusSent, runs[0].Status)
	assert.True(t, due.Equal(runs[0].ScheduledFor))

	_, err = s.ClaimOccurrence(ctx, scheduler.Claim{AutomationID: a.ID, Due: due, Next: &next})
	assert.ErrorIs(t, err, scheduler.ErrOccurrenceClaimed, "the same occurrence cannot be claimed twice")
}

func TestClaimOccurrence_ReleaseRollsBack(t *testing.T) {
	s := newTestStore(t)
	ctx := testutil.TestContext(t)
	a, due, next := claimFixture(t, s)

	occ, err := s.ClaimOccurrence(ctx, scheduler.Claim{AutomationID: a.ID, Due: due, Next: &next})
	require.NoError(t, err)
	require.NoError(t, occ.Release())

	got, err := s.GetAutomation(ctx, a.ID)
	require.NoError(t, err)
	assert.True(t, due.Equal(*got.NextRunAt), "released claims leave the automation untouched")
	assert.Nil(t, got.LastRunAt)

	runs, err := s.ListRuns(ctx, 10, 0)
	require.NoError(t, err)
	assert.Empty(t, runs)
}

func TestClaimOccurrence_StaleDue(t *testing.T) {
	s := newTestStore(t)
	ctx := testutil.TestContext(t)
	a, due, next := claimFixture(t, s)

	_, err := s.ClaimOccurrence(ctx, scheduler.Claim{AutomationID: a.ID, Due: due.Add(-time.Hour), Next: &next})
	assert.ErrorIs(t, err, scheduler.ErrOccurrenceClaimed)

	// The store is usable afterwards: the rolled back transaction released the connection.
	_, err = s.GetAutomation(ctx, a.ID)
	assert.NoError(t, err)
}

func TestClaimOccurrence_NilNextRetires(t *testing.T) {
	s := newTestStore(t)
	ctx := testutil.TestContext(t)
	a, due, _ := claimFixture(t, s)

	occ, err := s.ClaimOccurrence(ctx, scheduler.Claim{AutomationID: a.ID, Due: due})
	require.NoError(t, err)
	require.NoError(t, occ.Record(ctx, sentRun(a, due)))

	got, err := s.GetAutomation(ctx, a.ID)
	require.NoError(t, err)
	assert.True(t, got.Retired)
	assert.Nil(t, got.NextRunAt)
	assert.True(t, due.Equal(*got.LastRunAt))
}

func TestDeleteAutomation_KeepsRuns(t *testing.T) {
	s := newTestStore(t)
	ctx := testutil.TestContext(t)
	a, due, next := claimFixture(t, s)

	occ, err := s.ClaimOccurrence(ctx, scheduler.Claim{AutomationID: a.ID, Due: due, Next: &next})
	require.NoError(t, err)
	require.NoError(t, occ.Record(ctx, sentRun(a, due)))

	require.NoError(t, s.DeleteAutomation(ctx, a.ID))
	assert.ErrorIs(t, s.DeleteAutomation(ctx, a.ID), store.ErrNotFound)

	runs, err := s.ListRuns(ctx, 10, 0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, uuid.Nil, runs[0].AutomationID)
	assert.Equal(t, a.Name, runs[0].AutomationName)
}

func TestDashboard(t *testing.T) {
	s := newTestStore(t)
	ctx := testutil.TestContext(t)
	a, due, next := claimFixture(t, s)

	occ, err := s.ClaimOccurrence(ctx, scheduler.Claim{AutomationID: a.ID, Due: due, Next: &next})
	require.NoError(t, err)
	failed := sentRun(a, due)
	failed.Status = domain.RunStatusFailed
	failed.Error = "webhook: status 500"
	require.NoError(t, occ.Record(ctx, failed))

	occ, err = s.ClaimOccurrence(ctx, scheduler.Claim{AutomationID: a.ID, Due: next})
	require.NoError(t, err)
	require.NoError(t, occ.Record(ctx, sentRun(a, next)))

	d, err := s.Dashboard(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, d.Associates)
	assert.Equal(t, 1, d.Templates)
	assert.Equal(t, 1, d.Automations)
	assert.Equal(t, 0, d.ActiveAutomations, "the second claim retired it")
	assert.Equal(t, 1, d.RunsSent)
	assert.Equal(t, 1, d.RunsFailed)
	require.Len(t, d.RecentRuns, 1)
	assert.True(t, next.Equal(d.RecentRuns[0].ScheduledFor), "most recent first")
}

func TestIsConstraint(t *testing.T) {
	assert.False(t, isConstraint(nil, 0))
	assert.False(t, isConstraint(errors.New("boom"), 0))
}
