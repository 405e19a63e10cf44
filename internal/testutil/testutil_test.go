package testutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/djlord-it/orbitops/internal/domain"
)

func TestFakeClock(t *testing.T) {
	fixed := UTC(2024, time.January, 15, 10, 0)
	clock := NewFakeClock(fixed)
	assert.Equal(t, fixed, clock.Now())

	clock.Advance(5 * time.Minute)
	assert.Equal(t, fixed.Add(5*time.Minute), clock.Now())

	clock.Set(fixed)
	assert.Equal(t, fixed, clock.Now())
}

func TestTestContext_HasDeadline(t *testing.T) {
	deadline, ok := TestContext(t).Deadline()
	require.True(t, ok)

	remaining := time.Until(deadline)
	assert.Positive(t, remaining)
	assert.LessOrEqual(t, remaining, 6*time.Second)
}

func TestFixtures(t *testing.T) {
	ada := Associate("Ada", "ada@example.com")
	tpl := Template("Standup")

	a := WeeklyAutomation("Kickoff", tpl, domain.ClockTime{Hour: 9}, []domain.Weekday{domain.Monday}, ada)

	assert.Equal(t, tpl.ID, a.TemplateID)
	assert.Equal(t, ada.ID, a.AssociateIDs[0])
	assert.Equal(t, domain.FrequencyWeekly, a.Frequency)
	assert.Nil(t, a.NextRunAt)
	assert.Equal(t, 3, *Ptr(3))
}
