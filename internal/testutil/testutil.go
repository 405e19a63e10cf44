// Package testutil provides shared test helpers and fixtures for orbitops.
package testutil

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/djlord-it/orbitops/internal/domain"
)

// FakeClock provides deterministic time for testing.
type FakeClock struct {
	mu      sync.Mutex
	current time.Time
}

func NewFakeClock(t time.Time) *FakeClock {
	return &FakeClock{current: t}
}

func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = c.current.Add(d)
}

func (c *FakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = t
}

// TestContext returns a context with a 5-second timeout that is cancelled
// when the test completes.
func TestContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// UTC is shorthand for a minute-precision UTC instant.
func UTC(year int, month time.Month, day, hour, minute int) time.Time {
	return time.Date(year, month, day, hour, minute, 0, 0, time.UTC)
}

func Associate(name, email string) domain.Associate {
	return domain.Associate{
		ID:        uuid.New(),
		Name:      name,
		Email:     email,
		Timezone:  "UTC",
		CreatedAt: UTC(2024, time.January, 1, 0, 0),
	}
}

func Template(title string) domain.Template {
	return domain.Template{
		ID:       uuid.New(),
		Title:    title,
		Subject:  "{{.Automation}} for {{.Date}}",
		Headline: "Happy {{.Weekday}}",
		Tasks: []domain.Task{
			{Title: "Review the board", Detail: "before {{.Time}}"},
			{Title: "Post an update"},
		},
		Links:     []domain.Link{{Label: "Board", URL: "https://board.example.com"}},
		CreatedAt: UTC(2024, time.January, 1, 0, 0),
	}
}

// DailyAutomation returns a daily UTC automation with next_run_at unset.
func DailyAutomation(name string, tpl domain.Template, at domain.ClockTime, associates ...domain.Associate) domain.Automation {
	ids := make([]uuid.UUID, 0, len(associates))
	for _, a := range associates {
		ids = append(ids, a.ID)
	}
	created := UTC(2024, time.January, 1, 0, 0)
	return domain.Automation{
		ID:           uuid.New(),
		Name:         name,
		TemplateID:   tpl.ID,
		AssociateIDs: ids,
		Frequency:    domain.FrequencyDaily,
		SendTime:     at,
		Timezone:     "UTC",
		CreatedAt:    created,
		UpdatedAt:    created,
	}
}

// WeeklyAutomation is DailyAutomation on the given weekdays.
func WeeklyAutomation(name string, tpl domain.Template, at domain.ClockTime, days []domain.Weekday, associates ...domain.Associate) domain.Automation {
	a := DailyAutomation(name, tpl, at, associates...)
	a.Frequency = domain.FrequencyWeekly
	a.WeeklyDays = days
	return a
}

func Ptr[T any](v T) *T { return &v }
