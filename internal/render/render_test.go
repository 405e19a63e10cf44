package render

import (
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/djlord-it/orbitops/internal/domain"
)

func TestRender_ExpandsFields(t *testing.T) {
	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	tpl := domain.Template{
		Title:    "Kickoff",
		Subject:  "{{.Automation}} for {{.Date}}",
		Headline: "Happy {{.Weekday}}",
		Body:     "Starts at {{.Time}} for {{range $i, $n := .Recipients}}{{if $i}}, {{end}}{{$n}}{{end}}",
		Tasks: []domain.Task{
			{Title: "Review queue", Detail: "Before {{.Time}}"},
			{Title: "Standup"},
		},
		Links: []domain.Link{{Label: "Board", URL: "https://example.com/{{not-a-template}}"}},
	}

	pkg, err := Render(tpl, Context{
		AutomationName: "Americas daily kickoff",
		ScheduledFor:   time.Date(2024, 1, 2, 14, 0, 0, 0, time.UTC),
		Location:       loc,
		Recipients:     []domain.Associate{{Name: "Jane"}, {Name: "Omar"}},
	})
	require.NoError(t, err)

	assert.Equal(t, "Americas daily kickoff for 2024-01-02", pkg.Subject)
	assert.Equal(t, "Happy Tuesday", pkg.Headline)
	assert.Equal(t, "Starts at 09:00 for Jane, Omar", pkg.Body)
	assert.Empty(t, pkg.Summary)
	require.Len(t, pkg.Tasks, 2)
	assert.Equal(t, Task{Title: "Review queue", Detail: "Before 09:00"}, pkg.Tasks[0])
	assert.Equal(t, Task{Title: "Standup"}, pkg.Tasks[1])
	require.Len(t, pkg.Links, 1)
	assert.Equal(t, "https://example.com/{{not-a-template}}", pkg.Links[0].URL)
}

func TestRender_IsPure(t *testing.T) {
	tpl := domain.Template{Subject: "{{.Automation}} {{.Date}}"}
	ctx := Context{AutomationName: "a", ScheduledFor: time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)}

	first, err := Render(tpl, ctx)
	require.NoError(t, err)
	second, err := Render(tpl, ctx)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestRender_ParseError(t *testing.T) {
	_, err := Render(domain.Template{Subject: "{{.Automation"}, Context{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "subject")
}

func TestRender_UnknownField(t *testing.T) {
	_, err := Render(domain.Template{Subject: "ok", Body: "{{.Nope}}"}, Context{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "body")
}

func TestRender_EmptySubject(t *testing.T) {
	_, err := Render(domain.Template{Body: "text"}, Context{})
	assert.Error(t, err)
}

func TestCheck(t *testing.T) {
	ok := domain.Template{
		Subject: "{{.Automation}} on {{.Weekday}}",
		Tasks:   []domain.Task{{Title: "Prep for {{index .Recipients 0}}"}},
	}
	assert.NoError(t, Check(ok))

	err := Check(domain.Template{Subject: "hi", Tasks: []domain.Task{{Title: "{{.Missing}}"}}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "tasks[0].title")
}
