// Package render turns a template into the work package sent for one run.
package render

import (
	"bytes"
	"fmt"
	"text/template"
	"time"

	"github.com/djlord-it/orbitops/internal/domain"
)

// Context is what a template may reference when rendered.
type Context struct {
	AutomationName string
	ScheduledFor   time.Time
	Location       *time.Location
	Recipients     []domain.Associate
}

// Package is a rendered template, ready for dispatch.
type Package struct {
	Subject  string `json:"subject"`
	Headline string `json:"headline,omitempty"`
	Summary  string `json:"summary,omitempty"`
	Body     string `json:"body,omitempty"`
	Tasks    []Task `json:"tasks,omitempty"`
	Links    []Link `json:"links,omitempty"`
}

type Task struct {
	Title  string `json:"title"`
	Detail string `json:"detail,omitempty"`
}

type Link struct {
	Label string `json:"label"`
	URL   string `json:"url"`
}

// fields are the values exposed to templates as {{.Automation}}, {{.Date}}, ...
type fields struct {
	Automation string
	Date       string
	Weekday    string
	Time       string
	Recipients []string
}

// Render executes every text field of tpl as a text/template. Links are
// copied verbatim. Render is a pure function of its inputs.
func Render(tpl domain.Template, ctx Context) (Package, error) {
	loc := ctx.Location
	if loc == nil {
		loc = time.UTC
	}
	local := ctx.ScheduledFor.In(loc)

	f := fields{
		Automation: ctx.AutomationName,
		Date:       local.Format("2006-01-02"),
		Weekday:    local.Weekday().String(),
		Time:       local.Format("15:04"),
	}
	for _, a := range ctx.Recipients {
		f.Recipients = append(f.Recipients, a.Name)
	}

	r := renderer{fields: f}
	pkg := Package{
		Subject:  r.text("subject", tpl.Subject),
		Headline: r.text("headline", tpl.Headline),
		Summary:  r.text("summary", tpl.Summary),
		Body:     r.text("body", tpl.Body),
	}
	for i, t := range tpl.Tasks {
		pkg.Tasks = append(pkg.Tasks, Task{
			Title:  r.text(fmt.Sprintf("tasks[%d].title", i), t.Title),
			Detail: r.text(fmt.Sprintf("tasks[%d].detail", i), t.Detail),
		})
	}
	for _, l := range tpl.Links {
		pkg.Links = append(pkg.Links, Link{Label: l.Label, URL: l.URL})
	}

	if r.err != nil {
		return Package{}, r.err
	}
	if pkg.Subject == "" {
		return Package{}, fmt.Errorf("render: subject is empty")
	}
	return pkg, nil
}

// renderer keeps the first error so Render reads top to bottom.
type renderer struct {
	fields fields
	err    error
}

func (r *renderer) text(name, src string) string {
	if r.err != nil || src == "" {
		return ""
	}
	t, err := template.New(name).Option("missingkey=error").Parse(src)
	if err != nil {
		r.err = fmt.Errorf("render %s: %w", name, err)
		return ""
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, r.fields); err != nil {
		r.err = fmt.Errorf("render %s: %w", name, err)
		return ""
	}
	return buf.String()
}

// Check renders tpl against a sample context so that syntax errors and
// unknown fields are reported when the template is saved, not when it fires.
func Check(tpl domain.Template) error {
	_, err := Render(tpl, Context{
		AutomationName: "check",
		ScheduledFor:   time.Date(2024, time.January, 1, 9, 0, 0, 0, time.UTC),
		Recipients:     []domain.Associate{{Name: "check"}},
	})
	return err
}
