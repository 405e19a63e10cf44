// Package seed loads associates, templates and automations from a YAML
// fixture. Entries go through the same validation as the HTTP API.
// Associates are matched by email and templates by title, so re-applying a
// fixture reuses them; automations are created on every apply.
package seed

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/djlord-it/orbitops/internal/api"
	"github.com/djlord-it/orbitops/internal/domain"
	"github.com/djlord-it/orbitops/internal/store"
)

type Store interface {
	CreateAssociate(ctx context.Context, a domain.Associate) error
	FindAssociateByEmail(ctx context.Context, email string) (domain.Associate, error)
	CreateTemplate(ctx context.Context, t domain.Template) error
	FindTemplateByTitle(ctx context.Context, title string) (domain.Template, error)
	CreateAutomation(ctx context.Context, a domain.Automation) error
}

type File struct {
	Associates  []Associate  `yaml:"associates"`
	Templates   []Template   `yaml:"templates"`
	Automations []Automation `yaml:"automations"`
}

type Associate struct {
	Name     string `yaml:"name"`
	Email    string `yaml:"email"`
	Timezone string `yaml:"timezone"`
	Role     string `yaml:"role"`
}

type Template struct {
	Title    string `yaml:"title"`
	Subject  string `yaml:"subject"`
	Headline string `yaml:"headline"`
	Summary  string `yaml:"summary"`
	Body     string `yaml:"body"`
	Tasks    []struct {
		Title  string `yaml:"title"`
		Detail string `yaml:"detail"`
	} `yaml:"tasks"`
	Links []struct {
		Label string `yaml:"label"`
		URL   string `yaml:"url"`
	} `yaml:"links"`
}

// Automation refers to its template by title and its associates by email.
type Automation struct {
	Name       string   `yaml:"name"`
	Template   string   `yaml:"template"`
	Associates []string `yaml:"associates"`
	Frequency  string   `yaml:"frequency"`
	WeeklyDays []string `yaml:"weekly_days"`
	SendTime   string   `yaml:"send_time"`
	Timezone   string   `yaml:"timezone"`
	StartDate  string   `yaml:"start_date"`
	EndDate    string   `yaml:"end_date"`
}

// Result counts what Apply did.
type Result struct {
	AssociatesCreated  int
	AssociatesExisting int
	TemplatesCreated   int
	TemplatesExisting  int
	AutomationsCreated int
}

// Parse decodes a fixture. Unknown keys are rejected.
func Parse(r io.Reader) (File, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var f File
	if err := dec.Decode(&f); err != nil {
		if errors.Is(err, io.EOF) {
			return File{}, nil
		}
		return File{}, fmt.Errorf("seed: parse: %w", err)
	}
	return f, nil
}

func LoadFile(path string) (File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return File{}, fmt.Errorf("seed: %w", err)
	}
	return Parse(bytes.NewReader(data))
}

type Seeder struct {
	store Store
	log   logrus.FieldLogger
	clock func() time.Time
}

func NewSeeder(s Store, log logrus.FieldLogger) *Seeder {
	return &Seeder{store: s, log: log, clock: time.Now}
}

func (s *Seeder) WithClock(clock func() time.Time) *Seeder {
	s.clock = clock
	return s
}

// Apply writes f in order: associates, templates, automations. It stops at
// the first invalid entry; entries written before it stay.
func (s *Seeder) Apply(ctx context.Context, f File) (Result, error) {
	var res Result
	now := s.clock()

	emails := make(map[string]uuid.UUID)
	for i, in := range f.Associates {
		a, err := api.NewAssociate(api.CreateAssociateRequest{
			Name:     in.Name,
			Email:    in.Email,
			Timezone: in.Timezone,
			Role:     in.Role,
		}, now)
		if err != nil {
			return res, fmt.Errorf("seed: associates[%d]: %w", i, err)
		}

		existing, err := s.store.FindAssociateByEmail(ctx, a.Email)
		switch {
		case err == nil:
			emails[a.Email] = existing.ID
			res.AssociatesExisting++
			continue
		case !errors.Is(err, store.ErrNotFound):
			return res, fmt.Errorf("seed: associates[%d]: %w", i, err)
		}

		if err := s.store.CreateAssociate(ctx, a); err != nil {
			return res, fmt.Errorf("seed: associates[%d]: %w", i, err)
		}
		emails[a.Email] = a.ID
		res.AssociatesCreated++
		s.log.WithField("email", a.Email).Info("seed: associate created")
	}

	titles := make(map[string]uuid.UUID)
	for i, in := range f.Templates {
		req := api.CreateTemplateRequest{
			Title:    in.Title,
			Subject:  in.Subject,
			Headline: in.Headline,
			Summary:  in.Summary,
			Body:     in.Body,
		}
		for _, t := range in.Tasks {
			req.Tasks = append(req.Tasks, api.TaskJSON{Title: t.Title, Detail: t.Detail})
		}
		for _, l := range in.Links {
			req.Links = append(req.Links, api.LinkJSON{Label: l.Label, URL: l.URL})
		}
		tpl, err := api.NewTemplate(req, now)
		if err != nil {
			return res, fmt.Errorf("seed: templates[%d]: %w", i, err)
		}

		existing, err := s.store.FindTemplateByTitle(ctx, tpl.Title)
		switch {
		case err == nil:
			titles[tpl.Title] = existing.ID
			res.TemplatesExisting++
			continue
		case !errors.Is(err, store.ErrNotFound):
			return res, fmt.Errorf("seed: templates[%d]: %w", i, err)
		}

		if err := s.store.CreateTemplate(ctx, tpl); err != nil {
			return res, fmt.Errorf("seed: templates[%d]: %w", i, err)
		}
		titles[tpl.Title] = tpl.ID
		res.TemplatesCreated++
		s.log.WithField("title", tpl.Title).Info("seed: template created")
	}

	for i, in := range f.Automations {
		templateID, err := s.templateID(ctx, titles, in.Template)
		if err != nil {
			return res, fmt.Errorf("seed: automations[%d]: %w", i, err)
		}
		req := api.AutomationRequest{
			Name:       in.Name,
			TemplateID: templateID.String(),
			Frequency:  in.Frequency,
			WeeklyDays: in.WeeklyDays,
			SendTime:   in.SendTime,
			Timezone:   in.Timezone,
			StartDate:  in.StartDate,
			EndDate:    in.EndDate,
		}
		for _, email := range in.Associates {
			id, err := s.associateID(ctx, emails, email)
			if err != nil {
				return res, fmt.Errorf("seed: automations[%d]: %w", i, err)
			}
			req.AssociateIDs = append(req.AssociateIDs, id.String())
		}

		a, err := api.NewAutomation(req, now)
		if err != nil {
			return res, fmt.Errorf("seed: automations[%d]: %w", i, err)
		}
		if err := s.store.CreateAutomation(ctx, a); err != nil {
			return res, fmt.Errorf("seed: automations[%d]: %w", i, err)
		}
		res.AutomationsCreated++
		s.log.WithFields(logrus.Fields{
			"automation_id": a.ID,
			"name":          a.Name,
		}).Info("seed: automation created")
	}

	return res, nil
}

// templateID resolves a title from this fixture first, then the store.
func (s *Seeder) templateID(ctx context.Context, known map[string]uuid.UUID, title string) (uuid.UUID, error) {
	if id, ok := known[title]; ok {
		return id, nil
	}
	tpl, err := s.store.FindTemplateByTitle(ctx, title)
	if errors.Is(err, store.ErrNotFound) {
		return uuid.Nil, fmt.Errorf("unknown template %q", title)
	}
	if err != nil {
		return uuid.Nil, err
	}
	known[title] = tpl.ID
	return tpl.ID, nil
}

func (s *Seeder) associateID(ctx context.Context, known map[string]uuid.UUID, email string) (uuid.UUID, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if id, ok := known[email]; ok {
		return id, nil
	}
	a, err := s.store.FindAssociateByEmail(ctx, email)
	if errors.Is(err, store.ErrNotFound) {
		return uuid.Nil, fmt.Errorf("unknown associate %q", email)
	}
	if err != nil {
		return uuid.Nil, err
	}
	known[email] = a.ID
	return a.ID, nil
}
