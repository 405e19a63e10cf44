package api

import (
	"fmt"
	"net/mail"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/djlord-it/orbitops/internal/domain"
	"github.com/djlord-it/orbitops/internal/recurrence"
	"github.com/djlord-it/orbitops/internal/render"
)

// DefaultSendTime applies when an automation request omits send_time.
const DefaultSendTime = "09:00"

// NewAssociate validates req and builds the associate it describes.
// Emails are stored lower-cased.
func NewAssociate(req CreateAssociateRequest, now time.Time) (domain.Associate, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return domain.Associate{}, fmt.Errorf("name is required")
	}

	email := strings.ToLower(strings.TrimSpace(req.Email))
	if email == "" {
		return domain.Associate{}, fmt.Errorf("email is required")
	}
	if err := validateEmail(email); err != nil {
		return domain.Associate{}, fmt.Errorf("invalid email: %w", err)
	}

	tz := strings.TrimSpace(req.Timezone)
	if tz == "" {
		tz = "UTC"
	}
	if err := validateTimezone(tz); err != nil {
		return domain.Associate{}, fmt.Errorf("invalid timezone: %w", err)
	}

	return domain.Associate{
		ID:        uuid.New(),
		Name:      name,
		Email:     email,
		Timezone:  tz,
		Role:      strings.TrimSpace(req.Role),
		CreatedAt: now.UTC(),
	}, nil
}

// NewTemplate validates req, including a trial render of every text field.
func NewTemplate(req CreateTemplateRequest, now time.Time) (domain.Template, error) {
	title := strings.TrimSpace(req.Title)
	if title == "" {
		return domain.Template{}, fmt.Errorf("title is required")
	}
	if strings.TrimSpace(req.Subject) == "" {
		return domain.Template{}, fmt.Errorf("subject is required")
	}

	tpl := domain.Template{
		ID:        uuid.New(),
		Title:     title,
		Subject:   req.Subject,
		Headline:  req.Headline,
		Summary:   req.Summary,
		Body:      req.Body,
		CreatedAt: now.UTC(),
	}
	for i, t := range req.Tasks {
		if strings.TrimSpace(t.Title) == "" {
			return domain.Template{}, fmt.Errorf("tasks[%d]: title is required", i)
		}
		tpl.Tasks = append(tpl.Tasks, domain.Task{Title: t.Title, Detail: t.Detail})
	}
	for i, l := range req.Links {
		if strings.TrimSpace(l.Label) == "" {
			return domain.Template{}, fmt.Errorf("links[%d]: label is required", i)
		}
		if err := validateURL(l.URL); err != nil {
			return domain.Template{}, fmt.Errorf("links[%d]: invalid url: %w", i, err)
		}
		tpl.Links = append(tpl.Links, domain.Link{Label: l.Label, URL: l.URL})
	}

	if err := render.Check(tpl); err != nil {
		return domain.Template{}, err
	}
	return tpl, nil
}

// NewAutomation validates req. Recurrence problems are returned as
// *recurrence.ConfigurationError. The template and associates are not
// looked up here; the store rejects unknown references.
func NewAutomation(req AutomationRequest, now time.Time) (domain.Automation, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return domain.Automation{}, fmt.Errorf("name is required")
	}

	templateID, err := uuid.Parse(req.TemplateID)
	if err != nil {
		return domain.Automation{}, fmt.Errorf("invalid template_id")
	}

	if len(req.AssociateIDs) == 0 {
		return domain.Automation{}, fmt.Errorf("associate_ids must not be empty")
	}
	seen := make(map[uuid.UUID]bool, len(req.AssociateIDs))
	var associateIDs []uuid.UUID
	for _, s := range req.AssociateIDs {
		id, err := uuid.Parse(s)
		if err != nil {
			return domain.Automation{}, fmt.Errorf("invalid associate id %q", s)
		}
		if !seen[id] {
			seen[id] = true
			associateIDs = append(associateIDs, id)
		}
	}

	sendTime := req.SendTime
	if strings.TrimSpace(sendTime) == "" {
		sendTime = DefaultSendTime
	}
	settings, err := recurrence.Parse(recurrence.Config{
		Frequency:  req.Frequency,
		WeeklyDays: req.WeeklyDays,
		SendTime:   sendTime,
		Timezone:   req.Timezone,
		StartDate:  req.StartDate,
		EndDate:    req.EndDate,
	})
	if err != nil {
		return domain.Automation{}, err
	}

	a := domain.Automation{
		ID:           uuid.New(),
		Name:         name,
		TemplateID:   templateID,
		AssociateIDs: associateIDs,
		CreatedAt:    now.UTC(),
		UpdatedAt:    now.UTC(),
	}
	settings.Apply(&a)
	return a, nil
}

func validateEmail(email string) error {
	addr, err := mail.ParseAddress(email)
	if err != nil {
		return err
	}
	if addr.Address != email {
		return fmt.Errorf("display names are not allowed")
	}
	return nil
}

func validateTimezone(tz string) error {
	_, err := time.LoadLocation(tz)
	return err
}

func validateURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("scheme must be http or https")
	}
	if u.Host == "" {
		return fmt.Errorf("host is required")
	}
	return nil
}
