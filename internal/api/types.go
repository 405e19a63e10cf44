package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/djlord-it/orbitops/internal/domain"
	"github.com/djlord-it/orbitops/internal/scheduler"
)

type CreateAssociateRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Timezone string `json:"timezone"` // default UTC
	Role     string `json:"role,omitempty"`
}

type AssociateResponse struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Email     string `json:"email"`
	Timezone  string `json:"timezone"`
	Role      string `json:"role,omitempty"`
	CreatedAt string `json:"created_at"`
}

type TaskJSON struct {
	Title  string `json:"title"`
	Detail string `json:"detail,omitempty"`
}

type LinkJSON struct {
	Label string `json:"label"`
	URL   string `json:"url"`
}

// CreateTemplateRequest text fields are text/template sources; see render.
type CreateTemplateRequest struct {
	Title    string     `json:"title"`
	Subject  string     `json:"subject"`
	Headline string     `json:"headline,omitempty"`
	Summary  string     `json:"summary,omitempty"`
	Body     string     `json:"body,omitempty"`
	Tasks    []TaskJSON `json:"tasks,omitempty"`
	Links    []LinkJSON `json:"links,omitempty"`
}

type TemplateResponse struct {
	ID        string     `json:"id"`
	Title     string     `json:"title"`
	Subject   string     `json:"subject"`
	Headline  string     `json:"headline,omitempty"`
	Summary   string     `json:"summary,omitempty"`
	Body      string     `json:"body,omitempty"`
	Tasks     []TaskJSON `json:"tasks"`
	Links     []LinkJSON `json:"links"`
	CreatedAt string     `json:"created_at"`
}

// AutomationRequest is used for both create and replace.
type AutomationRequest struct {
	Name         string   `json:"name"`
	TemplateID   string   `json:"template_id"`
	AssociateIDs []string `json:"associate_ids"`
	Frequency    string   `json:"frequency"`             // daily (default) or weekly
	WeeklyDays   []string `json:"weekly_days,omitempty"` // monday..sunday
	SendTime     string   `json:"send_time"`             // HH:MM, default 09:00
	Timezone     string   `json:"timezone"`              // default UTC
	StartDate    string   `json:"start_date,omitempty"`  // YYYY-MM-DD
	EndDate      string   `json:"end_date,omitempty"`    // YYYY-MM-DD
}

type AutomationResponse struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	TemplateID   string   `json:"template_id"`
	AssociateIDs []string `json:"associate_ids"`
	Frequency    string   `json:"frequency"`
	WeeklyDays   []string `json:"weekly_days,omitempty"`
	SendTime     string   `json:"send_time"`
	Timezone     string   `json:"timezone"`
	StartDate    string   `json:"start_date,omitempty"`
	EndDate      string   `json:"end_date,omitempty"`
	NextRunAt    *string  `json:"next_run_at"`
	LastRunAt    *string  `json:"last_run_at"`
	Retired      bool     `json:"retired"`
	CreatedAt    string   `json:"created_at"`
	UpdatedAt    string   `json:"updated_at"`
}

type RunResponse struct {
	ID             string `json:"id"`
	AutomationID   string `json:"automation_id,omitempty"` // empty once the automation is deleted
	AutomationName string `json:"automation_name"`
	ScheduledFor   string `json:"scheduled_for"`
	Status         string `json:"status"`
	Error          string `json:"error,omitempty"`
	CreatedAt      string `json:"created_at"`
}

type ListAssociatesResponse struct {
	Associates []AssociateResponse `json:"associates"`
}

type ListTemplatesResponse struct {
	Templates []TemplateResponse `json:"templates"`
}

type ListAutomationsResponse struct {
	Automations []AutomationResponse `json:"automations"`
}

type ListRunsResponse struct {
	Runs []RunResponse `json:"runs"`
}

// Dashboard is the overview returned by GET /dashboard.
type Dashboard struct {
	Associates        int
	Templates         int
	Automations       int
	ActiveAutomations int
	RunsSent          int
	RunsFailed        int
	RecentRuns        []domain.Run
}

type DashboardResponse struct {
	Associates        int           `json:"associates"`
	Templates         int           `json:"templates"`
	Automations       int           `json:"automations"`
	ActiveAutomations int           `json:"active_automations"`
	RunsSent          int           `json:"runs_sent"`
	RunsFailed        int           `json:"runs_failed"`
	RecentRuns        []RunResponse `json:"recent_runs"`
}

// RunSchedulerResponse flattens the pass summary next to "ok".
type RunSchedulerResponse struct {
	OK bool `json:"ok"`
	scheduler.Summary
}

type RunSchedulerError struct {
	OK    bool   `json:"ok"`
	Error string `json:"error"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func formatTimePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := formatTime(*t)
	return &s
}

func associateResponse(a domain.Associate) AssociateResponse {
	return AssociateResponse{
		ID:        a.ID.String(),
		Name:      a.Name,
		Email:     a.Email,
		Timezone:  a.Timezone,
		Role:      a.Role,
		CreatedAt: formatTime(a.CreatedAt),
	}
}

func templateResponse(t domain.Template) TemplateResponse {
	resp := TemplateResponse{
		ID:        t.ID.String(),
		Title:     t.Title,
		Subject:   t.Subject,
		Headline:  t.Headline,
		Summary:   t.Summary,
		Body:      t.Body,
		Tasks:     make([]TaskJSON, len(t.Tasks)),
		Links:     make([]LinkJSON, len(t.Links)),
		CreatedAt: formatTime(t.CreatedAt),
	}
	for i, task := range t.Tasks {
		resp.Tasks[i] = TaskJSON{Title: task.Title, Detail: task.Detail}
	}
	for i, l := range t.Links {
		resp.Links[i] = LinkJSON{Label: l.Label, URL: l.URL}
	}
	return resp
}

func automationResponse(a domain.Automation) AutomationResponse {
	resp := AutomationResponse{
		ID:           a.ID.String(),
		Name:         a.Name,
		TemplateID:   a.TemplateID.String(),
		AssociateIDs: make([]string, len(a.AssociateIDs)),
		Frequency:    string(a.Frequency),
		SendTime:     a.SendTime.String(),
		Timezone:     a.Timezone,
		NextRunAt:    formatTimePtr(a.NextRunAt),
		LastRunAt:    formatTimePtr(a.LastRunAt),
		Retired:      a.Retired,
		CreatedAt:    formatTime(a.CreatedAt),
		UpdatedAt:    formatTime(a.UpdatedAt),
	}
	for i, id := range a.AssociateIDs {
		resp.AssociateIDs[i] = id.String()
	}
	for _, w := range a.WeeklyDays {
		resp.WeeklyDays = append(resp.WeeklyDays, string(w))
	}
	if a.StartDate != nil {
		resp.StartDate = a.StartDate.String()
	}
	if a.EndDate != nil {
		resp.EndDate = a.EndDate.String()
	}
	return resp
}

func runResponse(r domain.Run) RunResponse {
	resp := RunResponse{
		ID:             r.ID.String(),
		AutomationName: r.AutomationName,
		ScheduledFor:   formatTime(r.ScheduledFor),
		Status:         string(r.Status),
		Error:          r.Error,
		CreatedAt:      formatTime(r.CreatedAt),
	}
	if r.AutomationID != uuid.Nil {
		resp.AutomationID = r.AutomationID.String()
	}
	return resp
}

func runResponses(runs []domain.Run) []RunResponse {
	out := make([]RunResponse, len(runs))
	for i, r := range runs {
		out[i] = runResponse(r)
	}
	return out
}
