// Package api serves the operator HTTP surface: CRUD for associates,
// templates and automations, run history, the dashboard and the manual
// scheduler trigger.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/djlord-it/orbitops/internal/domain"
	"github.com/djlord-it/orbitops/internal/scheduler"
	"github.com/djlord-it/orbitops/internal/store"
)

// Pagination defaults and limits.
const (
	DefaultLimit = 100
	MaxLimit     = 1000
)

// DashboardRecentRuns is how many runs GET /dashboard includes.
const DashboardRecentRuns = 10

type Store interface {
	CreateAssociate(ctx context.Context, a domain.Associate) error
	ListAssociates(ctx context.Context, limit, offset int) ([]domain.Associate, error)

	CreateTemplate(ctx context.Context, t domain.Template) error
	GetTemplate(ctx context.Context, id uuid.UUID) (domain.Template, error)
	ListTemplates(ctx context.Context, limit, offset int) ([]domain.Template, error)

	CreateAutomation(ctx context.Context, a domain.Automation) error
	UpdateAutomation(ctx context.Context, a domain.Automation) error
	GetAutomation(ctx context.Context, id uuid.UUID) (domain.Automation, error)
	ListAutomations(ctx context.Context, limit, offset int) ([]domain.Automation, error)
	DeleteAutomation(ctx context.Context, id uuid.UUID) error

	ListRuns(ctx context.Context, limit, offset int) ([]domain.Run, error)
	ListAutomationRuns(ctx context.Context, id uuid.UUID, limit, offset int) ([]domain.Run, error)

	Dashboard(ctx context.Context, recentRuns int) (Dashboard, error)
}

// Trigger runs one scheduler pass on demand.
type Trigger interface {
	RunOnce(ctx context.Context) (scheduler.Summary, error)
}

// HealthChecker provides database health status for the /health endpoint.
type HealthChecker interface {
	PingContext(ctx context.Context) error
}

type Handler struct {
	store   Store
	trigger Trigger
	db      HealthChecker
	log     logrus.FieldLogger
	clock   func() time.Time
	router  chi.Router
}

func NewHandler(store Store, trigger Trigger, log logrus.FieldLogger) *Handler {
	h := &Handler{
		store:   store,
		trigger: trigger,
		log:     log,
		clock:   time.Now,
	}
	h.router = h.routes()
	return h
}

// WithHealthChecker sets the database health checker for verbose /health responses.
func (h *Handler) WithHealthChecker(db HealthChecker) *Handler {
	h.db = db
	return h
}

// WithClock sets the clock used for created_at and updated_at.
func (h *Handler) WithClock(clock func() time.Time) *Handler {
	h.clock = clock
	return h
}

func (h *Handler) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})

	r.Get("/health", h.health)
	r.Post("/scheduler/run", h.runScheduler)

	r.Route("/associates", func(r chi.Router) {
		r.Post("/", h.createAssociate)
		r.Get("/", h.listAssociates)
	})
	r.Route("/templates", func(r chi.Router) {
		r.Post("/", h.createTemplate)
		r.Get("/", h.listTemplates)
		r.Get("/{id}", h.getTemplate)
	})
	r.Route("/automations", func(r chi.Router) {
		r.Post("/", h.createAutomation)
		r.Get("/", h.listAutomations)
		r.Get("/{id}", h.getAutomation)
		r.Put("/{id}", h.updateAutomation)
		r.Delete("/{id}", h.deleteAutomation)
		r.Get("/{id}/runs", h.listAutomationRuns)
	})
	r.Get("/runs", h.listRuns)
	r.Get("/dashboard", h.dashboard)

	return r
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.router.ServeHTTP(w, r)
}

// HealthResponse represents the /health endpoint response.
type HealthResponse struct {
	Status     string            `json:"status"`
	Components map[string]string `json:"components,omitempty"`
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	verbose := r.URL.Query().Get("verbose") == "true"

	if !verbose || h.db == nil {
		writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
		return
	}

	resp := HealthResponse{
		Status:     "ok",
		Components: make(map[string]string),
	}

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	if err := h.db.PingContext(ctx); err != nil {
		resp.Status = "degraded"
		resp.Components["database"] = "unhealthy: " + err.Error()
	} else {
		resp.Components["database"] = "healthy"
	}

	statusCode := http.StatusOK
	if resp.Status == "degraded" {
		statusCode = http.StatusServiceUnavailable
	}

	writeJSON(w, statusCode, resp)
}

func (h *Handler) runScheduler(w http.ResponseWriter, r *http.Request) {
	if h.trigger == nil {
		writeJSON(w, http.StatusServiceUnavailable, RunSchedulerError{Error: "scheduler is not configured"})
		return
	}

	summary, err := h.trigger.RunOnce(r.Context())
	if err != nil {
		h.log.WithError(err).Error("api: scheduler run failed")
		writeJSON(w, http.StatusInternalServerError, RunSchedulerError{Error: err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, RunSchedulerResponse{OK: true, Summary: summary})
}

// maxRequestBodySize is the maximum allowed request body size (1MB).
const maxRequestBodySize = 1 << 20

// decode reads a JSON body into v, writing the error response itself.
func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return false
		}
		writeError(w, http.StatusBadRequest, "invalid json")
		return false
	}
	return true
}

func (h *Handler) createAssociate(w http.ResponseWriter, r *http.Request) {
	var req CreateAssociateRequest
	if !decode(w, r, &req) {
		return
	}

	a, err := NewAssociate(req, h.clock())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.store.CreateAssociate(r.Context(), a); err != nil {
		h.storeError(w, "create associate", err)
		return
	}

	writeJSON(w, http.StatusCreated, associateResponse(a))
}

func (h *Handler) listAssociates(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := parsePagination(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	associates, err := h.store.ListAssociates(r.Context(), limit, offset)
	if err != nil {
		h.storeError(w, "list associates", err)
		return
	}

	resp := ListAssociatesResponse{Associates: make([]AssociateResponse, len(associates))}
	for i, a := range associates {
		resp.Associates[i] = associateResponse(a)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) createTemplate(w http.ResponseWriter, r *http.Request) {
	var req CreateTemplateRequest
	if !decode(w, r, &req) {
		return
	}

	tpl, err := NewTemplate(req, h.clock())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.store.CreateTemplate(r.Context(), tpl); err != nil {
		h.storeError(w, "create template", err)
		return
	}

	writeJSON(w, http.StatusCreated, templateResponse(tpl))
}

func (h *Handler) listTemplates(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := parsePagination(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	templates, err := h.store.ListTemplates(r.Context(), limit, offset)
	if err != nil {
		h.storeError(w, "list templates", err)
		return
	}

	resp := ListTemplatesResponse{Templates: make([]TemplateResponse, len(templates))}
	for i, t := range templates {
		resp.Templates[i] = templateResponse(t)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) getTemplate(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "template")
	if !ok {
		return
	}

	tpl, err := h.store.GetTemplate(r.Context(), id)
	if err != nil {
		h.storeError(w, "get template", err)
		return
	}
	writeJSON(w, http.StatusOK, templateResponse(tpl))
}

func (h *Handler) createAutomation(w http.ResponseWriter, r *http.Request) {
	var req AutomationRequest
	if !decode(w, r, &req) {
		return
	}

	a, err := NewAutomation(req, h.clock())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.store.CreateAutomation(r.Context(), a); err != nil {
		h.storeError(w, "create automation", err)
		return
	}

	writeJSON(w, http.StatusCreated, automationResponse(a))
}

// updateAutomation replaces the automation's configuration. The scheduler
// recomputes its next run on the following pass.
func (h *Handler) updateAutomation(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "automation")
	if !ok {
		return
	}

	var req AutomationRequest
	if !decode(w, r, &req) {
		return
	}

	a, err := NewAutomation(req, h.clock())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	a.ID = id

	if err := h.store.UpdateAutomation(r.Context(), a); err != nil {
		h.storeError(w, "update automation", err)
		return
	}

	updated, err := h.store.GetAutomation(r.Context(), id)
	if err != nil {
		h.storeError(w, "get automation", err)
		return
	}
	writeJSON(w, http.StatusOK, automationResponse(updated))
}

func (h *Handler) listAutomations(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := parsePagination(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	automations, err := h.store.ListAutomations(r.Context(), limit, offset)
	if err != nil {
		h.storeError(w, "list automations", err)
		return
	}

	resp := ListAutomationsResponse{Automations: make([]AutomationResponse, len(automations))}
	for i, a := range automations {
		resp.Automations[i] = automationResponse(a)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) getAutomation(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "automation")
	if !ok {
		return
	}

	a, err := h.store.GetAutomation(r.Context(), id)
	if err != nil {
		h.storeError(w, "get automation", err)
		return
	}
	writeJSON(w, http.StatusOK, automationResponse(a))
}

func (h *Handler) deleteAutomation(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "automation")
	if !ok {
		return
	}

	if err := h.store.DeleteAutomation(r.Context(), id); err != nil {
		h.storeError(w, "delete automation", err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) listAutomationRuns(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "automation")
	if !ok {
		return
	}

	limit, offset, err := parsePagination(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	runs, err := h.store.ListAutomationRuns(r.Context(), id, limit, offset)
	if err != nil {
		h.storeError(w, "list automation runs", err)
		return
	}
	writeJSON(w, http.StatusOK, ListRunsResponse{Runs: runResponses(runs)})
}

func (h *Handler) listRuns(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := parsePagination(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	runs, err := h.store.ListRuns(r.Context(), limit, offset)
	if err != nil {
		h.storeError(w, "list runs", err)
		return
	}
	writeJSON(w, http.StatusOK, ListRunsResponse{Runs: runResponses(runs)})
}

func (h *Handler) dashboard(w http.ResponseWriter, r *http.Request) {
	d, err := h.store.Dashboard(r.Context(), DashboardRecentRuns)
	if err != nil {
		h.storeError(w, "dashboard", err)
		return
	}

	writeJSON(w, http.StatusOK, DashboardResponse{
		Associates:        d.Associates,
		Templates:         d.Templates,
		Automations:       d.Automations,
		ActiveAutomations: d.ActiveAutomations,
		RunsSent:          d.RunsSent,
		RunsFailed:        d.RunsFailed,
		RecentRuns:        runResponses(d.RecentRuns),
	})
}

func pathID(w http.ResponseWriter, r *http.Request, kind string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid "+kind+" id")
		return uuid.UUID{}, false
	}
	return id, true
}

// storeError maps store sentinels to status codes and logs the rest.
func (h *Handler) storeError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, store.ErrDuplicateEmail):
		writeError(w, http.StatusConflict, "email already exists")
	case errors.Is(err, store.ErrUnknownReference):
		writeError(w, http.StatusBadRequest, "unknown template or associate")
	default:
		h.log.WithError(err).Errorf("api: %s error", op)
		writeError(w, http.StatusInternalServerError, "failed to "+op)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logrus.Errorf("api: json encode error: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}

// parsePagination extracts and validates limit/offset query parameters.
// Returns DefaultLimit if limit is not specified, and 0 for offset if not specified.
// Returns an error if limit exceeds MaxLimit or if values are negative/invalid.
func parsePagination(r *http.Request) (limit, offset int, err error) {
	limit = DefaultLimit
	offset = 0

	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		limit, err = strconv.Atoi(limitStr)
		if err != nil {
			return 0, 0, err
		}
		if limit < 0 {
			return 0, 0, strconv.ErrRange
		}
		if limit > MaxLimit {
			return 0, 0, &limitExceededError{max: MaxLimit}
		}
		if limit == 0 {
			limit = DefaultLimit
		}
	}

	if offsetStr := r.URL.Query().Get("offset"); offsetStr != "" {
		offset, err = strconv.Atoi(offsetStr)
		if err != nil {
			return 0, 0, err
		}
		if offset < 0 {
			return 0, 0, strconv.ErrRange
		}
	}

	return limit, offset, nil
}

type limitExceededError struct {
	max int
}

func (e *limitExceededError) Error() string {
	return "limit exceeds maximum of " + strconv.Itoa(e.max)
}
