// Package postgres is the PostgreSQL store used in production.
package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/djlord-it/orbitops/internal/api"
	"github.com/djlord-it/orbitops/internal/domain"
	"github.com/djlord-it/orbitops/internal/scheduler"
	"github.com/djlord-it/orbitops/internal/seed"
	"github.com/djlord-it/orbitops/internal/store"
)

//go:embed schema.sql
var schema string

// PostgreSQL error codes.
const (
	codeUniqueViolation     = "23505"
	codeForeignKeyViolation = "23503"
)

// Store implements scheduler.Store, api.Store and seed.Store using PostgreSQL.
type Store struct {
	db        *sql.DB
	opTimeout time.Duration
}

// New creates a store on db. opTimeout bounds every statement outside a
// claimed occurrence; zero disables it.
func New(db *sql.DB, opTimeout time.Duration) *Store {
	return &Store{db: db, opTimeout: opTimeout}
}

func (s *Store) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.opTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.opTimeout)
}

// Migrate applies the embedded schema. It is idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("postgres: migrate: %w", err)
	}
	return nil
}

func (s *Store) PingContext(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Associates

// CreateAssociate returns store.ErrDuplicateEmail if the email is taken.
func (s *Store) CreateAssociate(ctx context.Context, a domain.Associate) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	_, err := s.db.ExecContext(ctx, queryInsertAssociate,
		a.ID, a.Name, a.Email, a.Timezone, a.Role, a.CreatedAt)
	if hasCode(err, codeUniqueViolation) {
		return store.ErrDuplicateEmail
	}
	return err
}

func (s *Store) ListAssociates(ctx context.Context, limit, offset int) ([]domain.Associate, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, queryListAssociates, limit, offset)
	if err != nil {
		return nil, err
	}
	return collectAssociates(rows)
}

// GetAssociatesByIDs returns the associates that exist among ids, ordered by name.
func (s *Store) GetAssociatesByIDs(ctx context.Context, ids []uuid.UUID) ([]domain.Associate, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	raw := make([]string, len(ids))
	for i, id := range ids {
		raw[i] = id.String()
	}
	rows, err := s.db.QueryContext(ctx, queryGetAssociatesByIDs, pq.Array(raw))
	if err != nil {
		return nil, err
	}
	return collectAssociates(rows)
}

func (s *Store) FindAssociateByEmail(ctx context.Context, email string) (domain.Associate, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	a, err := scanAssociate(s.db.QueryRowContext(ctx, queryGetAssociateByEmail, email))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Associate{}, store.ErrNotFound
	}
	return a, err
}

// Templates

// CreateTemplate stores the template with its tasks and links in order.
func (s *Store) CreateTemplate(ctx context.Context, t domain.Template) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, queryInsertTemplate,
		t.ID, t.Title, t.Subject, t.Headline, t.Summary, t.Body, t.CreatedAt)
	if err != nil {
		return err
	}
	for i, task := range t.Tasks {
		if _, err := tx.ExecContext(ctx, queryInsertTemplateTask, t.ID, i, task.Title, task.Detail); err != nil {
			return err
		}
	}
	for i, link := range t.Links {
		if _, err := tx.ExecContext(ctx, queryInsertTemplateLink, t.ID, i, link.Label, link.URL); err != nil {
			return err
		}
	}

	return tx.Commit()
}

func (s *Store) GetTemplate(ctx context.Context, id uuid.UUID) (domain.Template, error) {
	return s.getTemplate(ctx, queryGetTemplate, id)
}

func (s *Store) FindTemplateByTitle(ctx context.Context, title string) (domain.Template, error) {
	return s.getTemplate(ctx, queryGetTemplateByTitle, title)
}

func (s *Store) getTemplate(ctx context.Context, query string, arg any) (domain.Template, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	t, err := scanTemplate(s.db.QueryRowContext(ctx, query, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Template{}, store.ErrNotFound
	}
	if err != nil {
		return domain.Template{}, err
	}
	return t, s.loadTemplateChildren(ctx, &t)
}

func (s *Store) ListTemplates(ctx context.Context, limit, offset int) ([]domain.Template, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, queryListTemplates, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.Template
	for rows.Next() {
		t, err := scanTemplate(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range result {
		if err := s.loadTemplateChildren(ctx, &result[i]); err != nil {
			return nil, err
		}
	}
	return result, nil
}

func (s *Store) loadTemplateChildren(ctx context.Context, t *domain.Template) error {
	rows, err := s.db.QueryContext(ctx, queryTemplateTasks, t.ID)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var task domain.Task
		if err := rows.Scan(&task.Title, &task.Detail); err != nil {
			return err
		}
		t.Tasks = append(t.Tasks, task)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	links, err := s.db.QueryContext(ctx, queryTemplateLinks, t.ID)
	if err != nil {
		return err
	}
	defer links.Close()
	for links.Next() {
		var link domain.Link
		if err := links.Scan(&link.Label, &link.URL); err != nil {
			return err
		}
		t.Links = append(t.Links, link)
	}
	return links.Err()
}

// Automations

// CreateAutomation returns store.ErrUnknownReference if the template or an
// associate does not exist.
func (s *Store) CreateAutomation(ctx context.Context, a domain.Automation) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, queryInsertAutomation,
		a.ID, a.Name, a.TemplateID, string(a.Frequency), pq.Array(weekdayStrings(a.WeeklyDays)),
		a.SendTime.String(), a.Timezone, nullDate(a.StartDate), nullDate(a.EndDate),
		a.NextRunAt, a.LastRunAt, a.Retired, a.CreatedAt, a.UpdatedAt,
	)
	if err != nil {
		return mapReferenceError(err)
	}
	if err := insertAutomationAssociates(ctx, tx, a); err != nil {
		return err
	}

	return tx.Commit()
}

// UpdateAutomation replaces the automation's editable fields and clears its
// computed schedule. Returns store.ErrNotFound if it does not exist.
func (s *Store) UpdateAutomation(ctx context.Context, a domain.Automation) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, queryUpdateAutomation,
		a.Name, a.TemplateID, string(a.Frequency), pq.Array(weekdayStrings(a.WeeklyDays)),
		a.SendTime.String(), a.Timezone, nullDate(a.StartDate), nullDate(a.EndDate),
		a.UpdatedAt, a.ID,
	)
	if err != nil {
		return mapReferenceError(err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n == 0 {
		return store.ErrNotFound
	}

	if _, err := tx.ExecContext(ctx, queryDeleteAutomationAssociates, a.ID); err != nil {
		return err
	}
	if err := insertAutomationAssociates(ctx, tx, a); err != nil {
		return err
	}

	return tx.Commit()
}

func insertAutomationAssociates(ctx context.Context, tx *sql.Tx, a domain.Automation) error {
	for _, id := range a.AssociateIDs {
		if _, err := tx.ExecContext(ctx, queryInsertAutomationAssociate, a.ID, id); err != nil {
			return mapReferenceError(err)
		}
	}
	return nil
}

func (s *Store) GetAutomation(ctx context.Context, id uuid.UUID) (domain.Automation, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	a, err := scanAutomation(s.db.QueryRowContext(ctx, queryGetAutomation, id))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Automation{}, store.ErrNotFound
	}
	if err != nil {
		return domain.Automation{}, err
	}
	a.AssociateIDs, err = s.automationAssociates(ctx, a.ID)
	return a, err
}

func (s *Store) ListAutomations(ctx context.Context, limit, offset int) ([]domain.Automation, error) {
	return s.queryAutomations(ctx, queryListAutomations, limit, offset)
}

// DeleteAutomation removes the automation. Its runs remain with the name
// snapshot and a null automation reference.
func (s *Store) DeleteAutomation(ctx context.Context, id uuid.UUID) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	res, err := s.db.ExecContext(ctx, queryDeleteAutomation, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) queryAutomations(ctx context.Context, query string, args ...any) ([]domain.Automation, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.Automation
	for rows.Next() {
		a, err := scanAutomation(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range result {
		ids, err := s.automationAssociates(ctx, result[i].ID)
		if err != nil {
			return nil, err
		}
		result[i].AssociateIDs = ids
	}
	return result, nil
}

func (s *Store) automationAssociates(ctx context.Context, id uuid.UUID) ([]uuid.UUID, error) {
	rows, err := s.db.QueryContext(ctx, queryAutomationAssociates, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var aid uuid.UUID
		if err := rows.Scan(&aid); err != nil {
			return nil, err
		}
		ids = append(ids, aid)
	}
	return ids, rows.Err()
}

// Scheduling

func (s *Store) DueAutomations(ctx context.Context, now time.Time) ([]domain.Automation, error) {
	return s.queryAutomations(ctx, queryDueAutomations, now)
}

// InitializeNextRun sets the first next_run_at of an automation that has
// none. A nil next retires it. Returns scheduler.ErrOccurrenceClaimed if
// another process initialized it first.
func (s *Store) InitializeNextRun(ctx context.Context, id uuid.UUID, next *time.Time) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	res, err := s.db.ExecContext(ctx, queryInitializeNextRun, next, next == nil, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return scheduler.ErrOccurrenceClaimed
	}
	return nil
}

// ClaimOccurrence advances the automation past claim.Due inside a
// transaction that stays open until the run is recorded or released.
func (s *Store) ClaimOccurrence(ctx context.Context, claim scheduler.Claim) (scheduler.Occurrence, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}

	res, err := tx.ExecContext(ctx, queryClaimOccurrence,
		claim.Next, claim.Due, claim.Next == nil, claim.AutomationID)
	if err != nil {
		_ = tx.Rollback()
		return nil, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		_ = tx.Rollback()
		return nil, err
	}
	if n == 0 {
		_ = tx.Rollback()
		return nil, scheduler.ErrOccurrenceClaimed
	}

	return &occurrence{tx: tx}, nil
}

type occurrence struct {
	tx   *sql.Tx
	done bool
}

func (o *occurrence) Record(ctx context.Context, run domain.Run) error {
	if o.done {
		return sql.ErrTxDone
	}
	_, err := o.tx.ExecContext(ctx, queryInsertRun,
		run.ID, nullUUID(run.AutomationID), run.AutomationName, run.ScheduledFor,
		string(run.Status), run.Error, run.CreatedAt,
	)
	if err != nil {
		if hasCode(err, codeUniqueViolation) {
			return scheduler.ErrOccurrenceClaimed
		}
		return err
	}
	o.done = true
	return o.tx.Commit()
}

func (o *occurrence) Release() error {
	if o.done {
		return nil
	}
	o.done = true
	return o.tx.Rollback()
}

// Runs

func (s *Store) ListRuns(ctx context.Context, limit, offset int) ([]domain.Run, error) {
	return s.queryRuns(ctx, queryListRuns, limit, offset)
}

func (s *Store) ListAutomationRuns(ctx context.Context, id uuid.UUID, limit, offset int) ([]domain.Run, error) {
	return s.queryRuns(ctx, queryListAutomationRuns, id, limit, offset)
}

func (s *Store) queryRuns(ctx context.Context, query string, args ...any) ([]domain.Run, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.Run
	for rows.Next() {
		var (
			r            domain.Run
			status       string
			automationID uuid.NullUUID
		)
		if err := rows.Scan(&r.ID, &automationID, &r.AutomationName, &r.ScheduledFor, &status, &r.Error, &r.CreatedAt); err != nil {
			return nil, err
		}
		if automationID.Valid {
			r.AutomationID = automationID.UUID
		}
		r.ScheduledFor = r.ScheduledFor.UTC()
		r.CreatedAt = r.CreatedAt.UTC()
		r.Status = domain.RunStatus(status)
		result = append(result, r)
	}
	return result, rows.Err()
}

func (s *Store) Dashboard(ctx context.Context, recentRuns int) (api.Dashboard, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var d api.Dashboard
	err := s.db.QueryRowContext(ctx, queryDashboardCounts).Scan(
		&d.Associates, &d.Templates, &d.Automations, &d.ActiveAutomations, &d.RunsSent, &d.RunsFailed)
	if err != nil {
		return api.Dashboard{}, err
	}
	d.RecentRuns, err = s.ListRuns(ctx, recentRuns, 0)
	if err != nil {
		return api.Dashboard{}, err
	}
	return d, nil
}

// Scanning

type scanner interface {
	Scan(dest ...any) error
}

func scanAssociate(row scanner) (domain.Associate, error) {
	var a domain.Associate
	if err := row.Scan(&a.ID, &a.Name, &a.Email, &a.Timezone, &a.Role, &a.CreatedAt); err != nil {
		return domain.Associate{}, err
	}
	a.CreatedAt = a.CreatedAt.UTC()
	return a, nil
}

func collectAssociates(rows *sql.Rows) ([]domain.Associate, error) {
	defer rows.Close()
	var result []domain.Associate
	for rows.Next() {
		a, err := scanAssociate(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, a)
	}
	return result, rows.Err()
}

func scanTemplate(row scanner) (domain.Template, error) {
	var t domain.Template
	if err := row.Scan(&t.ID, &t.Title, &t.Subject, &t.Headline, &t.Summary, &t.Body, &t.CreatedAt); err != nil {
		return domain.Template{}, err
	}
	t.CreatedAt = t.CreatedAt.UTC()
	return t, nil
}

func scanAutomation(row scanner) (domain.Automation, error) {
	var (
		a                  domain.Automation
		frequency          string
		days               []string
		sendTime           sendTimeColumn
		startDate, endDate sql.NullTime
		nextRun, lastRun   sql.NullTime
	)
	err := row.Scan(&a.ID, &a.Name, &a.TemplateID, &frequency, pq.Array(&days), &sendTime, &a.Timezone,
		&startDate, &endDate, &nextRun, &lastRun, &a.Retired, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return domain.Automation{}, err
	}

	a.Frequency = domain.Frequency(frequency)
	for _, d := range days {
		a.WeeklyDays = append(a.WeeklyDays, domain.Weekday(d))
	}
	a.SendTime = sendTime.ClockTime
	a.StartDate = nullDateOf(startDate)
	a.EndDate = nullDateOf(endDate)
	a.NextRunAt = nullTimeOf(nextRun)
	a.LastRunAt = nullTimeOf(lastRun)
	a.CreatedAt = a.CreatedAt.UTC()
	a.UpdatedAt = a.UpdatedAt.UTC()
	return a, nil
}

// sendTimeColumn scans a TIME column. lib/pq decodes TIME as a time.Time
// dated 0000-01-01; text values are accepted as HH:MM[:SS].
type sendTimeColumn struct {
	domain.ClockTime
}

func (c *sendTimeColumn) Scan(src any) error {
	switch v := src.(type) {
	case time.Time:
		if v.Second() != 0 || v.Nanosecond() != 0 {
			return fmt.Errorf("postgres: send_time %s has seconds", v.Format("15:04:05.999999"))
		}
		c.ClockTime = domain.ClockTime{Hour: v.Hour(), Minute: v.Minute()}
		return nil
	case []byte:
		return c.parse(string(v))
	case string:
		return c.parse(v)
	default:
		return fmt.Errorf("postgres: cannot scan %T into send_time", src)
	}
}

func (c *sendTimeColumn) parse(s string) error {
	ct, err := domain.ParseClockTime(s)
	if err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	c.ClockTime = ct
	return nil
}

// Encoding

func weekdayStrings(days []domain.Weekday) []string {
	out := make([]string, len(days))
	for i, d := range days {
		out[i] = string(d)
	}
	return out
}

func nullDate(d *domain.Date) any {
	if d == nil {
		return nil
	}
	return d.String()
}

func nullDateOf(t sql.NullTime) *domain.Date {
	if !t.Valid {
		return nil
	}
	d := domain.DateOf(t.Time)
	return &d
}

func nullTimeOf(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	u := t.Time.UTC()
	return &u
}

func nullUUID(id uuid.UUID) any {
	if id == uuid.Nil {
		return nil
	}
	return id
}

// Errors

func hasCode(err error, code pq.ErrorCode) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == code
}

func mapReferenceError(err error) error {
	if hasCode(err, codeForeignKeyViolation) {
		return store.ErrUnknownReference
	}
	return err
}

// Compile-time interface assertions
var (
	_ scheduler.Store = (*Store)(nil)
	_ api.Store       = (*Store)(nil)
	_ seed.Store      = (*Store)(nil)
)
