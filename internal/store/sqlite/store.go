// Package sqlite is the embedded single-file store, also used in tests with
// an in-memory database.
//
// Timestamps are stored as fixed-width UTC text so that string comparison in
// SQL orders them chronologically. The pool is limited to one connection,
// which serialises transactions: a claimed occurrence holds the connection
// until it is recorded or released.
package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/djlord-it/orbitops/internal/api"
	"github.com/djlord-it/orbitops/internal/domain"
	"github.com/djlord-it/orbitops/internal/scheduler"
	"github.com/djlord-it/orbitops/internal/seed"
	"github.com/djlord-it/orbitops/internal/store"
)

//go:embed schema.sql
var schema string

const timeLayout = "2006-01-02T15:04:05.000000000Z"

type Store struct {
	db *sql.DB
}

// Open opens the database at path (":memory:" for a private in-memory one).
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("sqlite: path is required")
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)
	db.SetConnMaxIdleTime(0)

	for _, pragma := range []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("sqlite: %s: %w", pragma, err)
		}
	}

	return &Store{db: db}, nil
}

// Migrate applies the embedded schema. It is idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("sqlite: migrate: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) PingContext(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Associates

// CreateAssociate returns store.ErrDuplicateEmail if the email is taken.
func (s *Store) CreateAssociate(ctx context.Context, a domain.Associate) error {
	_, err := s.db.ExecContext(ctx, queryInsertAssociate,
		a.ID.String(), a.Name, a.Email, a.Timezone, a.Role, formatTime(a.CreatedAt))
	if isConstraint(err, sqlite3.SQLITE_CONSTRAINT_UNIQUE) {
		return store.ErrDuplicateEmail
	}
	return err
}

func (s *Store) ListAssociates(ctx context.Context, limit, offset int) ([]domain.Associate, error) {
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
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id.String()
	}
	query := `SELECT id, name, email, timezone, role, created_at FROM associates WHERE id IN (` +
		strings.TrimSuffix(strings.Repeat("?, ", len(ids)), ", ") + `) ORDER BY name, id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return collectAssociates(rows)
}

func (s *Store) FindAssociateByEmail(ctx context.Context, email string) (domain.Associate, error) {
	a, err := scanAssociate(s.db.QueryRowContext(ctx, queryGetAssociateByEmail, email))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Associate{}, store.ErrNotFound
	}
	return a, err
}

// Templates

// CreateTemplate stores the template with its tasks and links in order.
func (s *Store) CreateTemplate(ctx context.Context, t domain.Template) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, queryInsertTemplate,
		t.ID.String(), t.Title, t.Subject, t.Headline, t.Summary, t.Body, formatTime(t.CreatedAt))
	if err != nil {
		return err
	}
	for i, task := range t.Tasks {
		if _, err := tx.ExecContext(ctx, queryInsertTemplateTask, t.ID.String(), i, task.Title, task.Detail); err != nil {
			return err
		}
	}
	for i, link := range t.Links {
		if _, err := tx.ExecContext(ctx, queryInsertTemplateLink, t.ID.String(), i, link.Label, link.URL); err != nil {
			return err
		}
	}

	return tx.Commit()
}

func (s *Store) GetTemplate(ctx context.Context, id uuid.UUID) (domain.Template, error) {
	t, err := scanTemplate(s.db.QueryRowContext(ctx, queryGetTemplate, id.String()))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Template{}, store.ErrNotFound
	}
	if err != nil {
		return domain.Template{}, err
	}
	return t, s.loadTemplateChildren(ctx, &t)
}

func (s *Store) FindTemplateByTitle(ctx context.Context, title string) (domain.Template, error) {
	t, err := scanTemplate(s.db.QueryRowContext(ctx, queryGetTemplateByTitle, title))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Template{}, store.ErrNotFound
	}
	if err != nil {
		return domain.Template{}, err
	}
	return t, s.loadTemplateChildren(ctx, &t)
}

func (s *Store) ListTemplates(ctx context.Context, limit, offset int) ([]domain.Template, error) {
	rows, err := s.db.QueryContext(ctx, queryListTemplates, limit, offset)
	if err != nil {
		return nil, err
	}

	var result []domain.Template
	for rows.Next() {
		t, err := scanTemplate(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		result = append(result, t)
	}
	if err := closeRows(rows); err != nil {
		return nil, err
	}

	// Children are loaded after the cursor is closed: the pool has one connection.
	for i := range result {
		if err := s.loadTemplateChildren(ctx, &result[i]); err != nil {
			return nil, err
		}
	}
	return result, nil
}

func (s *Store) loadTemplateChildren(ctx context.Context, t *domain.Template) error {
	rows, err := s.db.QueryContext(ctx, queryTemplateTasks, t.ID.String())
	if err != nil {
		return err
	}
	for rows.Next() {
		var task domain.Task
		if err := rows.Scan(&task.Title, &task.Detail); err != nil {
			rows.Close()
			return err
		}
		t.Tasks = append(t.Tasks, task)
	}
	if err := closeRows(rows); err != nil {
		return err
	}

	rows, err = s.db.QueryContext(ctx, queryTemplateLinks, t.ID.String())
	if err != nil {
		return err
	}
	for rows.Next() {
		var link domain.Link
		if err := rows.Scan(&link.Label, &link.URL); err != nil {
			rows.Close()
			return err
		}
		t.Links = append(t.Links, link)
	}
	return closeRows(rows)
}

// Automations

// CreateAutomation returns store.ErrUnknownReference if the template or an
// associate does not exist.
func (s *Store) CreateAutomation(ctx context.Context, a domain.Automation) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, queryInsertAutomation,
		a.ID.String(), a.Name, a.TemplateID.String(), string(a.Frequency), joinWeekdays(a.WeeklyDays),
		a.SendTime.String(), a.Timezone, nullDate(a.StartDate), nullDate(a.EndDate),
		nullTime(a.NextRunAt), nullTime(a.LastRunAt), a.Retired,
		formatTime(a.CreatedAt), formatTime(a.UpdatedAt),
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
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, queryUpdateAutomation,
		a.Name, a.TemplateID.String(), string(a.Frequency), joinWeekdays(a.WeeklyDays),
		a.SendTime.String(), a.Timezone, nullDate(a.StartDate), nullDate(a.EndDate),
		formatTime(a.UpdatedAt), a.ID.String(),
	)
	if err != nil {
		return mapReferenceError(err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n == 0 {
		return store.ErrNotFound
	}

	if _, err := tx.ExecContext(ctx, queryDeleteAutomationAssociates, a.ID.String()); err != nil {
		return err
	}
	if err := insertAutomationAssociates(ctx, tx, a); err != nil {
		return err
	}

	return tx.Commit()
}

func insertAutomationAssociates(ctx context.Context, tx *sql.Tx, a domain.Automation) error {
	for _, id := range a.AssociateIDs {
		if _, err := tx.ExecContext(ctx, queryInsertAutomationAssociate, a.ID.String(), id.String()); err != nil {
			return mapReferenceError(err)
		}
	}
	return nil
}

func (s *Store) GetAutomation(ctx context.Context, id uuid.UUID) (domain.Automation, error) {
	a, err := scanAutomation(s.db.QueryRowContext(ctx, queryGetAutomation, id.String()))
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
	res, err := s.db.ExecContext(ctx, queryDeleteAutomation, id.String())
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
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}

	var result []domain.Automation
	for rows.Next() {
		a, err := scanAutomation(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		result = append(result, a)
	}
	if err := closeRows(rows); err != nil {
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
	rows, err := s.db.QueryContext(ctx, queryAutomationAssociates, id.String())
	if err != nil {
		return nil, err
	}
	var ids []uuid.UUID
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			rows.Close()
			return nil, err
		}
		aid, err := uuid.Parse(raw)
		if err != nil {
			rows.Close()
			return nil, err
		}
		ids = append(ids, aid)
	}
	return ids, closeRows(rows)
}

// Scheduling

func (s *Store) DueAutomations(ctx context.Context, now time.Time) ([]domain.Automation, error) {
	return s.queryAutomations(ctx, queryDueAutomations, formatTime(now))
}

func (s *Store) InitializeNextRun(ctx context.Context, id uuid.UUID, next *time.Time) error {
	res, err := s.db.ExecContext(ctx, queryInitializeNextRun,
		nullTime(next), next == nil, formatTime(time.Now()), id.String())
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

func (s *Store) ClaimOccurrence(ctx context.Context, claim scheduler.Claim) (scheduler.Occurrence, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}

	res, err := tx.ExecContext(ctx, queryClaimOccurrence,
		nullTime(claim.Next), formatTime(claim.Due), claim.Next == nil, formatTime(time.Now()),
		claim.AutomationID.String(), formatTime(claim.Due),
	)
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
		run.ID.String(), nullUUID(run.AutomationID), run.AutomationName, formatTime(run.ScheduledFor),
		string(run.Status), run.Error, formatTime(run.CreatedAt),
	)
	if err != nil {
		if isConstraint(err, sqlite3.SQLITE_CONSTRAINT_UNIQUE) {
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
	return s.queryRuns(ctx, queryListAutomationRuns, id.String(), limit, offset)
}

func (s *Store) queryRuns(ctx context.Context, query string, args ...any) ([]domain.Run, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.Run
	for rows.Next() {
		var (
			r                       domain.Run
			id, status              string
			automationID            sql.NullString
			scheduledFor, createdAt string
		)
		if err := rows.Scan(&id, &automationID, &r.AutomationName, &scheduledFor, &status, &r.Error, &createdAt); err != nil {
			return nil, err
		}
		if r.ID, err = uuid.Parse(id); err != nil {
			return nil, err
		}
		if automationID.Valid {
			if r.AutomationID, err = uuid.Parse(automationID.String); err != nil {
				return nil, err
			}
		}
		if r.ScheduledFor, err = parseTime(scheduledFor); err != nil {
			return nil, err
		}
		if r.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		r.Status = domain.RunStatus(status)
		result = append(result, r)
	}
	return result, rows.Err()
}

func (s *Store) Dashboard(ctx context.Context, recentRuns int) (api.Dashboard, error) {
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
	var id, createdAt string
	if err := row.Scan(&id, &a.Name, &a.Email, &a.Timezone, &a.Role, &createdAt); err != nil {
		return domain.Associate{}, err
	}
	var err error
	if a.ID, err = uuid.Parse(id); err != nil {
		return domain.Associate{}, err
	}
	if a.CreatedAt, err = parseTime(createdAt); err != nil {
		return domain.Associate{}, err
	}
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
	var id, createdAt string
	if err := row.Scan(&id, &t.Title, &t.Subject, &t.Headline, &t.Summary, &t.Body, &createdAt); err != nil {
		return domain.Template{}, err
	}
	var err error
	if t.ID, err = uuid.Parse(id); err != nil {
		return domain.Template{}, err
	}
	if t.CreatedAt, err = parseTime(createdAt); err != nil {
		return domain.Template{}, err
	}
	return t, nil
}

func scanAutomation(row scanner) (domain.Automation, error) {
	var (
		a                                    domain.Automation
		id, templateID, frequency, days      string
		sendTime                             string
		startDate, endDate, nextRun, lastRun sql.NullString
		createdAt, updatedAt                 string
	)
	err := row.Scan(&id, &a.Name, &templateID, &frequency, &days, &sendTime, &a.Timezone,
		&startDate, &endDate, &nextRun, &lastRun, &a.Retired, &createdAt, &updatedAt)
	if err != nil {
		return domain.Automation{}, err
	}

	if a.ID, err = uuid.Parse(id); err != nil {
		return domain.Automation{}, err
	}
	if a.TemplateID, err = uuid.Parse(templateID); err != nil {
		return domain.Automation{}, err
	}
	a.Frequency = domain.Frequency(frequency)
	a.WeeklyDays = splitWeekdays(days)
	if a.SendTime, err = domain.ParseClockTime(sendTime); err != nil {
		return domain.Automation{}, err
	}
	if a.StartDate, err = parseNullDate(startDate); err != nil {
		return domain.Automation{}, err
	}
	if a.EndDate, err = parseNullDate(endDate); err != nil {
		return domain.Automation{}, err
	}
	if a.NextRunAt, err = parseNullTime(nextRun); err != nil {
		return domain.Automation{}, err
	}
	if a.LastRunAt, err = parseNullTime(lastRun); err != nil {
		return domain.Automation{}, err
	}
	if a.CreatedAt, err = parseTime(createdAt); err != nil {
		return domain.Automation{}, err
	}
	if a.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return domain.Automation{}, err
	}
	return a, nil
}

func closeRows(rows *sql.Rows) error {
	err := rows.Err()
	if cerr := rows.Close(); err == nil {
		err = cerr
	}
	return err
}

// Encoding

func formatTime(t time.Time) string { return t.UTC().Format(timeLayout) }

func parseTime(s string) (time.Time, error) { return time.Parse(timeLayout, s) }

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func parseNullTime(s sql.NullString) (*time.Time, error) {
	if !s.Valid {
		return nil, nil
	}
	t, err := parseTime(s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func nullDate(d *domain.Date) any {
	if d == nil {
		return nil
	}
	return d.String()
}

func parseNullDate(s sql.NullString) (*domain.Date, error) {
	if !s.Valid {
		return nil, nil
	}
	d, err := domain.ParseDate(s.String)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func nullUUID(id uuid.UUID) any {
	if id == uuid.Nil {
		return nil
	}
	return id.String()
}

func joinWeekdays(days []domain.Weekday) string {
	parts := make([]string, len(days))
	for i, d := range days {
		parts[i] = string(d)
	}
	return strings.Join(parts, ",")
}

func splitWeekdays(s string) []domain.Weekday {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	days := make([]domain.Weekday, len(parts))
	for i, p := range parts {
		days[i] = domain.Weekday(p)
	}
	return days
}

// Errors

func isConstraint(err error, code int) bool {
	if err == nil {
		return false
	}
	var serr *sqlite.Error
	if errors.As(err, &serr) && serr.Code() == code {
		return true
	}
	msg := err.Error()
	switch code {
	case sqlite3.SQLITE_CONSTRAINT_UNIQUE:
		return strings.Contains(msg, "UNIQUE constraint failed")
	case sqlite3.SQLITE_CONSTRAINT_FOREIGNKEY:
		return strings.Contains(msg, "FOREIGN KEY constraint failed")
	}
	return false
}

func mapReferenceError(err error) error {
	if isConstraint(err, sqlite3.SQLITE_CONSTRAINT_FOREIGNKEY) {
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
