package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/xiaot623/gogo/autopilot/internal/domain"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// For in-memory SQLite, multiple connections create separate databases.
	// Keep a single connection to avoid schema/data disappearing across goroutines.
	if dsn == ":memory:" || strings.Contains(dsn, "mode=memory") {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// migrate runs database migrations.
func (s *SQLiteStore) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			run_id TEXT PRIMARY KEY,
			project_id TEXT NOT NULL,
			objective TEXT NOT NULL,
			mode TEXT NOT NULL,
			status TEXT NOT NULL,
			attempt INTEGER NOT NULL DEFAULT 0,
			last_error TEXT,
			record TEXT NOT NULL,
			started_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_project ON runs(project_id, started_at)`,
		`CREATE TABLE IF NOT EXISTS events (
			event_id TEXT PRIMARY KEY,
			run_id TEXT NOT NULL,
			ts INTEGER NOT NULL,
			type TEXT NOT NULL,
			payload TEXT,
			FOREIGN KEY (run_id) REFERENCES runs(run_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_events_run ON events(run_id, ts)`,
		`CREATE TABLE IF NOT EXISTS plan_reviews (
			plan_id TEXT PRIMARY KEY,
			project_id TEXT NOT NULL,
			run_id TEXT NOT NULL,
			plan TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'pending',
			reason TEXT,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			decided_at DATETIME,
			FOREIGN KEY (run_id) REFERENCES runs(run_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_plan_reviews_project ON plan_reviews(project_id, plan_id)`,
		// At most one executing plan per project.
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_plan_reviews_executing ON plan_reviews(project_id) WHERE status = 'executing'`,
		`CREATE TABLE IF NOT EXISTS role_assignments (
			role TEXT PRIMARY KEY,
			provider TEXT NOT NULL,
			model TEXT,
			credential TEXT,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w\n%s", err, m)
		}
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// SaveRun inserts or replaces the stored record of a run.
func (s *SQLiteStore) SaveRun(ctx context.Context, run *domain.Run) error {
	record, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("failed to marshal run: %w", err)
	}
	updatedAt := run.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now()
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO runs (run_id, project_id, objective, mode, status, attempt, last_error, record, started_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(run_id) DO UPDATE SET
		   status = excluded.status,
		   attempt = excluded.attempt,
		   last_error = excluded.last_error,
		   record = excluded.record,
		   updated_at = excluded.updated_at`,
		run.RunID, run.ProjectID, run.Objective, run.Mode, run.Status, run.Attempt,
		nullString(run.LastError), string(record), run.StartedAt, updatedAt)
	return err
}

// GetRun retrieves a run by ID.
func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*domain.Run, error) {
	return s.scanRun(s.db.QueryRowContext(ctx,
		`SELECT record FROM runs WHERE run_id = ?`, runID))
}

// GetLatestRun retrieves the most recently started run of a project.
func (s *SQLiteStore) GetLatestRun(ctx context.Context, projectID string) (*domain.Run, error) {
	return s.scanRun(s.db.QueryRowContext(ctx,
		`SELECT record FROM runs WHERE project_id = ? ORDER BY started_at DESC, rowid DESC LIMIT 1`, projectID))
}

func (s *SQLiteStore) scanRun(row *sql.Row) (*domain.Run, error) {
	var record string
	err := row.Scan(&record)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var run domain.Run
	if err := json.Unmarshal([]byte(record), &run); err != nil {
		return nil, fmt.Errorf("failed to unmarshal run: %w", err)
	}
	return &run, nil
}

// CreateEvent creates a new event.
func (s *SQLiteStore) CreateEvent(ctx context.Context, event *domain.Event) error {
	payload := ""
	if event.Payload != nil {
		payload = string(event.Payload)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO events (event_id, run_id, ts, type, payload) VALUES (?, ?, ?, ?, ?)`,
		event.EventID, event.RunID, event.Ts, event.Type, payload)
	return err
}

// GetEvents retrieves events for a run in timestamp order.
func (s *SQLiteStore) GetEvents(ctx context.Context, runID string, afterTs int64, types []string, limit int) ([]domain.Event, error) {
	query := `SELECT event_id, run_id, ts, type, payload FROM events WHERE run_id = ?`
	args := []interface{}{runID}

	if afterTs > 0 {
		query += ` AND ts > ?`
		args = append(args, afterTs)
	}

	if len(types) > 0 {
		placeholders := make([]string, len(types))
		for i, t := range types {
			placeholders[i] = "?"
			args = append(args, t)
		}
		query += ` AND type IN (` + strings.Join(placeholders, ",") + `)`
	}

	query += ` ORDER BY ts ASC, rowid ASC`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []domain.Event
	for rows.Next() {
		var event domain.Event
		var payload sql.NullString
		if err := rows.Scan(&event.EventID, &event.RunID, &event.Ts, &event.Type, &payload); err != nil {
			return nil, err
		}
		if payload.Valid && payload.String != "" {
			event.Payload = json.RawMessage(payload.String)
		}
		events = append(events, event)
	}
	return events, rows.Err()
}

// CreatePlanReview stores a new plan review.
func (s *SQLiteStore) CreatePlanReview(ctx context.Context, review *domain.PlanReview) error {
	plan, err := json.Marshal(review.Plan)
	if err != nil {
		return fmt.Errorf("failed to marshal plan: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO plan_reviews (plan_id, project_id, run_id, plan, status, reason, created_at, decided_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		review.PlanID, review.ProjectID, review.RunID, string(plan), review.Status,
		nullString(review.Reason), review.CreatedAt, review.DecidedAt)
	return mapConstraintError(err)
}

// GetPlanReview retrieves a plan review by ID.
func (s *SQLiteStore) GetPlanReview(ctx context.Context, planID string) (*domain.PlanReview, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT plan_id, project_id, run_id, plan, status, reason, created_at, decided_at FROM plan_reviews WHERE plan_id = ?`, planID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	reviews, err := scanPlanReviews(rows)
	if err != nil || len(reviews) == 0 {
		return nil, err
	}
	return &reviews[0], nil
}

// ListPlanReviews lists a project's plan reviews oldest first.
func (s *SQLiteStore) ListPlanReviews(ctx context.Context, projectID string) ([]domain.PlanReview, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT plan_id, project_id, run_id, plan, status, reason, created_at, decided_at FROM plan_reviews WHERE project_id = ? ORDER BY plan_id ASC`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanPlanReviews(rows)
}

// UpdatePlanReviewStatus moves a review to status to if its current status
// is one of from. It reports whether a row changed.
func (s *SQLiteStore) UpdatePlanReviewStatus(ctx context.Context, planID string, from []domain.ReviewStatus, to domain.ReviewStatus, reason string) (bool, error) {
	if len(from) == 0 {
		return false, fmt.Errorf("no source status given")
	}
	placeholders := make([]string, len(from))
	args := []interface{}{to, nullString(reason), time.Now(), planID}
	for i, st := range from {
		placeholders[i] = "?"
		args = append(args, st)
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE plan_reviews SET status = ?, reason = COALESCE(?, reason), decided_at = COALESCE(decided_at, ?)
		 WHERE plan_id = ? AND status IN (`+strings.Join(placeholders, ",")+`)`,
		args...)
	if err != nil {
		return false, mapConstraintError(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func scanPlanReviews(rows *sql.Rows) ([]domain.PlanReview, error) {
	var reviews []domain.PlanReview
	for rows.Next() {
		var r domain.PlanReview
		var plan string
		var reason sql.NullString
		var decidedAt sql.NullTime
		if err := rows.Scan(&r.PlanID, &r.ProjectID, &r.RunID, &plan, &r.Status, &reason, &r.CreatedAt, &decidedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(plan), &r.Plan); err != nil {
			return nil, fmt.Errorf("failed to unmarshal plan: %w", err)
		}
		if reason.Valid {
			r.Reason = reason.String
		}
		if decidedAt.Valid {
			r.DecidedAt = &decidedAt.Time
		}
		reviews = append(reviews, r)
	}
	return reviews, rows.Err()
}

// UpsertRoleAssignment creates or replaces a role assignment.
func (s *SQLiteStore) UpsertRoleAssignment(ctx context.Context, a *domain.RoleAssignment) error {
	updatedAt := a.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO role_assignments (role, provider, model, credential, updated_at) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(role) DO UPDATE SET provider = excluded.provider, model = excluded.model,
		   credential = excluded.credential, updated_at = excluded.updated_at`,
		a.Role, a.Provider, nullString(a.Model), nullString(a.Credential), updatedAt)
	return err
}

// GetRoleAssignment retrieves the assignment of a role. A role that was never
// configured yields nil, nil.
func (s *SQLiteStore) GetRoleAssignment(ctx context.Context, role domain.Role) (*domain.RoleAssignment, error) {
	var a domain.RoleAssignment
	var model, credential sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT role, provider, model, credential, updated_at FROM role_assignments WHERE role = ?`, role).
		Scan(&a.Role, &a.Provider, &model, &credential, &a.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	a.Model = model.String
	a.Credential = credential.String
	return &a, nil
}

// ListRoleAssignments lists every configured role.
func (s *SQLiteStore) ListRoleAssignments(ctx context.Context) ([]domain.RoleAssignment, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT role, provider, model, credential, updated_at FROM role_assignments ORDER BY role`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.RoleAssignment
	for rows.Next() {
		var a domain.RoleAssignment
		var model, credential sql.NullString
		if err := rows.Scan(&a.Role, &a.Provider, &model, &credential, &a.UpdatedAt); err != nil {
			return nil, err
		}
		a.Model = model.String
		a.Credential = credential.String
		out = append(out, a)
	}
	return out, rows.Err()
}

// mapConstraintError turns the executing-plan unique index violation into
// domain.ErrPlanExecuting.
func mapConstraintError(err error) error {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique &&
		strings.Contains(sqliteErr.Error(), "plan_reviews.project_id") {
		return domain.ErrPlanExecuting
	}
	return err
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
