package stores

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	// SQLite driver
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// AuditStore implements Store on SQLite.
type AuditStore struct {
	db   *sql.DB
	path string
	cfg  Config
}

// Config holds SQLite store configuration.
type Config struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// NewAuditStore creates a new audit store instance. Init must be called
// before use.
func NewAuditStore(cfg Config) (*AuditStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	if cfg.MaxOpenConns == 0 {
		cfg.MaxOpenConns = 10
	}
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = 2
	}
	if cfg.ConnMaxLifetime == 0 {
		cfg.ConnMaxLifetime = 5 * time.Minute
	}

	return &AuditStore{path: cfg.Path, cfg: cfg}, nil
}

// Init opens the database connection and enables WAL mode.
func (s *AuditStore) Init(ctx context.Context) error {
	dsn := fmt.Sprintf("%s?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL", s.path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(s.cfg.MaxOpenConns)
	db.SetMaxIdleConns(s.cfg.MaxIdleConns)
	db.SetConnMaxLifetime(s.cfg.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	s.db = db
	return nil
}

// Close closes the database connection.
func (s *AuditStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate applies the embedded schema migrations.
func (s *AuditStore) Migrate(_ context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	driver, err := sqlite3.WithInstance(s.db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// CreateRun inserts a new run record.
func (s *AuditStore) CreateRun(ctx context.Context, run *RunRecord) error {
	query := `
		INSERT INTO runs (id, status, started_by, policy_count, started_at, completed_at, error)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		run.ID,
		run.Status,
		run.Trigger,
		run.PolicyCount,
		run.StartedAt,
		run.CompletedAt,
		run.Error,
	)
	if err != nil {
		return fmt.Errorf("failed to create run: %w", err)
	}
	return nil
}

// CompleteRun records the final status of a run.
func (s *AuditStore) CompleteRun(ctx context.Context, id, status string, errMsg *string) error {
	query := `
		UPDATE runs SET status = ?, completed_at = ?, error = ? WHERE id = ?
	`

	res, err := s.db.ExecContext(ctx, query, status, time.Now().UTC(), errMsg, id)
	if err != nil {
		return fmt.Errorf("failed to complete run: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return fmt.Errorf("run not found: %s", id)
	}
	return nil
}

// GetRun fetches one run by ID.
func (s *AuditStore) GetRun(ctx context.Context, id string) (*RunRecord, error) {
	query := `
		SELECT id, status, started_by, policy_count, started_at, completed_at, error
		FROM runs WHERE id = ?
	`

	run := &RunRecord{}
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&run.ID,
		&run.Status,
		&run.Trigger,
		&run.PolicyCount,
		&run.StartedAt,
		&run.CompletedAt,
		&run.Error,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run not found: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return run, nil
}

// ListRuns returns runs newest first.
func (s *AuditStore) ListRuns(ctx context.Context, limit, offset int) ([]*RunRecord, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT id, status, started_by, policy_count, started_at, completed_at, error
		FROM runs ORDER BY started_at DESC LIMIT ? OFFSET ?
	`

	rows, err := s.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []*RunRecord
	for rows.Next() {
		run := &RunRecord{}
		if err := rows.Scan(
			&run.ID,
			&run.Status,
			&run.Trigger,
			&run.PolicyCount,
			&run.StartedAt,
			&run.CompletedAt,
			&run.Error,
		); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// RecordDecision appends one guardrail decision row.
func (s *AuditStore) RecordDecision(ctx context.Context, d *DecisionRecord) error {
	query := `
		INSERT INTO decisions (run_id, policy, decision, rule, reason, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	at := d.RecordedAt
	if at.IsZero() {
		at = time.Now().UTC()
	}

	res, err := s.db.ExecContext(ctx, query, d.RunID, d.Policy, d.Decision, d.Rule, d.Reason, at)
	if err != nil {
		return fmt.Errorf("failed to record decision: %w", err)
	}
	d.ID, _ = res.LastInsertId()
	d.RecordedAt = at
	return nil
}

// ListDecisions returns the decisions of a run in insertion order.
func (s *AuditStore) ListDecisions(ctx context.Context, runID string) ([]*DecisionRecord, error) {
	query := `
		SELECT id, run_id, policy, decision, rule, reason, recorded_at
		FROM decisions WHERE run_id = ? ORDER BY id
	`

	rows, err := s.db.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list decisions: %w", err)
	}
	defer rows.Close()

	var out []*DecisionRecord
	for rows.Next() {
		d := &DecisionRecord{}
		if err := rows.Scan(&d.ID, &d.RunID, &d.Policy, &d.Decision, &d.Rule, &d.Reason, &d.RecordedAt); err != nil {
			return nil, fmt.Errorf("failed to scan decision: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// RecordArtifact appends one per-target artifact row.
func (s *AuditStore) RecordArtifact(ctx context.Context, a *ArtifactRecord) error {
	query := `
		INSERT INTO artifacts (run_id, policy, platform, scope, path, sha256, status, error, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	at := a.RecordedAt
	if at.IsZero() {
		at = time.Now().UTC()
	}

	res, err := s.db.ExecContext(ctx, query,
		a.RunID, a.Policy, a.Platform, a.Scope, a.Path, a.SHA256, a.Status, a.Error, at)
	if err != nil {
		return fmt.Errorf("failed to record artifact: %w", err)
	}
	a.ID, _ = res.LastInsertId()
	a.RecordedAt = at
	return nil
}

// ListArtifacts returns the artifact rows of a run in insertion order.
func (s *AuditStore) ListArtifacts(ctx context.Context, runID string) ([]*ArtifactRecord, error) {
	query := `
		SELECT id, run_id, policy, platform, scope, path, sha256, status, error, recorded_at
		FROM artifacts WHERE run_id = ? ORDER BY id
	`

	rows, err := s.db.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list artifacts: %w", err)
	}
	defer rows.Close()

	var out []*ArtifactRecord
	for rows.Next() {
		a := &ArtifactRecord{}
		if err := rows.Scan(&a.ID, &a.RunID, &a.Policy, &a.Platform, &a.Scope,
			&a.Path, &a.SHA256, &a.Status, &a.Error, &a.RecordedAt); err != nil {
			return nil, fmt.Errorf("failed to scan artifact: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// HealthCheck pings the database.
func (s *AuditStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}
	return s.db.PingContext(ctx)
}
