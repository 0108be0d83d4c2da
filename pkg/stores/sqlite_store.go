package stores

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	// SQLite driver
	_ "modernc.org/sqlite"

	"github.com/twinforge/twinforge/pkg/pipeline"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("record not found")

// SQLiteStore persists run state, progress checkpoints and deployment
// settings in a local SQLite database. It implements pipeline.RunStore.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// Config holds SQLite store configuration.
type Config struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// NewSQLiteStore creates a new SQLite store instance.
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}
	return &SQLiteStore{path: cfg.Path}, nil
}

// Init opens the database connection and enables WAL mode.
func (s *SQLiteStore) Init(ctx context.Context) error {
	dsn := fmt.Sprintf("%s?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL&_txlock=immediate", s.path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	// Foreign keys are a connection-level setting.
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	s.db = db
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate runs the embedded schema migrations.
func (s *SQLiteStore) Migrate(_ context.Context) error {
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

// SaveRun inserts or replaces a run state. The full state is stored as a
// JSON document; scenario and status are denormalized for lookups.
func (s *SQLiteStore) SaveRun(ctx context.Context, run *pipeline.RunState) error {
	state, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("failed to marshal run state: %w", err)
	}

	query := `
		INSERT INTO runs (run_id, scenario_id, status, state, started_at, updated_at)
		VALUES (?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(run_id) DO UPDATE SET
			status = excluded.status,
			state = excluded.state,
			updated_at = CURRENT_TIMESTAMP
	`

	_, err = s.db.ExecContext(ctx, query,
		run.RunID,
		run.ScenarioID,
		string(run.Status),
		string(state),
		run.StartedAt.UTC().Format("2006-01-02 15:04:05.999999"),
	)
	if err != nil {
		return fmt.Errorf("failed to save run: %w", err)
	}

	return nil
}

// GetRun retrieves a run by ID. Returns ErrNotFound when no run matches.
func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*pipeline.RunState, error) {
	query := `SELECT state FROM runs WHERE run_id = ?`

	var state string
	err := s.db.QueryRowContext(ctx, query, runID).Scan(&state)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %s: %w", runID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}

	return unmarshalRun(state)
}

// LatestRun retrieves the most recently started run for a scenario, or nil
// when the scenario has never run.
func (s *SQLiteStore) LatestRun(ctx context.Context, scenarioID string) (*pipeline.RunState, error) {
	query := `
		SELECT state FROM runs
		WHERE scenario_id = ?
		ORDER BY started_at DESC, run_id DESC
		LIMIT 1
	`

	var state string
	err := s.db.QueryRowContext(ctx, query, scenarioID).Scan(&state)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest run: %w", err)
	}

	return unmarshalRun(state)
}

// FailInterruptedRuns marks runs a previous process left in the running
// state as failed, with the interrupted step as the resume point. A run row
// can only stay running across a restart when the process died mid-run;
// sweeping it keeps the one-running-run-per-scenario invariant in the store
// and makes the run resumable. Call once at startup, before the orchestrator
// accepts requests. Returns the number of runs swept.
func (s *SQLiteStore) FailInterruptedRuns(ctx context.Context) (int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT state FROM runs WHERE status = ?`, string(pipeline.RunStatusRunning))
	if err != nil {
		return 0, fmt.Errorf("failed to list running runs: %w", err)
	}
	defer rows.Close()

	var interrupted []*pipeline.RunState
	for rows.Next() {
		var state string
		if err := rows.Scan(&state); err != nil {
			return 0, fmt.Errorf("failed to scan run: %w", err)
		}
		run, err := unmarshalRun(state)
		if err != nil {
			return 0, err
		}
		interrupted = append(interrupted, run)
	}
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("error iterating runs: %w", err)
	}

	now := time.Now().UTC()
	for _, run := range interrupted {
		run.Status = pipeline.RunStatusFailed
		run.FailureClass = pipeline.ErrorClassTransient
		run.Error = "run interrupted before completion"
		run.RetryFrom = interruptedRetryFrom(run)
		run.Current = ""
		run.CompletedAt = &now
		if err := s.SaveRun(ctx, run); err != nil {
			return 0, err
		}
	}

	return len(interrupted), nil
}

// interruptedRetryFrom picks the resume point of an interrupted run: the
// step that was executing, or the first selected step not yet completed.
func interruptedRetryFrom(run *pipeline.RunState) pipeline.StepID {
	if run.Current != "" {
		return run.Current
	}
	for _, id := range run.Selected {
		if !run.HasCompleted(id) {
			return id
		}
	}
	return ""
}

// ListRuns lists runs for a scenario, newest first.
func (s *SQLiteStore) ListRuns(ctx context.Context, scenarioID string, limit int) ([]*pipeline.RunState, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT state FROM runs
		WHERE scenario_id = ?
		ORDER BY started_at DESC, run_id DESC
		LIMIT ?
	`

	rows, err := s.db.QueryContext(ctx, query, scenarioID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	runs := []*pipeline.RunState{}
	for rows.Next() {
		var state string
		if err := rows.Scan(&state); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		run, err := unmarshalRun(state)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}

	return runs, nil
}

// AppendProgress records a progress checkpoint for a run.
func (s *SQLiteStore) AppendProgress(ctx context.Context, runID string, event pipeline.ProgressEvent) error {
	var completed *string
	if len(event.Completed) > 0 {
		data, err := json.Marshal(event.Completed)
		if err != nil {
			return fmt.Errorf("failed to marshal completed steps: %w", err)
		}
		str := string(data)
		completed = &str
	}

	var errMsg, retryFrom *string
	if event.Error != "" {
		errMsg = &event.Error
	}
	if event.RetryFrom != "" {
		str := string(event.RetryFrom)
		retryFrom = &str
	}

	query := `
		INSERT INTO progress (run_id, percent, label, error, retry_from, completed)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query, runID, event.Percent, event.Label, errMsg, retryFrom, completed)
	if err != nil {
		return fmt.Errorf("failed to append progress: %w", err)
	}

	return nil
}

// GetProgress retrieves the progress checkpoints of a run in emission order.
func (s *SQLiteStore) GetProgress(ctx context.Context, runID string) ([]pipeline.ProgressEvent, error) {
	query := `
		SELECT percent, label, error, retry_from, completed
		FROM progress
		WHERE run_id = ?
		ORDER BY id ASC
	`

	rows, err := s.db.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to get progress: %w", err)
	}
	defer rows.Close()

	events := []pipeline.ProgressEvent{}
	for rows.Next() {
		var (
			event     pipeline.ProgressEvent
			errMsg    sql.NullString
			retryFrom sql.NullString
			completed sql.NullString
		)
		if err := rows.Scan(&event.Percent, &event.Label, &errMsg, &retryFrom, &completed); err != nil {
			return nil, fmt.Errorf("failed to scan progress event: %w", err)
		}
		event.RunID = runID
		if errMsg.Valid {
			event.Error = errMsg.String
		}
		if retryFrom.Valid {
			event.RetryFrom = pipeline.StepID(retryFrom.String)
		}
		if completed.Valid {
			if err := json.Unmarshal([]byte(completed.String), &event.Completed); err != nil {
				return nil, fmt.Errorf("failed to unmarshal completed steps: %w", err)
			}
		}
		events = append(events, event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating progress events: %w", err)
	}

	return events, nil
}

// SetSetting inserts or updates one deployment setting.
func (s *SQLiteStore) SetSetting(ctx context.Context, key, value string) error {
	query := `
		INSERT INTO settings (key, value, updated_at)
		VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(key) DO UPDATE SET
			value = excluded.value,
			updated_at = CURRENT_TIMESTAMP
	`

	if _, err := s.db.ExecContext(ctx, query, key, value); err != nil {
		return fmt.Errorf("failed to set setting %s: %w", key, err)
	}
	return nil
}

// GetSetting retrieves one deployment setting. Returns ErrNotFound when the
// key has never been written.
func (s *SQLiteStore) GetSetting(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("setting %s: %w", key, ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("failed to get setting %s: %w", key, err)
	}
	return value, nil
}

// AllSettings returns every stored setting.
func (s *SQLiteStore) AllSettings(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key, value FROM settings`)
	if err != nil {
		return nil, fmt.Errorf("failed to list settings: %w", err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("failed to scan setting: %w", err)
		}
		out[key] = value
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating settings: %w", err)
	}

	return out, nil
}

// DeleteSetting removes one deployment setting.
func (s *SQLiteStore) DeleteSetting(ctx context.Context, key string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM settings WHERE key = ?`, key)
	if err != nil {
		return fmt.Errorf("failed to delete setting %s: %w", key, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("setting %s: %w", key, ErrNotFound)
	}

	return nil
}

// HealthCheck verifies the database connection is healthy.
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}
	return s.db.PingContext(ctx)
}

func unmarshalRun(state string) (*pipeline.RunState, error) {
	var run pipeline.RunState
	if err := json.Unmarshal([]byte(state), &run); err != nil {
		return nil, fmt.Errorf("failed to unmarshal run state: %w", err)
	}
	return &run, nil
}
