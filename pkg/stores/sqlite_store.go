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

	"github.com/openfroyo/froyocore/pkg/model"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore implements the Store interface using SQLite.
type SQLiteStore struct {
	db  *sql.DB
	cfg Config
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

	if cfg.MaxOpenConns == 0 {
		cfg.MaxOpenConns = 25
	}
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = 5
	}
	if cfg.ConnMaxLifetime == 0 {
		cfg.ConnMaxLifetime = 5 * time.Minute
	}

	return &SQLiteStore{cfg: cfg}, nil
}

// Init opens the database, enables WAL mode, and configures the pool.
func (s *SQLiteStore) Init(ctx context.Context) error {
	dsn := fmt.Sprintf("%s?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL&_txlock=immediate", s.cfg.Path)

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
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate applies the embedded schema migrations.
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

// CreateRun inserts the record for one outermost Process call.
func (s *SQLiteStore) CreateRun(ctx context.Context, run *Run) error {
	now := time.Now().UTC()
	if run.StartedAt.IsZero() {
		run.StartedAt = now
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = now
	}
	run.UpdatedAt = now
	if run.Metadata == "" {
		run.Metadata = "{}"
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runs (id, project_path, status, started_at, completed_at, error, metadata, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.ProjectPath, run.Status, run.StartedAt, run.CompletedAt,
		run.Error, run.Metadata, run.CreatedAt, run.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting run %s: %w", run.ID, err)
	}
	return nil
}

// GetRun fetches one run by id.
func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*Run, error) {
	run := &Run{}
	err := s.db.QueryRowContext(ctx, `
		SELECT id, project_path, status, started_at, completed_at, error, metadata, created_at, updated_at
		FROM runs WHERE id = ?`, id).Scan(
		&run.ID, &run.ProjectPath, &run.Status, &run.StartedAt, &run.CompletedAt,
		&run.Error, &run.Metadata, &run.CreatedAt, &run.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("run not found: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("fetching run %s: %w", id, err)
	}
	return run, nil
}

// UpdateRunStatus moves a run to a new lifecycle state, stamping
// completed_at when the state is terminal.
func (s *SQLiteStore) UpdateRunStatus(ctx context.Context, id string, status RunStatus, errMsg *string) error {
	var completedAt *time.Time
	switch status {
	case RunStatusCompleted, RunStatusFailed, RunStatusCancelled:
		now := time.Now().UTC()
		completedAt = &now
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE runs SET status = ?, error = ?, completed_at = ?, updated_at = ?
		WHERE id = ?`,
		status, errMsg, completedAt, time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("updating run %s: %w", id, err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("updating run %s: %w", id, err)
	}
	if rows == 0 {
		return fmt.Errorf("run not found: %s", id)
	}
	return nil
}

// ListRuns returns runs newest first.
func (s *SQLiteStore) ListRuns(ctx context.Context, limit, offset int) ([]*Run, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, project_path, status, started_at, completed_at, error, metadata, created_at, updated_at
		FROM runs ORDER BY started_at DESC LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	defer rows.Close()

	runs := []*Run{}
	for rows.Next() {
		run := &Run{}
		if err := rows.Scan(
			&run.ID, &run.ProjectPath, &run.Status, &run.StartedAt, &run.CompletedAt,
			&run.Error, &run.Metadata, &run.CreatedAt, &run.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scanning run: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// DeleteRun removes a run; its task results and events cascade.
func (s *SQLiteStore) DeleteRun(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM runs WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting run %s: %w", id, err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("deleting run %s: %w", id, err)
	}
	if rows == 0 {
		return fmt.Errorf("run not found: %s", id)
	}
	return nil
}

// RecordTaskResult writes one terminal task row. A second write for the
// same (run, key) fails: the scheduler guarantees at most one terminal
// state per key, and the store holds it to that.
func (s *SQLiteStore) RecordTaskResult(ctx context.Context, r *TaskResult) error {
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO task_results (run_id, key, base_key, type, module, description, version,
			status, output, error, dependency_results, started_at, completed_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.RunID, r.Key, r.BaseKey, r.Type, r.Module, r.Description, r.Version,
		r.Status, r.Output, r.Error, r.DependencyResults, r.StartedAt, r.CompletedAt, r.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("recording task result %s/%s: %w", r.RunID, r.Key, err)
	}
	return nil
}

// GetTaskResult fetches one terminal task row by its scheduler key.
func (s *SQLiteStore) GetTaskResult(ctx context.Context, runID, key string) (*TaskResult, error) {
	r := &TaskResult{}
	err := s.db.QueryRowContext(ctx, `
		SELECT run_id, key, base_key, type, module, description, version,
			status, output, error, dependency_results, started_at, completed_at, created_at
		FROM task_results WHERE run_id = ? AND key = ?`, runID, key).Scan(
		&r.RunID, &r.Key, &r.BaseKey, &r.Type, &r.Module, &r.Description, &r.Version,
		&r.Status, &r.Output, &r.Error, &r.DependencyResults, &r.StartedAt, &r.CompletedAt, &r.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("task result not found: %s/%s", runID, key)
	}
	if err != nil {
		return nil, fmt.Errorf("fetching task result %s/%s: %w", runID, key, err)
	}
	return r, nil
}

// ListTaskResults returns a run's terminal task rows in completion order.
func (s *SQLiteStore) ListTaskResults(ctx context.Context, runID string) ([]*TaskResult, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, key, base_key, type, module, description, version,
			status, output, error, dependency_results, started_at, completed_at, created_at
		FROM task_results WHERE run_id = ? ORDER BY completed_at ASC`, runID)
	if err != nil {
		return nil, fmt.Errorf("listing task results for %s: %w", runID, err)
	}
	defer rows.Close()

	results := []*TaskResult{}
	for rows.Next() {
		r := &TaskResult{}
		if err := rows.Scan(
			&r.RunID, &r.Key, &r.BaseKey, &r.Type, &r.Module, &r.Description, &r.Version,
			&r.Status, &r.Output, &r.Error, &r.DependencyResults, &r.StartedAt, &r.CompletedAt, &r.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scanning task result: %w", err)
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

// RecordResults persists every terminal result of one scheduler Process
// call, converting model.TaskResult into durable rows. A failed result
// with a zero StartedAt (a dependant cancelled before it ran) is recorded
// as cancelled rather than failed.
func (s *SQLiteStore) RecordResults(ctx context.Context, runID string, results map[string]*model.TaskResult) error {
	for _, tr := range results {
		if tr == nil {
			continue
		}
		row := &TaskResult{
			RunID:       runID,
			Key:         tr.Key,
			BaseKey:     tr.BaseKey,
			Type:        tr.Type,
			Description: tr.Description,
			Status:      ResultCompleted,
			StartedAt:   tr.StartedAt,
			CompletedAt: tr.CompletedAt,
		}
		if tr.Error != nil {
			row.Status = ResultFailed
			msg := tr.Error.Error()
			row.Error = &msg
			if tr.StartedAt.IsZero() {
				// Never started: a dependant cancelled by an upstream failure.
				row.Status = ResultCancelled
			}
		}
		if tr.Output != nil {
			if out, err := json.Marshal(tr.Output); err == nil {
				text := string(out)
				row.Output = &text
			}
		}
		if len(tr.DependencyResults) > 0 {
			if deps, err := json.Marshal(tr.DependencyResults); err == nil {
				text := string(deps)
				row.DependencyResults = &text
			}
		}
		if err := s.RecordTaskResult(ctx, row); err != nil {
			return err
		}
	}
	return nil
}

// AppendEvent appends one event row.
func (s *SQLiteStore) AppendEvent(ctx context.Context, event *Event) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO events (run_id, task_id, level, message, details, timestamp)
		VALUES (?, ?, ?, ?, ?, ?)`,
		event.RunID, event.TaskID, event.Level, event.Message, event.Details, event.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("appending event: %w", err)
	}
	if id, err := result.LastInsertId(); err == nil {
		event.ID = id
	}
	return nil
}

// GetEvents lists events filtered by run, task, and level, oldest first.
func (s *SQLiteStore) GetEvents(ctx context.Context, runID *string, taskID *string, level *EventLevel, limit, offset int) ([]*Event, error) {
	query := `SELECT id, run_id, task_id, level, message, details, timestamp FROM events WHERE 1=1`
	args := []interface{}{}
	if runID != nil {
		query += ` AND run_id = ?`
		args = append(args, *runID)
	}
	if taskID != nil {
		query += ` AND task_id = ?`
		args = append(args, *taskID)
	}
	if level != nil {
		query += ` AND level = ?`
		args = append(args, *level)
	}
	query += ` ORDER BY timestamp ASC, id ASC LIMIT ? OFFSET ?`
	args = append(args, limit, offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing events: %w", err)
	}
	defer rows.Close()

	events := []*Event{}
	for rows.Next() {
		e := &Event{}
		if err := rows.Scan(&e.ID, &e.RunID, &e.TaskID, &e.Level, &e.Message, &e.Details, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("scanning event: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// UpsertModuleVersion records the latest resolved version and build
// outputs for a module, replacing any prior row for the same module.
func (s *SQLiteStore) UpsertModuleVersion(ctx context.Context, mv *ModuleVersion) error {
	now := time.Now().UTC()
	if mv.ResolvedAt.IsZero() {
		mv.ResolvedAt = now
	}
	if mv.Outputs == "" {
		mv.Outputs = "{}"
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO module_versions (module, module_type, version_string, dirty_at, outputs, run_id, resolved_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(module) DO UPDATE SET
			module_type = excluded.module_type,
			version_string = excluded.version_string,
			dirty_at = excluded.dirty_at,
			outputs = excluded.outputs,
			run_id = excluded.run_id,
			resolved_at = excluded.resolved_at,
			updated_at = excluded.updated_at`,
		mv.Module, mv.ModuleType, mv.VersionString, mv.DirtyAt, mv.Outputs,
		mv.RunID, mv.ResolvedAt, now, now,
	)
	if err != nil {
		return fmt.Errorf("upserting module version for %s: %w", mv.Module, err)
	}
	return nil
}

// GetModuleVersion fetches the last recorded version for a module.
func (s *SQLiteStore) GetModuleVersion(ctx context.Context, module string) (*ModuleVersion, error) {
	mv := &ModuleVersion{}
	err := s.db.QueryRowContext(ctx, `
		SELECT module, module_type, version_string, dirty_at, outputs, run_id, resolved_at, created_at, updated_at
		FROM module_versions WHERE module = ?`, module).Scan(
		&mv.Module, &mv.ModuleType, &mv.VersionString, &mv.DirtyAt, &mv.Outputs,
		&mv.RunID, &mv.ResolvedAt, &mv.CreatedAt, &mv.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("module version not found: %s", module)
	}
	if err != nil {
		return nil, fmt.Errorf("fetching module version for %s: %w", module, err)
	}
	return mv, nil
}

// ListModuleVersions lists recorded module versions by module name.
func (s *SQLiteStore) ListModuleVersions(ctx context.Context, limit, offset int) ([]*ModuleVersion, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT module, module_type, version_string, dirty_at, outputs, run_id, resolved_at, created_at, updated_at
		FROM module_versions ORDER BY module ASC LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("listing module versions: %w", err)
	}
	defer rows.Close()

	versions := []*ModuleVersion{}
	for rows.Next() {
		mv := &ModuleVersion{}
		if err := rows.Scan(
			&mv.Module, &mv.ModuleType, &mv.VersionString, &mv.DirtyAt, &mv.Outputs,
			&mv.RunID, &mv.ResolvedAt, &mv.CreatedAt, &mv.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scanning module version: %w", err)
		}
		versions = append(versions, mv)
	}
	return versions, rows.Err()
}

// HealthCheck verifies the database is reachable.
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}
	return s.db.PingContext(ctx)
}
