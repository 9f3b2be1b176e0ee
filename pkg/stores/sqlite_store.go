package stores

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	// SQLite driver
	_ "modernc.org/sqlite"

	"github.com/hostweave/hostweave/pkg/engine"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrNotFound is returned when a run does not exist.
var ErrNotFound = errors.New("not found")

// SQLiteStore implements Store on a local SQLite file.
type SQLiteStore struct {
	db *sql.DB
}

// MemoryPath opens a private in-memory journal.
const MemoryPath = ":memory:"

// Open opens the journal at path and brings its schema up to date. The
// parent directory is created as needed. The file uses WAL journaling with
// foreign keys enforced.
func Open(ctx context.Context, path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, errors.New("journal path is required")
	}

	conns := 4
	if path == MemoryPath {
		// Each connection to :memory: sees its own database.
		conns = 1
	} else if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("journal directory: %w", err)
	}

	pragmas := []string{"foreign_keys(1)", "journal_mode(WAL)", "busy_timeout(5000)", "synchronous(NORMAL)"}
	dsn := "file:" + path + "?_txlock=immediate&_time_format=sqlite"
	for _, p := range pragmas {
		dsn += "&_pragma=" + p
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open journal %s: %w", path, err)
	}
	db.SetMaxOpenConns(conns)
	db.SetMaxIdleConns(conns)
	if path == MemoryPath {
		db.SetConnMaxLifetime(0)
	} else {
		db.SetConnMaxLifetime(5 * time.Minute)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("open journal %s: %w", path, err)
	}
	if err := migrateUp(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &SQLiteStore{db: db}, nil
}

// migrateUp applies the embedded migrations that db has not seen yet.
func migrateUp(db *sql.DB) error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("journal migrations: %w", err)
	}
	target, err := sqlite.WithInstance(db, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("journal migrations: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", target)
	if err != nil {
		return fmt.Errorf("journal migrations: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrate journal: %w", err)
	}
	return nil
}

// Close releases the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// UpsertRun creates a run or updates everything but its creation time.
func (s *SQLiteStore) UpsertRun(ctx context.Context, run *Run) error {
	now := time.Now().UTC()
	if run.CreatedAt.IsZero() {
		run.CreatedAt = now
	}
	run.UpdatedAt = now

	query := `
		INSERT INTO runs (id, manifest, target, status, dry_run, steps, failed_step, error, started_at, completed_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			manifest = CASE WHEN excluded.manifest != '' THEN excluded.manifest ELSE runs.manifest END,
			target = excluded.target,
			status = excluded.status,
			dry_run = excluded.dry_run,
			steps = excluded.steps,
			failed_step = excluded.failed_step,
			error = excluded.error,
			completed_at = excluded.completed_at,
			updated_at = excluded.updated_at
	`

	_, err := s.db.ExecContext(ctx, query,
		run.ID,
		run.Manifest,
		run.Target,
		string(run.Status),
		run.DryRun,
		run.Steps,
		run.FailedStep,
		nullString(run.Error),
		run.StartedAt.UTC(),
		nullTime(run.CompletedAt),
		run.CreatedAt,
		run.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert run: %w", err)
	}
	return nil
}

const runColumns = `id, manifest, target, status, dry_run, steps, failed_step, error, started_at, completed_at, created_at, updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (*Run, error) {
	var (
		run         Run
		status      string
		errMsg      sql.NullString
		completedAt sql.NullTime
	)
	err := row.Scan(
		&run.ID,
		&run.Manifest,
		&run.Target,
		&status,
		&run.DryRun,
		&run.Steps,
		&run.FailedStep,
		&errMsg,
		&run.StartedAt,
		&completedAt,
		&run.CreatedAt,
		&run.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	run.Status = engine.RunStatus(status)
	if errMsg.Valid {
		run.Error = &errMsg.String
	}
	if completedAt.Valid {
		run.CompletedAt = &completedAt.Time
	}
	return &run, nil
}

// GetRun retrieves a run by ID.
func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*Run, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return run, nil
}

// ListRuns lists runs, newest first.
func (s *SQLiteStore) ListRuns(ctx context.Context, limit, offset int) ([]*Run, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+runColumns+` FROM runs ORDER BY started_at DESC, created_at DESC LIMIT ? OFFSET ?`,
		limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	runs := []*Run{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}
	return runs, nil
}

// DeleteRun deletes a run with its steps and events.
func (s *SQLiteStore) DeleteRun(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM runs WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete run: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	return nil
}

// PruneRuns deletes runs started before the cutoff and returns how many
// were removed.
func (s *SQLiteStore) PruneRuns(ctx context.Context, before time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM runs WHERE started_at < ?`, before.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to prune runs: %w", err)
	}
	return result.RowsAffected()
}

// UpsertStep records the latest state of a step.
func (s *SQLiteStore) UpsertStep(ctx context.Context, step *StepRecord) error {
	step.UpdatedAt = time.Now().UTC()

	effects, err := json.Marshal(nonNil(step.SideEffects))
	if err != nil {
		return fmt.Errorf("failed to encode side effects: %w", err)
	}
	hookErrors, err := json.Marshal(nonNil(step.HookErrors))
	if err != nil {
		return fmt.Errorf("failed to encode hook errors: %w", err)
	}

	var shouldRun sql.NullBool
	if step.ShouldRun != nil {
		shouldRun = sql.NullBool{Bool: *step.ShouldRun, Valid: true}
	}

	query := `
		INSERT INTO step_results (run_id, step_index, action, summary, atom, state, should_run, side_effects, error, hook_errors, duration_ms, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id, step_index) DO UPDATE SET
			state = excluded.state,
			should_run = excluded.should_run,
			side_effects = excluded.side_effects,
			error = excluded.error,
			hook_errors = excluded.hook_errors,
			duration_ms = excluded.duration_ms,
			updated_at = excluded.updated_at
	`

	_, err = s.db.ExecContext(ctx, query,
		step.RunID,
		step.Index,
		step.Action,
		step.Summary,
		step.Atom,
		string(step.State),
		shouldRun,
		string(effects),
		nullString(step.Error),
		string(hookErrors),
		step.Duration.Milliseconds(),
		step.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert step %d of run %s: %w", step.Index, step.RunID, err)
	}
	return nil
}

// ListSteps returns a run's steps in order.
func (s *SQLiteStore) ListSteps(ctx context.Context, runID string) ([]*StepRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, step_index, action, summary, atom, state, should_run, side_effects, error, hook_errors, duration_ms, updated_at
		FROM step_results
		WHERE run_id = ?
		ORDER BY step_index
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list steps: %w", err)
	}
	defer rows.Close()

	steps := []*StepRecord{}
	for rows.Next() {
		var (
			step       StepRecord
			state      string
			shouldRun  sql.NullBool
			effects    string
			errMsg     sql.NullString
			hookErrors string
			durationMS int64
		)
		err := rows.Scan(
			&step.RunID,
			&step.Index,
			&step.Action,
			&step.Summary,
			&step.Atom,
			&state,
			&shouldRun,
			&effects,
			&errMsg,
			&hookErrors,
			&durationMS,
			&step.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan step: %w", err)
		}

		step.State = engine.StepState(state)
		if shouldRun.Valid {
			step.ShouldRun = &shouldRun.Bool
		}
		if errMsg.Valid {
			step.Error = &errMsg.String
		}
		step.Duration = time.Duration(durationMS) * time.Millisecond
		if err := json.Unmarshal([]byte(effects), &step.SideEffects); err != nil {
			return nil, fmt.Errorf("failed to decode side effects: %w", err)
		}
		if err := json.Unmarshal([]byte(hookErrors), &step.HookErrors); err != nil {
			return nil, fmt.Errorf("failed to decode hook errors: %w", err)
		}
		steps = append(steps, &step)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating steps: %w", err)
	}
	return steps, nil
}

// AppendEvent appends an event to the timeline.
func (s *SQLiteStore) AppendEvent(ctx context.Context, event *Event) error {
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO events (run_id, step_index, type, level, message, timestamp)
		VALUES (?, ?, ?, ?, ?, ?)
	`,
		event.RunID,
		event.StepIndex,
		string(event.Type),
		event.Level,
		event.Message,
		event.Timestamp.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to append event: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get event ID: %w", err)
	}
	event.ID = id
	return nil
}

// GetEvents retrieves events in timeline order with optional filters.
func (s *SQLiteStore) GetEvents(ctx context.Context, runID *string, level *string, limit, offset int) ([]*Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, run_id, step_index, type, level, message, timestamp
		FROM events
		WHERE (? IS NULL OR run_id = ?)
		  AND (? IS NULL OR level = ?)
		ORDER BY id
		LIMIT ? OFFSET ?
	`, runID, runID, level, level, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to get events: %w", err)
	}
	defer rows.Close()

	events := []*Event{}
	for rows.Next() {
		var (
			event     Event
			eventType string
		)
		err := rows.Scan(
			&event.ID,
			&event.RunID,
			&event.StepIndex,
			&eventType,
			&event.Level,
			&event.Message,
			&event.Timestamp,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		event.Type = engine.EventType(eventType)
		events = append(events, &event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating events: %w", err)
	}
	return events, nil
}


func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
