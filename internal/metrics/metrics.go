package metrics

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"docprep/internal/logging"
)

//go:embed schema.sql
var schemaSQL string

// schemaVersion is the current schema version. Bump this when the schema
// changes; stale databases are recreated by deleting the file.
const schemaVersion = 1

// Event captures one stage outcome for one unit.
type Event struct {
	RunID      string
	UnitID     string
	Cycle      int
	Stage      string
	Status     string
	Reason     string
	Duration   time.Duration
	OccurredAt time.Time
}

// Sink persists stage events into a SQLite database. Recording is
// best-effort: a failed insert is logged and dropped so metrics can never
// fail a pipeline run. A nil Sink discards everything.
type Sink struct {
	db     *sql.DB
	path   string
	logger *slog.Logger
}

// Open initializes or connects to the metrics database at path.
func Open(path string, logger *slog.Logger) (*Sink, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("prepare metrics directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open metrics db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	sink := &Sink{db: db, path: path, logger: logger.With(logging.String(logging.FieldComponent, "metrics"))}
	if err := sink.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return sink, nil
}

// Path returns the database location.
func (s *Sink) Path() string {
	if s == nil {
		return ""
	}
	return s.path
}

// Close releases the database handle.
func (s *Sink) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Sink) initSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("create metrics schema: %w", err)
	}

	var version sql.NullInt64
	err := s.db.QueryRowContext(ctx, "SELECT version FROM schema_version LIMIT 1").Scan(&version)
	switch {
	case errors.Is(err, sql.ErrNoRows) || (err == nil && !version.Valid):
		if _, err := s.db.ExecContext(ctx, "INSERT INTO schema_version (version) VALUES (?)", schemaVersion); err != nil {
			return fmt.Errorf("record schema version: %w", err)
		}
	case err != nil:
		return fmt.Errorf("read schema version: %w", err)
	case version.Int64 != schemaVersion:
		return fmt.Errorf("metrics db %s has schema version %d, expected %d (delete the file to recreate)",
			s.path, version.Int64, schemaVersion)
	}
	return nil
}

// Record persists one stage event. Errors are logged and swallowed.
func (s *Sink) Record(ctx context.Context, ev Event) {
	if s == nil || s.db == nil {
		return
	}
	occurred := ev.OccurredAt
	if occurred.IsZero() {
		occurred = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO stage_events (run_id, unit_id, cycle, stage, status, reason, duration_ms, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.RunID, ev.UnitID, ev.Cycle, ev.Stage, ev.Status, ev.Reason,
		ev.Duration.Milliseconds(), occurred.UTC().Format(time.RFC3339))
	if err != nil {
		s.logger.Warn("drop metrics event",
			logging.String(logging.FieldUnitID, ev.UnitID),
			logging.String(logging.FieldStage, ev.Stage),
			logging.Error(err))
	}
}

// RunTotals summarizes one run's stage events by status.
type RunTotals struct {
	Events    int
	Succeeded int
	Failed    int
}

// Totals aggregates event counts for the given run.
func (s *Sink) Totals(ctx context.Context, runID string) (RunTotals, error) {
	var totals RunTotals
	if s == nil || s.db == nil {
		return totals, nil
	}
	rows, err := s.db.QueryContext(ctx,
		"SELECT status, COUNT(1) FROM stage_events WHERE run_id = ? GROUP BY status", runID)
	if err != nil {
		return totals, fmt.Errorf("query run totals: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return totals, fmt.Errorf("scan run totals: %w", err)
		}
		totals.Events += count
		switch status {
		case "success":
			totals.Succeeded += count
		case "failed", "quarantined":
			totals.Failed += count
		}
	}
	return totals, rows.Err()
}
