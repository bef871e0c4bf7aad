// Package history persists tuning run outcomes so operators can audit
// what was changed and why a run failed.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/nightsync/internal/database"
	"github.com/aristath/nightsync/internal/domain"
	"github.com/aristath/nightsync/internal/pipeline"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id           TEXT PRIMARY KEY,
	profile_name TEXT NOT NULL,
	window_days  INTEGER NOT NULL,
	stage        TEXT NOT NULL,
	completed    INTEGER NOT NULL,
	dry_run      INTEGER NOT NULL,
	error_kind   TEXT NOT NULL DEFAULT '',
	message      TEXT NOT NULL DEFAULT '',
	merged_kinds TEXT NOT NULL DEFAULT '',
	summary      TEXT NOT NULL DEFAULT '',
	started_at   INTEGER NOT NULL, -- unix milliseconds
	finished_at  INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at DESC);
`

// RunRecord is one persisted run outcome.
type RunRecord struct {
	ID          string               `json:"id"`
	ProfileName string               `json:"profile_name"`
	WindowDays  int                  `json:"window_days"`
	Stage       string               `json:"stage"`
	Completed   bool                 `json:"completed"`
	DryRun      bool                 `json:"dry_run"`
	ErrorKind   string               `json:"error_kind,omitempty"`
	Message     string               `json:"message,omitempty"`
	MergedKinds []string             `json:"merged_kinds,omitempty"`
	Summary     *pipeline.RunSummary `json:"summary,omitempty"`
	StartedAt   time.Time            `json:"started_at"`
	FinishedAt  time.Time            `json:"finished_at"`
}

// Repository stores run records in SQLite.
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates the repository and its schema.
func NewRepository(db *database.DB, log zerolog.Logger) (*Repository, error) {
	repo := &Repository{
		db:  db.Conn(),
		log: log.With().Str("repo", "history").Logger(),
	}
	if _, err := repo.db.Exec(schema); err != nil {
		return nil, fmt.Errorf("failed to create history schema: %w", err)
	}
	return repo, nil
}

// Record persists one run outcome. Implements pipeline.Recorder.
func (r *Repository) Record(ctx context.Context, result *pipeline.Result) error {
	var mergedKinds string
	if result.Merge != nil {
		mergedKinds = strings.Join(result.Merge.MergedKinds(), ",")
	}
	var summary string
	if result.Summary != nil {
		raw, err := json.Marshal(result.Summary)
		if err != nil {
			return fmt.Errorf("failed to serialize run summary: %w", err)
		}
		summary = string(raw)
	}

	return database.WithTransaction(r.db, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO runs (id, profile_name, window_days, stage, completed, dry_run,
				error_kind, message, merged_kinds, summary, started_at, finished_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			result.RunID,
			result.ProfileName,
			result.WindowDays,
			string(result.Stage),
			result.Completed,
			result.DryRun,
			string(result.ErrorKind),
			result.Message,
			mergedKinds,
			summary,
			result.StartedAt.UnixMilli(),
			result.FinishedAt.UnixMilli(),
		)
		return err
	})
}

// List returns the most recent runs, newest first.
func (r *Repository) List(ctx context.Context, limit int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, profile_name, window_days, stage, completed, dry_run,
			error_kind, message, merged_kinds, summary, started_at, finished_at
		FROM runs
		ORDER BY started_at DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var records []RunRecord
	for rows.Next() {
		record, err := scanRun(rows.Scan)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

// Get returns one run by ID, classified as NotFound when absent.
func (r *Repository) Get(ctx context.Context, id string) (*RunRecord, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, profile_name, window_days, stage, completed, dry_run,
			error_kind, message, merged_kinds, summary, started_at, finished_at
		FROM runs WHERE id = ?`, id)

	record, err := scanRun(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NewError(domain.ErrKindNotFound, "run %q not found", id)
	}
	if err != nil {
		return nil, err
	}
	return &record, nil
}

func scanRun(scan func(dest ...interface{}) error) (RunRecord, error) {
	var (
		record               RunRecord
		mergedKinds, summary string
		startedAt, finished  int64
	)
	err := scan(&record.ID, &record.ProfileName, &record.WindowDays, &record.Stage,
		&record.Completed, &record.DryRun, &record.ErrorKind, &record.Message,
		&mergedKinds, &summary, &startedAt, &finished)
	if err != nil {
		return RunRecord{}, err
	}

	if mergedKinds != "" {
		record.MergedKinds = strings.Split(mergedKinds, ",")
	}
	if summary != "" {
		record.Summary = &pipeline.RunSummary{}
		if err := json.Unmarshal([]byte(summary), record.Summary); err != nil {
			return RunRecord{}, fmt.Errorf("failed to parse stored run summary: %w", err)
		}
	}
	record.StartedAt = time.UnixMilli(startedAt).UTC()
	record.FinishedAt = time.UnixMilli(finished).UTC()
	return record, nil
}
