package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/kirillkom/medibot/internal/core/domain"
)

type IngestionRunRepository struct {
	db *sql.DB
}

func NewIngestionRunRepository(db *sql.DB) *IngestionRunRepository {
	return &IngestionRunRepository{db: db}
}

func OpenDB(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("sql open: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("db ping: %w", err)
	}
	return db, nil
}

func (r *IngestionRunRepository) EnsureSchema(ctx context.Context) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	// Serialize bootstrap DDL across api/worker startups.
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, int64(2026101702)); err != nil {
		return fmt.Errorf("acquire schema lock: %w", err)
	}

	const query = `
CREATE TABLE IF NOT EXISTS ingestion_runs (
	id TEXT PRIMARY KEY,
	dir TEXT NOT NULL,
	glob TEXT NOT NULL,
	state TEXT NOT NULL,
	failed_stage TEXT NOT NULL DEFAULT '',
	error_message TEXT NOT NULL DEFAULT '',
	documents INTEGER NOT NULL DEFAULT 0,
	skipped_files INTEGER NOT NULL DEFAULT 0,
	chunks INTEGER NOT NULL DEFAULT 0,
	indexed_chunks INTEGER NOT NULL DEFAULT 0,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_ingestion_runs_created_at ON ingestion_runs(created_at DESC);
`
	if _, err := tx.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("execute schema ddl: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}

func (r *IngestionRunRepository) Create(ctx context.Context, run *domain.IngestionRun) error {
	_, err := r.db.ExecContext(ctx, `
INSERT INTO ingestion_runs (
	id, dir, glob, state, failed_stage, error_message, documents, skipped_files, chunks, indexed_chunks, created_at, updated_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
`,
		run.ID, run.Dir, run.Glob, string(run.State), string(run.FailedStage), run.Error,
		run.Documents, run.SkippedFiles, run.Chunks, run.IndexedChunks, run.CreatedAt, run.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert ingestion run: %w", err)
	}
	return nil
}

func (r *IngestionRunRepository) Update(ctx context.Context, run *domain.IngestionRun) error {
	res, err := r.db.ExecContext(ctx, `
UPDATE ingestion_runs
SET state = $2, failed_stage = $3, error_message = $4, documents = $5, skipped_files = $6,
	chunks = $7, indexed_chunks = $8, updated_at = $9
WHERE id = $1
`,
		run.ID, string(run.State), string(run.FailedStage), run.Error,
		run.Documents, run.SkippedFiles, run.Chunks, run.IndexedChunks, run.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update ingestion run: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update ingestion run rows affected: %w", err)
	}
	if affected == 0 {
		return domain.WrapError(domain.ErrNotFound, "update ingestion run", fmt.Errorf("run %s", run.ID))
	}
	return nil
}

func (r *IngestionRunRepository) GetByID(ctx context.Context, id string) (*domain.IngestionRun, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT id, dir, glob, state, failed_stage, error_message, documents, skipped_files, chunks, indexed_chunks, created_at, updated_at
FROM ingestion_runs
WHERE id = $1
`, id)

	var run domain.IngestionRun
	var state, failedStage string
	err := row.Scan(
		&run.ID, &run.Dir, &run.Glob, &state, &failedStage, &run.Error,
		&run.Documents, &run.SkippedFiles, &run.Chunks, &run.IndexedChunks, &run.CreatedAt, &run.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrNotFound, "get ingestion run", fmt.Errorf("run %s", id))
		}
		return nil, fmt.Errorf("scan ingestion run: %w", err)
	}
	run.State = domain.IngestionState(state)
	run.FailedStage = domain.IngestionState(failedStage)
	return &run, nil
}
