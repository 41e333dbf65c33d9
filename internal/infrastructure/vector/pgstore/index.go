// Package pgstore is a VectorIndex on Postgres with the pgvector extension.
package pgstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pgvector/pgvector-go"

	"github.com/kirillkom/medibot/internal/core/domain"
	"github.com/kirillkom/medibot/internal/infrastructure/resilience"
)

const undefinedTable = "42P01"

var tableNamePattern = regexp.MustCompile(`^[a-z_][a-z0-9_]{0,62}$`)

type Index struct {
	db        *sql.DB
	table     string
	dimension int
	executor  *resilience.Executor
}

type Options struct {
	ResilienceExecutor *resilience.Executor
}

func New(db *sql.DB, table string, dimension int) (*Index, error) {
	return NewWithOptions(db, table, dimension, Options{})
}

func NewWithOptions(db *sql.DB, table string, dimension int, options Options) (*Index, error) {
	if !tableNamePattern.MatchString(table) {
		return nil, domain.WrapError(domain.ErrInvalidParameter, "new pgvector index", fmt.Errorf("invalid table name %q", table))
	}
	if dimension <= 0 {
		return nil, domain.WrapError(domain.ErrInvalidParameter, "new pgvector index", fmt.Errorf("dimension must be positive, got %d", dimension))
	}
	return &Index{db: db, table: table, dimension: dimension, executor: options.ResilienceExecutor}, nil
}

func (i *Index) EnsureIndex(ctx context.Context) error {
	return i.run(ctx, "pgvector.ensure_index", "ensure index", i.ensureSchema)
}

func (i *Index) ensureSchema(ctx context.Context) error {
	tx, err := i.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, int64(2026101701)); err != nil {
		return fmt.Errorf("acquire schema lock: %w", err)
	}

	ddl := fmt.Sprintf(`
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS %[1]s (
	id UUID PRIMARY KEY,
	source TEXT NOT NULL,
	chunk_index INTEGER NOT NULL,
	content TEXT NOT NULL,
	seq BIGINT NOT NULL,
	embedding vector(%[2]d) NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_%[1]s_source ON %[1]s(source);
`, i.table, i.dimension)
	if _, err := tx.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("execute schema ddl: %w", err)
	}

	// atttypmod of a vector column is its declared dimension.
	var existing int
	err = tx.QueryRowContext(ctx, `
SELECT atttypmod FROM pg_attribute
WHERE attrelid = $1::regclass AND attname = 'embedding'
`, i.table).Scan(&existing)
	if err != nil {
		return fmt.Errorf("read embedding dimension: %w", err)
	}
	if existing != i.dimension {
		return domain.WrapError(domain.ErrDimensionMismatch, "ensure index",
			fmt.Errorf("table %s has dimension %d, want %d", i.table, existing, i.dimension))
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}

func (i *Index) Upsert(ctx context.Context, entries []domain.IndexEntry) error {
	if len(entries) == 0 {
		return nil
	}
	for _, entry := range entries {
		if len(entry.Vector) != i.dimension {
			return domain.WrapError(domain.ErrDimensionMismatch, "upsert",
				fmt.Errorf("entry %s has dimension %d, want %d", entry.Source, len(entry.Vector), i.dimension))
		}
	}

	query := fmt.Sprintf(`
INSERT INTO %s (id, source, chunk_index, content, seq, embedding)
VALUES ($1,$2,$3,$4,$5,$6)
ON CONFLICT (id) DO UPDATE
SET source = EXCLUDED.source, chunk_index = EXCLUDED.chunk_index, content = EXCLUDED.content,
	seq = EXCLUDED.seq, embedding = EXCLUDED.embedding
`, i.table)

	// Rows are keyed by deterministic ids, so a retried transaction rewrites the same rows.
	return i.run(ctx, "pgvector.upsert", "upsert", func(ctx context.Context) error {
		tx, err := i.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin upsert tx: %w", err)
		}
		defer func() {
			_ = tx.Rollback()
		}()

		for _, entry := range entries {
			id := entry.ID
			if id == "" {
				id = domain.IndexEntryID(entry.Source, entry.ChunkIndex)
			}
			if _, err := tx.ExecContext(ctx, query,
				id, entry.Source, entry.ChunkIndex, entry.Content, entry.Seq, pgvector.NewVector(entry.Vector),
			); err != nil {
				return fmt.Errorf("upsert chunk %s: %w", id, err)
			}
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit upsert tx: %w", err)
		}
		return nil
	})
}

// Query ranks by cosine similarity, 1 - cosine distance.
func (i *Index) Query(ctx context.Context, vector []float32, limit int, minScore float64) ([]domain.RetrievedChunk, error) {
	if len(vector) != i.dimension {
		return nil, domain.WrapError(domain.ErrDimensionMismatch, "query",
			fmt.Errorf("query vector has dimension %d, want %d", len(vector), i.dimension))
	}
	if limit <= 0 {
		return nil, nil
	}

	query := fmt.Sprintf(`
SELECT content, source, seq, 1 - (embedding <=> $1) AS score
FROM %s
WHERE 1 - (embedding <=> $1) >= $2
ORDER BY embedding <=> $1, seq
LIMIT $3
`, i.table)

	var out []domain.RetrievedChunk
	err := i.run(ctx, "pgvector.query", "query", func(ctx context.Context) error {
		rows, err := i.db.QueryContext(ctx, query, pgvector.NewVector(vector), minScore, limit)
		if err != nil {
			return err
		}
		defer rows.Close()

		out = make([]domain.RetrievedChunk, 0, limit)
		for rows.Next() {
			var chunk domain.RetrievedChunk
			if err := rows.Scan(&chunk.Content, &chunk.Source, &chunk.Seq, &chunk.Score); err != nil {
				return fmt.Errorf("scan chunk: %w", err)
			}
			out = append(out, chunk)
		}
		return rows.Err()
	})
	if isUndefinedTable(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (i *Index) DeleteBySource(ctx context.Context, source string) error {
	err := i.run(ctx, "pgvector.delete", "delete by source", func(ctx context.Context) error {
		_, err := i.db.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE source = $1`, i.table), source)
		return err
	})
	if err != nil && !isUndefinedTable(err) {
		return err
	}
	return nil
}

func (i *Index) Count(ctx context.Context) (int, error) {
	var n int
	err := i.run(ctx, "pgvector.count", "count", func(ctx context.Context) error {
		return i.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT count(*) FROM %s`, i.table)).Scan(&n)
	})
	if isUndefinedTable(err) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return n, nil
}

// Close leaves the shared *sql.DB open; its owner closes it.
func (i *Index) Close() error {
	return nil
}

func isUndefinedTable(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == undefinedTable
}
