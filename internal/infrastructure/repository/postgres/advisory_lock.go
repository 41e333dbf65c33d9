package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/kirillkom/medibot/internal/core/domain"
)

// IngestionLockKey is the advisory lock key shared by every ingestion runner.
const IngestionLockKey int64 = 2026101703

// AdvisoryLock is a cluster-wide ingestion lock held as a session-level
// Postgres advisory lock on a dedicated connection.
type AdvisoryLock struct {
	db  *sql.DB
	key int64
}

func NewAdvisoryLock(db *sql.DB, key int64) *AdvisoryLock {
	return &AdvisoryLock{db: db, key: key}
}

func (l *AdvisoryLock) Acquire(ctx context.Context) (func(), error) {
	conn, err := l.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire lock connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRowContext(ctx, `SELECT pg_try_advisory_lock($1)`, l.key).Scan(&acquired); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		_ = conn.Close()
		return nil, domain.WrapError(domain.ErrIngestionInProgress, "acquire ingestion lock", fmt.Errorf("advisory lock %d is held", l.key))
	}

	release := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if _, err := conn.ExecContext(ctx, `SELECT pg_advisory_unlock($1)`, l.key); err != nil {
			slog.Warn("advisory_unlock_failed", "key", l.key, "error", err)
		}
		_ = conn.Close()
	}
	return release, nil
}
