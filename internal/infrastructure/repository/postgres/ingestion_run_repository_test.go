package postgres

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/kirillkom/medibot/internal/core/domain"
)

func newRepoWithMock(t *testing.T) (*IngestionRunRepository, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	return &IngestionRunRepository{db: db}, mock, func() { _ = db.Close() }
}

func TestGetByIDReturnsDomainNotFound(t *testing.T) {
	repo, mock, done := newRepoWithMock(t)
	defer done()

	mock.ExpectQuery("SELECT id, dir, glob, state").
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.GetByID(context.Background(), "missing")
	if !domain.IsKind(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestGetByIDScansRun(t *testing.T) {
	repo, mock, done := newRepoWithMock(t)
	defer done()

	now := time.Now().UTC()
	mock.ExpectQuery("SELECT id, dir, glob, state").
		WithArgs("run-1").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "dir", "glob", "state", "failed_stage", "error_message",
			"documents", "skipped_files", "chunks", "indexed_chunks", "created_at", "updated_at",
		}).AddRow("run-1", "data", "*.pdf", "failed", "embedding", "embedding service failure", 2, 1, 7, 0, now, now))

	run, err := repo.GetByID(context.Background(), "run-1")
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if run.State != domain.StateFailed || run.FailedStage != domain.StateEmbedding || run.Chunks != 7 {
		t.Fatalf("unexpected run: %+v", run)
	}
}

func TestUpdateReturnsDomainNotFoundWhenNoRowsAffected(t *testing.T) {
	repo, mock, done := newRepoWithMock(t)
	defer done()

	mock.ExpectExec("UPDATE ingestion_runs").
		WithArgs("missing", string(domain.StateLoading), "", "", 0, 0, 0, 0, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.Update(context.Background(), &domain.IngestionRun{ID: "missing", State: domain.StateLoading, UpdatedAt: time.Now()})
	if !domain.IsKind(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestCreateInsertsRun(t *testing.T) {
	repo, mock, done := newRepoWithMock(t)
	defer done()

	now := time.Now().UTC()
	mock.ExpectExec("INSERT INTO ingestion_runs").
		WithArgs("run-1", "data", "*.pdf", string(domain.StateNotStarted), "", "", 0, 0, 0, 0, now, now).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.Create(context.Background(), &domain.IngestionRun{
		ID: "run-1", Dir: "data", Glob: "*.pdf", State: domain.StateNotStarted, CreatedAt: now, UpdatedAt: now,
	})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestAdvisoryLockReportsHeldLock(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	defer db.Close()

	mock.ExpectQuery("SELECT pg_try_advisory_lock").
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"pg_try_advisory_lock"}).AddRow(false))

	_, err = NewAdvisoryLock(db, 7).Acquire(context.Background())
	if !domain.IsKind(err, domain.ErrIngestionInProgress) {
		t.Fatalf("expected ErrIngestionInProgress, got %v", err)
	}
}

func TestAdvisoryLockReleaseUnlocks(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	defer db.Close()

	mock.ExpectQuery("SELECT pg_try_advisory_lock").
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"pg_try_advisory_lock"}).AddRow(true))
	mock.ExpectExec("SELECT pg_advisory_unlock").
		WithArgs(int64(7)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	release, err := NewAdvisoryLock(db, 7).Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	release()
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}
