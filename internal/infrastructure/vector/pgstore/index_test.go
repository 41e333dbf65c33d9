package pgstore

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/kirillkom/medibot/internal/core/domain"
	"github.com/kirillkom/medibot/internal/infrastructure/resilience"
)

func newIndexWithMock(t *testing.T, dimension int) (*Index, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	idx, err := New(db, "chunks", dimension)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return idx, mock, func() { _ = db.Close() }
}

func newRetryingIndexWithMock(t *testing.T, dimension int) (*Index, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	executor := resilience.NewExecutor(resilience.Config{
		RetryMaxAttempts:    2,
		RetryInitialBackoff: time.Millisecond,
		RetryMaxBackoff:     time.Millisecond,
		RetryMultiplier:     1,
	})
	idx, err := NewWithOptions(db, "chunks", dimension, Options{ResilienceExecutor: executor})
	if err != nil {
		t.Fatalf("NewWithOptions() error = %v", err)
	}
	return idx, mock, func() { _ = db.Close() }
}

func TestNewRejectsUnsafeTableName(t *testing.T) {
	_, err := New(&sql.DB{}, "chunks; DROP TABLE x", 3)
	if !domain.IsKind(err, domain.ErrInvalidParameter) {
		t.Fatalf("expected ErrInvalidParameter, got %v", err)
	}
}

func TestEnsureIndexCreatesSchema(t *testing.T) {
	idx, mock, done := newIndexWithMock(t, 3)
	defer done()

	mock.ExpectBegin()
	mock.ExpectExec("SELECT pg_advisory_xact_lock").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("CREATE EXTENSION IF NOT EXISTS vector").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT atttypmod FROM pg_attribute").
		WithArgs("chunks").
		WillReturnRows(sqlmock.NewRows([]string{"atttypmod"}).AddRow(3))
	mock.ExpectCommit()

	if err := idx.EnsureIndex(context.Background()); err != nil {
		t.Fatalf("EnsureIndex() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestEnsureIndexDetectsDimensionMismatch(t *testing.T) {
	idx, mock, done := newIndexWithMock(t, 384)
	defer done()

	mock.ExpectBegin()
	mock.ExpectExec("SELECT pg_advisory_xact_lock").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("CREATE EXTENSION IF NOT EXISTS vector").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT atttypmod FROM pg_attribute").
		WillReturnRows(sqlmock.NewRows([]string{"atttypmod"}).AddRow(768))
	mock.ExpectRollback()

	err := idx.EnsureIndex(context.Background())
	if !domain.IsKind(err, domain.ErrDimensionMismatch) {
		t.Fatalf("expected ErrDimensionMismatch, got %v", err)
	}
}

func TestUpsertWritesEveryEntryInOneTransaction(t *testing.T) {
	idx, mock, done := newIndexWithMock(t, 2)
	defer done()

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO chunks").
		WithArgs(domain.IndexEntryID("a.pdf", 0), "a.pdf", 0, "alpha", int64(1), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO chunks").
		WithArgs(domain.IndexEntryID("a.pdf", 1), "a.pdf", 1, "beta", int64(2), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := idx.Upsert(context.Background(), []domain.IndexEntry{
		{Source: "a.pdf", ChunkIndex: 0, Content: "alpha", Seq: 1, Vector: []float32{1, 0}},
		{Source: "a.pdf", ChunkIndex: 1, Content: "beta", Seq: 2, Vector: []float32{0, 1}},
	})
	if err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestUpsertRejectsWrongDimension(t *testing.T) {
	idx, mock, done := newIndexWithMock(t, 3)
	defer done()

	err := idx.Upsert(context.Background(), []domain.IndexEntry{{Source: "a.pdf", Vector: []float32{1}}})
	if !domain.IsKind(err, domain.ErrDimensionMismatch) {
		t.Fatalf("expected ErrDimensionMismatch, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestQueryScansScoredRows(t *testing.T) {
	idx, mock, done := newIndexWithMock(t, 2)
	defer done()

	mock.ExpectQuery("SELECT content, source, seq").
		WithArgs(sqlmock.AnyArg(), 0.3, 3).
		WillReturnRows(sqlmock.NewRows([]string{"content", "source", "seq", "score"}).
			AddRow("alpha", "a.pdf", int64(4), 0.93).
			AddRow("beta", "b.pdf", int64(2), 0.51))

	got, err := idx.Query(context.Background(), []float32{1, 0}, 3, 0.3)
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if len(got) != 2 || got[0].Content != "alpha" || got[0].Seq != 4 || got[1].Score != 0.51 {
		t.Fatalf("unexpected chunks: %+v", got)
	}
}

func TestQueryMissingTableIsEmpty(t *testing.T) {
	idx, mock, done := newIndexWithMock(t, 2)
	defer done()

	mock.ExpectQuery("SELECT content, source, seq").
		WillReturnError(&pgconn.PgError{Code: "42P01", Message: `relation "chunks" does not exist`})

	got, err := idx.Query(context.Background(), []float32{1, 0}, 3, 0)
	if err != nil || len(got) != 0 {
		t.Fatalf("expected empty result, got %v, %v", got, err)
	}
}

func TestQueryConnectionFailureIsIndexUnavailable(t *testing.T) {
	idx, mock, done := newIndexWithMock(t, 2)
	defer done()

	mock.ExpectQuery("SELECT content, source, seq").WillReturnError(errors.New("connection refused"))

	_, err := idx.Query(context.Background(), []float32{1, 0}, 3, 0)
	if !domain.IsKind(err, domain.ErrIndexUnavailable) {
		t.Fatalf("expected ErrIndexUnavailable, got %v", err)
	}
}

func TestDeleteBySourceAndCount(t *testing.T) {
	idx, mock, done := newIndexWithMock(t, 2)
	defer done()

	mock.ExpectExec("DELETE FROM chunks WHERE source").
		WithArgs("a.pdf").
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectQuery("SELECT count").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(5))

	if err := idx.DeleteBySource(context.Background(), "a.pdf"); err != nil {
		t.Fatalf("DeleteBySource() error = %v", err)
	}
	n, err := idx.Count(context.Background())
	if err != nil || n != 5 {
		t.Fatalf("Count() = %d, %v; want 5", n, err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestUpsertRetriesTransactionAfterConnectionFailure(t *testing.T) {
	idx, mock, done := newRetryingIndexWithMock(t, 2)
	defer done()

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO chunks").
		WillReturnError(&pgconn.PgError{Code: "08006", Message: "connection failure"})
	mock.ExpectRollback()
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO chunks").
		WithArgs(domain.IndexEntryID("a.pdf", 0), "a.pdf", 0, "alpha", int64(1), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := idx.Upsert(context.Background(), []domain.IndexEntry{
		{Source: "a.pdf", ChunkIndex: 0, Content: "alpha", Seq: 1, Vector: []float32{1, 0}},
	})
	if err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestDeleteBySourceRetriesTransientFailure(t *testing.T) {
	idx, mock, done := newRetryingIndexWithMock(t, 2)
	defer done()

	mock.ExpectExec("DELETE FROM chunks WHERE source").
		WithArgs("a.pdf").
		WillReturnError(&pgconn.PgError{Code: "57P01", Message: "terminating connection"})
	mock.ExpectExec("DELETE FROM chunks WHERE source").
		WithArgs("a.pdf").
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := idx.DeleteBySource(context.Background(), "a.pdf"); err != nil {
		t.Fatalf("DeleteBySource() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestQueryGivesUpAfterRetriesAsTemporaryUnavailable(t *testing.T) {
	idx, mock, done := newRetryingIndexWithMock(t, 2)
	defer done()

	for i := 0; i < 2; i++ {
		mock.ExpectQuery("SELECT content, source, seq").
			WillReturnError(&pgconn.PgError{Code: "08001", Message: "unable to connect"})
	}

	_, err := idx.Query(context.Background(), []float32{1, 0}, 3, 0)
	if !domain.IsKind(err, domain.ErrIndexUnavailable) || !domain.IsKind(err, domain.ErrTemporary) {
		t.Fatalf("expected temporary ErrIndexUnavailable, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestQueryDoesNotRetryStatementErrors(t *testing.T) {
	idx, mock, done := newRetryingIndexWithMock(t, 2)
	defer done()

	mock.ExpectQuery("SELECT content, source, seq").
		WillReturnError(&pgconn.PgError{Code: "42601", Message: "syntax error"})

	_, err := idx.Query(context.Background(), []float32{1, 0}, 3, 0)
	if !domain.IsKind(err, domain.ErrIndexUnavailable) || domain.IsKind(err, domain.ErrTemporary) {
		t.Fatalf("expected permanent ErrIndexUnavailable, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestEnsureIndexDimensionMismatchIsNotRetried(t *testing.T) {
	idx, mock, done := newRetryingIndexWithMock(t, 384)
	defer done()

	mock.ExpectBegin()
	mock.ExpectExec("SELECT pg_advisory_xact_lock").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("CREATE EXTENSION IF NOT EXISTS vector").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT atttypmod FROM pg_attribute").
		WillReturnRows(sqlmock.NewRows([]string{"atttypmod"}).AddRow(768))
	mock.ExpectRollback()

	err := idx.EnsureIndex(context.Background())
	if !domain.IsKind(err, domain.ErrDimensionMismatch) || domain.IsKind(err, domain.ErrIndexUnavailable) {
		t.Fatalf("expected bare ErrDimensionMismatch, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}
