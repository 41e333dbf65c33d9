package pgstore

import (
	"context"
	"database/sql/driver"
	"errors"
	"io"
	"net"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/kirillkom/medibot/internal/core/domain"
	"github.com/kirillkom/medibot/internal/infrastructure/resilience"
)

// run executes fn through the resilience executor when one is configured and
// maps failures to ErrIndexUnavailable.
func (i *Index) run(ctx context.Context, operation, op string, fn func(context.Context) error) error {
	var err error
	if i.executor != nil {
		err = i.executor.Execute(ctx, operation, fn, classifyPostgresError)
	} else {
		err = fn(ctx)
	}
	return wrapUnavailable(op, err)
}

func classifyPostgresError(err error) resilience.ErrorClassification {
	if err == nil {
		return resilience.ErrorClassification{}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return resilience.ErrorClassification{Retryable: false, RecordFailure: false}
	}
	if resilience.IsCircuitOpen(err) {
		return resilience.ErrorClassification{Retryable: true, RecordFailure: true}
	}
	if errors.Is(err, domain.ErrDimensionMismatch) {
		return resilience.ErrorClassification{Retryable: false, RecordFailure: false}
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if retryableSQLState(pgErr.Code) {
			return resilience.ErrorClassification{Retryable: true, RecordFailure: true}
		}
		// Statement errors such as 42P01 are answers from a healthy server.
		return resilience.ErrorClassification{Retryable: false, RecordFailure: false}
	}

	if pgconn.SafeToRetry(err) || pgconn.Timeout(err) || errors.Is(err, driver.ErrBadConn) || errors.Is(err, io.ErrUnexpectedEOF) {
		return resilience.ErrorClassification{Retryable: true, RecordFailure: true}
	}
	var connectErr *pgconn.ConnectError
	if errors.As(err, &connectErr) {
		return resilience.ErrorClassification{Retryable: true, RecordFailure: true}
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return resilience.ErrorClassification{Retryable: true, RecordFailure: true}
	}
	return resilience.ErrorClassification{Retryable: false, RecordFailure: true}
}

// retryableSQLState covers connection exceptions (08), insufficient resources (53),
// operator intervention (57P0x), serialization failures and deadlocks.
func retryableSQLState(code string) bool {
	switch {
	case strings.HasPrefix(code, "08"), strings.HasPrefix(code, "53"), strings.HasPrefix(code, "57P0"):
		return true
	case code == "40001", code == "40P01":
		return true
	default:
		return false
	}
}

func wrapUnavailable(operation string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, domain.ErrDimensionMismatch) {
		return err
	}
	if class := classifyPostgresError(err); class.Retryable {
		err = domain.WrapError(domain.ErrTemporary, operation, err)
	}
	return domain.WrapError(domain.ErrIndexUnavailable, operation, err)
}
