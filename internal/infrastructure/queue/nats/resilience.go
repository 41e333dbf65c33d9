package nats

import (
	"context"
	"errors"

	"github.com/nats-io/nats.go"

	"github.com/kirillkom/medibot/internal/core/domain"
	"github.com/kirillkom/medibot/internal/infrastructure/resilience"
)

// classifyNATSError retries connection-level failures. Requests the server will
// never accept, such as an oversized payload or a denied subject, fail at once.
func classifyNATSError(err error) resilience.ErrorClassification {
	if err == nil {
		return resilience.ErrorClassification{}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return resilience.ErrorClassification{Retryable: false, RecordFailure: false}
	}
	if resilience.IsCircuitOpen(err) {
		return resilience.ErrorClassification{Retryable: true, RecordFailure: true}
	}
	switch {
	case errors.Is(err, nats.ErrMaxPayload),
		errors.Is(err, nats.ErrBadSubject),
		errors.Is(err, nats.ErrInvalidMsg),
		errors.Is(err, nats.ErrAuthorization),
		errors.Is(err, nats.ErrPermissionViolation):
		return resilience.ErrorClassification{Retryable: false, RecordFailure: false}
	case errors.Is(err, nats.ErrNoServers),
		errors.Is(err, nats.ErrTimeout),
		errors.Is(err, nats.ErrConnectionClosed),
		errors.Is(err, nats.ErrConnectionReconnecting),
		errors.Is(err, nats.ErrDisconnected),
		errors.Is(err, nats.ErrStaleConnection):
		return resilience.ErrorClassification{Retryable: true, RecordFailure: true}
	}
	return resilience.ErrorClassification{Retryable: false, RecordFailure: true}
}

// wrapQueueError marks retryable failures of op as ErrTemporary so the API answers 503.
func wrapQueueError(op string, err error) error {
	if err == nil {
		return nil
	}
	if domain.IsKind(err, domain.ErrTemporary) {
		return err
	}
	if class := classifyNATSError(err); class.Retryable {
		return domain.WrapError(domain.ErrTemporary, op, err)
	}
	return err
}

// do runs one broker call under the executor when configured.
func (q *Queue) do(ctx context.Context, operation string, fn func(context.Context) error) error {
	var err error
	if q.executor != nil {
		err = q.executor.Execute(ctx, operation, fn, classifyNATSError)
	} else {
		err = fn(ctx)
	}
	return wrapQueueError(operation, err)
}
