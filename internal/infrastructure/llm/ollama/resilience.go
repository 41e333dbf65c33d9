package ollama

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"

	"github.com/kirillkom/medibot/internal/core/domain"
	"github.com/kirillkom/medibot/internal/infrastructure/resilience"
)

// ErrModelNotFound reports that the configured model is not pulled on the server.
var ErrModelNotFound = errors.New("ollama model not found")

type HTTPStatusError struct {
	Operation  string
	StatusCode int
	Status     string
	Body       string
}

func (e *HTTPStatusError) Error() string {
	if e == nil {
		return "ollama status error"
	}
	if strings.TrimSpace(e.Body) == "" {
		return fmt.Sprintf("ollama %s status: %s", e.Operation, e.Status)
	}
	return fmt.Sprintf("ollama %s status: %s: %s", e.Operation, e.Status, strings.TrimSpace(e.Body))
}

// modelMissing is ollama's answer for an unknown model on /api/embed and /api/chat.
func (e *HTTPStatusError) modelMissing() bool {
	return e.StatusCode == http.StatusNotFound
}

// classifyOllamaError decides retries for embed and chat calls. A missing model or
// a rejected request is a configuration problem and is neither retried nor counted
// against the breaker. Overload and transport failures are retried.
func classifyOllamaError(err error) resilience.ErrorClassification {
	if err == nil {
		return resilience.ErrorClassification{}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return resilience.ErrorClassification{Retryable: false, RecordFailure: false}
	}
	if resilience.IsCircuitOpen(err) {
		return resilience.ErrorClassification{Retryable: true, RecordFailure: true}
	}

	var statusErr *HTTPStatusError
	if errors.As(err, &statusErr) {
		switch {
		case statusErr.modelMissing():
			return resilience.ErrorClassification{Retryable: false, RecordFailure: false}
		case isRetryableHTTPStatus(statusErr.StatusCode):
			return resilience.ErrorClassification{Retryable: true, RecordFailure: true}
		default:
			return resilience.ErrorClassification{Retryable: false, RecordFailure: false}
		}
	}

	// A connection dropped mid-body, typically while ollama swaps models.
	if errors.Is(err, io.ErrUnexpectedEOF) {
		return resilience.ErrorClassification{Retryable: true, RecordFailure: true}
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return resilience.ErrorClassification{Retryable: true, RecordFailure: true}
	}
	return resilience.ErrorClassification{Retryable: false, RecordFailure: true}
}

// wrapBackendError tags a failed call with its pipeline kind (ErrEmbeddingService
// or ErrGeneration), plus ErrModelNotFound or ErrTemporary where they apply.
func wrapBackendError(kind error, operation, model string, err error) error {
	if err == nil {
		return nil
	}
	var statusErr *HTTPStatusError
	switch {
	case errors.As(err, &statusErr) && statusErr.modelMissing():
		err = fmt.Errorf("%w %q: %w", ErrModelNotFound, model, err)
	case domain.IsKind(err, domain.ErrTemporary):
	case classifyOllamaError(err).Retryable:
		err = domain.WrapError(domain.ErrTemporary, operation, err)
	}
	return domain.WrapError(kind, operation, err)
}

func isRetryableHTTPStatus(statusCode int) bool {
	switch statusCode {
	case http.StatusRequestTimeout, http.StatusTooManyRequests, http.StatusInternalServerError,
		http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}
