package httpadapter

import (
	"context"
	"errors"
	"net/http"

	"github.com/kirillkom/medibot/internal/core/domain"
)

func mapErrorToHTTPStatus(err error) int {
	switch {
	case domain.IsKind(err, domain.ErrInvalidInput), domain.IsKind(err, domain.ErrInvalidParameter):
		return http.StatusBadRequest
	case domain.IsKind(err, domain.ErrNotFound):
		return http.StatusNotFound
	case domain.IsKind(err, domain.ErrIngestionInProgress):
		return http.StatusConflict
	case domain.IsKind(err, domain.ErrService), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case domain.IsKind(err, domain.ErrIndexUnavailable):
		return http.StatusServiceUnavailable
	case domain.IsKind(err, domain.ErrEmbeddingService), domain.IsKind(err, domain.ErrGeneration):
		return http.StatusBadGateway
	case domain.IsKind(err, domain.ErrTemporary):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// publicErrorMessage hides backend details behind a stable message for 5xx
// responses. Client errors keep their own message.
func publicErrorMessage(status int, err error) string {
	switch status {
	case http.StatusBadRequest, http.StatusNotFound, http.StatusConflict:
		return err.Error()
	case http.StatusGatewayTimeout:
		return "backend timed out"
	case http.StatusServiceUnavailable:
		return "retrieval is unavailable"
	case http.StatusBadGateway:
		if domain.IsKind(err, domain.ErrEmbeddingService) {
			return "embedding service failed"
		}
		return "answer generation failed"
	default:
		return "internal error"
	}
}
