package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound            = errors.New("not found")
	ErrInvalidInput        = errors.New("invalid input")
	ErrTemporary           = errors.New("temporary failure")
	ErrIngestionInProgress = errors.New("ingestion already in progress")

	ErrLoad              = errors.New("load documents")
	ErrEmptyCorpus       = errors.New("empty corpus")
	ErrInvalidParameter  = errors.New("invalid parameter")
	ErrEmbeddingService  = errors.New("embedding service failure")
	ErrDimensionMismatch = errors.New("vector dimension mismatch")
	ErrIndexUnavailable  = errors.New("retrieval unavailable")
	ErrGeneration        = errors.New("answer generation failure")
	ErrService           = errors.New("backend service timeout")
)

// WrapError preserves typed semantic errors with operation context.
func WrapError(kind error, operation string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", operation, kind, err)
}

func IsKind(err error, kind error) bool {
	return errors.Is(err, kind)
}

// StageError reports the ingestion stage that halted a run.
type StageError struct {
	Stage IngestionState
	Err   error
}

func (e *StageError) Error() string {
	if e == nil {
		return "ingestion stage error"
	}
	return fmt.Sprintf("ingestion failed at %s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}
