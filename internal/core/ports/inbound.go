package ports

import (
	"context"

	"github.com/kirillkom/medibot/internal/core/domain"
)

// QueryService is the inbound contract for grounded question answering.
type QueryService interface {
	Answer(ctx context.Context, question string) (*domain.Answer, error)
}

// Ingestor runs the offline ingestion pipeline.
type Ingestor interface {
	Ingest(ctx context.Context, req domain.IngestionRequest) (*domain.IngestionRun, error)
}

// IngestionScheduler hands ingestion requests to a background worker.
type IngestionScheduler interface {
	Schedule(ctx context.Context, dir, glob string) (*domain.IngestionRun, error)
}

// IngestionRunReader is the read model for ingestion run state.
type IngestionRunReader interface {
	GetByID(ctx context.Context, id string) (*domain.IngestionRun, error)
}
