package ports

import (
	"context"
	"io"
	"time"

	"github.com/kirillkom/medibot/internal/core/domain"
)

// CorpusStorage lists and opens source files of a corpus directory.
type CorpusStorage interface {
	List(ctx context.Context, dir, pattern string) ([]string, error)
	Open(ctx context.Context, key string) (io.ReadCloser, error)
}

// TextExtractor extracts plain text from one stored file.
type TextExtractor interface {
	Extract(ctx context.Context, key string) (string, error)
}

// DocumentLoader produces documents from a corpus directory.
type DocumentLoader interface {
	Load(ctx context.Context, dir, glob string) (*domain.LoadResult, error)
}

// Chunker splits documents into bounded overlapping chunks.
type Chunker interface {
	Split(docs []domain.Document) ([]domain.Chunk, error)
}

// Embedder builds vectors for chunks and query text.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
	Dimension() int
}

// VectorIndex persists chunk vectors and performs cosine similarity search.
type VectorIndex interface {
	EnsureIndex(ctx context.Context) error
	Upsert(ctx context.Context, entries []domain.IndexEntry) error
	Query(ctx context.Context, vector []float32, limit int, minScore float64) ([]domain.RetrievedChunk, error)
	DeleteBySource(ctx context.Context, source string) error
	Count(ctx context.Context) (int, error)
	Close() error
}

// ChatModel sends chat-style messages to a language model and returns its text reply.
type ChatModel interface {
	Chat(ctx context.Context, messages []domain.ChatMessage) (string, error)
}

// IngestionLock serializes ingestion runs against one index.
type IngestionLock interface {
	Acquire(ctx context.Context) (release func(), err error)
}

// IngestionRunStore persists ingestion run state.
type IngestionRunStore interface {
	Create(ctx context.Context, run *domain.IngestionRun) error
	Update(ctx context.Context, run *domain.IngestionRun) error
	GetByID(ctx context.Context, id string) (*domain.IngestionRun, error)
}

// IngestionQueue publishes/consumes ingestion requests.
type IngestionQueue interface {
	PublishIngestionRequested(ctx context.Context, req domain.IngestionRequest) error
	SubscribeIngestionRequested(ctx context.Context, handler func(context.Context, domain.IngestionRequest) error) error
}

// IngestionObserver receives per-stage timings from the ingestion orchestrator.
type IngestionObserver interface {
	ObserveStage(stage domain.IngestionState, duration time.Duration, err error)
}
