package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/kirillkom/medibot/internal/core/domain"
	"github.com/kirillkom/medibot/internal/core/ports"
)

const (
	defaultIngestBatchSize   = 64
	defaultIngestConcurrency = 4
)

type IngestOptions struct {
	BatchSize   int
	Concurrency int
}

// IngestUseCase drives one corpus through Loading, Chunking, Embedding and
// Indexing. Every source in the corpus is deleted from the index before its
// chunks are written, so repeated runs replace rather than accumulate.
type IngestUseCase struct {
	loader   ports.DocumentLoader
	chunker  ports.Chunker
	embedder ports.Embedder
	index    ports.VectorIndex
	lock     ports.IngestionLock
	runs     ports.IngestionRunStore
	observer ports.IngestionObserver

	batchSize   int
	concurrency int
	now         func() time.Time
}

func NewIngestUseCase(
	loader ports.DocumentLoader,
	chunker ports.Chunker,
	embedder ports.Embedder,
	index ports.VectorIndex,
	lock ports.IngestionLock,
	runs ports.IngestionRunStore,
	options IngestOptions,
) *IngestUseCase {
	batchSize := options.BatchSize
	if batchSize <= 0 {
		batchSize = defaultIngestBatchSize
	}
	concurrency := options.Concurrency
	if concurrency <= 0 {
		concurrency = defaultIngestConcurrency
	}
	return &IngestUseCase{
		loader:      loader,
		chunker:     chunker,
		embedder:    embedder,
		index:       index,
		lock:        lock,
		runs:        runs,
		batchSize:   batchSize,
		concurrency: concurrency,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

func (uc *IngestUseCase) SetObserver(observer ports.IngestionObserver) {
	uc.observer = observer
}

// Ingest runs the pipeline to Complete or Failed. On failure the returned run
// is non-nil when a run record exists, and the error is a *domain.StageError
// naming the stage that halted.
func (uc *IngestUseCase) Ingest(ctx context.Context, req domain.IngestionRequest) (*domain.IngestionRun, error) {
	release, err := uc.lock.Acquire(ctx)
	if err != nil {
		uc.rejectQueued(ctx, req, err)
		return nil, err
	}
	defer release()

	run, err := uc.startRun(ctx, req)
	if err != nil {
		return nil, err
	}

	var docs []domain.Document
	err = uc.stage(ctx, run, domain.StateLoading, func() error {
		result, err := uc.loader.Load(ctx, run.Dir, run.Glob)
		if err != nil {
			return err
		}
		docs = result.Documents
		run.Documents = len(result.Documents)
		run.SkippedFiles = len(result.Skipped)
		return nil
	})
	if err != nil {
		return run, err
	}

	var chunks []domain.Chunk
	err = uc.stage(ctx, run, domain.StateChunking, func() error {
		chunks, err = uc.chunker.Split(docs)
		if err != nil {
			return err
		}
		if len(chunks) == 0 {
			return domain.WrapError(domain.ErrEmptyCorpus, "chunk documents", errors.New("chunking produced zero chunks"))
		}
		run.Chunks = len(chunks)
		return nil
	})
	if err != nil {
		return run, err
	}

	var vectors [][]float32
	err = uc.stage(ctx, run, domain.StateEmbedding, func() error {
		vectors, err = uc.embedChunks(ctx, chunks)
		return err
	})
	if err != nil {
		return run, err
	}

	err = uc.stage(ctx, run, domain.StateIndexing, func() error {
		return uc.indexChunks(ctx, run, docs, chunks, vectors)
	})
	if err != nil {
		return run, err
	}

	if err := uc.transition(ctx, run, domain.StateComplete); err != nil {
		return run, err
	}
	slog.Info("ingest_complete",
		"run_id", run.ID,
		"documents", run.Documents,
		"skipped_files", run.SkippedFiles,
		"chunks", run.Chunks,
		"indexed_chunks", run.IndexedChunks,
	)
	return run, nil
}

func (uc *IngestUseCase) startRun(ctx context.Context, req domain.IngestionRequest) (*domain.IngestionRun, error) {
	if req.RunID != "" {
		existing, err := uc.runs.GetByID(ctx, req.RunID)
		switch {
		case err == nil && existing.State == domain.StateNotStarted:
			return existing, nil
		case err == nil:
			return nil, domain.WrapError(domain.ErrInvalidInput, "start ingestion run", fmt.Errorf("run %s is already %s", req.RunID, existing.State))
		case !domain.IsKind(err, domain.ErrNotFound):
			return nil, fmt.Errorf("load ingestion run: %w", err)
		}
	}

	now := uc.now()
	run := &domain.IngestionRun{
		ID:        req.RunID,
		Dir:       req.Dir,
		Glob:      req.Glob,
		State:     domain.StateNotStarted,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	if err := uc.runs.Create(ctx, run); err != nil {
		return nil, fmt.Errorf("create ingestion run: %w", err)
	}
	return run, nil
}

// rejectQueued marks a queued run failed when it cannot take the lock.
func (uc *IngestUseCase) rejectQueued(ctx context.Context, req domain.IngestionRequest, cause error) {
	if req.RunID == "" {
		return
	}
	run, err := uc.runs.GetByID(ctx, req.RunID)
	if err != nil || run.State != domain.StateNotStarted {
		return
	}
	run.State = domain.StateFailed
	run.FailedStage = domain.StateNotStarted
	run.Error = cause.Error()
	run.UpdatedAt = uc.now()
	uc.saveRun(ctx, run)
}

func (uc *IngestUseCase) stage(ctx context.Context, run *domain.IngestionRun, state domain.IngestionState, fn func() error) error {
	if err := uc.transition(ctx, run, state); err != nil {
		return err
	}

	start := time.Now()
	err := fn()
	if uc.observer != nil {
		uc.observer.ObserveStage(state, time.Since(start), err)
	}
	if err != nil {
		return uc.fail(ctx, run, state, err)
	}
	return nil
}

func (uc *IngestUseCase) transition(ctx context.Context, run *domain.IngestionRun, next domain.IngestionState) error {
	if !run.State.CanTransition(next) {
		return fmt.Errorf("invalid ingestion transition %s -> %s", run.State, next)
	}
	run.State = next
	run.UpdatedAt = uc.now()
	uc.saveRun(ctx, run)
	slog.Info("ingest_stage", "run_id", run.ID, "state", string(next))
	return nil
}

func (uc *IngestUseCase) fail(ctx context.Context, run *domain.IngestionRun, stage domain.IngestionState, cause error) error {
	run.State = domain.StateFailed
	run.FailedStage = stage
	run.Error = cause.Error()
	run.UpdatedAt = uc.now()
	// the ledger outlives the request that failed
	uc.saveRun(context.WithoutCancel(ctx), run)
	slog.Error("ingest_failed", "run_id", run.ID, "stage", string(stage), "error", cause)
	return &domain.StageError{Stage: stage, Err: cause}
}

func (uc *IngestUseCase) saveRun(ctx context.Context, run *domain.IngestionRun) {
	if err := uc.runs.Update(ctx, run); err != nil {
		slog.Warn("ingest_run_update_failed", "run_id", run.ID, "state", string(run.State), "error", err)
	}
}

func (uc *IngestUseCase) embedChunks(ctx context.Context, chunks []domain.Chunk) ([][]float32, error) {
	vectors := make([][]float32, len(chunks))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(uc.concurrency)
	for start := 0; start < len(chunks); start += uc.batchSize {
		start := start
		end := min(start+uc.batchSize, len(chunks))
		g.Go(func() error {
			texts := make([]string, 0, end-start)
			for _, chunk := range chunks[start:end] {
				texts = append(texts, chunk.Content)
			}
			batch, err := uc.embedder.Embed(gctx, texts)
			if err != nil {
				return fmt.Errorf("embed chunks %d-%d: %w", start, end, err)
			}
			if len(batch) != len(texts) {
				return domain.WrapError(domain.ErrEmbeddingService, "embed chunks",
					fmt.Errorf("vectors/chunks mismatch: %d/%d", len(batch), len(texts)))
			}
			copy(vectors[start:end], batch)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return vectors, nil
}

func (uc *IngestUseCase) indexChunks(
	ctx context.Context,
	run *domain.IngestionRun,
	docs []domain.Document,
	chunks []domain.Chunk,
	vectors [][]float32,
) error {
	if err := uc.index.EnsureIndex(ctx); err != nil {
		return err
	}

	for _, doc := range docs {
		if err := uc.index.DeleteBySource(ctx, doc.Source); err != nil {
			return fmt.Errorf("replace source %s: %w", doc.Source, err)
		}
	}

	// Seq is a monotonic insertion ordinal across runs, used to break score ties.
	seqBase := uc.now().UnixNano()
	entries := make([]domain.IndexEntry, len(chunks))
	for i, chunk := range chunks {
		entries[i] = domain.IndexEntry{
			ID:         domain.IndexEntryID(chunk.Source, chunk.Index),
			Vector:     vectors[i],
			Content:    chunk.Content,
			Source:     chunk.Source,
			ChunkIndex: chunk.Index,
			Seq:        seqBase + int64(i),
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(uc.concurrency)
	for start := 0; start < len(entries); start += uc.batchSize {
		start := start
		end := min(start+uc.batchSize, len(entries))
		g.Go(func() error {
			if err := uc.index.Upsert(gctx, entries[start:end]); err != nil {
				return fmt.Errorf("upsert chunks %d-%d: %w", start, end, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	run.IndexedChunks = len(entries)
	return nil
}
