// Package chromemdb is an embedded VectorIndex on chromem-go. An empty path keeps
// the index in memory; otherwise collections are persisted under path.
package chromemdb

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sort"
	"strconv"
	"sync"

	"github.com/philippgille/chromem-go"

	"github.com/kirillkom/medibot/internal/core/domain"
	"github.com/kirillkom/medibot/internal/infrastructure/resilience"
)

const (
	metaSource     = "source"
	metaChunkIndex = "chunk_index"
	metaSeq        = "seq"
)

type Index struct {
	db         *chromem.DB
	name       string
	dimension  int
	collection *chromem.Collection
	executor   *resilience.Executor

	mu sync.Mutex
}

type Options struct {
	ResilienceExecutor *resilience.Executor
}

func New(path, collection string, dimension int) (*Index, error) {
	return NewWithOptions(path, collection, dimension, Options{})
}

func NewWithOptions(path, collection string, dimension int, options Options) (*Index, error) {
	var db *chromem.DB
	if path == "" {
		db = chromem.NewDB()
	} else {
		var err error
		db, err = chromem.NewPersistentDB(path, false)
		if err != nil {
			return nil, domain.WrapError(domain.ErrIndexUnavailable, "open chromem db", err)
		}
	}
	return &Index{db: db, name: collection, dimension: dimension, executor: options.ResilienceExecutor}, nil
}

func (i *Index) EnsureIndex(ctx context.Context) error {
	_, err := i.ensure(ctx)
	return err
}

func (i *Index) ensure(ctx context.Context) (*chromem.Collection, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.collection != nil {
		return i.collection, nil
	}

	collection, err := i.db.GetOrCreateCollection(i.name, map[string]string{"dimension": strconv.Itoa(i.dimension)}, noEmbedding)
	if err != nil {
		return nil, domain.WrapError(domain.ErrIndexUnavailable, "ensure index", err)
	}
	if collection.Count() > 0 {
		sample := make([]float32, i.dimension)
		if i.dimension > 0 {
			sample[0] = 1
		}
		if _, err := collection.QueryEmbedding(ctx, sample, 1, nil, nil); err != nil {
			return nil, domain.WrapError(domain.ErrDimensionMismatch, "ensure index",
				fmt.Errorf("existing collection %s is not compatible with dimension %d: %w", i.name, i.dimension, err))
		}
	}
	i.collection = collection
	return collection, nil
}

func (i *Index) Upsert(ctx context.Context, entries []domain.IndexEntry) error {
	if len(entries) == 0 {
		return nil
	}

	docs := make([]chromem.Document, 0, len(entries))
	for _, entry := range entries {
		if len(entry.Vector) != i.dimension {
			return domain.WrapError(domain.ErrDimensionMismatch, "upsert",
				fmt.Errorf("entry %s has dimension %d, want %d", entry.Source, len(entry.Vector), i.dimension))
		}
		id := entry.ID
		if id == "" {
			id = domain.IndexEntryID(entry.Source, entry.ChunkIndex)
		}
		docs = append(docs, chromem.Document{
			ID:      id,
			Content: entry.Content,
			Metadata: map[string]string{
				metaSource:     entry.Source,
				metaChunkIndex: strconv.Itoa(entry.ChunkIndex),
				metaSeq:        strconv.FormatInt(entry.Seq, 10),
			},
			Embedding: append([]float32(nil), entry.Vector...),
		})
	}

	collection, err := i.ensure(ctx)
	if err != nil {
		return err
	}
	err = i.run(ctx, "chromem.upsert", func(ctx context.Context) error {
		return collection.AddDocuments(ctx, docs, runtime.NumCPU())
	})
	return domain.WrapError(domain.ErrIndexUnavailable, "upsert", err)
}

func (i *Index) Query(ctx context.Context, vector []float32, limit int, minScore float64) ([]domain.RetrievedChunk, error) {
	if len(vector) != i.dimension {
		return nil, domain.WrapError(domain.ErrDimensionMismatch, "query",
			fmt.Errorf("query vector has dimension %d, want %d", len(vector), i.dimension))
	}
	collection, err := i.ensure(ctx)
	if err != nil {
		return nil, err
	}

	// chromem rejects nResults above the collection size.
	n := min(limit, collection.Count())
	if n <= 0 {
		return nil, nil
	}
	var results []chromem.Result
	err = i.run(ctx, "chromem.query", func(ctx context.Context) error {
		var err error
		results, err = collection.QueryEmbedding(ctx, append([]float32(nil), vector...), n, nil, nil)
		return err
	})
	if err != nil {
		return nil, domain.WrapError(domain.ErrIndexUnavailable, "query", err)
	}

	out := make([]domain.RetrievedChunk, 0, len(results))
	for _, r := range results {
		score := float64(r.Similarity)
		if score < minScore {
			continue
		}
		seq, _ := strconv.ParseInt(r.Metadata[metaSeq], 10, 64)
		out = append(out, domain.RetrievedChunk{
			Content: r.Content,
			Source:  r.Metadata[metaSource],
			Score:   score,
			Seq:     seq,
		})
	}
	sort.SliceStable(out, func(a, b int) bool { return out[a].Score > out[b].Score })
	return out, nil
}

func (i *Index) DeleteBySource(ctx context.Context, source string) error {
	collection, err := i.ensure(ctx)
	if err != nil {
		return err
	}
	if collection.Count() == 0 {
		return nil
	}
	err = i.run(ctx, "chromem.delete", func(ctx context.Context) error {
		return collection.Delete(ctx, map[string]string{metaSource: source}, nil)
	})
	return domain.WrapError(domain.ErrIndexUnavailable, "delete by source", err)
}

func (i *Index) Count(ctx context.Context) (int, error) {
	collection, err := i.ensure(ctx)
	if err != nil {
		return 0, err
	}
	return collection.Count(), nil
}

// Close is a no-op: persistent collections are written through on every change.
func (i *Index) Close() error {
	return nil
}

// run bounds fn by the executor's attempt timeout. Local disk failures are not retried.
func (i *Index) run(ctx context.Context, operation string, fn func(context.Context) error) error {
	if i.executor == nil {
		return fn(ctx)
	}
	return i.executor.Execute(ctx, operation, fn, classifyLocalError)
}

func classifyLocalError(err error) resilience.ErrorClassification {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return resilience.ErrorClassification{Retryable: false, RecordFailure: false}
	}
	return resilience.ErrorClassification{Retryable: false, RecordFailure: true}
}

func noEmbedding(context.Context, string) ([]float32, error) {
	return nil, errors.New("chromem index expects precomputed embeddings")
}
