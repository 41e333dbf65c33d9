package usecase

import (
	"context"
	"hash/fnv"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/kirillkom/medibot/internal/core/domain"
)

const fakeDimension = 32

// hashEmbedder is a bag-of-words embedder: identical texts get identical vectors.
type hashEmbedder struct {
	mu      sync.Mutex
	calls   int
	queries []string
	err     error
}

func (f *hashEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, 0, len(texts))
	for _, text := range texts {
		out = append(out, hashVector(text))
	}
	return out, nil
}

func (f *hashEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	f.mu.Lock()
	f.queries = append(f.queries, text)
	f.mu.Unlock()
	vectors, err := f.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

func (f *hashEmbedder) Dimension() int { return fakeDimension }

func hashVector(text string) []float32 {
	v := make([]float32, fakeDimension)
	for _, word := range strings.Fields(strings.ToLower(text)) {
		h := fnv.New32a()
		_, _ = h.Write([]byte(strings.Trim(word, ".,?!")))
		v[h.Sum32()%fakeDimension]++
	}
	return v
}

// memIndex is a cosine-similarity VectorIndex keyed by entry id.
type memIndex struct {
	mu       sync.Mutex
	entries  map[string]domain.IndexEntry
	deleted  []string
	queryErr error
	writeErr error
	queries  int
}

func newMemIndex() *memIndex {
	return &memIndex{entries: make(map[string]domain.IndexEntry)}
}

func (m *memIndex) EnsureIndex(context.Context) error { return nil }

func (m *memIndex) Upsert(_ context.Context, entries []domain.IndexEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.writeErr != nil {
		return m.writeErr
	}
	for _, e := range entries {
		if len(e.Vector) != fakeDimension {
			return domain.WrapError(domain.ErrDimensionMismatch, "upsert", fakeError("wrong vector length"))
		}
		m.entries[e.ID] = e
	}
	return nil
}

func (m *memIndex) Query(_ context.Context, vector []float32, limit int, minScore float64) ([]domain.RetrievedChunk, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queries++
	if m.queryErr != nil {
		return nil, m.queryErr
	}
	out := make([]domain.RetrievedChunk, 0, len(m.entries))
	for _, e := range m.entries {
		score := cosine(vector, e.Vector)
		if score < minScore {
			continue
		}
		out = append(out, domain.RetrievedChunk{Content: e.Content, Source: e.Source, Score: score, Seq: e.Seq})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memIndex) DeleteBySource(_ context.Context, source string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.writeErr != nil {
		return m.writeErr
	}
	m.deleted = append(m.deleted, source)
	for id, e := range m.entries {
		if e.Source == source {
			delete(m.entries, id)
		}
	}
	return nil
}

func (m *memIndex) Count(context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries), nil
}

func (m *memIndex) Close() error { return nil }

func cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// staticIndex returns a fixed result regardless of the query vector.
type staticIndex struct {
	memIndex
	result []domain.RetrievedChunk
	limit  int
}

func (s *staticIndex) Query(_ context.Context, _ []float32, limit int, _ float64) ([]domain.RetrievedChunk, error) {
	s.limit = limit
	if s.queryErr != nil {
		return nil, s.queryErr
	}
	return append([]domain.RetrievedChunk(nil), s.result...), nil
}

type chatFake struct {
	mu       sync.Mutex
	reply    string
	err      error
	messages [][]domain.ChatMessage
}

func (f *chatFake) Chat(_ context.Context, messages []domain.ChatMessage) (string, error) {
	f.mu.Lock()
	f.messages = append(f.messages, messages)
	f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	return f.reply, nil
}

func (f *chatFake) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.messages)
}

type loaderFake struct {
	docs    []domain.Document
	skipped []string
	err     error
}

func (f *loaderFake) Load(context.Context, string, string) (*domain.LoadResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &domain.LoadResult{Documents: f.docs, Skipped: f.skipped}, nil
}

// paragraphChunker emits one chunk per blank-line separated paragraph.
type paragraphChunker struct{}

func (paragraphChunker) Split(docs []domain.Document) ([]domain.Chunk, error) {
	var out []domain.Chunk
	for _, doc := range docs {
		i := 0
		for _, part := range strings.Split(doc.Content, "\n\n") {
			if strings.TrimSpace(part) == "" {
				continue
			}
			out = append(out, domain.Chunk{Content: strings.TrimSpace(part), Source: doc.Source, Index: i})
			i++
		}
	}
	return out, nil
}

type runStoreFake struct {
	mu      sync.Mutex
	runs    map[string]domain.IngestionRun
	history []domain.IngestionState
}

func newRunStoreFake() *runStoreFake {
	return &runStoreFake{runs: make(map[string]domain.IngestionRun)}
}

func (f *runStoreFake) Create(_ context.Context, run *domain.IngestionRun) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runs[run.ID] = *run
	f.history = append(f.history, run.State)
	return nil
}

func (f *runStoreFake) Update(_ context.Context, run *domain.IngestionRun) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.runs[run.ID]; !ok {
		return domain.WrapError(domain.ErrNotFound, "update", errNotFoundFake)
	}
	f.runs[run.ID] = *run
	f.history = append(f.history, run.State)
	return nil
}

func (f *runStoreFake) GetByID(_ context.Context, id string) (*domain.IngestionRun, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	run, ok := f.runs[id]
	if !ok {
		return nil, domain.WrapError(domain.ErrNotFound, "get", errNotFoundFake)
	}
	return &run, nil
}

type lockFake struct {
	busy     bool
	released int
}

func (f *lockFake) Acquire(context.Context) (func(), error) {
	if f.busy {
		return nil, domain.WrapError(domain.ErrIngestionInProgress, "acquire", errBusyFake)
	}
	return func() { f.released++ }, nil
}

type stageRecord struct {
	stage domain.IngestionState
	err   error
}

type observerFake struct {
	stages []stageRecord
}

func (f *observerFake) ObserveStage(stage domain.IngestionState, _ time.Duration, err error) {
	f.stages = append(f.stages, stageRecord{stage: stage, err: err})
}

type queueFake struct {
	published []domain.IngestionRequest
	err       error
}

func (f *queueFake) PublishIngestionRequested(_ context.Context, req domain.IngestionRequest) error {
	if f.err != nil {
		return f.err
	}
	f.published = append(f.published, req)
	return nil
}

func (f *queueFake) SubscribeIngestionRequested(context.Context, func(context.Context, domain.IngestionRequest) error) error {
	return nil
}

type fakeError string

func (e fakeError) Error() string { return string(e) }

const (
	errNotFoundFake = fakeError("no such run")
	errBusyFake     = fakeError("lock held")
)
