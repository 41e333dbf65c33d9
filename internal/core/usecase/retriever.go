package usecase

import (
	"context"
	"fmt"
	"sort"

	"github.com/kirillkom/medibot/internal/core/domain"
	"github.com/kirillkom/medibot/internal/core/ports"
)

const DefaultTopK = 3

// Retriever selects the top-k chunks for a query vector.
type Retriever struct {
	index    ports.VectorIndex
	topK     int
	minScore float64
}

// NewRetriever uses DefaultTopK when topK is zero. Cosine scores lie in [-1, 1],
// so minScore must too.
func NewRetriever(index ports.VectorIndex, topK int, minScore float64) (*Retriever, error) {
	if topK < 0 {
		return nil, domain.WrapError(domain.ErrInvalidParameter, "new retriever", fmt.Errorf("top k must not be negative, got %d", topK))
	}
	if topK == 0 {
		topK = DefaultTopK
	}
	if minScore < -1 || minScore > 1 {
		return nil, domain.WrapError(domain.ErrInvalidParameter, "new retriever", fmt.Errorf("min score must be within [-1, 1], got %v", minScore))
	}
	return &Retriever{index: index, topK: topK, minScore: minScore}, nil
}

func (r *Retriever) TopK() int {
	return r.topK
}

// Retrieve returns at most k chunks ordered by descending score; ties keep
// insertion order. An empty index yields an empty result, not an error.
func (r *Retriever) Retrieve(ctx context.Context, vector []float32) (domain.RetrievalResult, error) {
	chunks, err := r.index.Query(ctx, vector, r.topK, r.minScore)
	if err != nil {
		if domain.IsKind(err, domain.ErrDimensionMismatch) || domain.IsKind(err, domain.ErrIndexUnavailable) {
			return nil, err
		}
		return nil, domain.WrapError(domain.ErrIndexUnavailable, "retrieve", err)
	}

	result := make(domain.RetrievalResult, 0, len(chunks))
	for _, chunk := range chunks {
		if chunk.Score < r.minScore {
			continue
		}
		result = append(result, chunk)
	}
	sort.SliceStable(result, func(i, j int) bool {
		if result[i].Score != result[j].Score {
			return result[i].Score > result[j].Score
		}
		return result[i].Seq < result[j].Seq
	})
	if len(result) > r.topK {
		result = result[:r.topK]
	}
	return result, nil
}
