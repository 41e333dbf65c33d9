package qdrant

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/kirillkom/medibot/internal/core/domain"
	"github.com/kirillkom/medibot/internal/infrastructure/resilience"
)

const distanceCosine = "Cosine"

// Client is a VectorIndex backed by one qdrant collection over the REST API.
type Client struct {
	baseURL    string
	collection string
	dimension  int
	httpClient *http.Client
	executor   *resilience.Executor

	ensureMu          sync.Mutex
	ensuredCollection bool
}

type Options struct {
	HTTPTimeout        time.Duration
	ResilienceExecutor *resilience.Executor
}

func New(baseURL, collection string, dimension int) *Client {
	return NewWithOptions(baseURL, collection, dimension, Options{})
}

func NewWithOptions(baseURL, collection string, dimension int, options Options) *Client {
	timeout := options.HTTPTimeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		collection: collection,
		dimension:  dimension,
		httpClient: &http.Client{Timeout: timeout},
		executor:   options.ResilienceExecutor,
	}
}

type point struct {
	ID      string       `json:"id"`
	Vector  []float32    `json:"vector"`
	Payload chunkPayload `json:"payload"`
}

// Seq is decoded as int64 since UnixNano-based ordinals exceed float64 precision.
type chunkPayload struct {
	Source     string `json:"source"`
	ChunkIndex int    `json:"chunk_index"`
	Text       string `json:"text"`
	Seq        int64  `json:"seq"`
}

type scoredPoint struct {
	Score   float64      `json:"score"`
	Payload chunkPayload `json:"payload"`
}

type collectionInfo struct {
	Result struct {
		Config struct {
			Params struct {
				Vectors struct {
					Size     int    `json:"size"`
					Distance string `json:"distance"`
				} `json:"vectors"`
			} `json:"params"`
		} `json:"config"`
	} `json:"result"`
}

// EnsureIndex creates the collection with cosine distance, or verifies an existing one.
func (c *Client) EnsureIndex(ctx context.Context) error {
	c.ensureMu.Lock()
	defer c.ensureMu.Unlock()
	if c.ensuredCollection {
		return nil
	}

	err := c.verifyCollection(ctx)
	switch {
	case err == nil:
	case isStatus(err, http.StatusNotFound):
		if err := c.createCollection(ctx); err != nil {
			return err
		}
	default:
		return err
	}

	c.ensuredCollection = true
	return nil
}

// verifyCollection checks an existing collection's vector params. A missing
// collection is returned as the raw 404 status error.
func (c *Client) verifyCollection(ctx context.Context) error {
	var info collectionInfo
	err := c.call(ctx, "qdrant.get_collection", http.MethodGet, c.collectionURL(""), nil, &info)
	if isStatus(err, http.StatusNotFound) {
		return err
	}
	if err != nil {
		return wrapUnavailable("ensure index", err)
	}
	vectors := info.Result.Config.Params.Vectors
	if vectors.Size != c.dimension {
		return domain.WrapError(domain.ErrDimensionMismatch, "ensure index",
			fmt.Errorf("collection %s has dimension %d, want %d", c.collection, vectors.Size, c.dimension))
	}
	if vectors.Distance != distanceCosine {
		return domain.WrapError(domain.ErrInvalidParameter, "ensure index",
			fmt.Errorf("collection %s uses %s distance, want %s", c.collection, vectors.Distance, distanceCosine))
	}
	return nil
}

func (c *Client) createCollection(ctx context.Context) error {
	body := map[string]any{
		"vectors": map[string]any{
			"size":     c.dimension,
			"distance": distanceCosine,
		},
	}
	err := c.call(ctx, "qdrant.create_collection", http.MethodPut, c.collectionURL(""), body, nil)
	switch {
	case err == nil:
	case isStatus(err, http.StatusConflict):
		// A concurrent writer created it first, possibly with other params.
		if err := c.verifyCollection(ctx); err != nil {
			if isStatus(err, http.StatusNotFound) {
				return wrapUnavailable("create collection", err)
			}
			return err
		}
	default:
		return wrapUnavailable("create collection", err)
	}

	index := map[string]any{
		"field_name":   "source",
		"field_schema": "keyword",
	}
	if err := c.call(ctx, "qdrant.create_index", http.MethodPut, c.collectionURL("/index?wait=true"), index, nil); err != nil {
		return wrapUnavailable("create source index", err)
	}
	return nil
}

func (c *Client) Upsert(ctx context.Context, entries []domain.IndexEntry) error {
	if len(entries) == 0 {
		return nil
	}

	points := make([]point, 0, len(entries))
	for _, entry := range entries {
		if len(entry.Vector) != c.dimension {
			return domain.WrapError(domain.ErrDimensionMismatch, "upsert",
				fmt.Errorf("entry %s has dimension %d, want %d", entry.Source, len(entry.Vector), c.dimension))
		}
		id := entry.ID
		if id == "" {
			id = domain.IndexEntryID(entry.Source, entry.ChunkIndex)
		}
		points = append(points, point{
			ID:     id,
			Vector: entry.Vector,
			Payload: chunkPayload{
				Source:     entry.Source,
				ChunkIndex: entry.ChunkIndex,
				Text:       entry.Content,
				Seq:        entry.Seq,
			},
		})
	}

	if err := c.EnsureIndex(ctx); err != nil {
		return err
	}
	body := map[string]any{"points": points}
	if err := c.call(ctx, "qdrant.upsert", http.MethodPut, c.collectionURL("/points?wait=true"), body, nil); err != nil {
		return wrapUnavailable("upsert", err)
	}
	return nil
}

// Query returns at most limit chunks scoring at least minScore, best first.
// A collection that does not exist yet yields an empty result.
func (c *Client) Query(ctx context.Context, vector []float32, limit int, minScore float64) ([]domain.RetrievedChunk, error) {
	if len(vector) != c.dimension {
		return nil, domain.WrapError(domain.ErrDimensionMismatch, "query",
			fmt.Errorf("query vector has dimension %d, want %d", len(vector), c.dimension))
	}
	if limit <= 0 {
		return nil, nil
	}

	body := map[string]any{
		"query":           vector,
		"limit":           limit,
		"with_payload":    true,
		"score_threshold": minScore,
	}
	var resp struct {
		Result struct {
			Points []scoredPoint `json:"points"`
		} `json:"result"`
	}
	err := c.call(ctx, "qdrant.query", http.MethodPost, c.collectionURL("/points/query"), body, &resp)
	if isStatus(err, http.StatusNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, wrapUnavailable("query", err)
	}

	out := make([]domain.RetrievedChunk, 0, len(resp.Result.Points))
	for _, p := range resp.Result.Points {
		out = append(out, domain.RetrievedChunk{
			Content: p.Payload.Text,
			Source:  p.Payload.Source,
			Score:   p.Score,
			Seq:     p.Payload.Seq,
		})
	}
	return out, nil
}

func (c *Client) DeleteBySource(ctx context.Context, source string) error {
	body := map[string]any{
		"filter": map[string]any{
			"must": []map[string]any{
				{
					"key":   "source",
					"match": map[string]any{"value": source},
				},
			},
		},
	}
	err := c.call(ctx, "qdrant.delete", http.MethodPost, c.collectionURL("/points/delete?wait=true"), body, nil)
	if err != nil && !isStatus(err, http.StatusNotFound) {
		return wrapUnavailable("delete by source", err)
	}
	return nil
}

func (c *Client) Count(ctx context.Context) (int, error) {
	var resp struct {
		Result struct {
			Count int `json:"count"`
		} `json:"result"`
	}
	err := c.call(ctx, "qdrant.count", http.MethodPost, c.collectionURL("/points/count"), map[string]any{"exact": true}, &resp)
	if isStatus(err, http.StatusNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, wrapUnavailable("count", err)
	}
	return resp.Result.Count, nil
}

func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

func (c *Client) collectionURL(suffix string) string {
	return fmt.Sprintf("%s/collections/%s%s", c.baseURL, c.collection, suffix)
}

func (c *Client) call(ctx context.Context, operation, method, url string, payload, out any) error {
	do := func(callCtx context.Context) error {
		return c.doJSON(callCtx, method, url, payload, out)
	}
	if c.executor != nil {
		return c.executor.Execute(ctx, operation, do, classifyQdrantError)
	}
	return do(ctx)
}
