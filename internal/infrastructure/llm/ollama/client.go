package ollama

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/kirillkom/medibot/internal/core/domain"
	"github.com/kirillkom/medibot/internal/infrastructure/resilience"
)

const defaultEmbedBatchSize = 32

type Client struct {
	baseURL    string
	chatModel  string
	embedModel string
	httpClient *http.Client
	executor   *resilience.Executor
}

type Options struct {
	HTTPTimeout        time.Duration
	ResilienceExecutor *resilience.Executor
}

func New(baseURL, chatModel, embedModel string) *Client {
	return NewWithOptions(baseURL, chatModel, embedModel, Options{})
}

func NewWithOptions(baseURL, chatModel, embedModel string, options Options) *Client {
	timeout := options.HTTPTimeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		chatModel:  chatModel,
		embedModel: embedModel,
		httpClient: &http.Client{Timeout: timeout},
		executor:   options.ResilienceExecutor,
	}
}

// Embedder calls /api/embed and enforces a fixed vector dimension.
type Embedder struct {
	client    *Client
	dimension int
	batchSize int
}

func NewEmbedder(client *Client, dimension, batchSize int) *Embedder {
	if batchSize <= 0 {
		batchSize = defaultEmbedBatchSize
	}
	return &Embedder{
		client:    client,
		dimension: dimension,
		batchSize: batchSize,
	}
}

func (e *Embedder) Dimension() int {
	return e.dimension
}

func (e *Embedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += e.batchSize {
		end := min(start+e.batchSize, len(texts))
		vectors, err := e.embedBatch(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}
		out = append(out, vectors...)
	}
	return out, nil
}

func (e *Embedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, domain.WrapError(domain.ErrInvalidParameter, "embed query", fmt.Errorf("query text is empty"))
	}
	vectors, err := e.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

func (e *Embedder) embedBatch(ctx context.Context, batch []string) ([][]float32, error) {
	request := map[string]any{
		"model": e.client.embedModel,
		"input": batch,
	}

	var response struct {
		Embeddings [][]float32 `json:"embeddings"`
	}
	if err := e.client.call(ctx, "ollama.embed", "/api/embed", request, &response); err != nil {
		return nil, wrapBackendError(domain.ErrEmbeddingService, "embed", e.client.embedModel, err)
	}
	if len(response.Embeddings) != len(batch) {
		return nil, domain.WrapError(domain.ErrEmbeddingService, "embed", fmt.Errorf("expected %d embeddings, got %d", len(batch), len(response.Embeddings)))
	}
	for i, vector := range response.Embeddings {
		if e.dimension > 0 && len(vector) != e.dimension {
			return nil, domain.WrapError(domain.ErrDimensionMismatch, "embed", fmt.Errorf("embedding %d has dimension %d, want %d", i, len(vector), e.dimension))
		}
	}
	return response.Embeddings, nil
}

// ChatModel calls /api/chat with deterministic sampling.
type ChatModel struct {
	client *Client
}

func NewChatModel(client *Client) *ChatModel {
	return &ChatModel{client: client}
}

func (m *ChatModel) Chat(ctx context.Context, messages []domain.ChatMessage) (string, error) {
	request := map[string]any{
		"model":    m.client.chatModel,
		"messages": messages,
		"stream":   false,
		"options": map[string]any{
			"temperature": 0,
		},
	}

	var response struct {
		Message domain.ChatMessage `json:"message"`
	}
	if err := m.client.call(ctx, "ollama.chat", "/api/chat", request, &response); err != nil {
		return "", wrapBackendError(domain.ErrGeneration, "chat", m.client.chatModel, err)
	}
	return strings.TrimSpace(response.Message.Content), nil
}

func (c *Client) call(ctx context.Context, operation, path string, payload, out any) error {
	do := func(callCtx context.Context) error {
		return c.postJSON(callCtx, path, payload, out, operation)
	}

	if c.executor != nil {
		return c.executor.Execute(ctx, operation, do, classifyOllamaError)
	}
	return do(ctx)
}
