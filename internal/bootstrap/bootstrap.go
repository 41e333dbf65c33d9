package bootstrap

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"

	"github.com/kirillkom/medibot/internal/config"
	"github.com/kirillkom/medibot/internal/core/ports"
	"github.com/kirillkom/medibot/internal/core/usecase"
	"github.com/kirillkom/medibot/internal/infrastructure/chunking"
	"github.com/kirillkom/medibot/internal/infrastructure/extractor/pdf"
	"github.com/kirillkom/medibot/internal/infrastructure/extractor/plaintext"
	"github.com/kirillkom/medibot/internal/infrastructure/extractor/spreadsheet"
	"github.com/kirillkom/medibot/internal/infrastructure/llm/ollama"
	"github.com/kirillkom/medibot/internal/infrastructure/llm/openaicompat"
	"github.com/kirillkom/medibot/internal/infrastructure/loader/fsdir"
	"github.com/kirillkom/medibot/internal/infrastructure/queue/nats"
	"github.com/kirillkom/medibot/internal/infrastructure/repository/memory"
	"github.com/kirillkom/medibot/internal/infrastructure/repository/postgres"
	"github.com/kirillkom/medibot/internal/infrastructure/resilience"
	"github.com/kirillkom/medibot/internal/infrastructure/storage/localfs"
	"github.com/kirillkom/medibot/internal/infrastructure/vector/chromemdb"
	"github.com/kirillkom/medibot/internal/infrastructure/vector/pgstore"
	"github.com/kirillkom/medibot/internal/infrastructure/vector/qdrant"
	"github.com/kirillkom/medibot/internal/observability/metrics"
)

// Options selects the optional parts of the graph a binary needs.
type Options struct {
	// WithQueue connects to NATS for scheduling or consuming ingestion runs.
	WithQueue bool
	// Service names the binary in metrics.
	Service string
}

// App is the fully wired component graph. It is built once per process and
// torn down with Close.
type App struct {
	Config config.Config

	Embedder ports.Embedder
	Index    ports.VectorIndex
	Runs     ports.IngestionRunStore
	Queue    ports.IngestionQueue

	QueryUC    *usecase.QueryUseCase
	IngestUC   *usecase.IngestUseCase
	ScheduleUC *usecase.ScheduleIngestionUseCase

	IngestionMetrics *metrics.IngestionMetrics

	closers []func()
}

func New(ctx context.Context, cfg config.Config, opts Options) (_ *App, err error) {
	if err := validateOptions(cfg, opts); err != nil {
		return nil, err
	}
	app := &App{Config: cfg}
	defer func() {
		if err != nil {
			app.Close()
		}
	}()

	executor := resilience.NewExecutor(resilienceConfig(cfg))

	var db *sql.DB
	if cfg.RunStore == "postgres" || cfg.VectorBackend == "pgvector" {
		db, err = postgres.OpenDB(cfg.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		app.addCloser(func() { _ = db.Close() })
	}

	var lock ports.IngestionLock
	switch cfg.RunStore {
	case "postgres":
		repo := postgres.NewIngestionRunRepository(db)
		if err = repo.EnsureSchema(ctx); err != nil {
			return nil, fmt.Errorf("ensure schema: %w", err)
		}
		app.Runs = repo
		lock = postgres.NewAdvisoryLock(db, postgres.IngestionLockKey)
	case "memory":
		app.Runs = memory.NewIngestionRunStore(0)
		lock = memory.NewLock()
	default:
		return nil, fmt.Errorf("unknown RUN_STORE %q", cfg.RunStore)
	}

	app.Index, err = newVectorIndex(cfg, db, executor)
	if err != nil {
		return nil, err
	}
	app.addCloser(func() { _ = app.Index.Close() })

	ollamaClient := ollama.NewWithOptions(cfg.OllamaURL, cfg.OllamaChatModel, cfg.OllamaEmbedModel, ollama.Options{
		HTTPTimeout:        cfg.BackendTimeout,
		ResilienceExecutor: executor,
	})
	embedder := ollama.NewEmbedder(ollamaClient, cfg.EmbedDimension, cfg.EmbedBatchSize)
	app.Embedder = embedder

	chatModel, err := newChatModel(cfg, ollamaClient, executor)
	if err != nil {
		return nil, err
	}

	prompt, err := cfg.ResolveSystemPrompt(usecase.DefaultSystemPrompt)
	if err != nil {
		return nil, err
	}
	synthesizer, err := usecase.NewSynthesizer(chatModel, prompt)
	if err != nil {
		return nil, fmt.Errorf("init synthesizer: %w", err)
	}
	retriever, err := usecase.NewRetriever(app.Index, cfg.RAGTopK, cfg.RAGMinScore)
	if err != nil {
		return nil, fmt.Errorf("init retriever: %w", err)
	}
	app.QueryUC = usecase.NewQueryUseCase(embedder, retriever, synthesizer)

	chunker, err := chunking.NewSplitter(cfg.ChunkSize, cfg.ChunkOverlap)
	if err != nil {
		return nil, fmt.Errorf("init chunker: %w", err)
	}
	storage := localfs.New(cfg.CorpusRoot)
	text := plaintext.NewExtractor(storage)
	loader := fsdir.New(storage, map[string]ports.TextExtractor{
		".pdf":  pdf.NewExtractor(storage),
		".txt":  text,
		".md":   text,
		".xlsx": spreadsheet.NewExtractor(storage),
	})

	service := opts.Service
	if service == "" {
		service = "medibot"
	}
	app.IngestionMetrics = metrics.NewIngestionMetrics(service)
	app.IngestUC = usecase.NewIngestUseCase(loader, chunker, embedder, app.Index, lock, app.Runs, usecase.IngestOptions{
		BatchSize:   cfg.IngestBatchSize,
		Concurrency: cfg.IngestConcurrency,
	})
	app.IngestUC.SetObserver(app.IngestionMetrics)

	if opts.WithQueue {
		queue, qerr := nats.NewWithOptions(cfg.NATSURL, cfg.NATSSubject, nats.Options{ResilienceExecutor: executor})
		if qerr != nil {
			return nil, fmt.Errorf("init message queue: %w", qerr)
		}
		app.addCloser(queue.Close)
		app.Queue = queue
		app.ScheduleUC = usecase.NewScheduleIngestionUseCase(app.Runs, queue, cfg.CorpusGlob)
	}

	slog.Info("bootstrap_ready",
		"vector_backend", cfg.VectorBackend,
		"chat_backend", cfg.ChatBackend,
		"run_store", cfg.RunStore,
		"top_k", retriever.TopK(),
		"queue", opts.WithQueue,
	)
	return app, nil
}

// validateOptions rejects queue-driven processes on the in-memory run store:
// each process would keep its own ledger and lock.
func validateOptions(cfg config.Config, opts Options) error {
	if opts.WithQueue && cfg.RunStore == "memory" {
		return fmt.Errorf("RUN_STORE=memory is process-local and cannot be shared by the api and worker; use RUN_STORE=postgres")
	}
	return nil
}

func newVectorIndex(cfg config.Config, db *sql.DB, executor *resilience.Executor) (ports.VectorIndex, error) {
	switch cfg.VectorBackend {
	case "qdrant":
		return qdrant.NewWithOptions(cfg.QdrantURL, cfg.IndexCollection, cfg.EmbedDimension, qdrant.Options{
			HTTPTimeout:        cfg.BackendTimeout,
			ResilienceExecutor: executor,
		}), nil
	case "chromem":
		index, err := chromemdb.NewWithOptions(cfg.ChromemPath, cfg.IndexCollection, cfg.EmbedDimension, chromemdb.Options{
			ResilienceExecutor: executor,
		})
		if err != nil {
			return nil, fmt.Errorf("init chromem index: %w", err)
		}
		return index, nil
	case "pgvector":
		index, err := pgstore.NewWithOptions(db, cfg.PGVectorTable, cfg.EmbedDimension, pgstore.Options{
			ResilienceExecutor: executor,
		})
		if err != nil {
			return nil, fmt.Errorf("init pgvector index: %w", err)
		}
		return index, nil
	default:
		return nil, fmt.Errorf("unknown VECTOR_BACKEND %q", cfg.VectorBackend)
	}
}

func newChatModel(cfg config.Config, client *ollama.Client, executor *resilience.Executor) (ports.ChatModel, error) {
	switch cfg.ChatBackend {
	case "ollama":
		return ollama.NewChatModel(client), nil
	case "openai":
		if strings.TrimSpace(cfg.OpenAIAPIKey) == "" {
			return nil, fmt.Errorf("OPENAI_API_KEY is required for CHAT_BACKEND=openai")
		}
		model, err := openaicompat.New(cfg.OpenAIBaseURL, cfg.OpenAIAPIKey, cfg.OpenAIModel, openaicompat.Options{
			ResilienceExecutor: executor,
		})
		if err != nil {
			return nil, fmt.Errorf("init chat model: %w", err)
		}
		return model, nil
	default:
		return nil, fmt.Errorf("unknown CHAT_BACKEND %q", cfg.ChatBackend)
	}
}

func resilienceConfig(cfg config.Config) resilience.Config {
	out := resilience.DefaultConfig()
	out.RetryMaxAttempts = cfg.ResilienceRetryMaxAttempts
	out.RetryInitialBackoff = cfg.ResilienceRetryInitialBackoff
	out.RetryMaxBackoff = cfg.ResilienceRetryMaxBackoff
	out.AttemptTimeout = cfg.BackendTimeout
	out.BreakerEnabled = cfg.ResilienceBreakerEnabled
	if cfg.ResilienceBreakerMinRequests > 0 {
		out.BreakerMinRequests = uint32(cfg.ResilienceBreakerMinRequests)
	}
	out.BreakerFailureRatio = cfg.ResilienceBreakerFailureRatio
	out.BreakerOpenTimeout = cfg.ResilienceBreakerOpenTimeout
	return out
}

func (a *App) addCloser(fn func()) {
	a.closers = append(a.closers, fn)
}

// Close releases resources in reverse order of acquisition.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
