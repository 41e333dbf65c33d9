package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/kirillkom/medibot/internal/bootstrap"
	"github.com/kirillkom/medibot/internal/config"
	"github.com/kirillkom/medibot/internal/core/domain"
	"github.com/kirillkom/medibot/internal/observability/logging"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		dir     string
		glob    string
		timeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Load, chunk, embed and index a corpus directory",
		Long: `Runs one ingestion pass over a corpus directory and writes the result
into the configured vector index. Sources already in the index are replaced,
so the command can be re-run after documents change.`,
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := config.Load()
			if dir == "" {
				dir = cfg.CorpusDir
			}
			if glob == "" {
				glob = cfg.CorpusGlob
			}
			if timeout <= 0 {
				timeout = cfg.IngestTimeout
			}
			return runIngest(cmd, cfg, domain.IngestionRequest{Dir: dir, Glob: glob}, timeout)
		},
	}

	cmd.Flags().StringVar(&dir, "dir", "", "corpus directory (default CORPUS_DIR)")
	cmd.Flags().StringVar(&glob, "glob", "", "file pattern inside the directory (default CORPUS_GLOB)")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "overall run timeout (default INGEST_TIMEOUT)")
	return cmd
}

func runIngest(cmd *cobra.Command, cfg config.Config, req domain.IngestionRequest, timeout time.Duration) error {
	logger, logCloser := logging.NewLogger("ingest", logging.Options{Level: cfg.LogLevel, File: cfg.LogFile})
	defer logCloser.Close()
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	app, err := bootstrap.New(ctx, cfg, bootstrap.Options{Service: "ingest"})
	if err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}
	defer app.Close()

	cmd.Printf("Ingesting %s (%s) into %s...\n", req.Dir, req.Glob, cfg.VectorBackend)
	run, err := app.IngestUC.Ingest(ctx, req)
	if err != nil {
		return fmt.Errorf("ingest: %w", err)
	}

	cmd.Printf("Run %s complete: %d documents, %d skipped, %d chunks indexed.\n",
		run.ID, run.Documents, run.SkippedFiles, run.IndexedChunks)
	return nil
}
