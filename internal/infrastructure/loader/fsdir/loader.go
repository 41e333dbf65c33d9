package fsdir

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/kirillkom/medibot/internal/core/domain"
	"github.com/kirillkom/medibot/internal/core/ports"
)

const DefaultGlob = "*.pdf"

// Loader turns the files of a corpus directory into documents, choosing a text
// extractor by file extension. Files that cannot be read are logged and skipped.
type Loader struct {
	storage    ports.CorpusStorage
	extractors map[string]ports.TextExtractor
}

// New registers extractors keyed by lower-case extension including the dot, e.g. ".pdf".
func New(storage ports.CorpusStorage, extractors map[string]ports.TextExtractor) *Loader {
	normalized := make(map[string]ports.TextExtractor, len(extractors))
	for ext, extractor := range extractors {
		normalized[strings.ToLower(ext)] = extractor
	}
	return &Loader{storage: storage, extractors: normalized}
}

func (l *Loader) Load(ctx context.Context, dir, glob string) (*domain.LoadResult, error) {
	if strings.TrimSpace(glob) == "" {
		glob = DefaultGlob
	}

	keys, err := l.storage.List(ctx, dir, glob)
	if err != nil {
		return nil, domain.WrapError(domain.ErrLoad, "list corpus", err)
	}

	result := &domain.LoadResult{}
	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		extractor, ok := l.extractors[strings.ToLower(filepath.Ext(key))]
		if !ok {
			slog.Warn("corpus_file_skipped", "source", key, "reason", "unsupported extension")
			result.Skipped = append(result.Skipped, key)
			continue
		}

		text, err := extractor.Extract(ctx, key)
		if err != nil {
			slog.Warn("corpus_file_skipped", "source", key, "reason", err.Error())
			result.Skipped = append(result.Skipped, key)
			continue
		}
		if strings.TrimSpace(text) == "" {
			slog.Warn("corpus_file_skipped", "source", key, "reason", "no extractable text")
			result.Skipped = append(result.Skipped, key)
			continue
		}

		result.Documents = append(result.Documents, domain.Document{
			Content: text,
			Source:  key,
		})
	}

	if len(result.Documents) == 0 {
		return nil, domain.WrapError(domain.ErrEmptyCorpus, "load corpus", fmt.Errorf("no readable documents matching %q in %s", glob, dir))
	}

	slog.Info("corpus_loaded", "dir", dir, "glob", glob, "documents", len(result.Documents), "skipped", len(result.Skipped))
	return result, nil
}
