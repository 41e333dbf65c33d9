package pdf

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/kirillkom/medibot/internal/infrastructure/storage/localfs"
)

func TestExtractRejectsNonPDF(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "notes.pdf"), []byte("plain text pretending to be a pdf"), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}

	_, err := NewExtractor(localfs.New(dir)).Extract(context.Background(), "notes.pdf")
	if err == nil {
		t.Fatalf("expected parse error for non-pdf input")
	}
}

func TestExtractMissingFile(t *testing.T) {
	_, err := NewExtractor(localfs.New(t.TempDir())).Extract(context.Background(), "missing.pdf")
	if err == nil {
		t.Fatalf("expected error for missing file")
	}
}
