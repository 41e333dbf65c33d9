package plaintext

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/kirillkom/medibot/internal/infrastructure/storage/localfs"
)

func TestExtractReturnsContentVerbatim(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "fever.txt")
	content := "Fever is a temporary increase in body temperature.\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	got, err := NewExtractor(localfs.New("")).Extract(context.Background(), path)
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if got != content {
		t.Fatalf("Extract() = %q, want %q", got, content)
	}
}

func TestExtractBlankFileYieldsEmpty(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "blank.txt")
	if err := os.WriteFile(path, []byte(" \n\t"), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	got, err := NewExtractor(localfs.New("")).Extract(context.Background(), path)
	if err != nil || got != "" {
		t.Fatalf("Extract() = %q, %v; want empty, nil", got, err)
	}
}

func TestExtractRejectsBinary(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "image.txt")
	if err := os.WriteFile(path, []byte{0xff, 0xfe, 0x00, 0x81}, 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	if _, err := NewExtractor(localfs.New("")).Extract(context.Background(), path); err == nil {
		t.Fatalf("expected error for invalid utf-8")
	}
}
