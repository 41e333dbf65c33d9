package localfs

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func TestListMatchesPatternSorted(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"b.pdf", "a.pdf", "notes.txt"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644); err != nil {
			t.Fatalf("write fixture: %v", err)
		}
	}
	if err := os.Mkdir(filepath.Join(dir, "nested.pdf"), 0o755); err != nil {
		t.Fatalf("mkdir fixture: %v", err)
	}

	got, err := New("").List(context.Background(), dir, "*.pdf")
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	want := []string{filepath.Join(dir, "a.pdf"), filepath.Join(dir, "b.pdf")}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("List() = %v, want %v", got, want)
	}
}

func TestListMissingDirectory(t *testing.T) {
	_, err := New("").List(context.Background(), filepath.Join(t.TempDir(), "missing"), "*.pdf")
	if err == nil {
		t.Fatalf("expected error for missing directory")
	}
}

func TestOpenResolvesRelativeToBasePath(t *testing.T) {
	base := t.TempDir()
	if err := os.WriteFile(filepath.Join(base, "doc.txt"), []byte("hello"), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	rc, err := New(base).Open(context.Background(), "doc.txt")
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer rc.Close()
	data, _ := io.ReadAll(rc)
	if string(data) != "hello" {
		t.Fatalf("unexpected content %q", data)
	}
}
