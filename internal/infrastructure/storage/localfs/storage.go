package localfs

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
)

// Storage is a read-only view over corpus directories on the local filesystem.
// Keys are file paths; relative keys resolve against basePath.
type Storage struct {
	basePath string
}

func New(basePath string) *Storage {
	return &Storage{basePath: basePath}
}

// List returns the regular files in dir whose base name matches pattern, sorted.
func (s *Storage) List(ctx context.Context, dir, pattern string) ([]string, error) {
	if _, err := filepath.Match(pattern, ""); err != nil {
		return nil, fmt.Errorf("invalid pattern %q: %w", pattern, err)
	}

	root := s.resolve(dir)
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("stat corpus dir: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("corpus path is not a directory: %s", dir)
	}

	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("read corpus dir: %w", err)
	}

	out := make([]string, 0, len(entries))
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !entry.Type().IsRegular() {
			continue
		}
		if ok, _ := filepath.Match(pattern, entry.Name()); !ok {
			continue
		}
		out = append(out, filepath.Join(dir, entry.Name()))
	}
	sort.Strings(out)
	return out, nil
}

func (s *Storage) Open(_ context.Context, key string) (io.ReadCloser, error) {
	f, err := os.Open(s.resolve(key))
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}
	return f, nil
}

func (s *Storage) resolve(key string) string {
	if s.basePath == "" || filepath.IsAbs(key) {
		return key
	}
	return filepath.Join(s.basePath, key)
}
