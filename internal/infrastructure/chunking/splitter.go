package chunking

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/kirillkom/medibot/internal/core/domain"
)

const (
	DefaultChunkSize    = 500
	DefaultChunkOverlap = 20
)

// DefaultSeparators are tried in order: paragraph, line, sentence, word, character.
var DefaultSeparators = []string{"\n\n", "\n", ". ", " ", ""}

// Splitter recursively splits text on a prioritized separator list and merges the
// pieces back into chunks of at most ChunkSize runes, carrying up to Overlap runes
// of trailing pieces into the next chunk.
type Splitter struct {
	ChunkSize  int
	Overlap    int
	Separators []string
}

func NewSplitter(chunkSize, overlap int) (*Splitter, error) {
	if chunkSize <= 0 {
		return nil, domain.WrapError(domain.ErrInvalidParameter, "new splitter", fmt.Errorf("chunk size must be positive, got %d", chunkSize))
	}
	if overlap < 0 {
		return nil, domain.WrapError(domain.ErrInvalidParameter, "new splitter", fmt.Errorf("chunk overlap must not be negative, got %d", overlap))
	}
	if overlap >= chunkSize {
		return nil, domain.WrapError(domain.ErrInvalidParameter, "new splitter", fmt.Errorf("chunk overlap %d must be less than chunk size %d", overlap, chunkSize))
	}
	return &Splitter{
		ChunkSize:  chunkSize,
		Overlap:    overlap,
		Separators: DefaultSeparators,
	}, nil
}

// Split chunks every document, numbering chunks per source.
func (s *Splitter) Split(docs []domain.Document) ([]domain.Chunk, error) {
	out := make([]domain.Chunk, 0, len(docs))
	for _, doc := range docs {
		for i, text := range s.SplitText(doc.Content) {
			out = append(out, domain.Chunk{
				Content: text,
				Source:  doc.Source,
				Index:   i,
			})
		}
	}
	return out, nil
}

// SplitText returns the chunks of a single text. Text that already fits is
// returned unchanged as the only chunk.
func (s *Splitter) SplitText(text string) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	if runeLen(text) <= s.ChunkSize {
		return []string{text}
	}
	separators := s.Separators
	if len(separators) == 0 {
		separators = DefaultSeparators
	}
	return s.split(text, separators)
}

func (s *Splitter) split(text string, separators []string) []string {
	sep, rest := pickSeparator(text, separators)
	pieces := splitKeepSeparator(text, sep)

	var out []string
	var fitting []string
	for _, piece := range pieces {
		if runeLen(piece) <= s.ChunkSize {
			fitting = append(fitting, piece)
			continue
		}
		if len(fitting) > 0 {
			out = append(out, s.merge(fitting)...)
			fitting = nil
		}
		if len(rest) == 0 {
			out = append(out, s.merge(splitKeepSeparator(piece, ""))...)
			continue
		}
		out = append(out, s.split(piece, rest)...)
	}
	if len(fitting) > 0 {
		out = append(out, s.merge(fitting)...)
	}
	return out
}

// merge greedily packs pieces (each at most ChunkSize runes) into chunks. After a
// chunk is emitted, leading pieces are dropped until what remains fits in Overlap
// and leaves room for the next piece.
func (s *Splitter) merge(pieces []string) []string {
	var out []string
	var current []string
	total := 0

	for _, piece := range pieces {
		n := runeLen(piece)
		if total+n > s.ChunkSize && len(current) > 0 {
			if chunk := strings.TrimSpace(strings.Join(current, "")); chunk != "" {
				out = append(out, chunk)
			}
			for len(current) > 0 && (total > s.Overlap || total+n > s.ChunkSize) {
				total -= runeLen(current[0])
				current = current[1:]
			}
		}
		current = append(current, piece)
		total += n
	}
	if chunk := strings.TrimSpace(strings.Join(current, "")); chunk != "" {
		out = append(out, chunk)
	}
	return out
}

func pickSeparator(text string, separators []string) (string, []string) {
	for i, sep := range separators {
		if sep == "" {
			return "", nil
		}
		if strings.Contains(text, sep) {
			return sep, separators[i+1:]
		}
	}
	return "", nil
}

// splitKeepSeparator splits after each separator occurrence so joining the
// pieces reproduces the text. An empty separator splits into runes.
func splitKeepSeparator(text, sep string) []string {
	if sep == "" {
		out := make([]string, 0, runeLen(text))
		for _, r := range text {
			out = append(out, string(r))
		}
		return out
	}
	parts := strings.SplitAfter(text, sep)
	out := parts[:0]
	for _, part := range parts {
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

func runeLen(s string) int {
	return utf8.RuneCountInString(s)
}
