package domain

import (
	"strconv"

	"github.com/google/uuid"
)

var indexEntryNamespace = uuid.MustParse("8f0c3f5e-3d8b-5c43-9a1e-6d2f4b7a9c10")

// IndexEntryID derives a stable point id from a chunk's provenance, so re-indexing
// the same source overwrites instead of duplicating.
func IndexEntryID(source string, chunkIndex int) string {
	return uuid.NewSHA1(indexEntryNamespace, []byte(source+"#"+strconv.Itoa(chunkIndex))).String()
}

// IndexEntry is a chunk as written into the vector index.
type IndexEntry struct {
	ID         string    `json:"id"`
	Vector     []float32 `json:"-"`
	Content    string    `json:"content"`
	Source     string    `json:"source"`
	ChunkIndex int       `json:"chunk_index"`
	Seq        int64     `json:"seq"`
}

type RetrievedChunk struct {
	Content string  `json:"content"`
	Source  string  `json:"source"`
	Score   float64 `json:"score"`
	Seq     int64   `json:"-"`
}

// RetrievalResult is ordered by descending score.
type RetrievalResult []RetrievedChunk

type Answer struct {
	Text    string          `json:"answer"`
	Sources RetrievalResult `json:"-"`
}

const (
	RoleSystem = "system"
	RoleUser   = "user"
)

type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}
