package domain

import "time"

type IngestionState string

const (
	StateNotStarted IngestionState = "not_started"
	StateLoading    IngestionState = "loading"
	StateChunking   IngestionState = "chunking"
	StateEmbedding  IngestionState = "embedding"
	StateIndexing   IngestionState = "indexing"
	StateComplete   IngestionState = "complete"
	StateFailed     IngestionState = "failed"
)

var stageOrder = map[IngestionState]int{
	StateNotStarted: 0,
	StateLoading:    1,
	StateChunking:   2,
	StateEmbedding:  3,
	StateIndexing:   4,
	StateComplete:   5,
}

func (s IngestionState) Terminal() bool {
	return s == StateComplete || s == StateFailed
}

// CanTransition reports whether the pipeline may move from s to next.
// Stages advance one step at a time; Failed is reachable from any non-terminal state.
func (s IngestionState) CanTransition(next IngestionState) bool {
	if s.Terminal() {
		return false
	}
	if next == StateFailed {
		return true
	}
	from, ok := stageOrder[s]
	if !ok {
		return false
	}
	to, ok := stageOrder[next]
	if !ok {
		return false
	}
	return to == from+1
}

type IngestionRequest struct {
	RunID string `json:"run_id"`
	Dir   string `json:"dir"`
	Glob  string `json:"glob"`
}

type IngestionRun struct {
	ID            string         `json:"id"`
	Dir           string         `json:"dir"`
	Glob          string         `json:"glob"`
	State         IngestionState `json:"state"`
	FailedStage   IngestionState `json:"failed_stage,omitempty"`
	Error         string         `json:"error,omitempty"`
	Documents     int            `json:"documents"`
	SkippedFiles  int            `json:"skipped_files"`
	Chunks        int            `json:"chunks"`
	IndexedChunks int            `json:"indexed_chunks"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}
