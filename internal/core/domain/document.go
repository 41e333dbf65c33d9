package domain

// Document is one loaded source file. It is never persisted.
type Document struct {
	Content string `json:"content"`
	Source  string `json:"source"`
}

// Chunk is a bounded slice of a Document's text.
type Chunk struct {
	Content string `json:"content"`
	Source  string `json:"source"`
	Index   int    `json:"index"`
}

// LoadResult holds the documents read from a corpus and the files skipped on the way.
type LoadResult struct {
	Documents []Document
	Skipped   []string
}
