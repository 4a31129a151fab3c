package domain

// Document is the flattened text rendering of one table row, ready for embedding.
type Document struct {
	ID       string
	Content  string
	Metadata map[string]string
}

// SearchResult represents a matching document with a relevance score.
type SearchResult struct {
	Document Document
	Score    float64
	// Position is the document's index in the build order; used to break ties.
	Position int
}

// CodeTitle is a single (classification code, title) match.
type CodeTitle struct {
	Code  string `json:"code"`
	Title string `json:"title"`
}

// DocumentResult is a retrieved document as handed to the presentation layer.
type DocumentResult struct {
	Content  string            `json:"content,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
	Error    string            `json:"error,omitempty"`
}
