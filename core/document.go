package core

// Document is a retrievable unit of text with arbitrary metadata.
type Document struct {
	ID       string         `json:"id"`
	Content  string         `json:"content"`
	Metadata map[string]any `json:"metadata,omitempty"`
}
