package model

import (
	"time"

	"github.com/google/uuid"
)

type DocumentID string

// NewDocumentID generates a new unique DocumentID
func NewDocumentID() DocumentID {
	return DocumentID(uuid.New().String())
}

// Document is a knowledge passage indexed by the vector store. It is immutable
// after insertion; an update is a delete followed by an insert.
type Document struct {
	ID        DocumentID `json:"id"`
	Text      string     `json:"text"`
	Embedding []float32  `json:"embedding,omitempty"`
	Tags      []string   `json:"tags,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}
