// Package knowledge indexes documents by embedding and answers nearest-neighbor
// queries with cosine similarity.
package knowledge

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/socratic/pkg/model"
)

// Hit is a query result. Score is cosine similarity in [-1, 1].
type Hit struct {
	Document model.Document `json:"document"`
	Score    float64        `json:"score"`
}

// Store defines the vector store interface. Implementations allow concurrent
// queries and serialize writers.
type Store interface {
	// Insert stores doc with a unit-normalized copy of its embedding. An empty ID
	// is replaced by a new one and written back to doc once the write succeeds;
	// a failed insert leaves doc unchanged.
	Insert(ctx context.Context, doc *model.Document) error

	// Delete removes a document. Missing ids return model.ErrDocumentNotFound.
	Delete(ctx context.Context, id model.DocumentID) error

	// Query returns at most k hits ordered by descending score; equal scores keep
	// insertion order. An empty store yields an empty slice and no error.
	Query(ctx context.Context, vec []float32, k int) ([]Hit, error)

	// Count returns the number of stored documents.
	Count(ctx context.Context) (int, error)

	// Close releases resources.
	Close() error
}

// Normalize returns a unit-length copy of vec. A zero vector yields nil.
func Normalize(vec []float32) []float32 {
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	if sum == 0 {
		return nil
	}
	inv := 1 / math.Sqrt(sum)
	out := make([]float32, len(vec))
	for i, v := range vec {
		out[i] = float32(float64(v) * inv)
	}
	return out
}

// dot is cosine similarity for unit vectors.
func dot(a, b []float32) float64 {
	var s float64
	for i := range a {
		s += float64(a[i]) * float64(b[i])
	}
	return s
}

// prepareInsert validates doc and returns the copy to store: normalized
// embedding, ID and CreatedAt filled. doc itself is left untouched so a failed
// insert changes nothing for the caller; stores copy ID and CreatedAt back
// only after the write succeeds.
func prepareInsert(doc *model.Document, dims int) (model.Document, error) {
	if doc == nil {
		return model.Document{}, goerr.New("document is nil")
	}
	if len(doc.Embedding) == 0 {
		return model.Document{}, goerr.New("document has no embedding", goerr.V("id", doc.ID))
	}
	if dims > 0 && len(doc.Embedding) != dims {
		return model.Document{}, goerr.Wrap(model.ErrDimensionMismatch, "document embedding has wrong dimension",
			goerr.V("id", doc.ID),
			goerr.V("expected", dims),
			goerr.V("actual", len(doc.Embedding)))
	}

	unit := Normalize(doc.Embedding)
	if unit == nil {
		return model.Document{}, goerr.New("document embedding is a zero vector", goerr.V("id", doc.ID))
	}

	stored := cloneDocument(*doc)
	stored.Embedding = unit
	if stored.ID == "" {
		stored.ID = model.NewDocumentID()
	}
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now().UTC()
	}
	return stored, nil
}

// rank sorts hits by descending score, keeping the given order on ties, and
// truncates to k.
func rank(hits []Hit, k int) []Hit {
	sort.SliceStable(hits, func(i, j int) bool {
		return hits[i].Score > hits[j].Score
	})
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits
}

func cloneDocument(doc model.Document) model.Document {
	doc.Embedding = append([]float32(nil), doc.Embedding...)
	doc.Tags = append([]string(nil), doc.Tags...)
	return doc
}
