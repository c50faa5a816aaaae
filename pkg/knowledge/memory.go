package knowledge

import (
	"context"
	"sync"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/socratic/pkg/model"
)

// Memory is an in-process store. Documents are scanned in insertion order.
type Memory struct {
	mu   sync.RWMutex
	docs []model.Document
	dims int
}

func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) Insert(ctx context.Context, doc *model.Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, err := prepareInsert(doc, m.dims)
	if err != nil {
		return err
	}
	for _, d := range m.docs {
		if d.ID == stored.ID {
			return goerr.New("document already exists", goerr.V("id", stored.ID))
		}
	}

	m.docs = append(m.docs, stored)
	m.dims = len(stored.Embedding)
	doc.ID, doc.CreatedAt = stored.ID, stored.CreatedAt
	return nil
}

func (m *Memory) Delete(ctx context.Context, id model.DocumentID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, d := range m.docs {
		if d.ID == id {
			m.docs = append(m.docs[:i], m.docs[i+1:]...)
			if len(m.docs) == 0 {
				m.dims = 0
			}
			return nil
		}
	}
	return goerr.Wrap(model.ErrDocumentNotFound, "failed to delete document", goerr.V("id", id))
}

func (m *Memory) Query(ctx context.Context, vec []float32, k int) ([]Hit, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if len(m.docs) == 0 || k <= 0 {
		return []Hit{}, nil
	}
	if len(vec) != m.dims {
		return nil, goerr.Wrap(model.ErrDimensionMismatch, "query has wrong dimension",
			goerr.V("expected", m.dims),
			goerr.V("actual", len(vec)))
	}

	q := Normalize(vec)
	if q == nil {
		return []Hit{}, nil
	}

	hits := make([]Hit, 0, len(m.docs))
	for _, d := range m.docs {
		hits = append(hits, Hit{Document: cloneDocument(d), Score: dot(q, d.Embedding)})
	}
	return rank(hits, k), nil
}

func (m *Memory) Count(ctx context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.docs), nil
}

func (m *Memory) Close() error { return nil }
