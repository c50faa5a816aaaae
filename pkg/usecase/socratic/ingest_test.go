package socratic_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/socratic/pkg/knowledge"
	"github.com/m-mizutani/socratic/pkg/memory"
	"github.com/m-mizutani/socratic/pkg/model"
	"github.com/m-mizutani/socratic/pkg/tokenizer"
	"github.com/m-mizutani/socratic/pkg/usecase/socratic"
)

func TestIngest(t *testing.T) {
	ctx := context.Background()
	f := newEchoFixture(t, 2048)

	doc, err := f.engine.Ingest(ctx, socratic.IngestInput{Text: towerDocs[1], Tags: []string{"architecture"}})
	gt.NoError(t, err)
	gt.NotEqual(t, doc.ID, "")
	gt.A(t, doc.Embedding).Length(knowledge.DefaultHashDims)
	gt.Equal(t, doc.Tags[0], "architecture")

	n, err := f.store.Count(ctx)
	gt.NoError(t, err)
	gt.Equal(t, n, 1)

	_, err = f.engine.Ingest(ctx, socratic.IngestInput{Text: "  "})
	gt.True(t, errors.Is(err, model.ErrInvalidConfig))
}

func TestIngestBatchKeepsOrder(t *testing.T) {
	ctx := context.Background()
	f := newEchoFixture(t, 2048, socratic.WithIngestWorkers(3))

	inputs := make([]socratic.IngestInput, 0, 20)
	for i := range 20 {
		inputs = append(inputs, socratic.IngestInput{Text: fmt.Sprintf("identical passage %d", i%2)})
	}
	docs, err := f.engine.IngestBatch(ctx, inputs)
	gt.NoError(t, err)
	gt.A(t, docs).Length(20)

	q, err := knowledge.NewHashEmbedder(0).Embed(ctx, "identical passage 0")
	gt.NoError(t, err)
	hits, err := f.store.Query(ctx, q, 10)
	gt.NoError(t, err)
	gt.A(t, hits).Length(10)
	// equal scores come back in insertion order
	for i := range 10 {
		gt.Equal(t, hits[i].Document.ID, docs[i*2].ID)
	}
}

func TestIngestBatchEmbeddingFailure(t *testing.T) {
	ctx := context.Background()
	store := knowledge.NewMemory()
	engine, err := socratic.New(socratic.Input{
		Tokenizer: tokenizer.Default(),
		Inference: &mockInference{budget: 100},
		Knowledge: store,
		Memory:    memory.New(),
		Embedder:  &failingEmbedder{},
	})
	gt.NoError(t, err)

	_, err = engine.IngestBatch(ctx, []socratic.IngestInput{{Text: "a"}, {Text: "b"}})
	gt.Error(t, err)

	n, err := store.Count(ctx)
	gt.NoError(t, err)
	gt.Equal(t, n, 0)
}

func TestIngestWithoutStore(t *testing.T) {
	engine, err := socratic.New(socratic.Input{
		Tokenizer: tokenizer.Default(),
		Inference: &mockInference{budget: 100},
		Memory:    memory.New(),
	})
	gt.NoError(t, err)

	_, err = engine.Ingest(context.Background(), socratic.IngestInput{Text: "a"})
	gt.True(t, errors.Is(err, model.ErrInvalidConfig))
}

type flakyStore struct {
	*knowledge.Memory
	failAt int
	calls  int
}

func (s *flakyStore) Insert(ctx context.Context, doc *model.Document) error {
	s.calls++
	if s.calls == s.failAt {
		return errors.New("disk full")
	}
	return s.Memory.Insert(ctx, doc)
}

func TestIngestBatchReportsCommittedOnInsertFailure(t *testing.T) {
	ctx := context.Background()
	store := &flakyStore{Memory: knowledge.NewMemory(), failAt: 3}
	engine, err := socratic.New(socratic.Input{
		Tokenizer: tokenizer.Default(),
		Inference: &mockInference{budget: 100},
		Knowledge: store,
		Memory:    memory.New(),
		Embedder:  knowledge.NewHashEmbedder(0),
	})
	gt.NoError(t, err)

	docs, err := engine.IngestBatch(ctx, []socratic.IngestInput{
		{Text: "bell towers"},
		{Text: "campaniles"},
		{Text: "steam engines"},
		{Text: "pendulums"},
	})
	gt.Error(t, err)
	gt.A(t, docs).Length(2)
	gt.Equal(t, docs[0].Text, "bell towers")
	gt.Equal(t, docs[1].Text, "campaniles")

	n, err := store.Count(ctx)
	gt.NoError(t, err)
	gt.Equal(t, n, 2)
	for _, doc := range docs {
		gt.NotEqual(t, doc.ID, "")
	}
}
