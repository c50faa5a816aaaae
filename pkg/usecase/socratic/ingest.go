package socratic

import (
	"context"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/socratic/pkg/model"
	"github.com/m-mizutani/socratic/pkg/utils/logging"
	"golang.org/x/sync/errgroup"
)

type IngestInput struct {
	Text string   `json:"text"`
	Tags []string `json:"tags,omitempty"`
}

// Ingest embeds text with the engine's embedder and stores it.
func (e *Engine) Ingest(ctx context.Context, input IngestInput) (*model.Document, error) {
	docs, err := e.IngestBatch(ctx, []IngestInput{input})
	if err != nil {
		return nil, err
	}
	return docs[0], nil
}

// IngestBatch embeds inputs concurrently and inserts them in the given order.
// Embedding failures abort the batch before anything is inserted. Inserts are
// not rolled back: when one fails, the documents already committed are
// returned alongside the error.
func (e *Engine) IngestBatch(ctx context.Context, inputs []IngestInput) ([]*model.Document, error) {
	if e.knowledge == nil {
		return nil, goerr.Wrap(model.ErrInvalidConfig, "no knowledge store configured")
	}
	for i, in := range inputs {
		if strings.TrimSpace(in.Text) == "" {
			return nil, goerr.Wrap(model.ErrInvalidConfig, "document text is empty", goerr.V("index", i))
		}
	}

	docs := make([]*model.Document, len(inputs))
	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(max(e.ingestWorkers, 1))
	for i, in := range inputs {
		eg.Go(func() error {
			vec, err := e.embedder.Embed(egCtx, in.Text)
			if err != nil {
				return goerr.Wrap(err, "failed to embed document", goerr.V("index", i))
			}
			docs[i] = &model.Document{
				Text:      in.Text,
				Embedding: vec,
				Tags:      append([]string(nil), in.Tags...),
			}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	for i, doc := range docs {
		if err := e.knowledge.Insert(ctx, doc); err != nil {
			return docs[:i], goerr.Wrap(err, "failed to insert document",
				goerr.V("index", i),
				goerr.V("committed", i))
		}
	}

	logging.From(ctx).Debug("documents ingested", "count", len(docs))
	return docs, nil
}
