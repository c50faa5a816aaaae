package knowledge

import (
	"context"
	"hash/fnv"
	"strings"
	"unicode"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/socratic/pkg/adapter"
	"github.com/m-mizutani/socratic/pkg/model"
)

// Embedder turns text into a vector. Documents and queries for the same store
// must be embedded by the same Embedder.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dims() int
}

// DefaultHashDims is the vector size of NewHashEmbedder(0).
const DefaultHashDims = 256

// HashEmbedder projects word unigrams and character trigrams into a fixed
// number of buckets. It needs no model and is deterministic.
type HashEmbedder struct {
	dims int
}

func NewHashEmbedder(dims int) *HashEmbedder {
	if dims <= 0 {
		dims = DefaultHashDims
	}
	return &HashEmbedder{dims: dims}
}

func (h *HashEmbedder) Dims() int { return h.dims }

func (h *HashEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vec := make([]float32, h.dims)

	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	for _, w := range words {
		h.add(vec, "w:"+w, 1)

		padded := []rune("^" + w + "$")
		for i := 0; i+3 <= len(padded); i++ {
			h.add(vec, "t:"+string(padded[i:i+3]), 0.5)
		}
	}

	unit := Normalize(vec)
	if unit == nil {
		// text without any word still needs a valid embedding
		unit = make([]float32, h.dims)
		unit[0] = 1
	}
	return unit, nil
}

func (h *HashEmbedder) add(vec []float32, feature string, weight float32) {
	f := fnv.New64a()
	_, _ = f.Write([]byte(feature))
	sum := f.Sum64()

	idx := int(sum % uint64(h.dims))
	if sum&(1<<63) != 0 {
		weight = -weight
	}
	vec[idx] += weight
}

// GeminiEmbedder calls the Gemini embedding model.
type GeminiEmbedder struct {
	gemini adapter.Gemini
	dims   int
}

func NewGeminiEmbedder(gemini adapter.Gemini, dims int) *GeminiEmbedder {
	return &GeminiEmbedder{gemini: gemini, dims: dims}
}

func (g *GeminiEmbedder) Dims() int { return g.dims }

func (g *GeminiEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vec, err := g.gemini.Embedding(ctx, text, g.dims)
	if err != nil {
		return nil, goerr.Wrap(model.ErrRetrievalFailed, "failed to embed text", goerr.V("cause", err.Error()))
	}
	if len(vec) != g.dims {
		return nil, goerr.Wrap(model.ErrDimensionMismatch, "embedding has unexpected dimension",
			goerr.V("expected", g.dims),
			goerr.V("actual", len(vec)))
	}
	return vec, nil
}
