package inference

import (
	"bufio"
	"context"
	"errors"
	"math"
	"os"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/socratic/pkg/model"
	"github.com/m-mizutani/socratic/pkg/tokenizer"
)

// positionDecay weights older tokens in the context window.
const positionDecay = 0.6

// Local is an on-device int8 model. The hidden state is a decayed sum of the
// embeddings in a fixed window over the most recent tokens.
type Local struct {
	w   *Weights
	tok *tokenizer.Tokenizer
}

// LoadLocal reads and validates a weights file against tok. Every failure
// wraps model.ErrModelLoadFailed.
func LoadLocal(path string, tok *tokenizer.Tokenizer) (*Local, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, goerr.Wrap(model.ErrModelLoadFailed, "failed to open weights",
			goerr.V("path", path),
			goerr.V("cause", err.Error()))
	}
	defer f.Close()

	w, err := readWeights(bufio.NewReader(f), tok.Size())
	if errors.Is(err, errVocabMismatch) {
		return nil, goerr.Wrap(model.ErrModelLoadFailed, "weights do not match tokenizer",
			goerr.V("path", path),
			goerr.V("cause", err.Error()))
	}
	if err != nil {
		return nil, goerr.Wrap(model.ErrModelLoadFailed, "invalid weights file",
			goerr.V("path", path),
			goerr.V("cause", err.Error()))
	}

	return NewLocal(w, tok)
}

// NewLocal builds a backend from already parsed weights.
func NewLocal(w *Weights, tok *tokenizer.Tokenizer) (*Local, error) {
	if w.Header.VocabSize != tok.Size() {
		return nil, goerr.Wrap(model.ErrModelLoadFailed, "weights do not match tokenizer",
			goerr.V("weights_vocab", w.Header.VocabSize),
			goerr.V("tokenizer_vocab", tok.Size()))
	}
	return &Local{w: w, tok: tok}, nil
}

func (l *Local) Name() string { return "local" }

func (l *Local) Generate(ctx context.Context, input []model.TokenID, cfg model.GenerationConfig) ([]model.TokenID, error) {
	return decodeLoop(ctx, l.tok, input, cfg, l.forward)
}

func (l *Local) forward(seq []model.TokenID) ([]float32, error) {
	dim := l.w.Header.Dim
	hidden := make([]float64, dim)

	weight := 1.0
	for k := 0; k < l.w.Header.Window && k < len(seq); k++ {
		row := int(seq[len(seq)-1-k]) * dim
		for d := 0; d < dim; d++ {
			hidden[d] += weight * float64(l.w.Embed.Data[row+d]) * float64(l.w.Embed.Scale)
		}
		weight *= positionDecay
	}

	ms := 0.0
	for _, v := range hidden {
		ms += v * v
	}
	if ms > 0 {
		inv := 1 / math.Sqrt(ms/float64(dim)+1e-6)
		for d := range hidden {
			hidden[d] *= inv
		}
	}

	logits := make([]float32, l.w.Header.VocabSize)
	scale := float64(l.w.Out.Scale)
	for v := range logits {
		row := v * dim
		sum := 0.0
		for d := 0; d < dim; d++ {
			sum += float64(l.w.Out.Data[row+d]) * hidden[d]
		}
		logits[v] = float32(sum * scale)
	}
	return logits, nil
}
