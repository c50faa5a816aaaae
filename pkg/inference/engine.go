// Package inference runs token generation on one exclusively owned model.
package inference

import (
	"context"
	"errors"
	"sync"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/socratic/pkg/model"
	"github.com/m-mizutani/socratic/pkg/tokenizer"
	"github.com/m-mizutani/socratic/pkg/utils/logging"
)

// Backend produces output tokens for an input sequence. Backends are not
// required to be safe for concurrent use; Engine serializes calls.
type Backend interface {
	Name() string
	Generate(ctx context.Context, input []model.TokenID, cfg model.GenerationConfig) ([]model.TokenID, error)
}

// Engine owns one backend and its model config. At most one generation runs at
// a time.
type Engine struct {
	mu      sync.Mutex
	backend Backend
	tok     *tokenizer.Tokenizer
	cfg     model.ModelConfig
}

// Option is a functional option for Engine
type Option func(*Engine)

// WithBackend bypasses weight loading and uses b, e.g. a remote backend.
func WithBackend(b Backend) Option {
	return func(e *Engine) {
		e.backend = b
	}
}

// Load prepares an engine. Without WithBackend, an empty WeightPath selects the
// echo backend and anything else must be a valid weights file for tok.
func Load(cfg model.ModelConfig, tok *tokenizer.Tokenizer, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, goerr.Wrap(model.ErrModelLoadFailed, "invalid model config", goerr.V("cause", err.Error()))
	}
	if tok == nil {
		return nil, goerr.Wrap(model.ErrModelLoadFailed, "tokenizer is required")
	}

	e := &Engine{tok: tok, cfg: cfg}
	for _, opt := range opts {
		opt(e)
	}

	if e.backend == nil {
		if cfg.WeightPath == "" {
			e.backend = NewEcho(tok)
		} else {
			local, err := LoadLocal(cfg.WeightPath, tok)
			if err != nil {
				return nil, err
			}
			e.backend = local
		}
	}

	return e, nil
}

// Tokenizer returns the tokenizer the engine was loaded with.
func (e *Engine) Tokenizer() *tokenizer.Tokenizer { return e.tok }

// ContextBudget is the maximum number of input plus output tokens per call.
func (e *Engine) ContextBudget() int { return e.cfg.ContextBudget }

// BackendName returns the name of the selected backend.
func (e *Engine) BackendName() string { return e.backend.Name() }

// IsEcho reports whether the engine runs without a model.
func (e *Engine) IsEcho() bool {
	_, ok := e.backend.(*Echo)
	return ok
}

// Generate runs the backend on input. It fails with ErrContextWindowExceeded,
// without touching any state, when input plus cfg.MaxTokens exceeds the context
// budget. Cancellation of ctx is checked between decoding steps and surfaces as
// the context error.
func (e *Engine) Generate(ctx context.Context, input []model.TokenID, cfg model.GenerationConfig) ([]model.TokenID, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if len(input)+cfg.MaxTokens > e.cfg.ContextBudget {
		return nil, goerr.Wrap(model.ErrContextWindowExceeded, "input does not fit context budget",
			goerr.V("input_tokens", len(input)),
			goerr.V("max_tokens", cfg.MaxTokens),
			goerr.V("context_budget", e.cfg.ContextBudget))
	}

	if err := e.checkRange(input); err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, goerr.Wrap(err, "generation canceled before start")
	}

	logging.From(ctx).Debug("generate",
		"backend", e.backend.Name(),
		"input_tokens", len(input),
		"max_tokens", cfg.MaxTokens,
		"seed", cfg.Seed)

	out, err := e.backend.Generate(ctx, input, cfg)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, goerr.Wrap(err, "generation canceled", goerr.V("backend", e.backend.Name()))
		}
		if errors.Is(err, model.ErrInferenceFailed) {
			return nil, err
		}
		return nil, goerr.Wrap(model.ErrInferenceFailed, "backend failed",
			goerr.V("backend", e.backend.Name()),
			goerr.V("cause", err.Error()))
	}

	if len(out) > cfg.MaxTokens {
		out = out[:cfg.MaxTokens]
	}
	if err := e.checkRange(out); err != nil {
		return nil, err
	}

	return out, nil
}

func (e *Engine) checkRange(ids []model.TokenID) error {
	size := e.tok.Size()
	for i, id := range ids {
		if int(id) >= size {
			return goerr.Wrap(model.ErrInferenceFailed, "token id out of range",
				goerr.V("id", id),
				goerr.V("position", i),
				goerr.V("vocab_size", size))
		}
	}
	return nil
}
