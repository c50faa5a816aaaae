// Package socratic runs tutoring dialogue turns and curriculum blueprint
// generation on top of the tokenizer, inference engine, knowledge store and
// conversation memory.
package socratic

import (
	"context"
	"errors"
	"time"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/socratic/pkg/knowledge"
	"github.com/m-mizutani/socratic/pkg/model"
	"github.com/m-mizutani/socratic/pkg/tokenizer"
)

// Inference is the generation capability the engine drives. *inference.Engine
// satisfies it.
type Inference interface {
	Generate(ctx context.Context, input []model.TokenID, cfg model.GenerationConfig) ([]model.TokenID, error)
	ContextBudget() int
	IsEcho() bool
}

// Memory is the per-session turn log. *memory.Memory satisfies it.
type Memory interface {
	GetContext(sid model.SessionID, budget int) []model.Turn
	AppendExchange(sid model.SessionID, user, assistant model.Turn) error
	Evict(sid model.SessionID) bool
}

// Policy vets generated blueprints. *policy.Policy satisfies it.
type Policy interface {
	Check(ctx context.Context, req *model.BlueprintRequest, bp *model.BlueprintResponse) ([]string, error)
}

// Input holds the collaborators of an Engine. Knowledge and Embedder may both
// be nil, in which case turns run without retrieval.
type Input struct {
	Tokenizer *tokenizer.Tokenizer
	Inference Inference
	Knowledge knowledge.Store
	Memory    Memory
	// Embedder must be the one used to embed the stored documents.
	Embedder knowledge.Embedder
}

type Engine struct {
	tok       *tokenizer.Tokenizer
	inference Inference
	knowledge knowledge.Store
	memory    Memory
	embedder  knowledge.Embedder

	topK          int
	memoryBudget  int
	strategy      model.Strategy
	degrade       bool
	policy        Policy
	genConfig     model.GenerationConfig
	ingestWorkers int
	now           func() time.Time

	schema *jsonschema.Resolved
}

type Option func(*Engine)

// WithTopK sets how many passages are retrieved per turn. Zero disables
// retrieval.
func WithTopK(k int) Option {
	return func(e *Engine) {
		e.topK = k
	}
}

// WithMemoryBudget caps the tokens of conversation history placed in a prompt.
func WithMemoryBudget(n int) Option {
	return func(e *Engine) {
		e.memoryBudget = n
	}
}

// WithStrategy sets the strategy used when a turn does not name one.
func WithStrategy(s model.Strategy) Option {
	return func(e *Engine) {
		e.strategy = s
	}
}

// WithDegradeRetrieval makes retrieval failures continue the turn without
// passages instead of failing it.
func WithDegradeRetrieval(enabled bool) Option {
	return func(e *Engine) {
		e.degrade = enabled
	}
}

func WithPolicy(p Policy) Option {
	return func(e *Engine) {
		e.policy = p
	}
}

// WithGenerationConfig sets the config used when a call does not pass one.
func WithGenerationConfig(cfg model.GenerationConfig) Option {
	return func(e *Engine) {
		e.genConfig = cfg
	}
}

// WithIngestWorkers bounds concurrent embedding in IngestBatch.
func WithIngestWorkers(n int) Option {
	return func(e *Engine) {
		e.ingestWorkers = n
	}
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

func New(input Input, opts ...Option) (*Engine, error) {
	if input.Tokenizer == nil {
		return nil, goerr.Wrap(model.ErrInvalidConfig, "tokenizer is required")
	}
	if input.Inference == nil {
		return nil, goerr.Wrap(model.ErrInvalidConfig, "inference engine is required")
	}
	if input.Memory == nil {
		return nil, goerr.Wrap(model.ErrInvalidConfig, "conversation memory is required")
	}
	if input.Knowledge != nil && input.Embedder == nil {
		return nil, goerr.Wrap(model.ErrInvalidConfig, "embedder is required with a knowledge store")
	}

	e := &Engine{
		tok:           input.Tokenizer,
		inference:     input.Inference,
		knowledge:     input.Knowledge,
		memory:        input.Memory,
		embedder:      input.Embedder,
		topK:          3,
		memoryBudget:  input.Inference.ContextBudget() / 4,
		strategy:      model.StrategySocratic,
		genConfig:     model.DefaultGenerationConfig(),
		ingestWorkers: 4,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}

	if err := e.strategy.Validate(); err != nil {
		return nil, err
	}
	if e.topK < 0 {
		return nil, goerr.Wrap(model.ErrInvalidConfig, "top_k must not be negative", goerr.V("top_k", e.topK))
	}
	if e.memoryBudget < 0 {
		return nil, goerr.Wrap(model.ErrInvalidConfig, "memory budget must not be negative", goerr.V("memory_budget", e.memoryBudget))
	}
	if err := e.genConfig.Validate(); err != nil {
		return nil, err
	}

	schema, err := blueprintSchema.Resolve(nil)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to resolve blueprint schema")
	}
	e.schema = schema

	return e, nil
}

// EndSession drops the conversation memory of sid. It reports whether the
// session existed.
func (e *Engine) EndSession(sid model.SessionID) bool {
	return e.memory.Evict(sid)
}

// GenerationConfig returns a copy of the configuration used when a turn does
// not supply one.
func (e *Engine) GenerationConfig() model.GenerationConfig {
	c := e.genConfig
	c.Stop = append([]string(nil), c.Stop...)
	return c
}

func (e *Engine) generationConfig(cfg *model.GenerationConfig) (model.GenerationConfig, error) {
	c := e.genConfig
	if cfg != nil {
		c = *cfg
	}
	c.Stop = append([]string(nil), c.Stop...)
	if err := c.Validate(); err != nil {
		return c, err
	}
	return c, nil
}

// retrieve embeds text and queries the knowledge store.
func (e *Engine) retrieve(ctx context.Context, text string) ([]knowledge.Hit, error) {
	if e.knowledge == nil || e.topK == 0 {
		return nil, nil
	}

	vec, err := e.embedder.Embed(ctx, text)
	if err != nil {
		return nil, retrievalError(err, "failed to embed query")
	}

	hits, err := e.knowledge.Query(ctx, vec, e.topK)
	if err != nil {
		return nil, retrievalError(err, "failed to query knowledge store")
	}
	return hits, nil
}

func retrievalError(err error, msg string) error {
	if errors.Is(err, model.ErrRetrievalFailed) {
		return err
	}
	return goerr.Wrap(model.ErrRetrievalFailed, msg, goerr.V("cause", err.Error()))
}
