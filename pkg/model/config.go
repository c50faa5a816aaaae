package model

import "github.com/m-mizutani/goerr/v2"

// GenerationConfig controls a single generate call. It is a value type; callers
// may pass a different one per request.
type GenerationConfig struct {
	MaxTokens   int      `json:"max_tokens"`
	Temperature float64  `json:"temperature"`
	TopP        float64  `json:"top_p"`
	TopK        int      `json:"top_k"`
	Seed        int64    `json:"seed"`
	Stop        []string `json:"stop,omitempty"`
}

// DefaultGenerationConfig returns the configuration used when a caller does not
// supply one.
func DefaultGenerationConfig() GenerationConfig {
	return GenerationConfig{
		MaxTokens:   256,
		Temperature: 0.7,
		TopP:        0.9,
		TopK:        40,
		Seed:        42,
	}
}

// Validate checks value ranges.
func (c GenerationConfig) Validate() error {
	if c.MaxTokens <= 0 {
		return goerr.Wrap(ErrInvalidConfig, "max_tokens must be positive", goerr.V("max_tokens", c.MaxTokens))
	}
	if c.Temperature < 0 {
		return goerr.Wrap(ErrInvalidConfig, "temperature must not be negative", goerr.V("temperature", c.Temperature))
	}
	if c.TopP < 0 || c.TopP > 1 {
		return goerr.Wrap(ErrInvalidConfig, "top_p must be in [0, 1]", goerr.V("top_p", c.TopP))
	}
	if c.TopK < 0 {
		return goerr.Wrap(ErrInvalidConfig, "top_k must not be negative", goerr.V("top_k", c.TopK))
	}
	return nil
}

// ModelConfig is loaded once and owned by the inference engine. An empty
// WeightPath selects the echo backend.
type ModelConfig struct {
	WeightPath    string `json:"weight_path" toml:"weight_path"`
	TokenizerPath string `json:"tokenizer_path" toml:"tokenizer_path"`
	ContextBudget int    `json:"context_budget" toml:"context_budget"`
	Seed          int64  `json:"seed" toml:"seed"`
}

// Validate checks the context budget.
func (c ModelConfig) Validate() error {
	if c.ContextBudget <= 0 {
		return goerr.Wrap(ErrInvalidConfig, "context budget must be positive", goerr.V("context_budget", c.ContextBudget))
	}
	return nil
}
