package inference

import (
	"context"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/socratic/pkg/adapter"
	"github.com/m-mizutani/socratic/pkg/model"
	"github.com/m-mizutani/socratic/pkg/tokenizer"
	"google.golang.org/genai"
)

// Remote generates with Gemini. Input tokens are decoded to a prompt and the
// reply is encoded back with the local tokenizer, so callers see the same token
// contract as the local backend.
type Remote struct {
	gemini adapter.Gemini
	tok    *tokenizer.Tokenizer
}

func NewRemote(gemini adapter.Gemini, tok *tokenizer.Tokenizer) *Remote {
	return &Remote{gemini: gemini, tok: tok}
}

func (r *Remote) Name() string { return "gemini" }

func (r *Remote) Generate(ctx context.Context, input []model.TokenID, cfg model.GenerationConfig) ([]model.TokenID, error) {
	prompt := r.tok.Decode(input)

	thinkingBudget := int32(0)
	config := &genai.GenerateContentConfig{
		Temperature:     genai.Ptr(float32(cfg.Temperature)),
		MaxOutputTokens: int32(cfg.MaxTokens),
		Seed:            genai.Ptr(foldSeed(cfg.Seed)),
		StopSequences:   cfg.Stop,
		ThinkingConfig: &genai.ThinkingConfig{
			IncludeThoughts: false,
			ThinkingBudget:  &thinkingBudget,
		},
	}
	if cfg.TopP > 0 {
		config.TopP = genai.Ptr(float32(cfg.TopP))
	}
	if cfg.TopK > 0 {
		config.TopK = genai.Ptr(float32(cfg.TopK))
	}

	contents := []*genai.Content{genai.NewContentFromText(prompt, genai.RoleUser)}
	resp, err := r.gemini.GenerateContent(ctx, contents, config)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to generate with gemini")
	}

	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil, goerr.Wrap(model.ErrInferenceFailed, "invalid response structure from gemini")
	}

	var text strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if part != nil && part.Text != "" {
			text.WriteString(part.Text)
		}
	}

	out := r.tok.Encode(text.String())
	if len(out) > cfg.MaxTokens {
		out = out[:cfg.MaxTokens]
	}
	return out, nil
}

// foldSeed maps a 64-bit seed onto the 32-bit seed Gemini accepts by xoring
// the halves, so seeds that differ only above bit 31 still reach the API as
// different values.
func foldSeed(seed int64) int32 {
	u := uint64(seed)
	return int32(uint32(u) ^ uint32(u>>32))
}
