package inference

import (
	"context"

	"github.com/m-mizutani/socratic/pkg/model"
	"github.com/m-mizutani/socratic/pkg/tokenizer"
)

// EchoAnnotation prefixes every echo backend output, followed by a space.
const EchoAnnotation = "[echo]"

// Echo is the no-model backend. It returns the annotation followed by the tail
// of the input, special tokens removed, within cfg.MaxTokens. Output depends
// only on the input and MaxTokens.
type Echo struct {
	tok        *tokenizer.Tokenizer
	annotation []model.TokenID
}

func NewEcho(tok *tokenizer.Tokenizer) *Echo {
	annotation := tok.Encode(EchoAnnotation)
	if space, ok := tok.Lookup(" "); ok {
		annotation = append(annotation, space)
	}
	return &Echo{tok: tok, annotation: annotation}
}

func (e *Echo) Name() string { return "echo" }

func (e *Echo) Generate(ctx context.Context, input []model.TokenID, cfg model.GenerationConfig) ([]model.TokenID, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	special := e.tok.Special()
	body := make([]model.TokenID, 0, len(input))
	for _, id := range input {
		if special.IsSpecial(id) && id != special.UNK {
			continue
		}
		body = append(body, id)
	}

	out := make([]model.TokenID, 0, cfg.MaxTokens)
	if len(e.annotation) >= cfg.MaxTokens {
		return append(out, e.annotation[:cfg.MaxTokens]...), nil
	}
	out = append(out, e.annotation...)

	if room := cfg.MaxTokens - len(out); len(body) > room {
		body = body[len(body)-room:]
	}
	return append(out, body...), nil
}
