package inference

import (
	"context"
	"strings"

	"github.com/m-mizutani/socratic/pkg/model"
	"github.com/m-mizutani/socratic/pkg/tokenizer"
)

// stepFunc returns next-token logits for seq.
type stepFunc func(seq []model.TokenID) ([]float32, error)

// decodeLoop runs autoregressive sampling until EOS, a stop sequence or
// cfg.MaxTokens. ctx is checked before every step.
func decodeLoop(ctx context.Context, tok *tokenizer.Tokenizer, input []model.TokenID, cfg model.GenerationConfig, step stepFunc) ([]model.TokenID, error) {
	special := tok.Special()
	smp := newSampler(cfg, func(id int) bool {
		tid := model.TokenID(id)
		return tid == special.BOS || tid == special.PAD || tid == special.UNK
	})

	seq := make([]model.TokenID, len(input), len(input)+cfg.MaxTokens)
	copy(seq, input)
	out := make([]model.TokenID, 0, cfg.MaxTokens)

	for len(out) < cfg.MaxTokens {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		logits, err := step(seq)
		if err != nil {
			return nil, err
		}

		next := model.TokenID(smp.next(logits))
		if next == special.EOS {
			break
		}

		seq = append(seq, next)
		out = append(out, next)

		if trimmed, ok := trimStop(tok, out, cfg.Stop); ok {
			return trimmed, nil
		}
	}

	return out, nil
}

// trimStop reports whether the decoded output ends with a stop sequence and,
// if so, returns tokens decoding to the output without it.
func trimStop(tok *tokenizer.Tokenizer, out []model.TokenID, stops []string) ([]model.TokenID, bool) {
	if len(stops) == 0 {
		return nil, false
	}

	text := tok.Decode(out)
	for _, stop := range stops {
		if stop == "" || !strings.HasSuffix(text, stop) {
			continue
		}

		target := strings.TrimSuffix(text, stop)
		kept := out
		for len(kept) > 0 && len(tok.Decode(kept)) > len(target) {
			kept = kept[:len(kept)-1]
		}
		rest := target[len(tok.Decode(kept)):]

		result := make([]model.TokenID, len(kept), len(kept)+len(rest))
		copy(result, kept)
		return append(result, tok.Encode(rest)...), true
	}

	return nil, false
}
