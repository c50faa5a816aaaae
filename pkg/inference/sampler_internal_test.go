package inference

import (
	"testing"

	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/socratic/pkg/model"
	"github.com/m-mizutani/socratic/pkg/tokenizer"
)

func TestSamplerTopK(t *testing.T) {
	logits := []float32{0.1, 5, 4, 0.2, 3}
	s := newSampler(model.GenerationConfig{Temperature: 1, TopK: 2, Seed: 9}, nil)

	for i := 0; i < 200; i++ {
		id := s.next(logits)
		gt.True(t, id == 1 || id == 2)
	}
}

func TestSamplerTopP(t *testing.T) {
	// after softmax index 0 holds almost all mass
	logits := []float32{20, 1, 1, 1}
	s := newSampler(model.GenerationConfig{Temperature: 1, TopP: 0.5, Seed: 1}, nil)

	for i := 0; i < 100; i++ {
		gt.Equal(t, s.next(logits), 0)
	}
}

func TestSamplerBanned(t *testing.T) {
	logits := []float32{100, 1, 2}
	s := newSampler(model.GenerationConfig{Temperature: 0}, func(id int) bool { return id == 0 })
	gt.Equal(t, s.next(logits), 2)
}

func TestSamplerSeed(t *testing.T) {
	logits := []float32{1, 1, 1, 1, 1, 1, 1, 1}
	draw := func(seed int64) []int {
		s := newSampler(model.GenerationConfig{Temperature: 1, Seed: seed}, nil)
		out := make([]int, 32)
		for i := range out {
			out[i] = s.next(logits)
		}
		return out
	}

	gt.Equal(t, draw(5), draw(5))
	gt.NotEqual(t, draw(5), draw(6))
}

func TestTrimStop(t *testing.T) {
	tok := tokenizer.Default()

	out := tok.Encode("the answer is near. student:")
	trimmed, ok := trimStop(tok, out, []string{"student:"})
	gt.True(t, ok)
	gt.Equal(t, tok.Decode(trimmed), "the answer is near. ")

	_, ok = trimStop(tok, out, []string{"tutor:"})
	gt.False(t, ok)
}
