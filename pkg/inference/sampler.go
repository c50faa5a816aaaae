package inference

import (
	"math"
	"math/rand"
	"sort"

	"github.com/m-mizutani/socratic/pkg/model"
)

// sampler draws the next token from logits. It is created per generate call
// so a fixed seed reproduces the same sequence.
type sampler struct {
	cfg    model.GenerationConfig
	rng    *rand.Rand
	banned func(id int) bool
}

func newSampler(cfg model.GenerationConfig, banned func(id int) bool) *sampler {
	return &sampler{
		cfg:    cfg,
		rng:    rand.New(rand.NewSource(cfg.Seed)),
		banned: banned,
	}
}

// next applies temperature, then top-k, then top-p and samples from the
// renormalized candidates. Temperature 0 is greedy.
func (s *sampler) next(logits []float32) int {
	candidates := make([]int, 0, len(logits))
	for i := range logits {
		if s.banned != nil && s.banned(i) {
			continue
		}
		candidates = append(candidates, i)
	}
	if len(candidates) == 0 {
		return 0
	}

	if s.cfg.Temperature == 0 {
		best := candidates[0]
		for _, i := range candidates[1:] {
			if logits[i] > logits[best] {
				best = i
			}
		}
		return best
	}

	probs := softmax(logits, candidates, s.cfg.Temperature)

	// candidates keep index order for equal probabilities
	sort.SliceStable(candidates, func(a, b int) bool {
		return probs[candidates[a]] > probs[candidates[b]]
	})

	if k := s.cfg.TopK; k > 0 && k < len(candidates) {
		candidates = candidates[:k]
	}

	if p := s.cfg.TopP; p > 0 && p < 1 {
		cum := 0.0
		cut := len(candidates)
		for n, i := range candidates {
			cum += probs[i]
			if cum >= p {
				cut = n + 1
				break
			}
		}
		candidates = candidates[:cut]
	}

	mass := 0.0
	for _, i := range candidates {
		mass += probs[i]
	}
	if mass <= 0 {
		return candidates[0]
	}

	r := s.rng.Float64() * mass
	acc := 0.0
	for _, i := range candidates {
		acc += probs[i]
		if acc >= r {
			return i
		}
	}
	return candidates[len(candidates)-1]
}

// softmax returns probabilities indexed like logits; entries outside
// candidates stay zero.
func softmax(logits []float32, candidates []int, temperature float64) []float64 {
	probs := make([]float64, len(logits))

	maxVal := math.Inf(-1)
	for _, i := range candidates {
		v := float64(logits[i]) / temperature
		if v > maxVal {
			maxVal = v
		}
	}

	total := 0.0
	for _, i := range candidates {
		probs[i] = math.Exp(float64(logits[i])/temperature - maxVal)
		total += probs[i]
	}
	for _, i := range candidates {
		probs[i] /= total
	}
	return probs
}
