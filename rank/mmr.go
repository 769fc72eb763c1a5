package rank

import (
	"fmt"
	"math"

	"github.com/doujins-org/newsfeed/internal/normalize"
)

// MMROptions tunes the diversity reranker.
type MMROptions struct {
	// Lambda in [0, 1]; higher favors relevance over novelty.
	Lambda float64 `koanf:"lambda" validate:"gte=0,lte=1"`
	// SimThreshold is the cosine above which a candidate is a near-duplicate
	// of something already selected.
	SimThreshold float64 `koanf:"sim_threshold" validate:"gte=-1,lte=1"`
	// MinK is the number of results returned before the novelty gate applies.
	MinK int `koanf:"min_k" validate:"gte=0"`
}

func DefaultMMROptions() MMROptions {
	return MMROptions{Lambda: 0.55, SimThreshold: 0.9, MinK: 3}
}

func (o MMROptions) Validate(topK int) error {
	if o.Lambda < 0 || o.Lambda > 1 || math.IsNaN(o.Lambda) {
		return fmt.Errorf("mmr lambda must be in [0, 1]")
	}
	if o.MinK < 0 {
		return fmt.Errorf("mmr min_k must be >= 0")
	}
	if topK < o.MinK {
		return fmt.Errorf("top_k %d is below min_k %d", topK, o.MinK)
	}
	return nil
}

// MMR greedily selects up to topK items trading Raw relevance against the
// maximum cosine similarity to items already selected.
//
// Once MinK items are selected, candidates whose similarity to any selected
// item exceeds SimThreshold are skipped, and selection stops early when every
// remaining candidate is skipped. Until then the gate is off, so a pool of at
// least MinK items always yields at least MinK results.
//
// Ties go to the candidate that appears first in items. Output is in
// selection order. Embeddings are unit-normalized once up front; an item
// without a usable vector is treated as dissimilar to everything.
func MMR(items []Scored, topK int, opts MMROptions) []Scored {
	if topK <= 0 || len(items) == 0 {
		return []Scored{}
	}
	if topK > len(items) {
		topK = len(items)
	}
	lambda := math.Max(0, math.Min(1, opts.Lambda))

	units := make([][]float32, len(items))
	for i, it := range items {
		units[i] = normalize.UnitCopy(it.Candidate.Embedding)
	}

	// penalty[i] is max similarity of i to the selected set, maintained
	// incrementally as each pick lands.
	penalty := make([]float64, len(items))
	used := make([]bool, len(items))
	selected := make([]Scored, 0, topK)
	var last int

	for len(selected) < topK {
		if len(selected) > 0 {
			for i := range items {
				if used[i] {
					continue
				}
				sim := unitSim(units[i], units[last])
				if len(selected) == 1 || sim > penalty[i] {
					penalty[i] = sim
				}
			}
		}

		gate := len(selected) >= opts.MinK && len(selected) > 0
		best := -1
		bestScore := math.Inf(-1)
		for i, it := range items {
			if used[i] {
				continue
			}
			if gate && penalty[i] > opts.SimThreshold {
				continue
			}
			score := lambda*it.Raw - (1-lambda)*penalty[i]
			if score > bestScore {
				bestScore = score
				best = i
			}
		}
		if best < 0 {
			break
		}
		used[best] = true
		last = best
		selected = append(selected, items[best])
	}
	return selected
}

func unitSim(a, b []float32) float64 {
	if a == nil || b == nil || len(a) != len(b) {
		return 0
	}
	d := normalize.Dot(a, b)
	if d > 1 {
		return 1
	}
	if d < -1 {
		return -1
	}
	return d
}

// MaxPairwiseSimilarity returns, for each item after the first, its maximum
// cosine to any earlier item. Used to check the novelty invariant on output.
func MaxPairwiseSimilarity(items []Scored) []float64 {
	units := make([][]float32, len(items))
	for i, it := range items {
		units[i] = normalize.UnitCopy(it.Candidate.Embedding)
	}
	out := make([]float64, len(items))
	for i := 1; i < len(items); i++ {
		m := math.Inf(-1)
		for j := 0; j < i; j++ {
			m = math.Max(m, unitSim(units[i], units[j]))
		}
		out[i] = m
	}
	return out
}
