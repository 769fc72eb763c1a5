package rank

import (
	"math"
	"math/rand"
)

// ShuffleOptions controls the presentation shuffle.
type ShuffleOptions struct {
	// TopK is how many leading items are reordered; the tail keeps its order.
	TopK int `koanf:"top_k" validate:"gte=0"`
	// Strength sharpens the preference for high scores; 0 is uniform.
	Strength float64 `koanf:"strength" validate:"gte=0"`
}

func DefaultShuffleOptions() ShuffleOptions {
	return ShuffleOptions{TopK: 10, Strength: 2.0}
}

const minShuffleWeight = 1e-9

// SoftShuffle reorders the first TopK items by sampling without replacement
// with probability proportional to Raw^Strength. It returns a new slice and
// leaves items untouched.
func SoftShuffle(items []Scored, opts ShuffleOptions, rng *rand.Rand) []Scored {
	out := make([]Scored, len(items))
	copy(out, items)
	n := opts.TopK
	if n > len(out) {
		n = len(out)
	}
	if n < 2 || rng == nil {
		return out
	}

	pool := make([]Scored, n)
	copy(pool, out[:n])
	weights := make([]float64, n)
	for i, it := range pool {
		weights[i] = math.Pow(math.Max(it.Raw, minShuffleWeight), opts.Strength)
	}

	for k := 0; k < n; k++ {
		var total float64
		for _, w := range weights {
			total += w
		}
		pick := len(pool) - 1
		r := rng.Float64() * total
		for i, w := range weights {
			if r < w {
				pick = i
				break
			}
			r -= w
		}
		out[k] = pool[pick]
		pool = append(pool[:pick], pool[pick+1:]...)
		weights = append(weights[:pick], weights[pick+1:]...)
	}
	return out
}
