package search

import "sort"

// RRF (Reciprocal Rank Fusion) combines ranked lists without relying on raw
// score calibration.
//
//	score(doc) = Σ (weight_i / (k + rank_i))
//
// where rank_i is the 1-based position in list i.
type RRFOptions struct {
	// K is the stabilizer constant; higher K flattens rank differences.
	// Defaults to 60 when <= 0.
	K int

	// Weights applied to each list. Lists past the end of Weights get 1.0;
	// a zero weight drops the list.
	Weights []float64
}

type RRFHit struct {
	ID    string
	Score float64
}

// FuseRRF fuses ranked lists of article ids, each ordered best-first. An id
// repeated within one list only counts at its best rank.
func FuseRRF(lists [][]string, opts RRFOptions) []RRFHit {
	k := opts.K
	if k <= 0 {
		k = 60
	}

	scores := make(map[string]float64)
	for li, list := range lists {
		w := 1.0
		if li < len(opts.Weights) {
			w = opts.Weights[li]
		}
		if w <= 0 {
			continue
		}
		seen := make(map[string]struct{}, len(list))
		for i, id := range list {
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			scores[id] += w / float64(k+i+1)
		}
	}

	out := make([]RRFHit, 0, len(scores))
	for id, sc := range scores {
		out = append(out, RRFHit{ID: id, Score: sc})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score == out[j].Score {
			return out[i].ID < out[j].ID
		}
		return out[i].Score > out[j].Score
	})
	return out
}
