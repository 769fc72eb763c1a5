package eval

import (
	"strings"

	"github.com/doujins-org/newsfeed/internal/normalize"
)

// Case is a hand-labelled search expectation.
type Case struct {
	Name     string
	Query    string
	Expected []string
}

// RecallAtK computes recall@k over article ids for a single case.
func RecallAtK(got []string, expected []string, k int) float64 {
	if len(expected) == 0 {
		return 1.0
	}
	if k <= 0 {
		return 0.0
	}
	if k > len(got) {
		k = len(got)
	}

	exp := make(map[string]struct{}, len(expected))
	for _, e := range expected {
		exp[e] = struct{}{}
	}

	hit := 0
	for i := 0; i < k; i++ {
		if _, ok := exp[got[i]]; ok {
			hit++
			delete(exp, got[i])
		}
	}
	return float64(hit) / float64(len(expected))
}

// MRR computes the reciprocal rank of the first expected id.
func MRR(got []string, expected []string) float64 {
	if len(expected) == 0 {
		return 1.0
	}
	exp := make(map[string]struct{}, len(expected))
	for _, e := range expected {
		exp[e] = struct{}{}
	}
	for i, g := range got {
		if _, ok := exp[g]; ok {
			return 1.0 / float64(i+1)
		}
	}
	return 0.0
}

// IntraListSimilarity is the mean pairwise cosine of a served list. Lower
// means more diverse. Items without a vector are skipped; fewer than two
// usable vectors yields 0.
func IntraListSimilarity(embeddings [][]float32) float64 {
	units := make([][]float32, 0, len(embeddings))
	for _, e := range embeddings {
		if u := normalize.UnitCopy(e); u != nil {
			units = append(units, u)
		}
	}
	if len(units) < 2 {
		return 0
	}
	var sum float64
	var pairs int
	for i := 0; i < len(units); i++ {
		for j := i + 1; j < len(units); j++ {
			if len(units[i]) != len(units[j]) {
				continue
			}
			sum += normalize.Dot(units[i], units[j])
			pairs++
		}
	}
	if pairs == 0 {
		return 0
	}
	return sum / float64(pairs)
}

// CategoryCoverage is distinct non-empty categories over list length.
func CategoryCoverage(categories []string) float64 {
	if len(categories) == 0 {
		return 0
	}
	seen := make(map[string]struct{}, len(categories))
	for _, c := range categories {
		c = strings.TrimSpace(c)
		if c != "" {
			seen[c] = struct{}{}
		}
	}
	return float64(len(seen)) / float64(len(categories))
}
