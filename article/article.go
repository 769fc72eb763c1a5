package article

import (
	"math"
	"time"
)

// StatusProcessed marks an article whose labels and embedding are complete.
const StatusProcessed = "processed"

// Candidate is one article materialized from the vector store for a single
// request. Optional attributes are pointers so "missing" is explicit.
type Candidate struct {
	ID          string
	Title       string
	Image       string
	Press       string
	Category    string
	Status      string
	CollectedAt time.Time
	Embedding   []float32

	TrendScore *float64
	TrustScore *float64

	// RetrievalScore is the kNN cosine similarity. Nil on filter-only retrieval.
	RetrievalScore *float64
}

// HasEmbedding reports whether the candidate carries a usable vector of dim
// entries.
func (c Candidate) HasEmbedding(dim int) bool {
	if dim <= 0 || len(c.Embedding) != dim {
		return false
	}
	for _, v := range c.Embedding {
		f := float64(v)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return false
		}
	}
	return true
}

// Float returns a pointer to v, for populating optional scores.
func Float(v float64) *float64 { return &v }

// RankedArticle is the presentable shape handed to the web tier.
type RankedArticle struct {
	ArticleID   string    `json:"article_id"`
	Title       string    `json:"title"`
	Image       string    `json:"image,omitempty"`
	Source      string    `json:"source,omitempty"`
	Category    string    `json:"category,omitempty"`
	FinalScore  int       `json:"final_score"`
	TrendScore  int       `json:"trend_score"`
	TrustScore  int       `json:"trust_score"`
	CollectedAt time.Time `json:"collected_at"`
}
