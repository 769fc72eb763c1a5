package article

import "time"

// Filter is a structured predicate understood by every store implementation.
// Zero-valued fields are not applied.
type Filter struct {
	Status     string
	Category   string
	Since      time.Time
	ExcludeIDs []string
}

// Matches evaluates the filter against a candidate in memory.
func (f Filter) Matches(c Candidate) bool {
	if f.Status != "" && c.Status != f.Status {
		return false
	}
	if f.Category != "" && c.Category != f.Category {
		return false
	}
	if !f.Since.IsZero() && c.CollectedAt.Before(f.Since) {
		return false
	}
	for _, id := range f.ExcludeIDs {
		if id == c.ID {
			return false
		}
	}
	return true
}

// SortField names a sortable candidate attribute.
type SortField string

const (
	SortTrend       SortField = "trend_score"
	SortTrust       SortField = "trust_score"
	SortCollectedAt SortField = "collected_at"
)

// Sort is one ordering key. Missing scalar values always sort last.
type Sort struct {
	Field SortField
	Desc  bool
}
