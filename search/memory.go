package search

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/doujins-org/newsfeed/article"
	"github.com/doujins-org/newsfeed/internal/normalize"
	"github.com/doujins-org/newsfeed/internal/textnormalize"
)

// MemoryStore is a brute-force Store over an in-process article set. It backs
// tests and single-node development runs without Postgres.
type MemoryStore struct {
	mu       sync.RWMutex
	articles map[string]article.Candidate
	content  map[string]string
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		articles: make(map[string]article.Candidate),
		content:  make(map[string]string),
	}
}

// Put inserts or replaces articles by id.
func (m *MemoryStore) Put(cands ...article.Candidate) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range cands {
		c.RetrievalScore = nil
		m.articles[c.ID] = c
	}
}

// PutContent sets the body text used by SearchText.
func (m *MemoryStore) PutContent(id, content string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.content[id] = content
}

func (m *MemoryStore) SearchByVector(ctx context.Context, q VectorQuery) ([]article.Candidate, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if q.K <= 0 || len(q.Vector) == 0 {
		return []article.Candidate{}, nil
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]article.Candidate, 0, len(m.articles))
	for _, c := range m.articles {
		if len(c.Embedding) != len(q.Vector) || !q.Filter.Matches(c) {
			continue
		}
		c.RetrievalScore = article.Float(normalize.Cosine(q.Vector, c.Embedding))
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		si, sj := *out[i].RetrievalScore, *out[j].RetrievalScore
		if si == sj {
			return out[i].ID < out[j].ID
		}
		return si > sj
	})
	if len(out) > q.K {
		out = out[:q.K]
	}
	return out, nil
}

func (m *MemoryStore) SearchByFilter(ctx context.Context, q FilterQuery) ([]article.Candidate, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if q.Size <= 0 {
		return []article.Candidate{}, nil
	}

	m.mu.RLock()
	out := make([]article.Candidate, 0, len(m.articles))
	for _, c := range m.articles {
		if q.Filter.Matches(c) {
			out = append(out, c)
		}
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		for _, o := range q.Sort {
			if c := compareField(out[i], out[j], o); c != 0 {
				return c < 0
			}
		}
		return out[i].ID < out[j].ID
	})
	if len(out) > q.Size {
		out = out[:q.Size]
	}
	return out, nil
}

// compareField orders a before b (negative) per o. Missing values sort last
// regardless of direction.
func compareField(a, b article.Candidate, o article.Sort) int {
	if o.Field == article.SortCollectedAt {
		switch {
		case a.CollectedAt.Equal(b.CollectedAt):
			return 0
		case a.CollectedAt.Before(b.CollectedAt) != o.Desc:
			return -1
		default:
			return 1
		}
	}

	var va, vb *float64
	switch o.Field {
	case article.SortTrend:
		va, vb = a.TrendScore, b.TrendScore
	case article.SortTrust:
		va, vb = a.TrustScore, b.TrustScore
	default:
		return 0
	}
	switch {
	case va == nil && vb == nil:
		return 0
	case va == nil:
		return 1
	case vb == nil:
		return -1
	case *va == *vb:
		return 0
	case (*va < *vb) != o.Desc:
		return -1
	default:
		return 1
	}
}

// SearchText scores by the fraction of folded query terms present in the
// folded title and content. A term also hits when its transliteration
// matches the transliterated document, so "seoul" finds "서울".
func (m *MemoryStore) SearchText(ctx context.Context, query string, limit int, filter article.Filter) ([]article.Candidate, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	terms := strings.Fields(textnormalize.Fold(query))
	if limit <= 0 || len(terms) == 0 {
		return []article.Candidate{}, nil
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	out := []article.Candidate{}
	for id, c := range m.articles {
		if !filter.Matches(c) {
			continue
		}
		text := c.Title + " " + m.content[id]
		doc := " " + textnormalize.Fold(text) + " "
		var ascii string
		hits := 0
		for _, t := range terms {
			if strings.Contains(doc, " "+t+" ") {
				hits++
				continue
			}
			if ascii == "" {
				ascii = " " + textnormalize.ASCII(text) + " "
			}
			if at := textnormalize.ASCII(t); at != "" && strings.Contains(ascii, " "+at+" ") {
				hits++
			}
		}
		if hits == 0 {
			continue
		}
		c.RetrievalScore = article.Float(float64(hits) / float64(len(terms)))
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		si, sj := *out[i].RetrievalScore, *out[j].RetrievalScore
		if si == sj {
			return out[i].ID < out[j].ID
		}
		return si > sj
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (article.Candidate, error) {
	if err := ctx.Err(); err != nil {
		return article.Candidate{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.articles[id]
	if !ok {
		return article.Candidate{}, ErrNotFound
	}
	return c, nil
}
