package search

import (
	"testing"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/doujins-org/newsfeed/article"
)

func testPostgresStore() *PostgresStore {
	return &PostgresStore{
		table: `"news"."articles"`,
		sb:    sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
	}
}

func TestNewPostgresStore_Validates(t *testing.T) {
	_, err := NewPostgresStore(nil, "news")
	require.Error(t, err)
}

func TestPostgresStore_VectorSQL(t *testing.T) {
	s := testPostgresStore()
	sql, args, err := s.vectorSQL(VectorQuery{
		Vector: []float32{1, 0, 0},
		K:      200,
		Filter: article.Filter{
			Status:     article.StatusProcessed,
			ExcludeIDs: []string{"x", "y"},
		},
	})
	require.NoError(t, err)
	assert.Contains(t, sql, "embedding::real[]")
	assert.Contains(t, sql, "(1 - (embedding <=> $1))::float8 AS similarity")
	assert.Contains(t, sql, `FROM "news"."articles"`)
	assert.Contains(t, sql, "embedding IS NOT NULL")
	assert.Contains(t, sql, "status = $2")
	assert.Contains(t, sql, "article_id NOT IN ($3,$4)")
	assert.Contains(t, sql, "ORDER BY embedding <=> $5, article_id ASC")
	assert.Contains(t, sql, "LIMIT 200")
	assert.Len(t, args, 5)
}

func TestPostgresStore_VectorSQL_EmptyQuery(t *testing.T) {
	s := testPostgresStore()
	sql, _, err := s.vectorSQL(VectorQuery{K: 10})
	require.NoError(t, err)
	assert.Empty(t, sql)
}

func TestPostgresStore_FilterSQL(t *testing.T) {
	s := testPostgresStore()
	since := time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)
	sql, args, err := s.filterSQL(FilterQuery{
		Filter: article.Filter{Status: article.StatusProcessed, Category: "politics", Since: since},
		Sort:   []article.Sort{{Field: article.SortTrend, Desc: true}},
		Size:   100,
	})
	require.NoError(t, err)
	assert.Contains(t, sql, "status = $1")
	assert.Contains(t, sql, "category = $2")
	assert.Contains(t, sql, "collected_at >= $3")
	assert.Contains(t, sql, "ORDER BY trend_score DESC NULLS LAST, article_id ASC")
	assert.Contains(t, sql, "LIMIT 100")
	assert.Equal(t, []any{article.StatusProcessed, "politics", since}, args)

	_, _, err = s.filterSQL(FilterQuery{Sort: []article.Sort{{Field: "bogus"}}, Size: 1})
	assert.Error(t, err)
}
