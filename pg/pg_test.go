package pg

import (
	"fmt"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQuoteIdent(t *testing.T) {
	q, err := QuoteIdent(" newsfeed ")
	require.NoError(t, err)
	assert.Equal(t, `"newsfeed"`, q)

	_, err = QuoteIdent("")
	assert.Error(t, err)
	_, err = QuoteIdent(`news"; DROP TABLE x; --`)
	assert.Error(t, err)
}

func TestTable(t *testing.T) {
	tbl, err := Table("newsfeed", "articles")
	require.NoError(t, err)
	assert.Equal(t, `"newsfeed"."articles"`, tbl)

	_, err = Table("newsfeed", "bad-name")
	assert.Error(t, err)
}

func TestEmbeddingIndexSQL(t *testing.T) {
	q, err := EmbeddingIndexSQL("newsfeed", "processed")
	require.NoError(t, err)
	assert.Contains(t, q, `ON "newsfeed".articles`)
	assert.Contains(t, q, "vector_cosine_ops")
	assert.Contains(t, q, "status = 'processed' AND embedding IS NOT NULL")

	q, err = EmbeddingIndexSQL("newsfeed", "")
	require.NoError(t, err)
	assert.False(t, strings.Contains(q, "status ="))
}

func TestIsMissingRelation(t *testing.T) {
	assert.True(t, IsMissingRelation(fmt.Errorf("query: %w", &pgconn.PgError{Code: "42P01"})))
	assert.True(t, IsMissingRelation(&pgconn.PgError{Code: "3F000"}))
	assert.False(t, IsMissingRelation(&pgconn.PgError{Code: "23505"}))
	assert.False(t, IsMissingRelation(fmt.Errorf("boom")))
	assert.True(t, IsUniqueViolation(&pgconn.PgError{Code: "23505"}))
}
