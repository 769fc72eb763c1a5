package pg

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// EnsureEmbeddingIndex creates the HNSW cosine index over
// <schema>.articles.embedding, restricted to processed rows.
//
// This must NOT run inside a transaction because it uses CREATE INDEX CONCURRENTLY.
func EnsureEmbeddingIndex(ctx context.Context, pool *pgxpool.Pool, schema string, status string) error {
	if pool == nil {
		return fmt.Errorf("pool is required")
	}
	q, err := EmbeddingIndexSQL(schema, status)
	if err != nil {
		return err
	}
	_, err = pool.Exec(ctx, q)
	return err
}

// EmbeddingIndexSQL renders the DDL used by EnsureEmbeddingIndex.
func EmbeddingIndexSQL(schema string, status string) (string, error) {
	qs, err := QuoteIdent(schema)
	if err != nil {
		return "", fmt.Errorf("invalid schema: %w", err)
	}
	pred := "embedding IS NOT NULL"
	if status != "" {
		pred = "status = " + quoteLiteral(status) + " AND " + pred
	}
	return fmt.Sprintf(`
		CREATE INDEX CONCURRENTLY IF NOT EXISTS idx_articles_embedding_hnsw_cosine
		ON %s.articles
		USING hnsw (embedding vector_cosine_ops)
		WHERE %s
	`, qs, pred), nil
}
