package pg

import (
	"fmt"

	pgvector "github.com/pgvector/pgvector-go"
)

// VectorType returns the SQL type name for a pgvector column of dim entries.
func VectorType(dim int) string {
	return fmt.Sprintf("vector(%d)", dim)
}

// QueryVector wraps a []float32 for parameter binding via pgvector-go.
func QueryVector(vec []float32) pgvector.Vector {
	return pgvector.NewVector(vec)
}

// SimilarityExpr computes cosine similarity from the cosine distance operator
// for a vector column against a bound placeholder.
func SimilarityExpr(column string) string {
	return "(1 - (" + column + " <=> ?))::float8"
}

// DistanceOrderExpr is the ORDER BY expression that lets an HNSW cosine index
// serve the query.
func DistanceOrderExpr(column string) string {
	return column + " <=> ?"
}
