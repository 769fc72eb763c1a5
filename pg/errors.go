package pg

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

const (
	codeUndefinedTable  = "42P01"
	codeUndefinedSchema = "3F000"
	codeUniqueViolation = "23505"
)

// IsMissingRelation reports whether err means the schema or table does not
// exist yet, e.g. before the first migration or index build.
func IsMissingRelation(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == codeUndefinedTable || pgErr.Code == codeUndefinedSchema
}

// IsUniqueViolation reports a lost insert race on a primary or unique key.
func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == codeUniqueViolation
}
