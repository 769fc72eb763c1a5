package migrate

import (
	"context"
	"fmt"
	"io/fs"
	"sort"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/doujins-org/newsfeed/migrations"
	"github.com/doujins-org/newsfeed/pg"
)

const dimsPlaceholder = "{{dims}}"

// ApplyPostgres applies the embedded migrations to schema in one transaction.
// dims fixes the vector column width for articles and user profiles.
//
// The HNSW index is built separately with pg.EnsureEmbeddingIndex because it
// needs CREATE INDEX CONCURRENTLY.
func ApplyPostgres(ctx context.Context, pool *pgxpool.Pool, schema string, dims int) error {
	if pool == nil {
		return fmt.Errorf("pool is required")
	}
	quotedSchema, err := pg.QuoteIdent(schema)
	if err != nil {
		return fmt.Errorf("invalid schema: %w", err)
	}
	stmts, err := Statements(dims)
	if err != nil {
		return err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire pg connection: %w", err)
	}
	defer conn.Release()

	tx, err := conn.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", quotedSchema)); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	if _, err := tx.Exec(ctx, fmt.Sprintf("SET LOCAL search_path = %s, public", quotedSchema)); err != nil {
		return fmt.Errorf("set search_path: %w", err)
	}

	for _, s := range stmts {
		if _, err := tx.Exec(ctx, s.SQL); err != nil {
			return fmt.Errorf("apply migration %s: %w", s.Name, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Statement is one rendered migration file.
type Statement struct {
	Name string
	SQL  string
}

// Statements renders the embedded migrations in apply order.
func Statements(dims int) ([]Statement, error) {
	if dims <= 0 {
		return nil, fmt.Errorf("dims must be > 0")
	}
	dirEntries, err := fs.ReadDir(migrations.Postgres, "postgres")
	if err != nil {
		return nil, fmt.Errorf("read embedded migrations: %w", err)
	}

	var files []string
	for _, de := range dirEntries {
		if de.IsDir() {
			continue
		}
		if name := de.Name(); strings.HasSuffix(name, ".up.sql") {
			files = append(files, name)
		}
	}
	sort.Strings(files)

	out := make([]Statement, 0, len(files))
	for _, f := range files {
		raw, err := fs.ReadFile(migrations.Postgres, "postgres/"+f)
		if err != nil {
			return nil, fmt.Errorf("read migration %s: %w", f, err)
		}
		out = append(out, Statement{
			Name: f,
			SQL:  strings.ReplaceAll(string(raw), dimsPlaceholder, strconv.Itoa(dims)),
		})
	}
	return out, nil
}
