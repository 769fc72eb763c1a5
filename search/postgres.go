package search

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/doujins-org/newsfeed/article"
	"github.com/doujins-org/newsfeed/pg"
)

const articlesTable = "articles"

// hnsw.ef_search is capped at 1000 by pgvector.
const maxEfSearch = 1000

var candidateColumns = []string{
	"article_id",
	"title",
	"image",
	"press",
	"category",
	"status",
	"collected_at",
	"embedding::real[]",
	"trend_score",
	"trust_score",
}

var sortColumns = map[article.SortField]string{
	article.SortTrend:       "trend_score",
	article.SortTrust:       "trust_score",
	article.SortCollectedAt: "collected_at",
}

// PostgresStore reads candidates from <schema>.articles using pgvector for
// cosine kNN and squirrel for structured filters.
type PostgresStore struct {
	pool  *pgxpool.Pool
	table string
	sb    sq.StatementBuilderType
}

var _ Store = (*PostgresStore)(nil)

func NewPostgresStore(pool *pgxpool.Pool, schema string) (*PostgresStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	table, err := pg.Table(schema, articlesTable)
	if err != nil {
		return nil, err
	}
	return &PostgresStore{
		pool:  pool,
		table: table,
		sb:    sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
	}, nil
}

func (s *PostgresStore) SearchByVector(ctx context.Context, q VectorQuery) ([]article.Candidate, error) {
	sql, args, err := s.vectorSQL(q)
	if err != nil {
		return nil, err
	}
	if sql == "" {
		return []article.Candidate{}, nil
	}

	ef := q.NumCandidates
	if ef < q.K {
		ef = q.K
	}
	if ef > maxEfSearch {
		ef = maxEfSearch
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: begin: %v", ErrUnavailable, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, "SELECT set_config('hnsw.ef_search', $1, true)", strconv.Itoa(ef)); err != nil {
		return nil, fmt.Errorf("%w: set ef_search: %v", ErrUnavailable, err)
	}

	rows, err := tx.Query(ctx, sql, args...)
	if err != nil {
		return s.emptyOnMissing(err)
	}
	out, err := scanCandidates(rows, true)
	if err != nil {
		return s.emptyOnMissing(err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("%w: commit: %v", ErrUnavailable, err)
	}
	return out, nil
}

func (s *PostgresStore) vectorSQL(q VectorQuery) (string, []any, error) {
	if q.K <= 0 || len(q.Vector) == 0 {
		return "", nil, nil
	}
	vec := pg.QueryVector(q.Vector)
	b := s.sb.Select(candidateColumns...).
		Column(sq.Expr(pg.SimilarityExpr("embedding")+" AS similarity", vec)).
		From(s.table).
		Where("embedding IS NOT NULL")
	b = applyFilter(b, q.Filter)
	b = b.OrderByClause(pg.DistanceOrderExpr("embedding"), vec).
		OrderBy("article_id ASC").
		Limit(uint64(q.K))
	return b.ToSql()
}

func (s *PostgresStore) SearchByFilter(ctx context.Context, q FilterQuery) ([]article.Candidate, error) {
	sql, args, err := s.filterSQL(q)
	if err != nil {
		return nil, err
	}
	if sql == "" {
		return []article.Candidate{}, nil
	}
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return s.emptyOnMissing(err)
	}
	out, err := scanCandidates(rows, false)
	if err != nil {
		return s.emptyOnMissing(err)
	}
	return out, nil
}

func (s *PostgresStore) filterSQL(q FilterQuery) (string, []any, error) {
	if q.Size <= 0 {
		return "", nil, nil
	}
	b := s.sb.Select(candidateColumns...).From(s.table)
	b = applyFilter(b, q.Filter)
	for _, o := range q.Sort {
		col, ok := sortColumns[o.Field]
		if !ok {
			return "", nil, fmt.Errorf("unsupported sort field %q", o.Field)
		}
		dir := "ASC"
		if o.Desc {
			dir = "DESC"
		}
		b = b.OrderBy(col + " " + dir + " NULLS LAST")
	}
	b = b.OrderBy("article_id ASC").Limit(uint64(q.Size))
	return b.ToSql()
}

// SearchText runs Postgres full-text search over the generated tsv column.
// websearch_to_tsquery is tried first; unparseable input falls back to
// plainto_tsquery.
func (s *PostgresStore) SearchText(ctx context.Context, query string, limit int, filter article.Filter) ([]article.Candidate, error) {
	q := strings.Join(strings.Fields(query), " ")
	if limit <= 0 || q == "" {
		return []article.Candidate{}, nil
	}

	run := func(fn string) ([]article.Candidate, error) {
		b := s.sb.Select(candidateColumns...).
			Column(sq.Expr("ts_rank_cd(tsv, "+fn+"('simple', ?))::float8 AS score", q)).
			From(s.table).
			Where(sq.Expr("tsv @@ "+fn+"('simple', ?)", q))
		b = applyFilter(b, filter)
		sql, args, err := b.OrderBy("score DESC", "article_id ASC").Limit(uint64(limit)).ToSql()
		if err != nil {
			return nil, err
		}
		rows, err := s.pool.Query(ctx, sql, args...)
		if err != nil {
			return nil, err
		}
		return scanCandidates(rows, true)
	}

	out, err := run("websearch_to_tsquery")
	if err == nil {
		return out, nil
	}
	if pg.IsMissingRelation(err) {
		return []article.Candidate{}, nil
	}
	out, err = run("plainto_tsquery")
	if err != nil {
		return s.emptyOnMissing(err)
	}
	return out, nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (article.Candidate, error) {
	if strings.TrimSpace(id) == "" {
		return article.Candidate{}, ErrNotFound
	}
	sql, args, err := s.sb.Select(candidateColumns...).
		From(s.table).
		Where(sq.Eq{"article_id": id}).
		Limit(1).
		ToSql()
	if err != nil {
		return article.Candidate{}, err
	}
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		if pg.IsMissingRelation(err) {
			return article.Candidate{}, ErrNotFound
		}
		return article.Candidate{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	out, err := scanCandidates(rows, false)
	if err != nil {
		return article.Candidate{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if len(out) == 0 {
		return article.Candidate{}, ErrNotFound
	}
	return out[0], nil
}

func (s *PostgresStore) emptyOnMissing(err error) ([]article.Candidate, error) {
	if pg.IsMissingRelation(err) {
		return []article.Candidate{}, nil
	}
	return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
}

func applyFilter(b sq.SelectBuilder, f article.Filter) sq.SelectBuilder {
	if f.Status != "" {
		b = b.Where(sq.Eq{"status": f.Status})
	}
	if f.Category != "" {
		b = b.Where(sq.Eq{"category": f.Category})
	}
	if !f.Since.IsZero() {
		b = b.Where(sq.GtOrEq{"collected_at": f.Since.UTC()})
	}
	if len(f.ExcludeIDs) > 0 {
		b = b.Where(sq.NotEq{"article_id": f.ExcludeIDs})
	}
	return b
}

func scanCandidates(rows pgx.Rows, withScore bool) ([]article.Candidate, error) {
	defer rows.Close()

	out := []article.Candidate{}
	for rows.Next() {
		var (
			c     article.Candidate
			score float64
		)
		dest := []any{
			&c.ID,
			&c.Title,
			&c.Image,
			&c.Press,
			&c.Category,
			&c.Status,
			&c.CollectedAt,
			&c.Embedding,
			&c.TrendScore,
			&c.TrustScore,
		}
		if withScore {
			dest = append(dest, &score)
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, err
		}
		if withScore {
			c.RetrievalScore = article.Float(score)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return out, nil
		}
		return nil, err
	}
	return out, nil
}
