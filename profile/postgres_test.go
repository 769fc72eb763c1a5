package profile

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	pgvector "github.com/pgvector/pgvector-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRow struct {
	vec     []float32
	version int64
	user    string
	found   bool
}

func (r fakeRow) Scan(dest ...any) error {
	if !r.found {
		return pgx.ErrNoRows
	}
	*dest[0].(*string) = r.user
	*dest[1].(*[]float32) = append([]float32(nil), r.vec...)
	*dest[2].(*int64) = r.version
	*dest[3].(*time.Time) = time.Unix(0, 0).UTC()
	return nil
}

type fakeDB struct {
	mu      sync.Mutex
	rows    map[string]fakeRow
	writes  int
	onWrite func(db *fakeDB)
}

func newFakeDB() *fakeDB { return &fakeDB{rows: map[string]fakeRow{}} }

func (f *fakeDB) QueryRow(_ context.Context, _ string, args ...any) pgx.Row {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.rows[args[0].(string)]
}

func (f *fakeDB) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	f.mu.Lock()
	hook := f.onWrite
	f.onWrite = nil
	f.mu.Unlock()
	if hook != nil {
		hook(f)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes++
	user := args[0].(string)
	vec := args[1].(pgvector.Vector).Slice()
	cur := f.rows[user]

	switch {
	case strings.HasPrefix(sql, "INSERT"):
		if cur.found {
			return pgconn.NewCommandTag("INSERT 0 0"), nil
		}
		f.rows[user] = fakeRow{user: user, vec: vec, version: 1, found: true}
		return pgconn.NewCommandTag("INSERT 0 1"), nil
	case strings.HasPrefix(sql, "UPDATE"):
		if !cur.found || cur.version != args[2].(int64) {
			return pgconn.NewCommandTag("UPDATE 0"), nil
		}
		f.rows[user] = fakeRow{user: user, vec: vec, version: cur.version + 1, found: true}
		return pgconn.NewCommandTag("UPDATE 1"), nil
	}
	return pgconn.CommandTag{}, nil
}

func newTestPostgresStore(t *testing.T, db DB) *PostgresStore {
	t.Helper()
	s, err := NewPostgresStore(db, PostgresOptions{
		Schema:        "news",
		Policy:        DefaultPolicy(2),
		RetryInterval: time.Millisecond,
	})
	require.NoError(t, err)
	return s
}

func TestNewPostgresStore_Validates(t *testing.T) {
	_, err := NewPostgresStore(nil, PostgresOptions{Schema: "news", Policy: DefaultPolicy(2)})
	assert.Error(t, err)
	_, err = NewPostgresStore(newFakeDB(), PostgresOptions{Schema: "bad-schema", Policy: DefaultPolicy(2)})
	assert.Error(t, err)
	_, err = NewPostgresStore(newFakeDB(), PostgresOptions{Schema: "news"})
	assert.Error(t, err)
}

func TestPostgresStore_InsertThenCAS(t *testing.T) {
	db := newFakeDB()
	s := newTestPostgresStore(t, db)
	ctx := context.Background()

	p, err := s.Update(ctx, "u1", []float32{1, 0}, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), p.Version)

	p, err = s.Update(ctx, "u1", []float32{0, 1}, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(2), p.Version)

	got, ok, err := s.Get(ctx, "u1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, p.Vector, got.Vector)
}

func TestPostgresStore_RetriesLostRace(t *testing.T) {
	db := newFakeDB()
	s := newTestPostgresStore(t, db)
	ctx := context.Background()

	_, err := s.Update(ctx, "u1", []float32{1, 0}, 1)
	require.NoError(t, err)

	db.onWrite = func(db *fakeDB) {
		db.mu.Lock()
		defer db.mu.Unlock()
		r := db.rows["u1"]
		r.version++
		db.rows["u1"] = r
	}
	p, err := s.Update(ctx, "u1", []float32{0, 1}, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(3), p.Version, "retry applies on top of the concurrent write")
	assert.Equal(t, 3, db.writes)
}

func TestPostgresStore_ExhaustedRetriesIsConflict(t *testing.T) {
	db := newFakeDB()
	s, err := NewPostgresStore(db, PostgresOptions{
		Schema:        "news",
		Policy:        DefaultPolicy(2),
		MaxRetries:    2,
		RetryInterval: time.Millisecond,
	})
	require.NoError(t, err)
	ctx := context.Background()
	_, err = s.Update(ctx, "u1", []float32{1, 0}, 1)
	require.NoError(t, err)

	var bump func(db *fakeDB)
	bump = func(db *fakeDB) {
		db.mu.Lock()
		r := db.rows["u1"]
		r.version++
		db.rows["u1"] = r
		db.onWrite = bump
		db.mu.Unlock()
	}
	db.onWrite = bump

	_, err = s.Update(ctx, "u1", []float32{0, 1}, 1)
	assert.ErrorIs(t, err, ErrUpdateConflict)
}

func TestPostgresStore_RejectsBeforeIO(t *testing.T) {
	db := newFakeDB()
	s := newTestPostgresStore(t, db)
	_, err := s.Update(context.Background(), "u1", []float32{1, 0, 0}, 1)
	assert.ErrorIs(t, err, ErrInvalidVectorDimension)
	assert.Zero(t, db.writes)
}
