package tasks

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRepo_Validates(t *testing.T) {
	_, err := NewRepo(nil, "news")
	assert.Error(t, err)
}

func TestValidateEnqueue(t *testing.T) {
	assert.NoError(t, validateEnqueue("u", "a", 0.5))
	assert.Error(t, validateEnqueue(" ", "a", 0.5))
	assert.Error(t, validateEnqueue("u", "", 0.5))
	assert.Error(t, validateEnqueue("u", "a", math.NaN()))
}

func TestMemoryQueue_LeaseLifecycle(t *testing.T) {
	q := NewMemoryQueue()
	clock := time.Date(2026, 1, 13, 12, 0, 0, 0, time.UTC)
	q.now = func() time.Time { return clock }
	ctx := context.Background()

	id1, err := q.Enqueue(ctx, "u1", "a1", 0.7)
	require.NoError(t, err)
	id2, err := q.Enqueue(ctx, "u2", "a2", 0.3)
	require.NoError(t, err)

	batch, err := q.FetchReady(ctx, 10, time.Minute)
	require.NoError(t, err)
	require.Len(t, batch, 2)
	assert.Equal(t, id1, batch[0].ID)
	assert.NotNil(t, batch[0].StartedAt)

	again, err := q.FetchReady(ctx, 10, time.Minute)
	require.NoError(t, err)
	assert.Empty(t, again, "leased tasks are not handed out twice")

	require.NoError(t, q.Complete(ctx, batch[0]))
	require.NoError(t, q.Fail(ctx, batch[1], 10*time.Second))
	assert.Equal(t, 1, q.Len())

	cur, ok := q.Get(id2)
	require.True(t, ok)
	assert.Equal(t, 1, cur.Attempts)

	clock = clock.Add(11 * time.Second)
	batch, err = q.FetchReady(ctx, 10, time.Minute)
	require.NoError(t, err)
	require.Len(t, batch, 1)

	require.NoError(t, q.DeadLetter(ctx, batch[0], errors.New("boom")))
	assert.Zero(t, q.Len())
	dead := q.DeadLetters()
	require.Len(t, dead, 1)
	assert.Equal(t, "boom", dead[0].Error)
}

func TestMemoryQueue_StaleLeaseIsIgnored(t *testing.T) {
	q := NewMemoryQueue()
	clock := time.Date(2026, 1, 13, 12, 0, 0, 0, time.UTC)
	q.now = func() time.Time { return clock }
	ctx := context.Background()

	_, err := q.Enqueue(ctx, "u1", "a1", 1)
	require.NoError(t, err)
	first, err := q.FetchReady(ctx, 1, time.Second)
	require.NoError(t, err)
	require.Len(t, first, 1)

	clock = clock.Add(2 * time.Second)
	second, err := q.FetchReady(ctx, 1, time.Minute)
	require.NoError(t, err)
	require.Len(t, second, 1)

	require.NoError(t, q.Complete(ctx, first[0]))
	assert.Equal(t, 1, q.Len(), "expired lease cannot complete the task")
	require.NoError(t, q.Complete(ctx, second[0]))
	assert.Zero(t, q.Len())
}
