package tasks

import (
	"context"
	"sort"
	"sync"
	"time"
)

// DeadLetter is a task that exhausted its attempts or failed permanently.
type DeadLetter struct {
	Task  Task
	Error string
}

// MemoryQueue is an in-process queue with the same lease semantics as Repo.
type MemoryQueue struct {
	mu     sync.Mutex
	now    func() time.Time
	nextID int64
	tasks  map[int64]Task
	dead   []DeadLetter
}

func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{now: time.Now, tasks: make(map[int64]Task)}
}

func (q *MemoryQueue) Enqueue(_ context.Context, userID, articleID string, strength float64) (int64, error) {
	if err := validateEnqueue(userID, articleID, strength); err != nil {
		return 0, err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.nextID++
	now := q.now().UTC()
	q.tasks[q.nextID] = Task{
		ID:        q.nextID,
		UserID:    userID,
		ArticleID: articleID,
		Strength:  strength,
		NextRunAt: now,
		CreatedAt: now,
		UpdatedAt: now,
	}
	return q.nextID, nil
}

func (q *MemoryQueue) FetchReady(ctx context.Context, limit int, lockAhead time.Duration) ([]Task, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		return nil, nil
	}
	if lockAhead <= 0 {
		lockAhead = 30 * time.Second
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now().UTC()
	ready := make([]Task, 0, len(q.tasks))
	for _, t := range q.tasks {
		if !t.NextRunAt.After(now) {
			ready = append(ready, t)
		}
	}
	sort.Slice(ready, func(i, j int) bool {
		if ready[i].NextRunAt.Equal(ready[j].NextRunAt) {
			return ready[i].ID < ready[j].ID
		}
		return ready[i].NextRunAt.Before(ready[j].NextRunAt)
	})
	if len(ready) > limit {
		ready = ready[:limit]
	}
	for i := range ready {
		t := ready[i]
		if t.StartedAt == nil {
			started := now
			t.StartedAt = &started
		}
		t.NextRunAt = now.Add(lockAhead)
		t.UpdatedAt = now
		q.tasks[t.ID] = t
		ready[i] = t
	}
	return ready, nil
}

func (q *MemoryQueue) holds(t Task) bool {
	cur, ok := q.tasks[t.ID]
	return ok && cur.NextRunAt.Equal(t.Lease())
}

func (q *MemoryQueue) Complete(_ context.Context, t Task) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.holds(t) {
		delete(q.tasks, t.ID)
	}
	return nil
}

func (q *MemoryQueue) Fail(_ context.Context, t Task, backoff time.Duration) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.holds(t) {
		return nil
	}
	if backoff < time.Second {
		backoff = time.Second
	}
	cur := q.tasks[t.ID]
	cur.Attempts++
	cur.NextRunAt = q.now().UTC().Add(backoff)
	cur.UpdatedAt = q.now().UTC()
	q.tasks[t.ID] = cur
	return nil
}

func (q *MemoryQueue) DeadLetter(_ context.Context, t Task, cause error) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.holds(t) {
		return nil
	}
	delete(q.tasks, t.ID)
	msg := "unknown error"
	if cause != nil {
		msg = cause.Error()
	}
	q.dead = append(q.dead, DeadLetter{Task: t, Error: msg})
	return nil
}

// Len is the number of tasks still queued, leased or not.
func (q *MemoryQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks)
}

// Get returns a queued task by id.
func (q *MemoryQueue) Get(id int64) (Task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	t, ok := q.tasks[id]
	return t, ok
}

func (q *MemoryQueue) DeadLetters() []DeadLetter {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]DeadLetter(nil), q.dead...)
}
