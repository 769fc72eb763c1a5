package tasks

import "time"

// Task asks the worker to fold one article's embedding into one user's
// profile with the given engagement strength.
type Task struct {
	ID        int64
	UserID    string
	ArticleID string
	Strength  float64
	// Attempts counts prior failures.
	Attempts  int
	NextRunAt time.Time
	StartedAt *time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Lease is the next_run_at value written by FetchReady. Complete, Fail and
// DeadLetter only touch the row while it still holds this lease.
func (t Task) Lease() time.Time { return t.NextRunAt }
