package worker

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/doujins-org/newsfeed/article"
	"github.com/doujins-org/newsfeed/metrics"
	"github.com/doujins-org/newsfeed/profile"
	"github.com/doujins-org/newsfeed/search"
	"github.com/doujins-org/newsfeed/tasks"
)

// ErrMissingEmbedding marks an article that has no vector to learn from.
var ErrMissingEmbedding = errors.New("article has no embedding")

// Queue is the lease-based task source. *tasks.Repo and *tasks.MemoryQueue
// implement it.
type Queue interface {
	FetchReady(ctx context.Context, limit int, lockAhead time.Duration) ([]tasks.Task, error)
	Complete(ctx context.Context, t tasks.Task) error
	Fail(ctx context.Context, t tasks.Task, backoff time.Duration) error
	DeadLetter(ctx context.Context, t tasks.Task, cause error) error
}

// ArticleSource resolves the article whose embedding is folded into the
// profile. search.Store satisfies it.
type ArticleSource interface {
	Get(ctx context.Context, id string) (article.Candidate, error)
}

type Options struct {
	BatchSize int
	LockAhead time.Duration
	PollEvery time.Duration

	MaxConcurrent       int
	MaxUpdatesPerSecond float64 // 0 = unlimited

	MaxAttempts int
	BackoffBase time.Duration
	BackoffMax  time.Duration

	Logger  zerolog.Logger
	Metrics *metrics.Metrics
	Seed    int64
}

func (o *Options) withDefaults() Options {
	out := *o
	if out.BatchSize <= 0 {
		out.BatchSize = 100
	}
	if out.LockAhead <= 0 {
		out.LockAhead = 30 * time.Second
	}
	if out.PollEvery <= 0 {
		out.PollEvery = 2 * time.Second
	}
	if out.MaxConcurrent <= 0 {
		out.MaxConcurrent = 8
	}
	if out.MaxAttempts <= 0 {
		out.MaxAttempts = 10
	}
	if out.BackoffBase <= 0 {
		out.BackoffBase = 5 * time.Second
	}
	if out.BackoffMax <= 0 {
		out.BackoffMax = 10 * time.Minute
	}
	if out.Seed == 0 {
		out.Seed = time.Now().UnixNano()
	}
	return out
}

// Worker drains profile update tasks.
type Worker struct {
	queue    Queue
	articles ArticleSource
	profiles profile.Store
	cfg      Options
	log      zerolog.Logger
	// limiter caps profile writes per second; nil is unlimited.
	limiter *rate.Limiter

	rngMu sync.Mutex
	rng   *rand.Rand
}

func New(queue Queue, articles ArticleSource, profiles profile.Store, opts Options) (*Worker, error) {
	if queue == nil {
		return nil, fmt.Errorf("queue is required")
	}
	if articles == nil {
		return nil, fmt.Errorf("article source is required")
	}
	if profiles == nil {
		return nil, fmt.Errorf("profile store is required")
	}
	cfg := opts.withDefaults()
	w := &Worker{
		queue:    queue,
		articles: articles,
		profiles: profiles,
		cfg:      cfg,
		log:      cfg.Logger.With().Str("component", "profile_worker").Logger(),
		rng:      rand.New(rand.NewSource(cfg.Seed)),
	}
	if cfg.MaxUpdatesPerSecond > 0 {
		w.limiter = rate.NewLimiter(rate.Limit(cfg.MaxUpdatesPerSecond), cfg.MaxConcurrent)
	}
	return w, nil
}

func isPermanent(err error) bool {
	return errors.Is(err, search.ErrNotFound) ||
		errors.Is(err, ErrMissingEmbedding) ||
		errors.Is(err, profile.ErrInvalidVectorDimension) ||
		errors.Is(err, profile.ErrInvalidVector)
}

func expBackoff(base time.Duration, attempt int, max time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	mult := math.Pow(2, float64(attempt-1))
	d := time.Duration(float64(base) * mult)
	if d > max || d <= 0 {
		return max
	}
	return d
}

func addJitter(rng *rand.Rand, d time.Duration) time.Duration {
	if d < 4 {
		return d
	}
	// Up to 25% jitter.
	return d + time.Duration(rng.Int63n(int64(d/4)))
}

func (w *Worker) apply(ctx context.Context, t tasks.Task) error {
	a, err := w.articles.Get(ctx, t.ArticleID)
	if err != nil {
		return err
	}
	if len(a.Embedding) == 0 {
		return fmt.Errorf("%w: %s", ErrMissingEmbedding, t.ArticleID)
	}
	_, err = w.profiles.Update(ctx, t.UserID, a.Embedding, t.Strength)
	return err
}

func (w *Worker) handleResult(ctx context.Context, t tasks.Task, err error) {
	if err == nil {
		w.cfg.Metrics.ProfileUpdate("applied")
		if cerr := w.queue.Complete(ctx, t); cerr != nil {
			w.log.Warn().Err(cerr).Int64("task_id", t.ID).Msg("complete task")
		}
		return
	}
	if errors.Is(err, context.Canceled) && ctx.Err() != nil {
		// Shutdown; the lease expires and another poll picks it up.
		return
	}

	// This failure counts as the next attempt (Attempts is prior failures).
	t.Attempts++
	w.log.Warn().
		Err(err).
		Int64("task_id", t.ID).
		Str("user_id", t.UserID).
		Str("article_id", t.ArticleID).
		Int("attempts", t.Attempts).
		Msg("profile update failed")

	if isPermanent(err) || t.Attempts >= w.cfg.MaxAttempts {
		w.cfg.Metrics.ProfileUpdate("dead_letter")
		if derr := w.queue.DeadLetter(ctx, t, err); derr != nil {
			w.log.Error().Err(derr).Int64("task_id", t.ID).Msg("dead-letter task")
		}
		return
	}

	w.rngMu.Lock()
	backoff := addJitter(w.rng, expBackoff(w.cfg.BackoffBase, t.Attempts, w.cfg.BackoffMax))
	w.rngMu.Unlock()

	w.cfg.Metrics.ProfileUpdate("retry")
	if ferr := w.queue.Fail(ctx, t, backoff); ferr != nil {
		w.log.Error().Err(ferr).Int64("task_id", t.ID).Msg("reschedule task")
	}
}

func (w *Worker) processBatch(ctx context.Context, batch []tasks.Task) {
	var g errgroup.Group
	g.SetLimit(w.cfg.MaxConcurrent)
	for _, t := range batch {
		t := t
		g.Go(func() error {
			if w.limiter != nil {
				if err := w.limiter.Wait(ctx); err != nil {
					return nil
				}
			}
			w.handleResult(ctx, t, w.apply(ctx, t))
			return nil
		})
	}
	_ = g.Wait()
}

// DrainOnce leases and processes a single batch, returning how many tasks
// were leased. Useful from an external scheduler.
func (w *Worker) DrainOnce(ctx context.Context) (int, error) {
	batch, err := w.queue.FetchReady(ctx, w.cfg.BatchSize, w.cfg.LockAhead)
	if err != nil {
		return 0, err
	}
	w.cfg.Metrics.TaskBatch(len(batch))
	if len(batch) == 0 {
		return 0, nil
	}
	w.processBatch(ctx, batch)
	return len(batch), nil
}

// Run polls until ctx is done. Fetch errors are logged and retried on the
// next tick.
func (w *Worker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.cfg.PollEvery)
	defer ticker.Stop()

	w.log.Info().Dur("poll_every", w.cfg.PollEvery).Int("batch_size", w.cfg.BatchSize).Msg("worker started")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			batch, err := w.queue.FetchReady(ctx, w.cfg.BatchSize, w.cfg.LockAhead)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				w.log.Error().Err(err).Msg("fetch ready tasks")
				continue
			}
			w.cfg.Metrics.TaskBatch(len(batch))
			w.processBatch(ctx, batch)
		}
	}
}
