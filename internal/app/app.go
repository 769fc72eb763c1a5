// Package app wires configuration into running components: stores, the
// recommendation service, the profile worker and the HTTP handler.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-redis/redis/v8"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"

	"github.com/doujins-org/newsfeed/api"
	"github.com/doujins-org/newsfeed/config"
	"github.com/doujins-org/newsfeed/embedder"
	"github.com/doujins-org/newsfeed/metrics"
	"github.com/doujins-org/newsfeed/migrate"
	"github.com/doujins-org/newsfeed/pg"
	"github.com/doujins-org/newsfeed/profile"
	"github.com/doujins-org/newsfeed/recommend"
	"github.com/doujins-org/newsfeed/search"
	"github.com/doujins-org/newsfeed/tasks"
	"github.com/doujins-org/newsfeed/tracing"
	"github.com/doujins-org/newsfeed/worker"
)

// Queue is what both the API (enqueue) and the worker (drain) need.
type Queue interface {
	api.Enqueuer
	worker.Queue
}

type App struct {
	Config   *config.Config
	Log      zerolog.Logger
	Registry *prometheus.Registry
	Metrics  *metrics.Metrics

	Articles search.Store
	Profiles profile.Store
	Queue    Queue
	Service  *recommend.Service
	Worker   *worker.Worker
	Handler  http.Handler

	pool     *pgxpool.Pool
	redis    redis.UniversalClient
	shutdown tracing.Shutdown
}

// New connects to the configured backends and builds every component. With
// no Postgres DSN all stores run in memory.
func New(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*App, error) {
	a := &App{Config: cfg, Log: log, Registry: prometheus.NewRegistry(), shutdown: func(context.Context) error { return nil }}
	a.Registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	a.Metrics = metrics.New(a.Registry)

	ok := false
	defer func() {
		if !ok {
			_ = a.Close(context.Background())
		}
	}()

	shutdown, err := tracing.Setup(ctx, cfg.Tracing)
	if err != nil {
		return nil, err
	}
	a.shutdown = shutdown

	if err := a.openPostgres(ctx); err != nil {
		return nil, err
	}
	if err := a.buildArticles(); err != nil {
		return nil, err
	}
	if err := a.buildProfiles(ctx); err != nil {
		return nil, err
	}

	var emb embedder.Embedder
	if cfg.Embedder.Enabled() {
		oc, err := embedder.NewOpenAICompatible(embedder.OpenAICompatibleConfig{
			BaseURL:       cfg.Embedder.BaseURL,
			APIKey:        cfg.Embedder.APIKey,
			Model:         cfg.Embedder.Model,
			Dimensions:    cfg.Recommend.Dimensions,
			Timeout:       cfg.Embedder.Timeout,
			QueryPrefix:   cfg.Embedder.QueryPrefix,
			MaxInputRunes: cfg.Embedder.MaxInputRunes,
			MaxRetries:    cfg.Embedder.MaxRetries,
		})
		if err != nil {
			return nil, fmt.Errorf("embedder: %w", err)
		}
		emb = embedder.NewCached(oc, cfg.Embedder.CacheSize, cfg.Embedder.CacheTTL)
	}

	a.Service, err = recommend.New(recommend.Options{
		Config:   cfg.Recommend,
		Articles: a.Articles,
		Profiles: a.Profiles,
		Embedder: emb,
		Logger:   log,
		Metrics:  a.Metrics,
	})
	if err != nil {
		return nil, err
	}

	w := cfg.Worker
	a.Worker, err = worker.New(a.Queue, a.Articles, a.Profiles, worker.Options{
		BatchSize:           w.BatchSize,
		LockAhead:           w.LockAhead,
		PollEvery:           w.PollEvery,
		MaxConcurrent:       w.MaxConcurrent,
		MaxUpdatesPerSecond: w.MaxUpdatesPerSecond,
		MaxAttempts:         w.MaxAttempts,
		BackoffBase:         w.BackoffBase,
		BackoffMax:          w.BackoffMax,
		Logger:              log,
		Metrics:             a.Metrics,
	})
	if err != nil {
		return nil, err
	}

	a.Handler = api.NewRouter(api.Options{
		Service:     a.Service,
		Queue:       a.Queue,
		Logger:      log,
		Metrics:     a.Metrics,
		Gatherer:    a.Registry,
		Ready:       a.Ready,
		CORSOrigins: cfg.Server.CORSOrigins,
		RateLimit:   cfg.Server.RateLimit,
		RateWindow:  cfg.Server.RateWindow,
	})
	ok = true
	return a, nil
}

func (a *App) openPostgres(ctx context.Context) error {
	pc := a.Config.Postgres
	if pc.DSN == "" {
		a.Log.Warn().Msg("no postgres dsn configured; running with in-memory stores")
		a.Queue = tasks.NewMemoryQueue()
		return nil
	}
	poolCfg, err := pgxpool.ParseConfig(pc.DSN)
	if err != nil {
		return fmt.Errorf("parse postgres dsn: %w", err)
	}
	if pc.MaxConns > 0 {
		poolCfg.MaxConns = pc.MaxConns
	}
	a.pool, err = pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	if err := a.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	if pc.Migrate {
		if err := a.Migrate(ctx); err != nil {
			return err
		}
	}
	if pc.EnsureIndex {
		if err := pg.EnsureEmbeddingIndex(ctx, a.pool, pc.Schema, a.Config.Recommend.Quality.RequiredStatus); err != nil {
			return fmt.Errorf("ensure embedding index: %w", err)
		}
	}
	repo, err := tasks.NewRepo(a.pool, pc.Schema)
	if err != nil {
		return err
	}
	a.Queue = repo
	return nil
}

// Migrate applies the embedded schema. Requires a Postgres DSN.
func (a *App) Migrate(ctx context.Context) error {
	if a.pool == nil {
		return errors.New("migrate requires postgres.dsn")
	}
	if err := migrate.ApplyPostgres(ctx, a.pool, a.Config.Postgres.Schema, a.Config.Recommend.Dimensions); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	a.Log.Info().Str("schema", a.Config.Postgres.Schema).Msg("migrations applied")
	return nil
}

func (a *App) buildArticles() error {
	var store search.Store
	if a.pool != nil {
		pgStore, err := search.NewPostgresStore(a.pool, a.Config.Postgres.Schema)
		if err != nil {
			return fmt.Errorf("article store: %w", err)
		}
		store = pgStore
	} else {
		store = search.NewMemoryStore()
	}
	store = search.NewTracedStore(store, nil)

	if b := a.Config.Breaker; b.Enabled {
		store = search.NewBreakerStore(store, search.BreakerSettings{
			Name:                "article-store",
			MaxRequests:         b.MaxRequests,
			Interval:            b.Interval,
			Timeout:             b.Timeout,
			ConsecutiveFailures: b.ConsecutiveFailures,
			OnStateChange: func(name string, from, to gobreaker.State) {
				a.Log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("breaker state changed")
				a.Metrics.SetBreakerState(name, breakerGauge(to))
			},
		})
	}
	a.Articles = store
	return nil
}

func breakerGauge(s gobreaker.State) int {
	switch s {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}

func (a *App) buildProfiles(ctx context.Context) error {
	policy := profile.Policy{
		Dimensions: a.Config.Recommend.Dimensions,
		BaseRate:   a.Config.Profiles.BaseRate,
		Normalize:  a.Config.Profiles.Normalize,
	}
	var err error
	switch backend := a.Config.ProfileBackend(); backend {
	case config.BackendMemory:
		a.Profiles, err = profile.NewMemoryStore(policy)
	case config.BackendPostgres:
		if a.pool == nil {
			return errors.New("postgres profile backend requires postgres.dsn")
		}
		a.Profiles, err = profile.NewPostgresStore(a.pool, profile.PostgresOptions{
			Schema:     a.Config.Postgres.Schema,
			Policy:     policy,
			MaxRetries: a.Config.Profiles.MaxRetries,
		})
	case config.BackendRedis:
		rc := a.Config.Redis
		a.redis = redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs:    []string{rc.Addr},
			Password: rc.Password,
			DB:       rc.DB,
		})
		if perr := a.redis.Ping(ctx).Err(); perr != nil {
			return fmt.Errorf("ping redis: %w", perr)
		}
		a.Profiles, err = profile.NewRedisStore(a.redis, profile.RedisOptions{
			Prefix:     rc.Prefix,
			Policy:     policy,
			MaxRetries: a.Config.Profiles.MaxRetries,
			TTL:        rc.TTL,
		})
	default:
		return fmt.Errorf("unknown profile backend %q", backend)
	}
	if err != nil {
		return fmt.Errorf("profile store: %w", err)
	}
	return nil
}

// Ready pings the backends in use.
func (a *App) Ready(ctx context.Context) error {
	if a.pool != nil {
		if err := a.pool.Ping(ctx); err != nil {
			return fmt.Errorf("postgres: %w", err)
		}
	}
	if a.redis != nil {
		if err := a.redis.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis: %w", err)
		}
	}
	return nil
}

// Close releases connections and flushes traces.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.redis != nil {
		errs = append(errs, a.redis.Close())
	}
	if a.pool != nil {
		a.pool.Close()
	}
	if a.shutdown != nil {
		errs = append(errs, a.shutdown(ctx))
	}
	return errors.Join(errs...)
}
