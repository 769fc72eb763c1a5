// Package api is the HTTP surface the web tier calls. Handlers parse and
// validate query parameters, delegate to the recommendation service and map
// its sentinel errors onto status codes.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/doujins-org/newsfeed/metrics"
	"github.com/doujins-org/newsfeed/recommend"
)

// Enqueuer accepts profile update tasks. Satisfied by tasks.Repo and
// tasks.MemoryQueue.
type Enqueuer interface {
	Enqueue(ctx context.Context, userID, articleID string, strength float64) (int64, error)
}

type Options struct {
	Service *recommend.Service
	Queue   Enqueuer
	Logger  zerolog.Logger
	Metrics *metrics.Metrics
	// Gatherer backs GET /metrics. Nil disables the endpoint.
	Gatherer prometheus.Gatherer
	// Ready reports dependency health for /healthz. Nil is always ready.
	Ready func(ctx context.Context) error

	// CORSOrigins enables CORS for the listed origins.
	CORSOrigins []string
	// RateLimit caps /v1 requests per client IP per RateWindow. Zero disables.
	RateLimit  int
	RateWindow time.Duration
}

type Handler struct {
	svc      *recommend.Service
	queue    Enqueuer
	log      zerolog.Logger
	metrics  *metrics.Metrics
	ready    func(ctx context.Context) error
	validate *validator.Validate
}

// NewRouter builds the chi router with request ids, panic recovery and
// per-route metrics.
func NewRouter(opts Options) http.Handler {
	h := &Handler{
		svc:      opts.Service,
		queue:    opts.Queue,
		log:      opts.Logger.With().Str("component", "api").Logger(),
		metrics:  opts.Metrics,
		ready:    opts.Ready,
		validate: validator.New(),
	}

	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(h.observe)
	if len(opts.CORSOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: opts.CORSOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-Id"},
			MaxAge:         300,
		}))
	}

	r.Get("/healthz", h.Health)
	if opts.Gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/v1", func(r chi.Router) {
		if opts.RateLimit > 0 {
			window := opts.RateWindow
			if window <= 0 {
				window = time.Minute
			}
			r.Use(httprate.Limit(opts.RateLimit, window,
				httprate.WithKeyFuncs(httprate.KeyByIP),
				httprate.WithLimitHandler(h.rateLimited),
			))
		}
		r.Get("/recommendations", h.Recommendations)
		r.Get("/trend", h.Trend)
		r.Get("/categories/{category}", h.Category)
		r.Get("/articles/{id}/related", h.Related)
		r.Get("/search", h.Search)
		r.Post("/engagement", h.Engagement)
	})
	return r
}

// observe records latency and status by route pattern, and hands the chi
// request id to the service for log correlation.
func (h *Handler) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		if id := chimiddleware.GetReqID(r.Context()); id != "" {
			r = r.WithContext(recommend.WithRequestID(r.Context(), id))
		}
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		h.metrics.ObserveHTTP(route, status, time.Since(start))
	})
}

func (h *Handler) rateLimited(w http.ResponseWriter, _ *http.Request) {
	h.respondError(w, http.StatusTooManyRequests, "rate_limited", "too many requests")
}
