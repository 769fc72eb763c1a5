// Package metrics holds the Prometheus collectors for the ranking engine, the
// profile update worker and the HTTP surface. Every method is safe on a nil
// *Metrics so components can run uninstrumented in tests.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "newsfeed"

type Metrics struct {
	// Ranking
	RankDuration   *prometheus.HistogramVec
	RankCandidates *prometheus.HistogramVec
	RankReturned   *prometheus.HistogramVec
	Degradations   *prometheus.CounterVec
	CacheLookups   *prometheus.CounterVec

	// Served feed quality
	FeedIntraListSimilarity *prometheus.HistogramVec
	FeedCategoryCoverage    *prometheus.HistogramVec

	// Profile updates
	ProfileUpdates *prometheus.CounterVec
	TaskBatchSize  prometheus.Histogram

	// HTTP
	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec

	BreakerState *prometheus.GaugeVec
}

// New registers all collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		RankDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "rank_duration_seconds",
			Help:      "End-to-end latency of ranking operations.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation", "path"}),
		RankCandidates: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "rank_candidates",
			Help:      "Candidates per request at each pipeline stage.",
			Buckets:   []float64{0, 5, 10, 25, 50, 100, 200, 400, 800},
		}, []string{"operation", "stage"}),
		RankReturned: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "rank_returned_items",
			Help:      "Items returned per ranking request.",
			Buckets:   []float64{0, 1, 3, 5, 10, 20, 50, 100},
		}, []string{"operation"}),
		Degradations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rank_degradations_total",
			Help:      "Requests served with reduced signals after a dependency failure.",
		}, []string{"operation", "reason"}),
		CacheLookups: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "candidate_cache_lookups_total",
			Help:      "Trend candidate cache lookups by result.",
		}, []string{"result"}),
		FeedIntraListSimilarity: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "feed_intra_list_similarity",
			Help:      "Mean pairwise cosine similarity of served feeds.",
			Buckets:   prometheus.LinearBuckets(0, 0.1, 11),
		}, []string{"operation"}),
		FeedCategoryCoverage: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "feed_category_coverage",
			Help:      "Distinct categories over items in served feeds.",
			Buckets:   prometheus.LinearBuckets(0, 0.1, 11),
		}, []string{"operation"}),
		ProfileUpdates: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "profile_updates_total",
			Help:      "Profile update tasks by outcome.",
		}, []string{"outcome"}),
		TaskBatchSize: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "profile_task_batch_size",
			Help:      "Tasks leased per worker poll.",
			Buckets:   []float64{0, 1, 5, 10, 25, 50, 100, 250},
		}),
		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route and status code.",
		}, []string{"route", "code"}),
		HTTPDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
		BreakerState: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "store_breaker_state",
			Help:      "Circuit breaker state: 0 closed, 1 half-open, 2 open.",
		}, []string{"name"}),
	}
}

func (m *Metrics) ObserveRank(op, path string, start time.Time, returned int) {
	if m == nil {
		return
	}
	m.RankDuration.WithLabelValues(op, path).Observe(time.Since(start).Seconds())
	m.RankReturned.WithLabelValues(op).Observe(float64(returned))
}

func (m *Metrics) ObserveCandidates(op, stage string, n int) {
	if m == nil {
		return
	}
	m.RankCandidates.WithLabelValues(op, stage).Observe(float64(n))
}

func (m *Metrics) Degraded(op, reason string) {
	if m == nil {
		return
	}
	m.Degradations.WithLabelValues(op, reason).Inc()
}

func (m *Metrics) CacheLookup(hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.CacheLookups.WithLabelValues("hit").Inc()
		return
	}
	m.CacheLookups.WithLabelValues("miss").Inc()
}

func (m *Metrics) ObserveFeed(op string, ils, coverage float64) {
	if m == nil {
		return
	}
	m.FeedIntraListSimilarity.WithLabelValues(op).Observe(ils)
	m.FeedCategoryCoverage.WithLabelValues(op).Observe(coverage)
}

func (m *Metrics) ProfileUpdate(outcome string) {
	if m == nil {
		return
	}
	m.ProfileUpdates.WithLabelValues(outcome).Inc()
}

func (m *Metrics) TaskBatch(n int) {
	if m == nil {
		return
	}
	m.TaskBatchSize.Observe(float64(n))
}

func (m *Metrics) ObserveHTTP(route string, code int, d time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(route, strconv.Itoa(code)).Inc()
	m.HTTPDuration.WithLabelValues(route).Observe(d.Seconds())
}

func (m *Metrics) SetBreakerState(name string, state int) {
	if m == nil {
		return
	}
	m.BreakerState.WithLabelValues(name).Set(float64(state))
}
