package recommend

import (
	"context"
	"errors"
	"math"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/doujins-org/newsfeed/article"
	"github.com/doujins-org/newsfeed/metrics"
	"github.com/doujins-org/newsfeed/profile"
	"github.com/doujins-org/newsfeed/search"
)

var (
	testNow = time.Date(2026, 1, 13, 12, 0, 0, 0, time.UTC)

	embA = []float32{1, 0, 0}
	embB = []float32{0.95, float32(math.Sqrt(1 - 0.95*0.95)), 0}
	embC = []float32{0.8, 0, 0.6}
)

type stubStore struct {
	*search.MemoryStore

	vector    []article.Candidate
	vectorErr error
	filterErr error
	textErr   error
	getErr    error

	mu    sync.Mutex
	calls map[string]int
}

func newStubStore() *stubStore {
	return &stubStore{MemoryStore: search.NewMemoryStore(), calls: map[string]int{}}
}

func (s *stubStore) count(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[name]++
}

func (s *stubStore) Calls(name string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[name]
}

func (s *stubStore) total() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, v := range s.calls {
		n += v
	}
	return n
}

func (s *stubStore) SearchByVector(ctx context.Context, q search.VectorQuery) ([]article.Candidate, error) {
	s.count("vector")
	if s.vectorErr != nil {
		return nil, s.vectorErr
	}
	if s.vector != nil {
		return s.vector, nil
	}
	return s.MemoryStore.SearchByVector(ctx, q)
}

func (s *stubStore) SearchByFilter(ctx context.Context, q search.FilterQuery) ([]article.Candidate, error) {
	s.count("filter")
	if s.filterErr != nil {
		return nil, s.filterErr
	}
	return s.MemoryStore.SearchByFilter(ctx, q)
}

func (s *stubStore) SearchText(ctx context.Context, query string, limit int, f article.Filter) ([]article.Candidate, error) {
	s.count("text")
	if s.textErr != nil {
		return nil, s.textErr
	}
	return s.MemoryStore.SearchText(ctx, query, limit, f)
}

func (s *stubStore) Get(ctx context.Context, id string) (article.Candidate, error) {
	s.count("get")
	if s.getErr != nil {
		return article.Candidate{}, s.getErr
	}
	return s.MemoryStore.Get(ctx, id)
}

type failingProfiles struct{}

func (failingProfiles) Get(context.Context, string) (profile.Preference, bool, error) {
	return profile.Preference{}, false, errors.New("redis: connection refused")
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Dimensions = 3
	cfg.MMR.MinK = 1
	cfg.Cache.Enabled = false
	cfg.Seed = 1
	return cfg
}

func cand(id, title string, emb []float32, retrieval, trend, trust float64) article.Candidate {
	return article.Candidate{
		ID:             id,
		Title:          title,
		Press:          "Daily " + id,
		Category:       "economy",
		Status:         article.StatusProcessed,
		CollectedAt:    testNow.Add(-time.Hour),
		Embedding:      emb,
		RetrievalScore: article.Float(retrieval),
		TrendScore:     article.Float(trend),
		TrustScore:     article.Float(trust),
	}
}

// scenario is A, B (near-duplicate of A) and C with the relevance, trend
// and trust values of the canonical diversity example.
func scenario() []article.Candidate {
	return []article.Candidate{
		cand("A", "Central bank raises interest rates", embA, 0.9, 0.1, 0.5),
		cand("B", "Central bank lifts interest rates again", embB, 0.85, 0.1, 0.5),
		cand("C", "National team reaches the cup final", embC, 0.3, 0.9, 0.9),
	}
}

type fixture struct {
	store    *stubStore
	profiles *profile.MemoryStore
	metrics  *metrics.Metrics
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	profiles, err := profile.NewMemoryStore(profile.DefaultPolicy(3))
	require.NoError(t, err)
	store := newStubStore()
	store.Put(scenario()...)
	return fixture{store: store, profiles: profiles, metrics: metrics.New(prometheus.NewRegistry())}
}

func (f fixture) service(t *testing.T, cfg Config, reader profile.Reader) *Service {
	t.Helper()
	svc, err := New(Options{
		Config:   cfg,
		Articles: f.store,
		Profiles: reader,
		Logger:   zerolog.Nop(),
		Metrics:  f.metrics,
		Now:      func() time.Time { return testNow },
	})
	require.NoError(t, err)
	return svc
}

func rankedIDs(items []article.RankedArticle) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.ArticleID
	}
	return out
}

func seedUser(t *testing.T, f fixture, userID string) {
	t.Helper()
	_, err := f.profiles.Update(context.Background(), userID, []float32{1, 0, 0}, 1)
	require.NoError(t, err)
}

func TestNew_Validates(t *testing.T) {
	_, err := New(Options{Config: testConfig()})
	assert.Error(t, err, "article store is required")

	cfg := testConfig()
	cfg.Dimensions = 0
	_, err = New(Options{Config: cfg, Articles: newStubStore()})
	assert.Error(t, err)
}

func TestGetRecommendations_ConcreteScenario(t *testing.T) {
	tests := []struct {
		minK int
		want []string
	}{
		{minK: 1, want: []string{"A", "C"}},
		{minK: 2, want: []string{"A", "B"}},
	}
	for _, tt := range tests {
		f := newFixture(t)
		f.store.vector = scenario()
		seedUser(t, f, "u1")

		cfg := testConfig()
		cfg.MMR.MinK = tt.minK
		got, err := f.service(t, cfg, f.profiles).GetRecommendations(context.Background(), "u1", 2, false)
		require.NoError(t, err)
		assert.Equal(t, tt.want, rankedIDs(got), "min_k=%d", tt.minK)
		assert.Equal(t, 60, got[0].FinalScore)
		assert.Equal(t, 1, f.store.Calls("vector"))
	}
}

func TestGetRecommendations_PresentsFields(t *testing.T) {
	f := newFixture(t)
	f.store.vector = scenario()
	seedUser(t, f, "u1")

	got, err := f.service(t, testConfig(), f.profiles).GetRecommendations(context.Background(), "u1", 2, false)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, article.RankedArticle{
		ArticleID:   "A",
		Title:       "Central bank raises interest rates",
		Source:      "Daily A",
		Category:    "economy",
		FinalScore:  60,
		TrendScore:  0,
		TrustScore:  0,
		CollectedAt: testNow.Add(-time.Hour),
	}, got[0])
	assert.Equal(t, 40, got[1].FinalScore)
	assert.Equal(t, 100, got[1].TrendScore)
}

func TestGetRecommendations_ColdStartMatchesTrendFeed(t *testing.T) {
	f := newFixture(t)
	svc := f.service(t, testConfig(), f.profiles)
	ctx := context.Background()

	rec, err := svc.GetRecommendations(ctx, "new-user", 10, false)
	require.NoError(t, err)
	trend, err := svc.GetTrendFeed(ctx, 10)
	require.NoError(t, err)
	require.NotEmpty(t, trend)
	assert.Equal(t, trend, rec)
	assert.Equal(t, "C", trend[0].ArticleID, "cold start is trend-led")
	assert.Zero(t, f.store.Calls("vector"), "no kNN without a preference vector")

	anon, err := svc.GetRecommendations(ctx, "", 10, false)
	require.NoError(t, err)
	assert.Equal(t, trend, anon)
}

func TestGetRecommendations_Idempotent(t *testing.T) {
	f := newFixture(t)
	seedUser(t, f, "u1")
	svc := f.service(t, testConfig(), f.profiles)
	ctx := context.Background()

	first, err := svc.GetRecommendations(ctx, "u1", 10, false)
	require.NoError(t, err)
	require.NotEmpty(t, first)
	for i := 0; i < 5; i++ {
		again, err := svc.GetRecommendations(ctx, "u1", 10, false)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestGetRecommendations_Randomize(t *testing.T) {
	f := newFixture(t)
	f.store.Put(
		cand("D", "Exporters brace for a weaker currency", []float32{0, 1, 0}, 0, 0.5, 0.4),
		cand("E", "Regional elections draw record turnout", []float32{0, 0, 1}, 0, 0.6, 0.7),
		cand("F", "Chip makers report a strong quarter", []float32{0, 0.7, 0.7}, 0, 0.3, 0.8),
	)
	cfg := testConfig()
	cfg.MMR.SimThreshold = 1
	svc := f.service(t, cfg, f.profiles)
	ctx := context.Background()

	plain, err := svc.GetRecommendations(ctx, "", 10, false)
	require.NoError(t, err)

	orders := map[string]bool{}
	for i := 0; i < 30; i++ {
		shuffled, err := svc.GetRecommendations(ctx, "", 10, true)
		require.NoError(t, err)
		got := rankedIDs(shuffled)
		want := rankedIDs(plain)
		sort.Strings(got)
		sort.Strings(want)
		assert.Equal(t, want, got, "shuffle only reorders")
		orders[joinIDs(rankedIDs(shuffled))] = true
	}
	assert.Greater(t, len(orders), 1, "randomize changes the order across calls")
}

func joinIDs(ids []string) string {
	out := ""
	for _, id := range ids {
		out += id + ","
	}
	return out
}

func TestQualityFilter_TitleLength(t *testing.T) {
	f := newFixture(t)
	f.store.Put(
		cand("short8", "Breaking", embA, 0, 0.99, 0.99),
		cand("eleven", "Hello World", []float32{0, 1, 0}, 0, 0.98, 0.98),
		cand("twelve", "Hello Worlds", []float32{0, 0, 1}, 0, 0.97, 0.97),
		cand("hangul", "한국은행 기준금리 동결 결정", []float32{0, 0.6, 0.8}, 0, 0.5, 0.5),
	)
	cfg := testConfig()
	cfg.MMR.SimThreshold = 1
	got, err := f.service(t, cfg, f.profiles).GetTrendFeed(context.Background(), 10)
	require.NoError(t, err)

	ids := rankedIDs(got)
	assert.NotContains(t, ids, "short8")
	assert.NotContains(t, ids, "eleven")
	assert.Contains(t, ids, "twelve")
	assert.Contains(t, ids, "hangul", "length counts runes, not bytes")
}

func TestQualityFilter_BanWordsAndEmbeddings(t *testing.T) {
	f := newFixture(t)
	f.store.Put(
		cand("ad", "SPONSORED: the best travel deals this week", []float32{0, 1, 0}, 0, 1, 1),
		cand("novec", "Parliament passes the budget bill", nil, 0, 1, 1),
		cand("badvec", "Court rules on the merger dispute", []float32{1, 0}, 0, 1, 1),
	)
	cfg := testConfig()
	cfg.Quality.BanWords = []string{"sponsored"}
	cfg.MMR.SimThreshold = 1
	got, err := f.service(t, cfg, f.profiles).GetTrendFeed(context.Background(), 10)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"A", "B", "C"}, rankedIDs(got))
}

func TestValidation(t *testing.T) {
	f := newFixture(t)
	cfg := testConfig()
	cfg.MMR.MinK = 3
	svc := f.service(t, cfg, f.profiles)
	ctx := context.Background()

	_, err := svc.GetRecommendations(ctx, "u1", -1, false)
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = svc.GetTrendFeed(ctx, 2)
	assert.ErrorIs(t, err, ErrInvalidInput, "limit below min_k")
	_, err = svc.GetCategoryFeed(ctx, " ", 10)
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = svc.Related(ctx, "", 10)
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = svc.Search(ctx, "   ", 10)
	assert.ErrorIs(t, err, ErrInvalidInput)
	assert.Zero(t, f.store.total(), "validation happens before any store call")

	got, err := svc.GetTrendFeed(ctx, 1000)
	require.NoError(t, err)
	assert.LessOrEqual(t, len(got), cfg.MaxLimit)
}

func TestDegradation_ColdStartStoreDown(t *testing.T) {
	f := newFixture(t)
	f.store.filterErr = errors.New("dial tcp: connection refused")
	svc := f.service(t, testConfig(), f.profiles)

	got, err := svc.GetTrendFeed(context.Background(), 10)
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Degradations.WithLabelValues(opTrend, "store_unavailable")))
}

func TestDegradation_VectorSearchFallsBackToColdStart(t *testing.T) {
	f := newFixture(t)
	f.store.vectorErr = errors.New("hnsw index corrupt")
	seedUser(t, f, "u1")
	svc := f.service(t, testConfig(), f.profiles)
	ctx := context.Background()

	got, err := svc.GetRecommendations(ctx, "u1", 10, false)
	require.NoError(t, err)
	trend, err := svc.GetTrendFeed(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, trend, got)
	assert.Equal(t, 1, f.store.Calls("vector"))
}

func TestDegradation_EmptyIndexFallsBackToColdStart(t *testing.T) {
	f := newFixture(t)
	f.store.vector = []article.Candidate{}
	seedUser(t, f, "u1")
	svc := f.service(t, testConfig(), f.profiles)

	got, err := svc.GetRecommendations(context.Background(), "u1", 10, false)
	require.NoError(t, err)
	assert.NotEmpty(t, got)
}

func TestDegradation_ProfileStoreDown(t *testing.T) {
	f := newFixture(t)
	svc := f.service(t, testConfig(), failingProfiles{})
	ctx := context.Background()

	got, err := svc.GetRecommendations(ctx, "u1", 10, false)
	require.NoError(t, err)
	trend, err := svc.GetTrendFeed(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, trend, got)
}

func TestGetRecommendations_Canceled(t *testing.T) {
	f := newFixture(t)
	seedUser(t, f, "u1")
	svc := f.service(t, testConfig(), f.profiles)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := svc.GetRecommendations(ctx, "u1", 10, false)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestTrendCache(t *testing.T) {
	f := newFixture(t)
	cfg := testConfig()
	cfg.Cache = CacheConfig{Enabled: true, Size: 8, TTL: time.Minute}
	svc := f.service(t, cfg, f.profiles)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := svc.GetTrendFeed(ctx, 10)
		require.NoError(t, err)
	}
	assert.Equal(t, 1, f.store.Calls("filter"))
	assert.Equal(t, 2.0, testutil.ToFloat64(f.metrics.CacheLookups.WithLabelValues("hit")))

	_, err := svc.GetCategoryFeed(ctx, "economy", 10)
	require.NoError(t, err)
	assert.Equal(t, 2, f.store.Calls("filter"), "category feeds cache separately")
}

func TestGetCategoryFeed(t *testing.T) {
	f := newFixture(t)
	sports := cand("S", "Local side wins the league title", []float32{0, 1, 0}, 0, 0.2, 0.2)
	sports.Category = "스포츠"
	f.store.Put(sports)

	cfg := testConfig()
	cfg.CategoryAliases = map[string]string{"sports": "스포츠"}
	svc := f.service(t, cfg, f.profiles)

	got, err := svc.GetCategoryFeed(context.Background(), "sports", 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"S"}, rankedIDs(got))

	got, err = svc.GetCategoryFeed(context.Background(), "weather", 10)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestConfig_Validate(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())

	cfg := DefaultConfig()
	cfg.MaxLimit = 5
	assert.Error(t, cfg.Validate(), "max below default")

	cfg = DefaultConfig()
	cfg.Retrieval.KNNNumCandidates = 10
	assert.Error(t, cfg.Validate(), "num_candidates below k")

	cfg = DefaultConfig()
	cfg.MMR.MinK = 50
	assert.Error(t, cfg.Validate(), "default limit below min_k")

	cfg = DefaultConfig()
	cfg.Fusion.Personalized.Trend = 0.9
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.Search.TextWeight, cfg.Search.VectorWeight = 0, 0
	assert.Error(t, cfg.Validate())
}

func TestTracing(t *testing.T) {
	f := newFixture(t)
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	svc, err := New(Options{
		Config:         testConfig(),
		Articles:       f.store,
		Logger:         zerolog.Nop(),
		Now:            func() time.Time { return testNow },
		TracerProvider: tp,
	})
	require.NoError(t, err)

	_, err = svc.GetTrendFeed(context.Background(), 10)
	require.NoError(t, err)

	spans := rec.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "recommend.trend", spans[0].Name())
	attrs := map[string]any{}
	for _, kv := range spans[0].Attributes() {
		attrs[string(kv.Key)] = kv.Value.AsInterface()
	}
	assert.Equal(t, pathColdStart, attrs["recommend.path"])
	assert.Equal(t, int64(3), attrs["recommend.candidates"])
}
