package app

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/doujins-org/newsfeed/config"
	"github.com/doujins-org/newsfeed/search"
)

func memoryConfig(t *testing.T) *config.Config {
	t.Helper()
	t.Chdir(t.TempDir())
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Recommend.Dimensions = 3
	cfg.Worker.PollEvery = 5 * time.Millisecond
	return cfg
}

func TestNew_InMemory(t *testing.T) {
	a, err := New(context.Background(), memoryConfig(t), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close(context.Background()) })

	_, isBreaker := a.Articles.(*search.BreakerStore)
	assert.True(t, isBreaker)
	require.NoError(t, a.Ready(context.Background()))
	assert.Error(t, a.Migrate(context.Background()), "no postgres configured")

	rec := httptest.NewRecorder()
	a.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/trend", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"articles":[]}`, rec.Body.String())
}

func TestNew_EngagementReachesProfile(t *testing.T) {
	cfg := memoryConfig(t)
	a, err := New(context.Background(), cfg, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close(context.Background()) })

	_, err = a.Queue.Enqueue(context.Background(), "u1", "missing-article", 0.5)
	require.NoError(t, err)
	n, err := a.Worker.DrainOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, found, err := a.Profiles.Get(context.Background(), "u1")
	require.NoError(t, err)
	assert.False(t, found, "unknown article never creates a profile")
}

func TestNew_BadRedis(t *testing.T) {
	cfg := memoryConfig(t)
	cfg.Profiles.Backend = config.BackendRedis
	cfg.Redis.Addr = "127.0.0.1:1"
	_, err := New(context.Background(), cfg, zerolog.Nop())
	assert.Error(t, err)
}

func TestHTTPService_GracefulShutdown(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	svc := &HTTPService{
		Server: &http.Server{Handler: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = io.WriteString(w, "ok")
		})},
		ShutdownTimeout: time.Second,
		Log:             zerolog.Nop(),
		listen:          func() (net.Listener, error) { return ln, nil },
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Serve(ctx) }()

	var resp *http.Response
	require.Eventually(t, func() bool {
		resp, err = http.Get("http://" + ln.Addr().String())
		return err == nil
	}, time.Second, 10*time.Millisecond)
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	assert.Equal(t, "ok", string(body))

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("server did not shut down")
	}
}

func TestWorkerService_StopsCleanly(t *testing.T) {
	a, err := New(context.Background(), memoryConfig(t), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close(context.Background()) })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- (&WorkerService{Worker: a.Worker}).Serve(ctx) }()
	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("worker did not stop")
	}
}
