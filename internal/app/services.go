package app

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/thejerf/suture/v4"

	"github.com/doujins-org/newsfeed/worker"
)

// HTTPService runs an http.Server under a supervisor and shuts it down
// gracefully when the supervisor's context ends.
type HTTPService struct {
	Server          *http.Server
	ShutdownTimeout time.Duration
	Log             zerolog.Logger

	// listen is swapped in tests.
	listen func() (net.Listener, error)
}

func (s *HTTPService) String() string { return "http-server" }

func (s *HTTPService) Serve(ctx context.Context) error {
	listen := s.listen
	if listen == nil {
		listen = func() (net.Listener, error) { return net.Listen("tcp", s.Server.Addr) }
	}
	ln, err := listen()
	if err != nil {
		return err
	}
	s.Log.Info().Str("addr", ln.Addr().String()).Msg("http server listening")

	errCh := make(chan error, 1)
	go func() {
		if err := s.Server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	timeout := s.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	sctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := s.Server.Shutdown(sctx); err != nil {
		return err
	}
	<-errCh
	return nil
}

// WorkerService drains profile update tasks under a supervisor.
type WorkerService struct {
	Worker *worker.Worker
}

func (s *WorkerService) String() string { return "profile-worker" }

func (s *WorkerService) Serve(ctx context.Context) error {
	err := s.Worker.Run(ctx)
	if errors.Is(err, context.Canceled) && ctx.Err() != nil {
		return nil
	}
	return err
}

// Supervisor builds the tree for the serve and worker commands. Failing
// services are restarted with suture's backoff.
func (a *App) Supervisor(withHTTP, withWorker bool) *suture.Supervisor {
	sup := suture.New("newsfeed", suture.Spec{
		EventHook: func(e suture.Event) {
			a.Log.Warn().Str("event", e.String()).Msg("supervisor event")
		},
		FailureThreshold: 5,
		FailureBackoff:   2 * time.Second,
		Timeout:          a.Config.Server.ShutdownTimeout,
	})
	if withHTTP {
		sc := a.Config.Server
		sup.Add(&HTTPService{
			Server: &http.Server{
				Addr:              sc.Addr,
				Handler:           a.Handler,
				ReadTimeout:       sc.ReadTimeout,
				ReadHeaderTimeout: sc.ReadTimeout,
				WriteTimeout:      sc.WriteTimeout,
			},
			ShutdownTimeout: sc.ShutdownTimeout,
			Log:             a.Log,
		})
	}
	if withWorker {
		sup.Add(&WorkerService{Worker: a.Worker})
	}
	return sup
}
