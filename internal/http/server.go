// README: API server; owns the listener and graceful shutdown.
package http

import (
	"context"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"cvneat/internal/http/handlers"
	"cvneat/internal/infra"
)

type ServerDeps struct {
	Addr            string
	ShutdownTimeout time.Duration
	Orders          handlers.OrderService
	Verifier        infra.TokenVerifier
	Log             *zap.Logger
}

type Server struct {
	srv             *http.Server
	shutdownTimeout time.Duration
	log             *zap.Logger
}

func NewServer(deps ServerDeps) *Server {
	return &Server{
		srv: &http.Server{
			Addr:              deps.Addr,
			Handler:           NewRouter(deps.Orders, deps.Verifier, deps.Log),
			ReadHeaderTimeout: 10 * time.Second,
		},
		shutdownTimeout: deps.ShutdownTimeout,
		log:             deps.Log,
	}
}

// Run serves until ctx is cancelled, then drains in-flight requests.
func (s *Server) Run(ctx context.Context) error {
	errc := make(chan error, 1)
	go func() {
		s.log.Info("http server listening", zap.String("addr", s.srv.Addr))
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()
	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	s.log.Info("http server stopped")
	return nil
}
