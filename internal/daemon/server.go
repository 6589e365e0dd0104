package daemon

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gfurtadoalmeida/deskhub/internal/transport"
	"go.uber.org/zap"
)

// Server manages the HTTP server carrying the websocket endpoint.
type Server struct {
	httpServer *http.Server
	listener   net.Listener
	logger     *zap.Logger
}

// NewServer creates an HTTP server bound to the configured listen address,
// exposing the realtime endpoint at /ws and a liveness probe at /healthz.
func NewServer(p Params, logger *zap.Logger, hub *transport.Hub) (*Server, error) {
	listener, err := net.Listen("tcp", p.Config.ListenAddr)
	if err != nil {
		return nil, err
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", hub.ServeWS)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	// No global write timeout: websocket connections are long-lived.
	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return &Server{
		httpServer: srv,
		listener:   listener,
		logger:     logger,
	}, nil
}

// Addr returns the bound listen address.
func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

// Start begins serving HTTP requests. Blocks until stopped.
func (s *Server) Start() error {
	s.logger.Info("http server starting", zap.String("addr", s.Addr()))
	if err := s.httpServer.Serve(s.listener); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop performs a graceful shutdown, waiting for in-flight upgrades.
func (s *Server) Stop(ctx context.Context) {
	s.logger.Info("http server stopping")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Warn("shutdown incomplete, closing", zap.Error(err))
		_ = s.httpServer.Close()
	}
}
