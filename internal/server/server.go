package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/reviewapps-dev/rdeploy/internal/config"
	"github.com/reviewapps-dev/rdeploy/internal/deploy"
	"github.com/reviewapps-dev/rdeploy/internal/logstream"
)

// Server exposes one deploy run over HTTP: its health, its summary once the
// run is over, and a websocket stream of its log lines.
type Server struct {
	cfg       config.StreamConfig
	hub       *logstream.Hub
	runID     string
	log       logrus.FieldLogger
	httpSrv   *http.Server
	startTime time.Time

	mu      sync.Mutex
	summary *deploy.Summary
}

func New(cfg config.StreamConfig, hub *logstream.Hub, runID string, log logrus.FieldLogger) *Server {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Server{
		cfg:       cfg,
		hub:       hub,
		runID:     runID,
		log:       log,
		startTime: time.Now(),
	}
}

// SetSummary publishes the finished run's summary and closes the log stream.
func (s *Server) SetSummary(sum *deploy.Summary) {
	s.mu.Lock()
	s.summary = sum
	s.mu.Unlock()
	s.hub.Close(s.runID)
}

func (s *Server) currentSummary() *deploy.Summary {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.summary
}

// Handler returns the routed handler with middleware applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Unauthenticated
	mux.HandleFunc("GET /health", s.handleHealth)

	mux.Handle("GET /summary", s.authMiddleware(http.HandlerFunc(s.handleSummary)))
	mux.Handle("GET /logs", s.streamAuthMiddleware(http.HandlerFunc(s.handleLogStream)))

	var handler http.Handler = mux
	handler = s.loggingMiddleware(handler)
	handler = s.recoveryMiddleware(handler)

	return handler
}

// Start listens on the configured address and serves in the background. It
// returns the bound address, which differs from the configured one when the
// port is 0.
func (s *Server) Start() (net.Addr, error) {
	ln, err := net.Listen("tcp", s.cfg.Listen)
	if err != nil {
		return nil, err
	}

	s.httpSrv = &http.Server{
		Handler:     s.Handler(),
		ReadTimeout: 30 * time.Second,
		IdleTimeout: 120 * time.Second,
	}

	go func() {
		if err := s.httpSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Errorf("stream server: %v", err)
		}
	}()

	s.log.Infof("log stream listening on %s", ln.Addr())
	return ln.Addr(), nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}
