// Package fsserver is the filesystem helper the agent reaches through the
// tunnel. It serves the private health contract (/health, /shutdown) and an
// MCP streamable-HTTP endpoint at /mcp.
package fsserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/mark3labs/mcp-go/server"
	"golang.org/x/sync/errgroup"

	"github.com/kajande/dulayni-cli/internal/logging"
)

const shutdownGrace = 5 * time.Second

// Server is the filesystem helper.
type Server struct {
	port   int
	tools  *Tools
	logger *logging.Logger

	stopOnce sync.Once
	stop     chan struct{}
}

// New creates a helper serving dirs on port.
func New(port int, dirs []string, logger *logging.Logger) (*Server, error) {
	guard, err := NewGuard(dirs)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return &Server{
		port:   port,
		tools:  NewTools(guard),
		logger: logger,
		stop:   make(chan struct{}),
	}, nil
}

// Handler returns the helper's routes.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Post("/shutdown", s.handleShutdown)

	mcpHandler := server.NewStreamableHTTPServer(NewMCPServer(s.tools), server.WithStateLess(true))
	r.Handle("/mcp", mcpHandler)
	r.Handle("/mcp/*", mcpHandler)
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "healthy",
		"directories": s.tools.guard.Allowed(),
	})
}

func (s *Server) handleShutdown(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "shutting down"})
	s.Stop()
}

// Stop asks a running server to shut down gracefully.
func (s *Server) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
}

// Run listens on localhost until ctx is done, Stop is called or /shutdown
// is requested.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(s.port)))
	if err != nil {
		return fmt.Errorf("listen on port %d: %w", s.port, err)
	}
	return s.Serve(ctx, ln)
}

// Serve runs the server on ln.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.logger.Info("filesystem helper listening", logging.Fields{
			"addr":        ln.Addr().String(),
			"directories": s.tools.guard.Allowed(),
		})
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		select {
		case <-gctx.Done():
		case <-s.stop:
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		s.logger.Info("filesystem helper shutting down")
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
