// Package server exposes the memory service over HTTP and a websocket RPC
// endpoint. Handlers are thin: every request maps to one memory.Manager call.
package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"

	"github.com/becomeliminal/nim-recall/memory"
)

// Config configures the server.
type Config struct {
	// Memory serves every request. Required.
	Memory memory.Manager

	// AllowedOrigins restricts websocket upgrades. Empty allows any origin.
	AllowedOrigins []string

	// ReadHeaderTimeout bounds slow clients (default: 10s).
	ReadHeaderTimeout time.Duration
}

// Server routes HTTP and websocket traffic to the memory manager.
type Server struct {
	memory   memory.Manager
	router   *chi.Mux
	upgrader websocket.Upgrader
	http     *http.Server
}

// New creates a server.
func New(cfg Config) (*Server, error) {
	if cfg.Memory == nil {
		return nil, fmt.Errorf("Memory is required")
	}
	if cfg.ReadHeaderTimeout == 0 {
		cfg.ReadHeaderTimeout = 10 * time.Second
	}

	s := &Server{
		memory:  cfg.Memory,
		router: chi.NewRouter(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     originChecker(cfg.AllowedOrigins),
		},
	}

	r := s.router
	r.Use(middleware.RequestID)
	r.Use(accessLogger)
	r.Use(middleware.Recoverer)

	r.Get("/", s.handleRoot)
	r.Get("/health", s.handleHealth)
	r.Get("/ws", s.handleWebSocket)

	r.Route("/api", func(r chi.Router) {
		r.Post("/summary/save", s.handleSaveSummary)
		r.Get("/summary/recent/{userID}", s.handleRecentSummaries)
		r.Get("/summary/search/{userID}", s.handleSearchSummaries)
		r.Get("/summary/text/{userID}", s.handleSummaryText)
		r.Post("/prompts/generate", s.handleGeneratePrompts)
	})

	s.http = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}

	return s, nil
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Run listens on addr until Shutdown is called. Run after Shutdown returns
// immediately.
func (s *Server) Run(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	return s.Serve(ln)
}

// Serve accepts connections on ln until Shutdown is called.
func (s *Server) Serve(ln net.Listener) error {
	log.Printf("[SERVER] Listening on %s", ln.Addr())
	if err := s.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve on %s: %w", ln.Addr(), err)
	}
	return nil
}

// Shutdown stops accepting connections and waits for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	log.Printf("[SERVER] Shutting down")
	return s.http.Shutdown(ctx)
}

func originChecker(allowed []string) func(r *http.Request) bool {
	if len(allowed) == 0 {
		return func(r *http.Request) bool { return true }
	}
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		set[o] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := set[origin]
		return ok
	}
}

// accessLogger logs one line per request.
func accessLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		defer func() {
			log.Printf("[SERVER] %s %s %d %dB %s",
				r.Method, r.URL.Path, ww.Status(), ww.BytesWritten(), time.Since(start).Round(time.Microsecond))
		}()

		next.ServeHTTP(ww, r)
	})
}
