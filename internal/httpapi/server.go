// Package httpapi exposes the webhook surface: the event callback endpoint,
// the slash command endpoint and a health probe, all behind request
// signature verification.
package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"slack-context-bot/internal/events"
)

// Dispatcher is the slice of the event router the HTTP layer needs.
type Dispatcher interface {
	Seen(eventID string, body []byte) bool
	Forget(eventID string, body []byte)
	HandleCommand(ctx context.Context, cmd events.Command) (string, error)
}

// Enqueuer hands accepted events off for asynchronous processing.
type Enqueuer interface {
	Enqueue(ev events.Event) (string, error)
}

// SignatureVerifier checks one request's authenticity headers.
type SignatureVerifier interface {
	Verify(timestamp, body, signature string) bool
}

// Server is the webhook HTTP server.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// Options configures a Server. Verifier, Dispatcher and Queue are required.
type Options struct {
	Listen     string
	Verifier   SignatureVerifier
	Dispatcher Dispatcher
	Queue      Enqueuer
	Logger     *slog.Logger
}

// New builds a Server with its routes mounted.
func New(opts Options) (*Server, error) {
	if opts.Verifier == nil {
		return nil, fmt.Errorf("signature verifier is required")
	}
	if opts.Dispatcher == nil {
		return nil, fmt.Errorf("dispatcher is required")
	}
	if opts.Queue == nil {
		return nil, fmt.Errorf("event queue is required")
	}
	listen := opts.Listen
	if listen == "" {
		listen = ":8080"
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	h := &handlers{
		verifier:   opts.Verifier,
		dispatcher: opts.Dispatcher,
		queue:      opts.Queue,
		logger:     logger,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/health", h.health)
	r.Route("/api/v1/slack", func(r chi.Router) {
		r.Use(h.requireSignature)
		r.Post("/events", h.handleEvents)
		r.Post("/commands", h.handleCommands)
	})

	return &Server{
		httpServer: &http.Server{
			Addr:         listen,
			Handler:      r,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		logger: logger,
	}, nil
}

// Handler exposes the mounted routes, mostly for tests.
func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

// ListenAndServe runs the server until it fails or is shut down.
func (s *Server) ListenAndServe() error {
	s.logger.Info("http_server_listening", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown drains in-flight requests and stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("http_server_shutdown")
	return s.httpServer.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
