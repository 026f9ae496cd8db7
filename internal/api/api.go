// Package api provides HTTP handlers and the main API server logic for
// ObjectivePipe.
//
// It exposes RESTful endpoints for enrolling conversations, driving
// evaluation turns, and managing objective and tree definitions.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/BTreeMap/ObjectivePipe/internal/defcache"
	"github.com/BTreeMap/ObjectivePipe/internal/messaging"
	"github.com/BTreeMap/ObjectivePipe/internal/store"
)

// DefaultAddr is the listen address used when none is configured.
const DefaultAddr = ":8080"

// DefaultShutdownTimeout bounds graceful shutdown.
const DefaultShutdownTimeout = 10 * time.Second

// Opts holds configuration options for the API server.
type Opts struct {
	Addr string
}

// Option defines a configuration option for the API server.
type Option func(*Opts)

// WithAddr sets the HTTP listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) { o.Addr = addr }
}

// Server wires the HTTP surface to the store, the messaging service, and
// the response handler that runs evaluation turns.
type Server struct {
	st          store.Store
	cache       *defcache.Cache
	msgService  messaging.Service
	respHandler *messaging.ResponseHandler

	addr string
	srv  *http.Server
}

// NewServer creates an API server over the given dependencies.
func NewServer(st store.Store, cache *defcache.Cache, msgService messaging.Service, respHandler *messaging.ResponseHandler, opts ...Option) *Server {
	cfg := Opts{Addr: DefaultAddr}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Server{
		st:          st,
		cache:       cache,
		msgService:  msgService,
		respHandler: respHandler,
		addr:        cfg.Addr,
	}
}

// Handler builds the route table. Split out from Run so tests can drive the
// full mux with httptest.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/conversations", s.conversationsHandler)
	mux.HandleFunc("/conversations/", s.conversationsHandler)
	mux.HandleFunc("/objectives", s.objectivesHandler)
	mux.HandleFunc("/objectives/", s.objectivesHandler)
	mux.HandleFunc("/trees", s.treesHandler)
	mux.HandleFunc("/trees/", s.treesHandler)
	mux.HandleFunc("/health", s.healthHandler)

	if twilioSvc, ok := s.msgService.(*messaging.TwilioService); ok {
		mux.HandleFunc("/webhooks/twilio", twilioSvc.TwilioWebhookHandler)
		slog.Debug("Server.Handler: Twilio webhook route registered")
	}
	return mux
}

// Run starts the HTTP server and blocks until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	s.srv = &http.Server{
		Addr:    s.addr,
		Handler: s.Handler(),
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("ObjectivePipe API listening", "addr", s.addr)
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("API server failed: %w", err)
	case <-ctx.Done():
		slog.Info("ObjectivePipe API shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), DefaultShutdownTimeout)
		defer cancel()
		if err := s.srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("API server shutdown failed: %w", err)
		}
		return nil
	}
}
