package api

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"

	"github.com/sigweihq/dotclaim/pkg/chains"
	"github.com/sigweihq/dotclaim/pkg/constants"
)

// LedgerStatus reports the state of the shared ledger connection
// Implemented by: substrate.Connection
type LedgerStatus interface {
	Endpoint() string
	Loading() bool
	Err() error
}

// TotalReader reads the outstanding airdrop total
// Implemented by: substrate.Ledger
type TotalReader interface {
	TotalClaims(ctx context.Context) (*big.Int, error)
}

// Options configures a Server
type Options struct {
	// Provider is shared by every session; nil means no wallet is available
	Provider chains.WalletProvider
	Scheme   chains.AttestationScheme
	Ledger   chains.LedgerClient

	// Optional status sources for GET /status
	Status LedgerStatus
	Totals TotalReader

	RateLimit   float64 // requests per second per client
	RateBurst   int
	IdleTimeout time.Duration

	Logger *slog.Logger
}

// Server exposes claim sessions over a JSON HTTP API
type Server struct {
	opts     Options
	logger   *slog.Logger
	sessions *sessionStore
	limiter  *RateLimitMiddleware
	router   *mux.Router

	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// NewServer validates opts and starts the idle-session janitor
func NewServer(opts Options) (*Server, error) {
	if opts.Scheme == nil {
		return nil, fmt.Errorf("attestation scheme is required")
	}
	if opts.Ledger == nil {
		return nil, fmt.Errorf("ledger client is required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = constants.SessionIdleTimeout
	}

	s := &Server{
		opts:   opts,
		logger: opts.Logger.With("component", "api"),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	s.sessions = newSessionStore(opts, s.logger)
	if opts.RateLimit > 0 {
		s.limiter = NewRateLimitMiddleware(opts.RateLimit, opts.RateBurst, s.logger)
	}
	s.router = s.routes()

	go s.janitor()
	return s, nil
}

func (s *Server) routes() *mux.Router {
	router := mux.NewRouter()
	router.Use(s.logRequests)
	if s.limiter != nil {
		router.Use(s.limiter.Middleware)
	}

	api := router.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	api.HandleFunc("/sessions", s.handleCreateSession).Methods(http.MethodPost)
	api.HandleFunc("/sessions/{id}", s.handleGetSession).Methods(http.MethodGet)
	api.HandleFunc("/sessions/{id}", s.handleDeleteSession).Methods(http.MethodDelete)
	api.HandleFunc("/sessions/{id}/connect", s.handleConnect).Methods(http.MethodPost)
	api.HandleFunc("/sessions/{id}/destination", s.handleDestination).Methods(http.MethodPut)
	api.HandleFunc("/sessions/{id}/check", s.handleCheck).Methods(http.MethodPost)
	api.HandleFunc("/sessions/{id}/submit", s.handleSubmit).Methods(http.MethodPost)
	api.HandleFunc("/sessions/{id}/finality", s.handleFinality).Methods(http.MethodPost)
	api.HandleFunc("/sessions/{id}/reset", s.handleReset).Methods(http.MethodPost)

	notFound := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "not found", r.URL.Path)
	})
	methodNotAllowed := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed", r.Method)
	})
	// mux resolves misses on the subrouter that owns the prefix
	router.NotFoundHandler = notFound
	router.MethodNotAllowedHandler = methodNotAllowed
	api.NotFoundHandler = notFound
	api.MethodNotAllowedHandler = methodNotAllowed
	return router
}

// Handler returns the HTTP handler serving the API
func (s *Server) Handler() http.Handler {
	return s.router
}

// Sessions returns the number of live sessions
func (s *Server) Sessions() int {
	return s.sessions.len()
}

// Close stops the janitor and closes every session. Safe to call more than once.
func (s *Server) Close() {
	s.closeOnce.Do(func() {
		close(s.stop)
		<-s.done
		s.sessions.closeAll()
		if s.limiter != nil {
			s.limiter.Stop()
		}
	})
}

func (s *Server) janitor() {
	defer close(s.done)

	interval := s.opts.IdleTimeout / 4
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case now := <-ticker.C:
			if n := s.sessions.expire(now); n > 0 {
				s.logger.Info("expired idle sessions", "count", n)
			}
		}
	}
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Debug("request served",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", time.Since(start))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
