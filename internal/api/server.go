package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/marcus/fieldsync/internal/engine"
	"github.com/marcus/fieldsync/internal/ledger"
	"github.com/marcus/fieldsync/internal/notify"
	"github.com/marcus/fieldsync/internal/projector"
)

// Version is reported by /healthz. Binaries override it at startup.
var Version = "dev"

// Deps are the collaborators a Server runs against.
type Deps struct {
	Ledger    *ledger.Ledger
	Projector projector.Projector
	Directory engine.ScopeResolver
	// Notifiers receive run and sweep events in addition to the built-in
	// metrics and websocket feed.
	Notifiers []engine.Notifier
}

// Server is the HTTP API server for fieldsync.
type Server struct {
	config      Config
	http        *http.Server
	store       *ledger.Ledger
	orch        *engine.Orchestrator
	pending     *engine.PendingService
	acks        *engine.AckService
	sweeper     *engine.Sweeper
	hub         *notify.Hub
	metrics     *Metrics
	rateLimiter *RateLimiter
	addr        net.Addr
	cancel      context.CancelFunc
	wg          sync.WaitGroup
}

// NewServer wires the sync engine behind the HTTP API.
func NewServer(cfg Config, deps Deps) (*Server, error) {
	if deps.Ledger == nil || deps.Projector == nil || deps.Directory == nil {
		return nil, errors.New("server requires a ledger, a projector and a device directory")
	}

	s := &Server{
		config:      cfg,
		store:       deps.Ledger,
		metrics:     NewMetrics(),
		rateLimiter: NewRateLimiter(),
		hub:         notify.NewHub(slog.Default(), websocketOrigins(cfg.CORSAllowedOrigins)),
	}

	notifiers := engine.Notifiers{s.metrics, s.hub}
	notifiers = append(notifiers, deps.Notifiers...)

	s.orch = engine.NewOrchestrator(deps.Ledger, deps.Projector, deps.Directory, engine.Options{
		Lock:     engine.NewRunLock(cfg.RunLockFile),
		Notifier: notifiers,
		Logger:   slog.Default().With("component", "orchestrator"),
	})
	s.pending = engine.NewPendingService(deps.Ledger, cfg.MaxRetries)
	s.acks = engine.NewAckService(deps.Ledger)
	s.sweeper = engine.NewSweeper(deps.Ledger, engine.SweeperOptions{
		RetentionDays: cfg.RetentionDays(),
		Interval:      cfg.SweepInterval,
		Notifier:      notifiers,
		Logger:        slog.Default().With("component", "sweeper"),
	})

	writeTimeout := 60 * time.Second
	if cfg.RunTimeout+10*time.Second > writeTimeout {
		writeTimeout = cfg.RunTimeout + 10*time.Second
	}
	s.http = &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      s.routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: writeTimeout,
		IdleTimeout:  120 * time.Second,
	}

	return s, nil
}

// Orchestrator exposes the engine for in-process callers such as the
// admin subcommands.
func (s *Server) Orchestrator() *engine.Orchestrator { return s.orch }

// Sweeper exposes the retention sweeper.
func (s *Server) Sweeper() *engine.Sweeper { return s.sweeper }

// Addr returns the bound address once Start has succeeded.
func (s *Server) Addr() string {
	if s.addr == nil {
		return s.config.ListenAddr
	}
	return s.addr.String()
}

// Start begins listening for HTTP requests and starts the retention
// sweeper (non-blocking).
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.config.ListenAddr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	s.addr = ln.Addr()

	go func() {
		if err := s.http.Serve(ln); err != nil && err != http.ErrServerClosed {
			slog.Error("http server", "err", err)
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.sweeper.Run(ctx)
	}()

	return nil
}

// Shutdown stops the sweeper, disconnects event clients and gracefully
// stops the HTTP server. A bulk run in flight keeps its own timeout.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.cancel != nil {
		s.cancel()
	}
	s.hub.Close()
	s.rateLimiter.Stop()
	err := s.http.Shutdown(ctx)
	s.wg.Wait()
	return err
}

// routes builds the HTTP handler with all routes and middleware.
func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	// Health & metrics
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /metricz", s.handleMetrics)
	mux.Handle("GET /metrics", s.metrics.Handler())

	// Bulk runs and maintenance
	mux.HandleFunc("POST /v1/sync/initial-sync", s.requireAdmin(s.handleRun(engine.ModeInitial)))
	mux.HandleFunc("POST /v1/sync/full-sync", s.requireAdmin(s.handleRun(engine.ModeFull)))
	mux.HandleFunc("POST /v1/sync/sweep", s.requireAdmin(s.handleSweep))

	// Reporting
	mux.HandleFunc("GET /v1/sync/status", s.handleStatus)
	mux.HandleFunc("GET /v1/sync/stats", s.handleStats)
	mux.HandleFunc("GET /v1/sync/runs", s.handleListRuns)
	mux.HandleFunc("GET /v1/sync/runs/{id}", s.handleGetRun)
	mux.HandleFunc("GET /v1/sync/dead-letter", s.handleDeadLetter)
	mux.HandleFunc("GET /v1/sync/entry", s.handleGetEntry)
	mux.Handle("GET /v1/sync/events", s.hub)

	// Device traffic
	mux.HandleFunc("POST /v1/sync/pending", s.handlePending)
	mux.HandleFunc("POST /v1/sync/mark-synced", s.handleMarkSynced)
	mux.HandleFunc("POST /v1/sync/mark-failed", s.handleMarkFailed)
	mux.HandleFunc("POST /v1/sync/ack-batch", s.handleAckBatch)

	return chain(mux,
		recoveryMiddleware,
		requestIDMiddleware,
		loggerMiddleware,
		timeoutMiddleware(s.config.RequestTimeout),
		metricsMiddleware(s.metrics),
		loggingMiddleware,
		maxBytesMiddleware(4<<20),
		s.CORSMiddleware,
		rateLimitMiddleware(s.rateLimiter, s.config.RateLimit),
	)
}

// handleHealth returns a health check response, pinging the ledger.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "error", "detail": "ledger unreachable", "version": Version})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "version": Version})
}

// handleMetrics returns a snapshot of server counters.
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	snap := s.metrics.Snapshot()
	snap.EventClients = s.hub.Clients()
	writeJSON(w, http.StatusOK, snap)
}
