// roundtable is the debate orchestration core: it owns the durable
// session store, routes knight turns across LLM providers, and streams
// the event log to subscribers.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/roundtablehq/roundtable/internal/adapter/anthropicllm"
	"github.com/roundtablehq/roundtable/internal/adapter/envcreds"
	rthttp "github.com/roundtablehq/roundtable/internal/adapter/http"
	rtnats "github.com/roundtablehq/roundtable/internal/adapter/nats"
	"github.com/roundtablehq/roundtable/internal/adapter/natskv"
	"github.com/roundtablehq/roundtable/internal/adapter/openaillm"
	"github.com/roundtablehq/roundtable/internal/adapter/openrouter"
	rtotel "github.com/roundtablehq/roundtable/internal/adapter/otel"
	"github.com/roundtablehq/roundtable/internal/adapter/postgres"
	"github.com/roundtablehq/roundtable/internal/adapter/ristretto"
	"github.com/roundtablehq/roundtable/internal/adapter/ws"
	"github.com/roundtablehq/roundtable/internal/config"
	"github.com/roundtablehq/roundtable/internal/engine"
	"github.com/roundtablehq/roundtable/internal/logger"
	"github.com/roundtablehq/roundtable/internal/port/metrics"
	"github.com/roundtablehq/roundtable/internal/port/taskqueue"
	"github.com/roundtablehq/roundtable/internal/recovery"
	"github.com/roundtablehq/roundtable/internal/resilience"
	"github.com/roundtablehq/roundtable/internal/router"
	"github.com/roundtablehq/roundtable/internal/runner"
	"github.com/roundtablehq/roundtable/internal/secrets"
)

// guardTTL bounds how long a crashed supervisor's guard key blocks
// re-recovery of the same session.
const guardTTL = 5 * time.Minute

func main() {
	if err := run(); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	slog.SetDefault(logger.New(cfg.Logging))
	slog.Info("config loaded",
		"port", cfg.Server.Port,
		"log_level", cfg.Logging.Level,
		"max_concurrent", cfg.Runner.MaxConcurrent,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- Infrastructure ---

	pool, err := postgres.NewPool(ctx, cfg.Postgres)
	if err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	defer pool.Close()

	if err := postgres.RunMigrations(ctx, cfg.Postgres.DSN); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}
	slog.Info("postgres ready")

	queue, err := rtnats.Connect(ctx, cfg.NATS)
	if err != nil {
		return fmt.Errorf("nats: %w", err)
	}
	defer func() { _ = queue.Close() }()

	dispatchGuard, err := natskv.NewGuard(ctx, queue.JetStream(), guardTTL)
	if err != nil {
		return fmt.Errorf("guard: %w", err)
	}

	scoreCache, err := ristretto.New(64 << 20)
	if err != nil {
		return fmt.Errorf("cache: %w", err)
	}
	defer scoreCache.Close()

	// Metrics are best-effort: a missing collector must not stop debates.
	var recorder metrics.Recorder
	if shutdown, err := rtotel.InitMeterProvider(ctx, cfg.Logging.Service); err != nil {
		slog.Warn("otel metrics disabled", "error", err)
	} else {
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = shutdown(sctx)
		}()
		m, err := rtotel.NewMetrics()
		if err != nil {
			return fmt.Errorf("metric instruments: %w", err)
		}
		recorder = m
	}

	// --- Credentials ---

	vault, err := secrets.NewVault(secrets.PrefixEnvLoader("ROUNDTABLE_KEY_"))
	if err != nil {
		return fmt.Errorf("secrets: %w", err)
	}
	go reloadOnSIGHUP(ctx, vault)
	creds := envcreds.New(vault)

	// --- Core ---

	store := postgres.NewStore(pool)
	hub := ws.NewHub(0)

	breakers := resilience.NewRegistry(
		cfg.Breaker.FailureThreshold, cfg.Breaker.SuccessThreshold, cfg.Breaker.Timeout)

	rt := router.New(creds, breakers, recorder, cfg.Router.DefaultMaxTokens,
		openaillm.New(),
		anthropicllm.New(),
		openrouter.New(cfg.Router.OpenRouterURL),
	)

	scores := engine.NewScoreBoard(store, scoreCache, cfg.Engine.ScoreCacheTTL)
	eng := engine.New(store, rt, hub, scores, cfg.Engine)
	execPool := runner.New(store, eng, hub, cfg.Runner)

	// --- Workers ---

	w := &worker{queue: queue, pool: execPool, sessions: make(map[taskqueue.Handle]string)}

	stopExec, err := queue.ConsumeExecutions(ctx, w.execute)
	if err != nil {
		return fmt.Errorf("execution consumer: %w", err)
	}
	defer stopExec()

	stopCancels, err := queue.ConsumeCancels(w.cancel)
	if err != nil {
		return fmt.Errorf("cancel consumer: %w", err)
	}
	defer stopCancels()

	// --- Recovery ---

	supervisor := recovery.New(store, queue, dispatchGuard)
	if _, err := supervisor.Recover(ctx); err != nil {
		return fmt.Errorf("recovery scan: %w", err)
	}

	// --- HTTP ---

	handlers := rthttp.NewHandlers(store, queue, supervisor, execPool, hub)

	r := chi.NewRouter()
	r.Use(rtotel.HTTPMiddleware(cfg.Logging.Service))
	rthttp.MountRoutes(r, handlers, cfg.Server.CORSOrigin)

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		slog.Info("starting server", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// worker bridges the task queue to the local runner pool: each dispatched
// session heartbeats while it executes, and cancel messages stop it.
type worker struct {
	queue *rtnats.Queue
	pool  *runner.Pool

	mu       sync.Mutex
	sessions map[taskqueue.Handle]string
}

func (w *worker) execute(ctx context.Context, sessionID string, handle taskqueue.Handle) error {
	hbCtx, stopHeartbeat := context.WithCancel(ctx)
	defer stopHeartbeat()
	go w.queue.Heartbeat(hbCtx, handle)

	w.mu.Lock()
	w.sessions[handle] = sessionID
	w.mu.Unlock()
	defer func() {
		w.mu.Lock()
		delete(w.sessions, handle)
		w.mu.Unlock()
	}()

	return w.pool.Execute(ctx, sessionID)
}

func (w *worker) cancel(handle taskqueue.Handle) {
	w.mu.Lock()
	sessionID, ok := w.sessions[handle]
	w.mu.Unlock()
	if !ok {
		return
	}
	if w.pool.Stop(sessionID) {
		slog.Info("cancel request honored", "session_id", sessionID, "handle", handle)
	}
}

// reloadOnSIGHUP hot-reloads provider keys without a restart.
func reloadOnSIGHUP(ctx context.Context, vault *secrets.Vault) {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGHUP)
	defer signal.Stop(ch)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ch:
			if err := vault.Reload(); err != nil {
				slog.Error("secret reload failed", "error", err)
			} else {
				slog.Info("secrets reloaded")
			}
		}
	}
}
