// Package runner executes debate sessions: one engine run per session,
// bounded concurrency, and a bounded retry loop around transient engine
// failures. The runner owns session terminal status; the engine only
// owns phases and events.
package runner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/roundtablehq/roundtable/internal/config"
	"github.com/roundtablehq/roundtable/internal/domain/debate"
	"github.com/roundtablehq/roundtable/internal/domain/event"
	"github.com/roundtablehq/roundtable/internal/engine"
	"github.com/roundtablehq/roundtable/internal/port/broadcast"
	"github.com/roundtablehq/roundtable/internal/port/repository"
	"github.com/roundtablehq/roundtable/internal/router"
)

// Engine is the runner's view of the phase engine.
type Engine interface {
	Run(ctx context.Context, s *debate.Session) error
}

// Pool runs sessions with a concurrency cap and per-session cancellation.
type Pool struct {
	repo           repository.Repository
	engine         Engine
	hub            broadcast.Broadcaster
	sem            *semaphore.Weighted
	maxAttempts    int
	initialBackoff time.Duration

	mu      sync.Mutex
	cancels map[string]context.CancelFunc

	// sleep is swapped in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// New creates a Pool from runner configuration.
func New(repo repository.Repository, eng Engine, hub broadcast.Broadcaster, cfg config.Runner) *Pool {
	return &Pool{
		repo:           repo,
		engine:         eng,
		hub:            hub,
		sem:            semaphore.NewWeighted(cfg.MaxConcurrent),
		maxAttempts:    cfg.MaxAttempts,
		initialBackoff: cfg.InitialBackoff,
		cancels:        make(map[string]context.CancelFunc),
		sleep:          sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Execute runs one session to a terminal state. It blocks until the
// session completes, errors out, or is stopped, and is safe to call from
// a queue worker. Re-executing a session that already reached a terminal
// status is a no-op.
func (p *Pool) Execute(ctx context.Context, sessionID string) error {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("acquire execution slot: %w", err)
	}
	defer p.sem.Release(1)

	s, err := p.repo.GetSession(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("load session %s: %w", sessionID, err)
	}
	if !s.Active() {
		slog.Info("session already terminal, skipping", "session_id", sessionID, "status", s.Status)
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	p.register(sessionID, cancel)
	defer p.unregister(sessionID)

	backoff := p.initialBackoff
	var lastErr error

	for attempt := 1; attempt <= p.maxAttempts; attempt++ {
		err := p.engine.Run(runCtx, s)
		if err == nil {
			return p.complete(ctx, sessionID)
		}
		if errors.Is(err, engine.ErrStopped) {
			// An operator stop is a graceful end, not a failure.
			slog.Info("session stopped", "session_id", sessionID)
			return p.complete(context.WithoutCancel(ctx), sessionID)
		}

		lastErr = err
		if !retryable(err) {
			slog.Error("session failed with non-retryable error",
				"session_id", sessionID, "attempt", attempt, "error", err)
			return p.fail(ctx, sessionID, err, attempt)
		}

		slog.Warn("session run failed, will retry",
			"session_id", sessionID, "attempt", attempt, "backoff", backoff, "error", err)
		if attempt < p.maxAttempts {
			if err := p.sleep(runCtx, backoff); err != nil {
				return p.complete(context.WithoutCancel(ctx), sessionID)
			}
			backoff *= 2
		}
	}

	return p.fail(ctx, sessionID, lastErr, p.maxAttempts)
}

// Stop cancels a running session. Returns false when the session is not
// executing in this pool.
func (p *Pool) Stop(sessionID string) bool {
	p.mu.Lock()
	cancel, ok := p.cancels[sessionID]
	p.mu.Unlock()
	if ok {
		cancel()
	}
	return ok
}

// Running reports whether the session is currently executing here.
func (p *Pool) Running(sessionID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.cancels[sessionID]
	return ok
}

func (p *Pool) register(sessionID string, cancel context.CancelFunc) {
	p.mu.Lock()
	p.cancels[sessionID] = cancel
	p.mu.Unlock()
}

func (p *Pool) unregister(sessionID string) {
	p.mu.Lock()
	delete(p.cancels, sessionID)
	p.mu.Unlock()
}

// retryable separates transient provider trouble from errors another
// attempt cannot fix: bad model ids, missing credentials, and a blown
// degraded-turn budget (a resumed attempt re-counts the same log and
// trips again immediately).
func retryable(err error) bool {
	var noKey *router.NoAPIKeyError
	switch {
	case errors.Is(err, router.ErrInvalidModel),
		errors.As(err, &noKey),
		errors.Is(err, engine.ErrDegradedBudgetExceeded):
		return false
	}
	return true
}

// complete records terminal success and releases the execution handle.
func (p *Pool) complete(ctx context.Context, sessionID string) error {
	if err := p.repo.UpdateStatus(ctx, sessionID, debate.StatusCompleted); err != nil {
		return fmt.Errorf("mark session completed: %w", err)
	}
	if err := p.repo.ClearHandle(ctx, sessionID); err != nil {
		slog.Warn("clear handle failed", "session_id", sessionID, "error", err)
	}
	return nil
}

// fail records terminal failure: a session-error event, ERROR status,
// and handle release. The run context may already be dead, so the
// terminal writes use a detached context.
func (p *Pool) fail(ctx context.Context, sessionID string, cause error, attempts int) error {
	detached := context.WithoutCancel(ctx)

	payload, _ := json.Marshal(event.SessionErrorPayload{
		Error:    cause.Error(),
		Attempts: attempts,
	})
	ev := &event.DebateEvent{
		SessionID:     sessionID,
		Type:          event.TypeSessionError,
		SchemaVersion: event.SchemaVersion,
		Payload:       payload,
	}
	if s, err := p.repo.GetSession(detached, sessionID); err == nil {
		ev.Phase = s.Phase
	}
	if err := p.repo.AppendEvent(detached, ev); err != nil {
		slog.Error("append session-error event failed", "session_id", sessionID, "error", err)
	} else if p.hub != nil {
		p.hub.Publish(detached, ev)
	}

	if err := p.repo.UpdateStatus(detached, sessionID, debate.StatusError); err != nil {
		return fmt.Errorf("mark session errored: %w", err)
	}
	if err := p.repo.ClearHandle(detached, sessionID); err != nil {
		slog.Warn("clear handle failed", "session_id", sessionID, "error", err)
	}
	return fmt.Errorf("session %s failed after %d attempts: %w", sessionID, attempts, cause)
}
