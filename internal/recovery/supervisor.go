// Package recovery resumes orphaned debate sessions after a process
// restart. The supervisor scans the store for sessions that are still
// RUNNING, tests whether their execution unit survived, and redispatches
// the dead ones exactly once.
package recovery

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/roundtablehq/roundtable/internal/domain/debate"
	"github.com/roundtablehq/roundtable/internal/port/guard"
	"github.com/roundtablehq/roundtable/internal/port/repository"
	"github.com/roundtablehq/roundtable/internal/port/taskqueue"
)

// Report summarizes one recovery scan.
type Report struct {
	Scanned      int
	Alive        int
	Redispatched int
	NotStarted   int // no events yet; left for an explicit restart
	Skipped      int // lost the idempotency guard to a concurrent scan
	Failed       int
}

// Supervisor scans for and redispatches orphaned sessions. It also owns
// the guarded dispatch path shared by every trigger, so a session is
// never given two live execution units.
type Supervisor struct {
	repo  repository.Repository
	queue taskqueue.Queue
	guard guard.Guard
}

// New creates a Supervisor.
func New(repo repository.Repository, q taskqueue.Queue, g guard.Guard) *Supervisor {
	return &Supervisor{repo: repo, queue: q, guard: g}
}

// Recover runs one scan. It is safe to run from several processes at
// once: the guard ensures each orphan is redispatched by exactly one of
// them. Per-session failures are logged and counted, never fatal to the
// scan.
func (s *Supervisor) Recover(ctx context.Context) (Report, error) {
	var rep Report

	sessions, err := s.repo.ListRunningSessions(ctx)
	if err != nil {
		return rep, fmt.Errorf("list running sessions: %w", err)
	}
	rep.Scanned = len(sessions)

	for i := range sessions {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		s.recoverOne(ctx, &sessions[i], &rep)
	}

	slog.Info("recovery scan complete",
		"scanned", rep.Scanned, "alive", rep.Alive,
		"redispatched", rep.Redispatched, "not_started", rep.NotStarted,
		"skipped", rep.Skipped, "failed", rep.Failed)
	return rep, nil
}

func (s *Supervisor) recoverOne(ctx context.Context, sess *debate.Session, rep *Report) {
	if sess.Handle != "" {
		liveness := s.queue.IsAlive(ctx, taskqueue.Handle(sess.Handle))
		switch liveness {
		case taskqueue.Alive:
			rep.Alive++
			return
		case taskqueue.Unknown:
			// Degrade to dead: a spurious restart is recoverable, a
			// permanently stuck session is not.
			slog.Warn("liveness unknown, treating as dead",
				"session_id", sess.ID, "handle", sess.Handle)
		}
	}

	// A session that never emitted an event never actually started; that
	// is a dispatch that went missing, not a crash mid-run. Restarting it
	// is the caller's call, not ours.
	n, err := s.repo.CountEvents(ctx, sess.ID)
	if err != nil {
		rep.Failed++
		slog.Error("count events failed", "session_id", sess.ID, "error", err)
		return
	}
	if n == 0 {
		rep.NotStarted++
		slog.Debug("session has no events, leaving for explicit restart", "session_id", sess.ID)
		return
	}

	handle, dispatched, err := s.Dispatch(ctx, sess)
	if err != nil {
		rep.Failed++
		slog.Error("redispatch failed", "session_id", sess.ID, "error", err)
		return
	}
	if !dispatched {
		rep.Skipped++
		slog.Debug("another dispatcher owns this session",
			"session_id", sess.ID, "handle", handle)
		return
	}

	rep.Redispatched++
	slog.Info("orphaned session redispatched",
		"session_id", sess.ID, "phase", sess.Phase, "handle", handle)
}

// Dispatch starts the session's execution unit exactly once and records
// its handle. It is the idempotency point for every dispatch path: a
// session whose unit is already heartbeating, or whose running marker is
// held by a concurrent dispatcher, is a no-op that returns the handle
// already on record. The second return value reports whether a new unit
// was actually started.
func (s *Supervisor) Dispatch(ctx context.Context, sess *debate.Session) (taskqueue.Handle, bool, error) {
	if sess.Handle != "" && s.queue.IsAlive(ctx, taskqueue.Handle(sess.Handle)) == taskqueue.Alive {
		return taskqueue.Handle(sess.Handle), false, nil
	}

	key := "dispatch:" + sess.ID
	won, err := s.guard.Acquire(ctx, key)
	if err != nil {
		return "", false, fmt.Errorf("acquire dispatch marker: %w", err)
	}
	if !won {
		existing, err := s.repo.GetHandle(ctx, sess.ID)
		if err != nil {
			return "", false, fmt.Errorf("read recorded handle: %w", err)
		}
		return taskqueue.Handle(existing), false, nil
	}
	defer func() {
		if err := s.guard.Release(ctx, key); err != nil {
			slog.Warn("dispatch marker release failed", "session_id", sess.ID, "error", err)
		}
	}()

	handle, err := s.queue.Dispatch(ctx, sess.ID)
	if err != nil {
		return "", false, fmt.Errorf("dispatch %s: %w", sess.ID, err)
	}
	if err := s.repo.SetHandle(ctx, sess.ID, string(handle)); err != nil {
		return "", false, fmt.Errorf("record handle: %w", err)
	}
	return handle, true, nil
}
