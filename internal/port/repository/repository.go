// Package repository defines the port interface for session and event
// persistence. The backing store is the durability boundary: everything
// in memory is advisory and recomputable from it.
package repository

import (
	"context"

	"github.com/roundtablehq/roundtable/internal/domain/debate"
	"github.com/roundtablehq/roundtable/internal/domain/event"
)

// Repository is the port interface for the relational store.
type Repository interface {
	// CreateSession persists a new session with status RUNNING and phase IDLE.
	CreateSession(ctx context.Context, req debate.CreateSessionRequest) (*debate.Session, error)

	// GetSession returns a session by internal id.
	GetSession(ctx context.Context, sessionID string) (*debate.Session, error)

	// ListRunningSessions returns every session with status RUNNING.
	ListRunningSessions(ctx context.Context) ([]debate.Session, error)

	// UpdatePhase records the session's current phase.
	UpdatePhase(ctx context.Context, sessionID string, phase debate.Phase) error

	// UpdateStatus records a terminal or running status. COMPLETED and
	// ERROR also stamp completed_at.
	UpdateStatus(ctx context.Context, sessionID string, status debate.Status) error

	// AppendEvent appends ev to the session's log, assigning the next
	// sequence id exactly once. On return ev.Sequence and ev.ID are set.
	// The implementation must enforce the strictly-increasing, gap-free
	// per-session sequence invariant even under concurrent callers.
	AppendEvent(ctx context.Context, ev *event.DebateEvent) error

	// ListEvents returns all events for the session ordered by sequence.
	ListEvents(ctx context.Context, sessionID string) ([]event.DebateEvent, error)

	// CountEvents returns the number of events appended for the session.
	CountEvents(ctx context.Context, sessionID string) (int64, error)

	// GetHandle returns the session's current execution handle ("" if none).
	GetHandle(ctx context.Context, sessionID string) (string, error)

	// SetHandle records the execution handle for the session.
	SetHandle(ctx context.Context, sessionID, handle string) error

	// ClearHandle removes the session's execution handle.
	ClearHandle(ctx context.Context, sessionID string) error
}
