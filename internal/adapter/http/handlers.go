// Package http exposes the debate orchestration API: session lifecycle,
// the ordered event log, and the per-session WebSocket stream.
package http

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/roundtablehq/roundtable/internal/adapter/ws"
	"github.com/roundtablehq/roundtable/internal/domain/debate"
	"github.com/roundtablehq/roundtable/internal/domain/event"
	"github.com/roundtablehq/roundtable/internal/port/repository"
	"github.com/roundtablehq/roundtable/internal/port/taskqueue"
	"github.com/roundtablehq/roundtable/internal/runner"
)

// Dispatcher starts a session's execution unit idempotently: dispatching
// a session whose running marker is already set is a no-op that returns
// the handle on record.
type Dispatcher interface {
	Dispatch(ctx context.Context, sess *debate.Session) (taskqueue.Handle, bool, error)
}

// Handlers holds dependencies for all HTTP handlers.
type Handlers struct {
	repo       repository.Repository
	queue      taskqueue.Queue
	dispatcher Dispatcher
	pool       *runner.Pool
	hub        *ws.Hub
}

// NewHandlers creates the handler set.
func NewHandlers(repo repository.Repository, queue taskqueue.Queue, dispatcher Dispatcher, pool *runner.Pool, hub *ws.Hub) *Handlers {
	return &Handlers{repo: repo, queue: queue, dispatcher: dispatcher, pool: pool, hub: hub}
}

// CreateDebate opens a session and dispatches its execution unit.
// A failed dispatch is not fatal: the session is durably RUNNING and can
// be started explicitly through the restart endpoint.
func (h *Handlers) CreateDebate(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[debate.CreateSessionRequest](w, r)
	if !ok {
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	sess, err := h.repo.CreateSession(r.Context(), req)
	if err != nil {
		writeDomainError(w, err, "session not created")
		return
	}

	handle, _, err := h.dispatcher.Dispatch(r.Context(), sess)
	if err != nil {
		slog.Warn("dispatch failed, session awaits an explicit restart",
			"session_id", sess.ID, "error", err)
	} else {
		sess.Handle = string(handle)
	}

	writeJSON(w, http.StatusCreated, sess)
}

// RestartDebate dispatches an execution unit for a session whose
// original dispatch was lost before any events were emitted. Dispatch is
// idempotent, so restarting a session that is already executing returns
// its current handle without starting a second unit.
func (h *Handlers) RestartDebate(w http.ResponseWriter, r *http.Request) {
	sess, err := h.repo.GetSession(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "session not found")
		return
	}
	if !sess.Active() {
		writeError(w, http.StatusConflict, "session is not running")
		return
	}

	handle, dispatched, err := h.dispatcher.Dispatch(r.Context(), sess)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "dispatch failed")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"handle":     string(handle),
		"dispatched": dispatched,
	})
}

// GetDebate returns one session.
func (h *Handlers) GetDebate(w http.ResponseWriter, r *http.Request) {
	sess, err := h.repo.GetSession(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "session not found")
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

// eventsResponse pages the ordered event log.
type eventsResponse struct {
	Events []event.DebateEvent `json:"events"`
	Total  int64               `json:"total"`
}

// ListDebateEvents returns the session's event log ordered by sequence.
// ?after_sequence=N returns only events with a higher sequence, letting a
// reconnecting WebSocket client fill the gap it missed.
func (h *Handlers) ListDebateEvents(w http.ResponseWriter, r *http.Request) {
	sessionID := urlParam(r, "id")

	events, err := h.repo.ListEvents(r.Context(), sessionID)
	if err != nil {
		writeDomainError(w, err, "events not found")
		return
	}

	if after := r.URL.Query().Get("after_sequence"); after != "" {
		seq, err := strconv.ParseInt(after, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "after_sequence must be an integer")
			return
		}
		filtered := events[:0]
		for _, ev := range events {
			if ev.Sequence > seq {
				filtered = append(filtered, ev)
			}
		}
		events = filtered
	}

	total, err := h.repo.CountEvents(r.Context(), sessionID)
	if err != nil {
		writeDomainError(w, err, "events not found")
		return
	}

	writeJSON(w, http.StatusOK, eventsResponse{Events: events, Total: total})
}

// StopDebate requests cooperative stop of a running session. The engine
// finishes its in-flight turn, appends terminal events, and the session
// ends COMPLETED.
func (h *Handlers) StopDebate(w http.ResponseWriter, r *http.Request) {
	sessionID := urlParam(r, "id")

	sess, err := h.repo.GetSession(r.Context(), sessionID)
	if err != nil {
		writeDomainError(w, err, "session not found")
		return
	}
	if !sess.Active() {
		writeError(w, http.StatusConflict, "session is not running")
		return
	}

	// Local execution stops directly; a session owned by another worker
	// gets a cancel message through the queue.
	if h.pool.Stop(sessionID) {
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "stopping"})
		return
	}
	if sess.Handle == "" {
		writeError(w, http.StatusConflict, "session has no live execution unit")
		return
	}
	if err := h.queue.Cancel(r.Context(), taskqueue.Handle(sess.Handle)); err != nil {
		writeDomainError(w, err, "session not found")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "stopping"})
}

// ServeWS subscribes the client to a session's live event stream.
func (h *Handlers) ServeWS(w http.ResponseWriter, r *http.Request) {
	sessionID := urlParam(r, "id")
	if _, err := h.repo.GetSession(r.Context(), sessionID); err != nil {
		writeDomainError(w, err, "session not found")
		return
	}
	h.hub.Serve(w, r, sessionID)
}

// Health reports service liveness.
func (h *Handlers) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
