// Package ws implements per-session WebSocket fan-out of debate events.
// Each connection gets a bounded send queue; a consumer that cannot keep
// up is disconnected rather than allowed to slow the debate or receive a
// gapped stream, and can reconnect and backfill the log over HTTP.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/roundtablehq/roundtable/internal/domain/event"
)

// defaultQueueSize bounds the per-connection send queue.
const defaultQueueSize = 64

// writeTimeout bounds a single frame write to one client.
const writeTimeout = 5 * time.Second

// Message is the envelope for all WebSocket messages.
type Message struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// conn wraps a single WebSocket connection and its send queue.
type conn struct {
	ws        *websocket.Conn
	sessionID string
	send      chan []byte
	cancel    context.CancelFunc
}

// Hub manages WebSocket connections grouped by debate session.
type Hub struct {
	mu        sync.RWMutex
	sessions  map[string]map[*conn]struct{}
	queueSize int
}

// NewHub creates a hub. queueSize <= 0 uses the default.
func NewHub(queueSize int) *Hub {
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	return &Hub{
		sessions:  make(map[string]map[*conn]struct{}),
		queueSize: queueSize,
	}
}

// Serve upgrades the request and subscribes the connection to one
// session's event stream until the client disconnects.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, sessionID string) {
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true, // CORS handled by middleware
	})
	if err != nil {
		slog.Error("websocket accept failed", "error", err)
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	c := &conn{
		ws:        ws,
		sessionID: sessionID,
		send:      make(chan []byte, h.queueSize),
		cancel:    cancel,
	}

	h.mu.Lock()
	if h.sessions[sessionID] == nil {
		h.sessions[sessionID] = make(map[*conn]struct{})
	}
	h.sessions[sessionID][c] = struct{}{}
	h.mu.Unlock()

	slog.Info("websocket connected", "session_id", sessionID, "remote", r.RemoteAddr)

	// Write pump: drains the bounded queue onto the socket.
	go func() {
		for data := range c.send {
			wctx, wcancel := context.WithTimeout(ctx, writeTimeout)
			err := ws.Write(wctx, websocket.MessageText, data)
			wcancel()
			if err != nil {
				slog.Debug("websocket write failed", "session_id", sessionID, "error", err)
				h.remove(c)
				return
			}
		}
	}()

	// Read loop: detects disconnects and consumes pings.
	go func() {
		defer func() {
			h.remove(c)
			_ = ws.Close(websocket.StatusNormalClosure, "")
		}()
		for {
			if _, _, err := ws.Read(ctx); err != nil {
				return
			}
		}
	}()
}

// Publish fans a debate event out to the session's subscribers in
// append order. It implements broadcast.Broadcaster and never blocks: a
// subscriber whose queue is full is dropped from the session, never
// handed a gapped stream.
func (h *Hub) Publish(_ context.Context, ev *event.DebateEvent) {
	payload, err := json.Marshal(ev)
	if err != nil {
		slog.Error("marshal debate event", "type", ev.Type, "error", err)
		return
	}
	data, err := json.Marshal(Message{Type: string(ev.Type), Payload: payload})
	if err != nil {
		slog.Error("marshal ws envelope", "type", ev.Type, "error", err)
		return
	}

	h.mu.RLock()
	var slow []*conn
	for c := range h.sessions[ev.SessionID] {
		select {
		case c.send <- data:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		slog.Warn("dropping slow websocket subscriber", "session_id", ev.SessionID)
		h.remove(c)
	}
}

// ConnectionCount returns the number of subscribers for a session.
func (h *Hub) ConnectionCount(sessionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions[sessionID])
}

func (h *Hub) remove(c *conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	conns, ok := h.sessions[c.sessionID]
	if !ok {
		return
	}
	if _, ok := conns[c]; !ok {
		return
	}
	c.cancel()
	delete(conns, c)
	close(c.send)
	if len(conns) == 0 {
		delete(h.sessions, c.sessionID)
	}
	slog.Info("websocket disconnected", "session_id", c.sessionID)
}
