// Package nats implements the task-queue port using NATS JetStream.
// Execution units are dispatch messages on a durable stream; liveness is
// a TTL'd heartbeat key in JetStream KV, so a crashed worker's handle
// reads as dead once its last heartbeat expires.
package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/roundtablehq/roundtable/internal/config"
	"github.com/roundtablehq/roundtable/internal/port/taskqueue"
)

const (
	streamName      = "ROUNDTABLE"
	heartbeatBucket = "debate-heartbeats"

	subjectExecute = "debates.execute"
	subjectCancel  = "debates.cancel"
)

// executeMsg is the wire form of one dispatched execution unit.
type executeMsg struct {
	SessionID string `json:"session_id"`
	Handle    string `json:"handle"`
}

// Queue implements taskqueue.Queue using NATS JetStream and KV.
type Queue struct {
	nc         *nats.Conn
	js         jetstream.JetStream
	heartbeats jetstream.KeyValue
	hbInterval time.Duration
}

// Connect establishes the NATS connection and ensures the stream and the
// TTL'd heartbeat bucket exist.
func Connect(ctx context.Context, cfg config.NATS) (*Queue, error) {
	nc, err := nats.Connect(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream init: %w", err)
	}

	_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:     streamName,
		Subjects: []string{"debates.>"},
	})
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream stream create: %w", err)
	}

	hb, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket: heartbeatBucket,
		TTL:    cfg.HeartbeatTTL,
	})
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("heartbeat bucket create: %w", err)
	}

	slog.Info("nats connected", "url", cfg.URL, "stream", streamName)
	return &Queue{nc: nc, js: js, heartbeats: hb, hbInterval: cfg.HeartbeatInterval}, nil
}

// Dispatch enqueues one execution unit for the session.
func (q *Queue) Dispatch(ctx context.Context, sessionID string) (taskqueue.Handle, error) {
	handle := uuid.NewString()
	data, err := json.Marshal(executeMsg{SessionID: sessionID, Handle: handle})
	if err != nil {
		return "", fmt.Errorf("encode dispatch: %w", err)
	}

	subject := subjectExecute + "." + sessionID
	if _, err := q.js.Publish(ctx, subject, data); err != nil {
		return "", fmt.Errorf("dispatch %s: %w", sessionID, err)
	}

	slog.Info("session dispatched", "session_id", sessionID, "handle", handle)
	return taskqueue.Handle(handle), nil
}

// IsAlive checks the handle's heartbeat key. A missing key means the
// worker stopped heartbeating long enough for the TTL to expire; a store
// error means we cannot know.
func (q *Queue) IsAlive(ctx context.Context, handle taskqueue.Handle) taskqueue.Liveness {
	_, err := q.heartbeats.Get(ctx, string(handle))
	switch {
	case err == nil:
		return taskqueue.Alive
	case errors.Is(err, jetstream.ErrKeyNotFound):
		return taskqueue.Dead
	default:
		slog.Warn("heartbeat lookup failed", "handle", handle, "error", err)
		return taskqueue.Unknown
	}
}

// Cancel requests cooperative cancellation of the execution unit.
func (q *Queue) Cancel(ctx context.Context, handle taskqueue.Handle) error {
	subject := subjectCancel + "." + string(handle)
	if err := q.nc.Publish(subject, nil); err != nil {
		return fmt.Errorf("cancel %s: %w", handle, err)
	}
	return nil
}

// Heartbeat refreshes the handle's liveness key until ctx is cancelled,
// then removes it so the handle reads dead immediately instead of after
// TTL expiry. Run it alongside the execution it covers.
func (q *Queue) Heartbeat(ctx context.Context, handle taskqueue.Handle) {
	key := string(handle)
	put := func() {
		if _, err := q.heartbeats.Put(ctx, key, []byte(time.Now().UTC().Format(time.RFC3339))); err != nil {
			slog.Warn("heartbeat put failed", "handle", handle, "error", err)
		}
	}
	put()

	t := time.NewTicker(q.hbInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			cleanup, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
			defer cancel()
			if err := q.heartbeats.Delete(cleanup, key); err != nil && !errors.Is(err, jetstream.ErrKeyNotFound) {
				slog.Warn("heartbeat delete failed", "handle", handle, "error", err)
			}
			return
		case <-t.C:
			put()
		}
	}
}

// ExecuteHandler processes one dispatched session. A returned error naks
// the message for redelivery.
type ExecuteHandler func(ctx context.Context, sessionID string, handle taskqueue.Handle) error

// ConsumeExecutions registers a durable consumer for dispatched sessions.
// The returned function stops consumption.
func (q *Queue) ConsumeExecutions(ctx context.Context, handler ExecuteHandler) (func(), error) {
	consumer, err := q.js.CreateOrUpdateConsumer(ctx, streamName, jetstream.ConsumerConfig{
		Durable:       "debate-workers",
		FilterSubject: subjectExecute + ".>",
		AckPolicy:     jetstream.AckExplicitPolicy,
		// A debate outlives any sane redelivery window; workers ack on
		// receipt and rely on the recovery supervisor for crash cases.
		AckWait: 30 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("nats consumer create: %w", err)
	}

	cons, err := consumer.Consume(func(msg jetstream.Msg) {
		var em executeMsg
		if err := json.Unmarshal(msg.Data(), &em); err != nil {
			slog.Error("malformed dispatch message", "subject", msg.Subject(), "error", err)
			_ = msg.Ack()
			return
		}
		if ackErr := msg.Ack(); ackErr != nil {
			slog.Error("nats ack failed", "error", ackErr)
		}
		if err := handler(ctx, em.SessionID, taskqueue.Handle(em.Handle)); err != nil {
			slog.Error("execution failed", "session_id", em.SessionID, "handle", em.Handle, "error", err)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("nats consume: %w", err)
	}

	return cons.Stop, nil
}

// ConsumeCancels subscribes to cancellation requests. The handler
// receives the targeted handle.
func (q *Queue) ConsumeCancels(handler func(handle taskqueue.Handle)) (func(), error) {
	sub, err := q.nc.Subscribe(subjectCancel+".>", func(msg *nats.Msg) {
		handle := msg.Subject[len(subjectCancel)+1:]
		handler(taskqueue.Handle(handle))
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe cancels: %w", err)
	}
	return func() { _ = sub.Unsubscribe() }, nil
}

// JetStream exposes the underlying JetStream handle for adapters that
// share the connection (guard bucket, KV cache).
func (q *Queue) JetStream() jetstream.JetStream {
	return q.js
}

// Close shuts down the NATS connection.
func (q *Queue) Close() error {
	q.nc.Close()
	return nil
}
