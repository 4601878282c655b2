package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/roundtablehq/roundtable/internal/domain"
	"github.com/roundtablehq/roundtable/internal/domain/debate"
	"github.com/roundtablehq/roundtable/internal/domain/event"
)

// Store implements repository.Repository using PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a Store backed by the given connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// sessionColumns is the SELECT column list for debate_sessions queries.
const sessionColumns = `id, external_id, user_id, topic, knights, phase, status, handle, created_at, updated_at, completed_at`

func scanSession(scanner interface{ Scan(dest ...any) error }, s *debate.Session) error {
	var knights []byte
	if err := scanner.Scan(
		&s.ID, &s.ExternalID, &s.UserID, &s.Topic, &knights,
		&s.Phase, &s.Status, &s.Handle, &s.CreatedAt, &s.UpdatedAt, &s.CompletedAt,
	); err != nil {
		return err
	}
	if err := json.Unmarshal(knights, &s.Knights); err != nil {
		return fmt.Errorf("decode knights: %w", err)
	}
	return nil
}

// CreateSession persists a new session with status RUNNING and phase IDLE.
func (s *Store) CreateSession(ctx context.Context, req debate.CreateSessionRequest) (*debate.Session, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	knights, err := json.Marshal(req.Knights)
	if err != nil {
		return nil, fmt.Errorf("encode knights: %w", err)
	}

	row := s.pool.QueryRow(ctx,
		fmt.Sprintf(`INSERT INTO debate_sessions (external_id, user_id, topic, knights)
		 VALUES ($1, $2, $3, $4)
		 RETURNING %s`, sessionColumns),
		req.ExternalID, req.UserID, req.Topic, knights)

	var sess debate.Session
	if err := scanSession(row, &sess); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	return &sess, nil
}

// GetSession returns a session by internal id.
func (s *Store) GetSession(ctx context.Context, sessionID string) (*debate.Session, error) {
	row := s.pool.QueryRow(ctx,
		fmt.Sprintf(`SELECT %s FROM debate_sessions WHERE id = $1`, sessionColumns), sessionID)

	var sess debate.Session
	if err := scanSession(row, &sess); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("session %s: %w", sessionID, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("get session %s: %w", sessionID, err)
	}
	return &sess, nil
}

// ListRunningSessions returns every session with status RUNNING.
func (s *Store) ListRunningSessions(ctx context.Context) ([]debate.Session, error) {
	rows, err := s.pool.Query(ctx,
		fmt.Sprintf(`SELECT %s FROM debate_sessions WHERE status = $1 ORDER BY created_at ASC`, sessionColumns),
		string(debate.StatusRunning))
	if err != nil {
		return nil, fmt.Errorf("list running sessions: %w", err)
	}
	defer rows.Close()

	var sessions []debate.Session
	for rows.Next() {
		var sess debate.Session
		if err := scanSession(rows, &sess); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

// UpdatePhase records the session's current phase.
func (s *Store) UpdatePhase(ctx context.Context, sessionID string, phase debate.Phase) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE debate_sessions SET phase = $1, updated_at = now() WHERE id = $2`,
		string(phase), sessionID)
	if err != nil {
		return fmt.Errorf("update phase: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("session %s: %w", sessionID, domain.ErrNotFound)
	}
	return nil
}

// UpdateStatus records a status change; terminal statuses stamp completed_at.
func (s *Store) UpdateStatus(ctx context.Context, sessionID string, status debate.Status) error {
	query := `UPDATE debate_sessions SET status = $1, updated_at = now() WHERE id = $2`
	if status != debate.StatusRunning {
		query = `UPDATE debate_sessions SET status = $1, updated_at = now(), completed_at = now() WHERE id = $2`
	}
	tag, err := s.pool.Exec(ctx, query, string(status), sessionID)
	if err != nil {
		return fmt.Errorf("update status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("session %s: %w", sessionID, domain.ErrNotFound)
	}
	return nil
}

// AppendEvent appends ev to the session's log. The per-session advisory
// lock serializes appends so sequence ids come out strictly increasing
// and gap-free from 0 even under concurrent writers.
func (s *Store) AppendEvent(ctx context.Context, ev *event.DebateEvent) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin append: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx,
		`SELECT pg_advisory_xact_lock(hashtext($1))`, ev.SessionID); err != nil {
		return fmt.Errorf("acquire session lock: %w", err)
	}

	payload := ev.Payload
	if len(payload) == 0 {
		payload = json.RawMessage(`{}`)
	}

	row := tx.QueryRow(ctx,
		`INSERT INTO debate_events
		   (session_id, knight_id, event_type, phase, schema_version, sequence_id,
		    rationale, payload, tokens_in, tokens_out, latency_ms, cost_usd)
		 SELECT $1, $2, $3, $4, $5,
		        COALESCE(MAX(sequence_id) + 1, 0),
		        $6, $7, $8, $9, $10, $11
		 FROM debate_events WHERE session_id = $1
		 RETURNING id, sequence_id, created_at`,
		ev.SessionID, ev.KnightID, string(ev.Type), string(ev.Phase), ev.SchemaVersion,
		ev.Rationale, payload, ev.TokensIn, ev.TokensOut, ev.LatencyMS, ev.CostUSD)

	if err := row.Scan(&ev.ID, &ev.Sequence, &ev.CreatedAt); err != nil {
		return fmt.Errorf("append event: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit append: %w", err)
	}
	return nil
}

// eventColumns is the SELECT column list for debate_events queries.
const eventColumns = `id, session_id, knight_id, event_type, phase, schema_version, sequence_id, rationale, payload, tokens_in, tokens_out, latency_ms, cost_usd, created_at`

func scanEvent(scanner interface{ Scan(dest ...any) error }, ev *event.DebateEvent) error {
	return scanner.Scan(
		&ev.ID, &ev.SessionID, &ev.KnightID, &ev.Type, &ev.Phase, &ev.SchemaVersion,
		&ev.Sequence, &ev.Rationale, &ev.Payload,
		&ev.TokensIn, &ev.TokensOut, &ev.LatencyMS, &ev.CostUSD, &ev.CreatedAt,
	)
}

// ListEvents returns all events for the session ordered by sequence.
func (s *Store) ListEvents(ctx context.Context, sessionID string) ([]event.DebateEvent, error) {
	rows, err := s.pool.Query(ctx,
		fmt.Sprintf(`SELECT %s FROM debate_events WHERE session_id = $1 ORDER BY sequence_id ASC`, eventColumns),
		sessionID)
	if err != nil {
		return nil, fmt.Errorf("list events for %s: %w", sessionID, err)
	}
	defer rows.Close()

	var events []event.DebateEvent
	for rows.Next() {
		var ev event.DebateEvent
		if err := scanEvent(rows, &ev); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// CountEvents returns the number of events appended for the session.
func (s *Store) CountEvents(ctx context.Context, sessionID string) (int64, error) {
	var n int64
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM debate_events WHERE session_id = $1`, sessionID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count events: %w", err)
	}
	return n, nil
}

// GetHandle returns the session's current execution handle ("" if none).
func (s *Store) GetHandle(ctx context.Context, sessionID string) (string, error) {
	var handle string
	err := s.pool.QueryRow(ctx,
		`SELECT handle FROM debate_sessions WHERE id = $1`, sessionID).Scan(&handle)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", fmt.Errorf("session %s: %w", sessionID, domain.ErrNotFound)
		}
		return "", fmt.Errorf("get handle: %w", err)
	}
	return handle, nil
}

// SetHandle records the execution handle for the session.
func (s *Store) SetHandle(ctx context.Context, sessionID, handle string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE debate_sessions SET handle = $1, updated_at = now() WHERE id = $2`,
		handle, sessionID)
	if err != nil {
		return fmt.Errorf("set handle: %w", err)
	}
	return nil
}

// ClearHandle removes the session's execution handle.
func (s *Store) ClearHandle(ctx context.Context, sessionID string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE debate_sessions SET handle = '', updated_at = now() WHERE id = $1`,
		sessionID)
	if err != nil {
		return fmt.Errorf("clear handle: %w", err)
	}
	return nil
}
