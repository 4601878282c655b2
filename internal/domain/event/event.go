// Package event defines the immutable DebateEvent appended to a session's
// ordered event log.
package event

import (
	"encoding/json"
	"time"

	"github.com/roundtablehq/roundtable/internal/domain/debate"
)

// SchemaVersion is stamped on every emitted event.
const SchemaVersion = "1.0"

// Type identifies the kind of debate event. The set is closed; consumers
// may rely on it being exhaustive for a given schema version.
type Type string

const (
	TypeResearchResult  Type = "research-result"
	TypePositionCard    Type = "position-card"
	TypeChallenge       Type = "challenge"
	TypeCitationAdded   Type = "citation-added"
	TypeFactCheck       Type = "fact-check"
	TypeRebuttal        Type = "rebuttal"
	TypeRedTeamCritique Type = "red-team-critique"
	TypeModeratorRuling Type = "moderator-ruling"
	TypeConvergence     Type = "convergence"
	TypeTranslator      Type = "translator-output"
	TypeArtifactReady   Type = "artifact-ready"
	TypeRouterDecision  Type = "router-decision"
	TypeDegraded        Type = "degraded"
	TypePhaseStarted    Type = "phase-started"
	TypePhaseProgress   Type = "phase-progress"
	TypePhaseComplete   Type = "phase-complete"
	TypeSessionError    Type = "session-error"
)

// DebateEvent is a single immutable entry in a session's event log.
// Sequence is assigned exactly once by the store, strictly increasing
// from 0 and gap-free per session.
type DebateEvent struct {
	ID            string          `json:"id"`
	SessionID     string          `json:"session_id"`
	KnightID      string          `json:"knight_id,omitempty"`
	Type          Type            `json:"type"`
	Phase         debate.Phase    `json:"phase"`
	SchemaVersion string          `json:"schema_version"`
	Sequence      int64           `json:"sequence_id"`
	Rationale     string          `json:"rationale,omitempty"`
	Payload       json.RawMessage `json:"payload"`

	// Optional per-call accounting.
	TokensIn  int64   `json:"tokens_in,omitempty"`
	TokensOut int64   `json:"tokens_out,omitempty"`
	LatencyMS int64   `json:"latency_ms,omitempty"`
	CostUSD   float64 `json:"cost_usd,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// PhaseCompletePayload is the payload of a phase-complete event.
// Forced marks an early transition (timeout or operator stop) so
// consumers can distinguish it from a natural completion.
type PhaseCompletePayload struct {
	Forced bool   `json:"forced"`
	Reason string `json:"reason,omitempty"` // "timeout" | "stopped" | "budget" | "quota"
	Turns  int    `json:"turns"`
}

// DegradedPayload records a turn whose output stayed malformed after the
// strict retry. Raw carries the unvalidated model output for diagnosis.
type DegradedPayload struct {
	WantType Type   `json:"want_type"`
	Error    string `json:"error"`
	Raw      string `json:"raw,omitempty"`
}

// RouterDecisionPayload records an aggregator fallback taken for a turn.
type RouterDecisionPayload struct {
	Model    string `json:"model"`
	Native   string `json:"native_provider"`
	Backend  string `json:"backend"`
	Reason   string `json:"reason"`
	FellBack bool   `json:"fell_back"`
}

// SessionErrorPayload carries the last concrete error of an exhausted run.
type SessionErrorPayload struct {
	Error    string `json:"error"`
	Attempts int    `json:"attempts"`
}
