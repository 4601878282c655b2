package debate

import "time"

// Phase identifies a stage of the debate state machine.
type Phase string

const (
	PhaseIdle             Phase = "IDLE"
	PhaseResearch         Phase = "RESEARCH"
	PhaseOpening          Phase = "OPENING"
	PhaseClaims           Phase = "CLAIMS"
	PhaseCrossExamination Phase = "CROSS_EXAMINATION"
	PhaseChallenges       Phase = "CHALLENGES"
	PhaseRedTeam          Phase = "RED_TEAM"
	PhaseRebuttals        Phase = "REBUTTALS"
	PhaseConvergence      Phase = "CONVERGENCE"
	PhaseTranslator       Phase = "TRANSLATOR"
	PhaseArtifactReady    Phase = "ARTIFACT_READY"
	PhaseClosed           Phase = "CLOSED"
)

// phaseOrder is the fixed default progression of a debate.
var phaseOrder = []Phase{
	PhaseIdle,
	PhaseResearch,
	PhaseOpening,
	PhaseClaims,
	PhaseCrossExamination,
	PhaseChallenges,
	PhaseRedTeam,
	PhaseRebuttals,
	PhaseConvergence,
	PhaseTranslator,
	PhaseArtifactReady,
	PhaseClosed,
}

// Order returns the full phase progression, IDLE first, CLOSED last.
func Order() []Phase {
	out := make([]Phase, len(phaseOrder))
	copy(out, phaseOrder)
	return out
}

// Next returns the phase following p, or CLOSED if p is terminal or unknown.
// CLOSED has no successor.
func (p Phase) Next() Phase {
	for i, ph := range phaseOrder {
		if ph == p && i+1 < len(phaseOrder) {
			return phaseOrder[i+1]
		}
	}
	return PhaseClosed
}

// Terminal reports whether no transition leaves p.
func (p Phase) Terminal() bool {
	return p == PhaseClosed
}

// Valid reports whether p is a known phase.
func (p Phase) Valid() bool {
	for _, ph := range phaseOrder {
		if ph == p {
			return true
		}
	}
	return false
}

// Timing bounds one non-terminal phase. Immutable once the engine is built.
type Timing struct {
	MaxDuration    time.Duration // 0 = unlimited
	Grace          time.Duration
	MaxTokens      int // 0 = unlimited
	ChallengeQuota int // 0 = unlimited
}

// Deadline returns the instant at which the phase must be force-completed.
func (t Timing) Deadline(start time.Time) time.Time {
	return start.Add(t.MaxDuration + t.Grace)
}
