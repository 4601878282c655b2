// Package engine drives a debate session through its ordered phase
// sequence, one provider-routed turn per knight, under per-phase time,
// token, and quota budgets. The engine is the session's single emitter:
// it alone appends events while the session runs.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/roundtablehq/roundtable/internal/config"
	"github.com/roundtablehq/roundtable/internal/domain/debate"
	"github.com/roundtablehq/roundtable/internal/domain/event"
	"github.com/roundtablehq/roundtable/internal/port/broadcast"
	"github.com/roundtablehq/roundtable/internal/port/repository"
	"github.com/roundtablehq/roundtable/internal/router"
)

// ErrStopped is returned when an external stop request cancelled the run.
// The in-flight turn was finished and a terminal event appended first.
var ErrStopped = errors.New("session stopped")

// ErrDegradedBudgetExceeded is returned when a session accumulates more
// degraded turns than the configured tolerance.
var ErrDegradedBudgetExceeded = errors.New("degraded turn budget exceeded")

// errPhaseDeadline marks a turn cut off by its phase deadline while the
// run itself is still live. It never leaves runPhase: the phase is
// force-completed as a timeout instead.
var errPhaseDeadline = errors.New("phase deadline reached")

// Generator is the engine's view of the provider router.
type Generator interface {
	Generate(ctx context.Context, userID string, req router.Request) (*router.Result, error)
}

// phaseEventTypes maps each LLM-driven phase to the event type its turns
// must produce.
var phaseEventTypes = map[debate.Phase]event.Type{
	debate.PhaseResearch:         event.TypeResearchResult,
	debate.PhaseOpening:          event.TypePositionCard,
	debate.PhaseClaims:           event.TypeCitationAdded,
	debate.PhaseCrossExamination: event.TypeFactCheck,
	debate.PhaseChallenges:       event.TypeChallenge,
	debate.PhaseRedTeam:          event.TypeRedTeamCritique,
	debate.PhaseRebuttals:        event.TypeRebuttal,
	debate.PhaseConvergence:      event.TypeConvergence,
	debate.PhaseTranslator:       event.TypeTranslator,
}

// singleTurnPhases run one moderator turn instead of one turn per knight.
var singleTurnPhases = map[debate.Phase]bool{
	debate.PhaseConvergence: true,
	debate.PhaseTranslator:  true,
}

// Engine runs debate sessions. Safe for use by one runner per session;
// the single-emitter invariant is enforced upstream by the idempotency
// guard, not here.
type Engine struct {
	repo        repository.Repository
	gen         Generator
	hub         broadcast.Broadcaster
	scores      *ScoreBoard
	timings     map[debate.Phase]debate.Timing
	maxDegraded int
	now         func() time.Time
}

// New creates an Engine. Phase timings are fixed at construction.
func New(repo repository.Repository, gen Generator, hub broadcast.Broadcaster, scores *ScoreBoard, cfg config.Engine) *Engine {
	timings := make(map[debate.Phase]debate.Timing, len(cfg.Phases))
	for name, pt := range cfg.Phases {
		timings[debate.Phase(name)] = debate.Timing{
			MaxDuration:    pt.MaxDuration,
			Grace:          pt.Grace,
			MaxTokens:      pt.MaxTokens,
			ChallengeQuota: pt.ChallengeQuota,
		}
	}
	return &Engine{
		repo:        repo,
		gen:         gen,
		hub:         hub,
		scores:      scores,
		timings:     timings,
		maxDegraded: cfg.MaxDegradedTurns,
		now:         time.Now,
	}
}

// Run drives the session from its last durably recorded position to
// CLOSED. It never re-emits events that are already appended: resumption
// re-enters the phase the log records, skipping knights whose turns are
// already present.
func (e *Engine) Run(ctx context.Context, s *debate.Session) error {
	events, err := e.repo.ListEvents(ctx, s.ID)
	if err != nil {
		return fmt.Errorf("load events: %w", err)
	}

	phase, completed, done := resumePoint(events)
	degraded := countDegraded(events)

	if phase == debate.PhaseIdle || completed {
		phase = phase.Next()
		done = nil
	} else {
		slog.Info("resuming mid-phase", "session_id", s.ID, "phase", phase, "turns_done", len(done))
	}

	for !phase.Terminal() {
		if err := e.repo.UpdatePhase(ctx, s.ID, phase); err != nil {
			return fmt.Errorf("update phase: %w", err)
		}

		if err := e.runPhase(ctx, s, phase, done, &events, &degraded); err != nil {
			if errors.Is(err, ErrStopped) {
				e.emitStopped(ctx, s, phase)
			}
			return err
		}

		phase = phase.Next()
		done = nil
	}

	if err := e.repo.UpdatePhase(ctx, s.ID, debate.PhaseClosed); err != nil {
		return fmt.Errorf("close session phase: %w", err)
	}
	return nil
}

// runPhase executes one phase to natural completion, budget/quota
// exhaustion, or forced timeout.
func (e *Engine) runPhase(ctx context.Context, s *debate.Session, phase debate.Phase, done map[string]bool, events *[]event.DebateEvent, degraded *int) error {
	timing := e.timings[phase]
	start := e.now()

	// A phase with no configured duration runs unbounded; token budgets
	// and quotas still apply.
	phaseCtx, cancel := ctx, context.CancelFunc(func() {})
	var deadline time.Time
	if timing.MaxDuration > 0 {
		deadline = timing.Deadline(start)
		phaseCtx, cancel = context.WithDeadline(ctx, deadline)
	}
	defer cancel()

	resuming := len(done) > 0
	if resuming {
		if err := e.emit(ctx, s, events, turnlessEvent(s.ID, event.TypePhaseProgress, phase, map[string]any{
			"resumed": true, "turns_done": len(done),
		})); err != nil {
			return err
		}
	} else {
		if err := e.emit(ctx, s, events, turnlessEvent(s.ID, event.TypePhaseStarted, phase, map[string]any{
			"knights": len(s.Knights),
		})); err != nil {
			return err
		}
	}

	if phase == debate.PhaseArtifactReady {
		return e.emitArtifact(ctx, s, phase, events)
	}

	turns, err := e.turnsFor(ctx, s, phase)
	if err != nil {
		return err
	}

	var phaseTokens int64
	challenges := countPhaseType(*events, phase, event.TypeChallenge)
	turnsRun := 0

	for _, k := range turns {
		if done[k.ID] {
			continue
		}
		if err := ctx.Err(); err != nil {
			return ErrStopped
		}
		if !deadline.IsZero() && e.now().After(deadline) {
			return e.completePhase(ctx, s, phase, events, &event.PhaseCompletePayload{
				Forced: true, Reason: "timeout", Turns: turnsRun,
			})
		}
		if timing.MaxTokens > 0 && phaseTokens >= int64(timing.MaxTokens) {
			return e.completePhase(ctx, s, phase, events, &event.PhaseCompletePayload{
				Reason: "budget", Turns: turnsRun,
			})
		}
		if timing.ChallengeQuota > 0 && challenges >= timing.ChallengeQuota {
			return e.completePhase(ctx, s, phase, events, &event.PhaseCompletePayload{
				Reason: "quota", Turns: turnsRun,
			})
		}

		tokens, err := e.turn(phaseCtx, ctx, s, phase, k, events, degraded)
		switch {
		case errors.Is(err, errPhaseDeadline):
			// The in-flight turn outlived max_duration+grace. Its output
			// is discarded and the phase transitions explicitly.
			return e.completePhase(ctx, s, phase, events, &event.PhaseCompletePayload{
				Forced: true, Reason: "timeout", Turns: turnsRun,
			})
		case err != nil:
			return err
		}
		phaseTokens += tokens
		turnsRun++
		if phaseEventTypes[phase] == event.TypeChallenge {
			challenges++
		}
	}

	return e.completePhase(ctx, s, phase, events, &event.PhaseCompletePayload{Turns: turnsRun})
}

// turn issues one routed generation for a knight, validating the output
// against the phase's event shape. Malformed output is retried once with
// a stricter instruction, then recorded as a degraded event.
func (e *Engine) turn(phaseCtx, ctx context.Context, s *debate.Session, phase debate.Phase, k debate.Knight, events *[]event.DebateEvent, degraded *int) (int64, error) {
	typ := phaseEventTypes[phase]
	system := buildSystemPrompt(s.Topic, k, phase, typ)
	prompt := buildTurnPrompt(*events)

	req := router.Request{
		Model:     k.Model,
		Prompt:    prompt,
		System:    system,
		WebSearch: phase == debate.PhaseResearch,
	}

	res, err := e.gen.Generate(phaseCtx, s.UserID, req)
	if err != nil {
		return 0, e.classifyTurnErr(ctx, phaseCtx, err)
	}

	payload, verr := ValidateTurnOutput(typ, res.Text)
	var tokens = res.TokensIn + res.TokensOut
	if verr != nil {
		strict := req
		strict.Prompt = prompt + strictRetryInstruction(typ, verr.Error())
		res2, err := e.gen.Generate(phaseCtx, s.UserID, strict)
		if err != nil {
			return tokens, e.classifyTurnErr(ctx, phaseCtx, err)
		}
		tokens += res2.TokensIn + res2.TokensOut

		payload, verr = ValidateTurnOutput(typ, res2.Text)
		if verr != nil {
			*degraded++
			if err := e.emitDegraded(ctx, s, phase, k, typ, verr, res2, events); err != nil {
				return tokens, err
			}
			if e.maxDegraded > 0 && *degraded > e.maxDegraded {
				return tokens, fmt.Errorf("%w: %d degraded turns", ErrDegradedBudgetExceeded, *degraded)
			}
			return tokens, nil
		}
		res = res2
	}

	if res.FellBack {
		decision, _ := json.Marshal(event.RouterDecisionPayload{
			Model:    k.Model,
			Native:   res.Provider,
			Backend:  res.Backend,
			Reason:   res.FallbackReason,
			FellBack: true,
		})
		ev := turnlessEvent(s.ID, event.TypeRouterDecision, phase, nil)
		ev.KnightID = k.ID
		ev.Payload = decision
		if err := e.emit(ctx, s, events, ev); err != nil {
			return tokens, err
		}
	}

	ev := &event.DebateEvent{
		SessionID:     s.ID,
		KnightID:      k.ID,
		Type:          typ,
		Phase:         phase,
		SchemaVersion: event.SchemaVersion,
		Payload:       payload,
		Rationale:     extractRationale(payload),
		TokensIn:      res.TokensIn,
		TokensOut:     res.TokensOut,
		LatencyMS:     res.LatencyMS,
	}
	if err := e.emit(ctx, s, events, ev); err != nil {
		return tokens, err
	}

	if e.scores != nil {
		e.scores.Invalidate(ctx, s.ID)
	}
	return tokens, nil
}

// classifyTurnErr separates an external stop and a phase-deadline expiry
// from a provider failure. The stop check comes first: a cancelled run
// cancels the phase context too.
func (e *Engine) classifyTurnErr(ctx, phaseCtx context.Context, err error) error {
	if ctx.Err() != nil {
		return ErrStopped
	}
	if phaseCtx.Err() != nil {
		return errPhaseDeadline
	}
	return err
}

// turnsFor orders the knights for a phase. Single-turn phases run one
// moderator turn using the highest-scoring knight's model.
func (e *Engine) turnsFor(ctx context.Context, s *debate.Session, phase debate.Phase) ([]debate.Knight, error) {
	if !singleTurnPhases[phase] {
		return s.Knights, nil
	}

	moderator := s.Knights[0]
	if e.scores != nil {
		scores, err := e.scores.Scores(ctx, s.ID)
		if err != nil {
			slog.Debug("score lookup failed, using first knight", "session_id", s.ID, "error", err)
		} else {
			best := scores[moderator.ID]
			for _, k := range s.Knights {
				if scores[k.ID] > best {
					best = scores[k.ID]
					moderator = k
				}
			}
		}
	}
	return []debate.Knight{moderator}, nil
}

// completePhase appends the phase-complete event.
func (e *Engine) completePhase(ctx context.Context, s *debate.Session, phase debate.Phase, events *[]event.DebateEvent, payload *event.PhaseCompletePayload) error {
	data, _ := json.Marshal(payload)
	ev := turnlessEvent(s.ID, event.TypePhaseComplete, phase, nil)
	ev.Payload = data
	return e.emit(ctx, s, events, ev)
}

// emitArtifact closes out the debate with the artifact-ready summary.
func (e *Engine) emitArtifact(ctx context.Context, s *debate.Session, phase debate.Phase, events *[]event.DebateEvent) error {
	knightIDs := make([]string, len(s.Knights))
	for i, k := range s.Knights {
		knightIDs[i] = k.ID
	}
	ev := turnlessEvent(s.ID, event.TypeArtifactReady, phase, map[string]any{
		"topic":        s.Topic,
		"knights":      knightIDs,
		"total_events": len(*events),
	})
	if err := e.emit(ctx, s, events, ev); err != nil {
		return err
	}
	return e.completePhase(ctx, s, phase, events, &event.PhaseCompletePayload{Turns: 0})
}

// emitStopped appends the terminal events for an operator stop. The run
// context is already cancelled, so emission uses a detached context: the
// terminal event must never be lost to the very cancellation it records.
func (e *Engine) emitStopped(ctx context.Context, s *debate.Session, phase debate.Phase) {
	detached := context.WithoutCancel(ctx)

	ruling := turnlessEvent(s.ID, event.TypeModeratorRuling, phase, map[string]any{
		"ruling": "session stopped by operator",
	})
	if err := e.emit(detached, s, nil, ruling); err != nil {
		slog.Error("emit stop ruling failed", "session_id", s.ID, "error", err)
		return
	}

	data, _ := json.Marshal(&event.PhaseCompletePayload{Forced: true, Reason: "stopped"})
	complete := turnlessEvent(s.ID, event.TypePhaseComplete, phase, nil)
	complete.Payload = data
	if err := e.emit(detached, s, nil, complete); err != nil {
		slog.Error("emit stop completion failed", "session_id", s.ID, "error", err)
	}
}

// emitDegraded records a turn whose output stayed malformed after the
// strict retry.
func (e *Engine) emitDegraded(ctx context.Context, s *debate.Session, phase debate.Phase, k debate.Knight, want event.Type, verr error, res *router.Result, events *[]event.DebateEvent) error {
	payload, _ := json.Marshal(event.DegradedPayload{
		WantType: want,
		Error:    verr.Error(),
		Raw:      truncate(res.Text, 2000),
	})
	ev := turnlessEvent(s.ID, event.TypeDegraded, phase, nil)
	ev.KnightID = k.ID
	ev.Payload = payload
	ev.TokensIn = res.TokensIn
	ev.TokensOut = res.TokensOut
	ev.LatencyMS = res.LatencyMS
	return e.emit(ctx, s, events, ev)
}

// emit appends the event to the durable log (which assigns the sequence)
// and then fans it out. events may be nil for terminal emissions.
func (e *Engine) emit(ctx context.Context, s *debate.Session, events *[]event.DebateEvent, ev *event.DebateEvent) error {
	if err := e.repo.AppendEvent(ctx, ev); err != nil {
		return fmt.Errorf("append %s event: %w", ev.Type, err)
	}
	if events != nil {
		*events = append(*events, *ev)
	}
	if e.hub != nil {
		e.hub.Publish(ctx, ev)
	}
	return nil
}

// turnlessEvent builds an event not tied to a knight turn.
func turnlessEvent(sessionID string, typ event.Type, phase debate.Phase, payload map[string]any) *event.DebateEvent {
	ev := &event.DebateEvent{
		SessionID:     sessionID,
		Type:          typ,
		Phase:         phase,
		SchemaVersion: event.SchemaVersion,
	}
	if payload != nil {
		data, _ := json.Marshal(payload)
		ev.Payload = data
	} else {
		ev.Payload = json.RawMessage(`{}`)
	}
	return ev
}

// resumePoint derives the re-entry position from the persisted log:
// the phase of the last phase-started/phase-complete marker, whether that
// phase finished, and which knights already took their turn in it.
func resumePoint(events []event.DebateEvent) (phase debate.Phase, completed bool, done map[string]bool) {
	phase = debate.PhaseIdle
	completed = true
	done = make(map[string]bool)

	for _, ev := range events {
		switch ev.Type {
		case event.TypePhaseStarted:
			phase = ev.Phase
			completed = false
			done = make(map[string]bool)
		case event.TypePhaseComplete:
			phase = ev.Phase
			completed = true
		default:
			if ev.KnightID != "" && (isTurnEvent(ev.Type) || ev.Type == event.TypeDegraded) {
				done[ev.KnightID] = true
			}
		}
	}
	return phase, completed, done
}

func countDegraded(events []event.DebateEvent) int {
	n := 0
	for _, ev := range events {
		if ev.Type == event.TypeDegraded {
			n++
		}
	}
	return n
}

func countPhaseType(events []event.DebateEvent, phase debate.Phase, typ event.Type) int {
	n := 0
	for _, ev := range events {
		if ev.Phase == phase && ev.Type == typ {
			n++
		}
	}
	return n
}

func extractRationale(payload []byte) string {
	var p struct {
		Rationale string `json:"rationale"`
	}
	_ = json.Unmarshal(payload, &p)
	return p.Rationale
}
