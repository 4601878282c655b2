package engine

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/roundtablehq/roundtable/internal/domain/debate"
	"github.com/roundtablehq/roundtable/internal/domain/event"
)

// transcriptTail bounds how many prior events are summarized into a prompt.
const transcriptTail = 12

// phaseInstructions is the per-phase task given to a knight.
var phaseInstructions = map[debate.Phase]string{
	debate.PhaseResearch:         "Research the topic. Gather the strongest available evidence on all sides.",
	debate.PhaseOpening:          "State your opening position on the topic.",
	debate.PhaseClaims:           "Make your central claims, each backed by an explicit citation.",
	debate.PhaseCrossExamination: "Fact-check the strongest claim made by another knight.",
	debate.PhaseChallenges:       "Challenge the weakest argument another knight has made. Name the knight you are challenging.",
	debate.PhaseRedTeam:          "Attack the emerging consensus. List its concrete weaknesses.",
	debate.PhaseRebuttals:        "Rebut the strongest challenge or critique aimed at your position.",
	debate.PhaseConvergence:      "Synthesize the debate into a consensus statement, recording remaining dissent.",
	debate.PhaseTranslator:       "Translate the consensus into plain language for a general audience.",
}

// schemaHints tells the model which JSON fields each turn type requires.
var schemaHints = map[event.Type]string{
	event.TypeResearchResult:  `{"content": "...", "rationale": "...", "sources": ["..."]}`,
	event.TypePositionCard:    `{"content": "...", "rationale": "...", "stance": "for|against|nuanced"}`,
	event.TypeCitationAdded:   `{"content": "...", "rationale": "...", "citations": ["..."]}`,
	event.TypeFactCheck:       `{"content": "...", "rationale": "...", "verdict": "supported|refuted|uncertain"}`,
	event.TypeChallenge:       `{"content": "...", "rationale": "...", "target_knight_id": "..."}`,
	event.TypeRedTeamCritique: `{"content": "...", "rationale": "...", "weaknesses": ["..."]}`,
	event.TypeRebuttal:        `{"content": "...", "rationale": "..."}`,
	event.TypeConvergence:     `{"content": "...", "rationale": "...", "consensus": "...", "dissent": ["..."]}`,
	event.TypeTranslator:      `{"content": "...", "rationale": "...", "audience": "general"}`,
}

// buildSystemPrompt frames the knight's role for one turn.
func buildSystemPrompt(topic string, k debate.Knight, phase debate.Phase, typ event.Type) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "You are %s, a debate participant in a structured roundtable on: %s\n", k.Name, topic)
	fmt.Fprintf(&sb, "Current phase: %s. %s\n", phase, phaseInstructions[phase])
	fmt.Fprintf(&sb, "Respond with a single JSON object of the form %s and nothing else.", schemaHints[typ])
	return sb.String()
}

// buildTurnPrompt summarizes the transcript tail into the user prompt.
func buildTurnPrompt(events []event.DebateEvent) string {
	start := 0
	if len(events) > transcriptTail {
		start = len(events) - transcriptTail
	}

	var sb strings.Builder
	sb.WriteString("Debate so far:\n")
	for _, ev := range events[start:] {
		if !isTurnEvent(ev.Type) {
			continue
		}
		var payload struct {
			Content string `json:"content"`
		}
		_ = json.Unmarshal(ev.Payload, &payload)
		fmt.Fprintf(&sb, "- [%s] %s (%s): %s\n", ev.Phase, ev.KnightID, ev.Type, truncate(payload.Content, 400))
	}
	sb.WriteString("\nTake your turn now.")
	return sb.String()
}

// strictRetryInstruction is appended when a turn's output fails validation.
func strictRetryInstruction(typ event.Type, validationErr string) string {
	return fmt.Sprintf(
		"\n\nYour previous answer was rejected: %s\nAnswer again with ONLY a valid JSON object matching exactly %s. No prose, no code fences.",
		truncate(validationErr, 300), schemaHints[typ])
}

func isTurnEvent(t event.Type) bool {
	_, ok := turnSchemas[t]
	return ok
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}
