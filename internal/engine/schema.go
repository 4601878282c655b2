package engine

import (
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/roundtablehq/roundtable/internal/domain/event"
)

// turnSchemas defines the expected shape of each knight-turn payload.
// Every turn type shares the content/rationale envelope; type-specific
// fields are required on top of it.
var turnSchemas = map[event.Type]string{
	event.TypeResearchResult: `{
		"type": "object",
		"required": ["content", "rationale", "sources"],
		"properties": {
			"content": {"type": "string", "minLength": 1},
			"rationale": {"type": "string"},
			"sources": {"type": "array", "items": {"type": "string"}}
		}
	}`,
	event.TypePositionCard: `{
		"type": "object",
		"required": ["content", "rationale", "stance"],
		"properties": {
			"content": {"type": "string", "minLength": 1},
			"rationale": {"type": "string"},
			"stance": {"type": "string", "enum": ["for", "against", "nuanced"]}
		}
	}`,
	event.TypeCitationAdded: `{
		"type": "object",
		"required": ["content", "rationale", "citations"],
		"properties": {
			"content": {"type": "string", "minLength": 1},
			"rationale": {"type": "string"},
			"citations": {"type": "array", "minItems": 1, "items": {"type": "string"}}
		}
	}`,
	event.TypeFactCheck: `{
		"type": "object",
		"required": ["content", "rationale", "verdict"],
		"properties": {
			"content": {"type": "string", "minLength": 1},
			"rationale": {"type": "string"},
			"verdict": {"type": "string", "enum": ["supported", "refuted", "uncertain"]}
		}
	}`,
	event.TypeChallenge: `{
		"type": "object",
		"required": ["content", "rationale", "target_knight_id"],
		"properties": {
			"content": {"type": "string", "minLength": 1},
			"rationale": {"type": "string"},
			"target_knight_id": {"type": "string", "minLength": 1}
		}
	}`,
	event.TypeRedTeamCritique: `{
		"type": "object",
		"required": ["content", "rationale", "weaknesses"],
		"properties": {
			"content": {"type": "string", "minLength": 1},
			"rationale": {"type": "string"},
			"weaknesses": {"type": "array", "minItems": 1, "items": {"type": "string"}}
		}
	}`,
	event.TypeRebuttal: `{
		"type": "object",
		"required": ["content", "rationale"],
		"properties": {
			"content": {"type": "string", "minLength": 1},
			"rationale": {"type": "string"}
		}
	}`,
	event.TypeConvergence: `{
		"type": "object",
		"required": ["content", "rationale", "consensus", "dissent"],
		"properties": {
			"content": {"type": "string", "minLength": 1},
			"rationale": {"type": "string"},
			"consensus": {"type": "string", "minLength": 1},
			"dissent": {"type": "array", "items": {"type": "string"}}
		}
	}`,
	event.TypeTranslator: `{
		"type": "object",
		"required": ["content", "rationale", "audience"],
		"properties": {
			"content": {"type": "string", "minLength": 1},
			"rationale": {"type": "string"},
			"audience": {"type": "string"}
		}
	}`,
}

// compiledSchemas is populated once at package load; schemas are static.
var compiledSchemas = mustCompileSchemas()

func mustCompileSchemas() map[event.Type]*jsonschema.Schema {
	c := jsonschema.NewCompiler()
	out := make(map[event.Type]*jsonschema.Schema, len(turnSchemas))
	for typ, src := range turnSchemas {
		url := fmt.Sprintf("mem://%s.json", typ)
		doc, err := jsonschema.UnmarshalJSON(strings.NewReader(src))
		if err != nil {
			panic(fmt.Sprintf("schema %s: %v", typ, err))
		}
		if err := c.AddResource(url, doc); err != nil {
			panic(fmt.Sprintf("schema %s: %v", typ, err))
		}
		sch, err := c.Compile(url)
		if err != nil {
			panic(fmt.Sprintf("schema %s: %v", typ, err))
		}
		out[typ] = sch
	}
	return out
}

// ValidateTurnOutput checks raw model output against the schema for the
// expected event type and returns the canonical JSON payload on success.
func ValidateTurnOutput(typ event.Type, raw string) ([]byte, error) {
	sch, ok := compiledSchemas[typ]
	if !ok {
		return nil, fmt.Errorf("no schema for event type %s", typ)
	}

	jsonText := extractJSON(raw)
	if jsonText == "" {
		return nil, fmt.Errorf("output contains no JSON object")
	}

	instance, err := jsonschema.UnmarshalJSON(strings.NewReader(jsonText))
	if err != nil {
		return nil, fmt.Errorf("parse output: %w", err)
	}
	if err := sch.Validate(instance); err != nil {
		return nil, fmt.Errorf("validate %s output: %w", typ, err)
	}
	return []byte(jsonText), nil
}

// extractJSON strips markdown code fences and isolates the outermost
// JSON object from model output.
func extractJSON(raw string) string {
	s := strings.TrimSpace(raw)
	if after, found := strings.CutPrefix(s, "```json"); found {
		s = after
	} else if after, found := strings.CutPrefix(s, "```"); found {
		s = after
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")

	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start < 0 || end <= start {
		return ""
	}
	return s[start : end+1]
}
