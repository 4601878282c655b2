package engine

import (
	"strings"
	"testing"

	"github.com/roundtablehq/roundtable/internal/domain/event"
)

func TestValidateTurnOutputAcceptsFencedJSON(t *testing.T) {
	raw := "```json\n{\"content\":\"claim\",\"rationale\":\"because\",\"citations\":[\"doi:10.1/x\"]}\n```"
	payload, err := ValidateTurnOutput(event.TypeCitationAdded, raw)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if !strings.HasPrefix(string(payload), "{") {
		t.Fatalf("payload not canonical JSON: %s", payload)
	}
}

func TestValidateTurnOutputIsolatesEmbeddedObject(t *testing.T) {
	raw := `Sure! Here is my answer: {"content":"ok","rationale":"r","stance":"for"} Hope that helps.`
	if _, err := ValidateTurnOutput(event.TypePositionCard, raw); err != nil {
		t.Fatalf("validate: %v", err)
	}
}

func TestValidateTurnOutputRejectsMissingRequiredField(t *testing.T) {
	raw := `{"content":"claim","rationale":"because"}`
	if _, err := ValidateTurnOutput(event.TypeCitationAdded, raw); err == nil {
		t.Fatal("accepted citation turn without citations")
	}
}

func TestValidateTurnOutputRejectsBadEnum(t *testing.T) {
	raw := `{"content":"pos","rationale":"r","stance":"maybe"}`
	if _, err := ValidateTurnOutput(event.TypePositionCard, raw); err == nil {
		t.Fatal("accepted stance outside enum")
	}
}

func TestValidateTurnOutputRejectsProse(t *testing.T) {
	if _, err := ValidateTurnOutput(event.TypeRebuttal, "I respectfully disagree."); err == nil {
		t.Fatal("accepted output with no JSON object")
	}
}

func TestEveryPhaseEventTypeHasSchema(t *testing.T) {
	for phase, typ := range phaseEventTypes {
		if _, ok := compiledSchemas[typ]; !ok {
			t.Fatalf("phase %s maps to %s which has no schema", phase, typ)
		}
	}
}
