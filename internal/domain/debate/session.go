// Package debate defines the debate session domain: sessions, knights,
// and the phase state machine.
package debate

import (
	"fmt"
	"time"
)

// Participant-set cardinality enforced at session creation.
const (
	MinKnights = 3
	MaxKnights = 12
)

// Status is the lifecycle state of a debate session.
type Status string

const (
	StatusRunning   Status = "RUNNING"
	StatusCompleted Status = "COMPLETED"
	StatusError     Status = "ERROR"
)

// Knight is one debate participant bound to a logical model.
type Knight struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Model string `json:"model"` // logical "<provider>/<model>" identifier
}

// Session is a single debate. The orchestration core owns it while
// status is RUNNING; the historical record belongs to the store afterwards.
type Session struct {
	ID          string     `json:"id"`
	ExternalID  string     `json:"external_id"`
	UserID      string     `json:"user_id"`
	Topic       string     `json:"topic"`
	Knights     []Knight   `json:"knights"`
	Phase       Phase      `json:"phase"`
	Status      Status     `json:"status"`
	Handle      string     `json:"handle,omitempty"` // opaque execution-unit correlation
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// CreateSessionRequest carries everything needed to open a debate.
type CreateSessionRequest struct {
	ExternalID string   `json:"external_id"`
	UserID     string   `json:"user_id"`
	Topic      string   `json:"topic"`
	Knights    []Knight `json:"knights"`
}

// Validate enforces creation invariants: topic present, 3-12 knights,
// unique knight ids, each knight bound to a model.
func (r *CreateSessionRequest) Validate() error {
	if r.Topic == "" {
		return fmt.Errorf("topic is required")
	}
	if n := len(r.Knights); n < MinKnights || n > MaxKnights {
		return fmt.Errorf("knight count %d outside allowed range [%d, %d]", n, MinKnights, MaxKnights)
	}
	seen := make(map[string]struct{}, len(r.Knights))
	for i, k := range r.Knights {
		if k.ID == "" {
			return fmt.Errorf("knight %d: id is required", i)
		}
		if k.Model == "" {
			return fmt.Errorf("knight %s: model is required", k.ID)
		}
		if _, dup := seen[k.ID]; dup {
			return fmt.Errorf("knight %s: duplicate id", k.ID)
		}
		seen[k.ID] = struct{}{}
	}
	return nil
}

// Active reports whether the session is still owned by the orchestration core.
func (s *Session) Active() bool {
	return s.Status == StatusRunning
}
