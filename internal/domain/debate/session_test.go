package debate

import (
	"strings"
	"testing"
)

func knights(n int) []Knight {
	out := make([]Knight, n)
	for i := range out {
		out[i] = Knight{
			ID:    string(rune('a' + i)),
			Name:  "knight " + string(rune('a'+i)),
			Model: "openai/gpt-4o",
		}
	}
	return out
}

func TestCreateSessionRequestValidate(t *testing.T) {
	base := func() CreateSessionRequest {
		return CreateSessionRequest{UserID: "u1", Topic: "topic", Knights: knights(3)}
	}

	if err := (func() error { r := base(); return r.Validate() })(); err != nil {
		t.Fatalf("valid request rejected: %v", err)
	}

	t.Run("missing topic", func(t *testing.T) {
		r := base()
		r.Topic = ""
		if err := r.Validate(); err == nil {
			t.Fatal("accepted empty topic")
		}
	})

	t.Run("too few knights", func(t *testing.T) {
		r := base()
		r.Knights = knights(2)
		if err := r.Validate(); err == nil {
			t.Fatal("accepted 2 knights")
		}
	})

	t.Run("too many knights", func(t *testing.T) {
		r := base()
		r.Knights = knights(13)
		if err := r.Validate(); err == nil {
			t.Fatal("accepted 13 knights")
		}
	})

	t.Run("boundary counts", func(t *testing.T) {
		for _, n := range []int{MinKnights, MaxKnights} {
			r := base()
			r.Knights = knights(n)
			if err := r.Validate(); err != nil {
				t.Fatalf("rejected %d knights: %v", n, err)
			}
		}
	})

	t.Run("duplicate knight id", func(t *testing.T) {
		r := base()
		r.Knights[2].ID = r.Knights[0].ID
		err := r.Validate()
		if err == nil || !strings.Contains(err.Error(), "duplicate") {
			t.Fatalf("err = %v, want duplicate id error", err)
		}
	})

	t.Run("knight without model", func(t *testing.T) {
		r := base()
		r.Knights[1].Model = ""
		if err := r.Validate(); err == nil {
			t.Fatal("accepted knight without model")
		}
	})
}

func TestSessionActive(t *testing.T) {
	s := Session{Status: StatusRunning}
	if !s.Active() {
		t.Fatal("RUNNING session not active")
	}
	for _, st := range []Status{StatusCompleted, StatusError} {
		s.Status = st
		if s.Active() {
			t.Fatalf("%s session reported active", st)
		}
	}
}
