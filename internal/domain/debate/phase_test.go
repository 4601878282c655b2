package debate

import (
	"testing"
	"time"
)

func TestPhaseProgression(t *testing.T) {
	order := Order()
	if order[0] != PhaseIdle || order[len(order)-1] != PhaseClosed {
		t.Fatalf("order = %v", order)
	}

	// Walking Next from IDLE must visit every phase exactly once.
	p := PhaseIdle
	for i := 1; i < len(order); i++ {
		p = p.Next()
		if p != order[i] {
			t.Fatalf("step %d = %s, want %s", i, p, order[i])
		}
	}
	if !p.Terminal() {
		t.Fatalf("walk ended at %s, want terminal", p)
	}
}

func TestClosedHasNoSuccessor(t *testing.T) {
	if next := PhaseClosed.Next(); next != PhaseClosed {
		t.Fatalf("CLOSED.Next() = %s", next)
	}
}

func TestUnknownPhase(t *testing.T) {
	if Phase("SHOUTING").Valid() {
		t.Fatal("unknown phase reported valid")
	}
	if next := Phase("SHOUTING").Next(); next != PhaseClosed {
		t.Fatalf("unknown phase Next() = %s, want CLOSED", next)
	}
}

func TestTimingDeadlineIncludesGrace(t *testing.T) {
	timing := Timing{MaxDuration: 120 * time.Second, Grace: 15 * time.Second}
	start := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	deadline := timing.Deadline(start)
	if got := deadline.Sub(start); got != 135*time.Second {
		t.Fatalf("deadline offset = %s, want 135s", got)
	}
}
