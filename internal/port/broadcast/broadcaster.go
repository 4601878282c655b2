// Package broadcast defines the event fan-out port.
package broadcast

import (
	"context"

	"github.com/roundtablehq/roundtable/internal/domain/event"
)

// Broadcaster pushes newly appended events to all live subscribers of a
// session, in append order. Implementations must never block emission:
// a subscriber that cannot keep up is dropped.
type Broadcaster interface {
	Publish(ctx context.Context, ev *event.DebateEvent)
}
