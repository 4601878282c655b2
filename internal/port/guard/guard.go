// Package guard defines the idempotency guard port: an atomic
// check-and-set used to guarantee at most one dispatch per session even
// when several supervisors scan concurrently.
package guard

import "context"

// Guard is an atomic first-caller-wins lock keyed by string.
type Guard interface {
	// Acquire returns true when the caller won the key. A false return
	// means another caller holds or already consumed it.
	Acquire(ctx context.Context, key string) (bool, error)

	// Release frees the key so a later recovery pass can claim it again.
	// Releasing an unheld key is not an error.
	Release(ctx context.Context, key string) error
}
