// Package natskv implements the idempotency guard port on NATS JetStream
// KV. Create is an atomic create-if-absent, which is exactly the
// first-caller-wins semantic the guard needs across processes.
package natskv

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"
)

const guardBucket = "debate-guards"

// Guard implements guard.Guard using a JetStream KV bucket.
type Guard struct {
	kv jetstream.KeyValue
}

// NewGuard ensures the guard bucket exists. The TTL bounds how long an
// abandoned key (holder crashed before Release) blocks re-acquisition.
func NewGuard(ctx context.Context, js jetstream.JetStream, ttl time.Duration) (*Guard, error) {
	kv, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket: guardBucket,
		TTL:    ttl,
	})
	if err != nil {
		return nil, fmt.Errorf("guard bucket create: %w", err)
	}
	return &Guard{kv: kv}, nil
}

// Acquire attempts an atomic create of the key. Losing the race is a
// normal outcome, not an error.
func (g *Guard) Acquire(ctx context.Context, key string) (bool, error) {
	_, err := g.kv.Create(ctx, key, []byte(time.Now().UTC().Format(time.RFC3339)))
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyExists) {
			return false, nil
		}
		return false, fmt.Errorf("guard acquire %s: %w", key, err)
	}
	return true, nil
}

// Release deletes the key. Deleting an absent key is fine: the TTL may
// already have reaped it.
func (g *Guard) Release(ctx context.Context, key string) error {
	err := g.kv.Delete(ctx, key)
	if err != nil && !errors.Is(err, jetstream.ErrKeyNotFound) {
		return fmt.Errorf("guard release %s: %w", key, err)
	}
	return nil
}
