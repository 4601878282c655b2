// Package credentials defines the port for resolving per-user provider
// API keys. Decryption and storage live behind the implementation.
package credentials

import (
	"context"
	"errors"
)

// ErrNotConfigured indicates no key exists for the (user, provider) pair.
var ErrNotConfigured = errors.New("api key not configured")

// Resolver resolves a decrypted API key for a provider on behalf of a user.
type Resolver interface {
	ResolveAPIKey(ctx context.Context, userID, provider string) (string, error)
}
