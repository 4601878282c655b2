// Package envcreds implements the credentials port on top of the secrets
// vault. Keys are process-level (ROUNDTABLE_KEY_<PROVIDER>); a real
// deployment swaps in the per-user credential collaborator behind the
// same port.
package envcreds

import (
	"context"
	"fmt"

	"github.com/roundtablehq/roundtable/internal/port/credentials"
	"github.com/roundtablehq/roundtable/internal/secrets"
)

// Resolver resolves provider API keys from a secrets vault.
type Resolver struct {
	vault *secrets.Vault
}

// New creates a vault-backed resolver.
func New(vault *secrets.Vault) *Resolver {
	return &Resolver{vault: vault}
}

// ResolveAPIKey returns the key for the provider, ignoring userID.
func (r *Resolver) ResolveAPIKey(_ context.Context, _, provider string) (string, error) {
	key := r.vault.Key(provider)
	if key == "" {
		return "", fmt.Errorf("provider %s: %w", provider, credentials.ErrNotConfigured)
	}
	return key, nil
}
