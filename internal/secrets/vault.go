// Package secrets holds provider API keys in memory. Keys load from the
// environment at boot and reload on SIGHUP, so a rotated key takes
// effect without restarting in-flight debates.
package secrets

import (
	"fmt"
	"strings"
	"sync"
)

// Loader fetches the full provider-key set from its source.
type Loader func() (map[string]string, error)

// Vault is an in-memory provider-key store with atomic reload.
type Vault struct {
	mu     sync.RWMutex
	keys   map[string]string
	loader Loader
}

// NewVault builds a Vault and performs the initial key load.
func NewVault(loader Loader) (*Vault, error) {
	v := &Vault{loader: loader}
	if err := v.Reload(); err != nil {
		return nil, fmt.Errorf("initial load: %w", err)
	}
	return v, nil
}

// Key returns the API key for a provider, or "" when none is
// configured. Lookup is case-insensitive so catalog names ("openai")
// match env-derived ones ("OPENAI").
func (v *Vault) Key(provider string) string {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.keys[strings.ToLower(provider)]
}

// Reload swaps in a fresh key set. On loader failure the current keys
// stay in place: a bad rotation must not empty the vault mid-debate.
func (v *Vault) Reload() error {
	fresh, err := v.loader()
	if err != nil {
		return fmt.Errorf("load provider keys: %w", err)
	}
	keys := make(map[string]string, len(fresh))
	for name, key := range fresh {
		keys[strings.ToLower(name)] = key
	}
	v.mu.Lock()
	v.keys = keys
	v.mu.Unlock()
	return nil
}
