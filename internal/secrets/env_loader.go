package secrets

import (
	"os"
	"strings"
)

// PrefixEnvLoader returns a Loader that collects every environment
// variable starting with prefix, keyed by the remainder lowercased.
// ROUNDTABLE_KEY_OPENAI becomes "openai".
func PrefixEnvLoader(prefix string) Loader {
	return func() (map[string]string, error) {
		vals := make(map[string]string)
		for _, kv := range os.Environ() {
			k, v, ok := strings.Cut(kv, "=")
			if !ok || v == "" || !strings.HasPrefix(k, prefix) {
				continue
			}
			vals[strings.ToLower(strings.TrimPrefix(k, prefix))] = v
		}
		return vals, nil
	}
}
