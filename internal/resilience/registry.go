package resilience

import (
	"sync"
	"time"
)

// Registry owns one breaker per named dependency. It is created by the
// composition root and injected; breakers are created lazily on first
// use and never destroyed.
type Registry struct {
	mu               sync.Mutex
	breakers         map[string]*Breaker
	failureThreshold int
	successThreshold int
	timeout          time.Duration
	onChange         StateChangeFunc
}

// NewRegistry creates a registry whose breakers share the given thresholds.
func NewRegistry(failureThreshold, successThreshold int, timeout time.Duration) *Registry {
	return &Registry{
		breakers:         make(map[string]*Breaker),
		failureThreshold: failureThreshold,
		successThreshold: successThreshold,
		timeout:          timeout,
	}
}

// OnStateChange sets the hook applied to every breaker the registry
// creates, including those already created.
func (r *Registry) OnStateChange(fn StateChangeFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onChange = fn
	for _, b := range r.breakers {
		b.OnStateChange(fn)
	}
}

// Get returns the breaker for the named dependency, creating it if needed.
func (r *Registry) Get(name string) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	if b, ok := r.breakers[name]; ok {
		return b
	}
	b := NewBreaker(name, r.failureThreshold, r.successThreshold, r.timeout)
	if r.onChange != nil {
		b.OnStateChange(r.onChange)
	}
	r.breakers[name] = b
	return b
}

// Names returns the names of all breakers created so far.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.breakers))
	for name := range r.breakers {
		names = append(names, name)
	}
	return names
}
