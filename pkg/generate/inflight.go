package generate

import (
	"errors"
	"sync"
)

// ErrInFlight is returned by Registry.Acquire when the token is already held.
var ErrInFlight = errors.New("request already in flight")

// Registry tracks in-flight requests by a caller-supplied idempotency token,
// guarding against double submission without any shared loading flag.
type Registry struct {
	mu     sync.Mutex
	active map[string]struct{}
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{active: make(map[string]struct{})}
}

// Acquire claims token until the returned release func is called. An empty
// token is never tracked.
func (r *Registry) Acquire(token string) (release func(), err error) {
	if token == "" {
		return func() {}, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.active[token]; ok {
		return nil, ErrInFlight
	}
	r.active[token] = struct{}{}

	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			delete(r.active, token)
			r.mu.Unlock()
		})
	}, nil
}

// Len returns the number of tokens currently held.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.active)
}
