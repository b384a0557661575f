package channel

import (
	"context"
	"sync"
)

type scopeKey struct{}

// Scope holds values shared by the hooks of a single channel operation.
// Every Send or Receive that runs interceptors gets a fresh scope, so a value
// set in a pre-hook is visible in the matching completion and nowhere else.
type Scope struct {
	values map[any]any
	mu     sync.RWMutex
}

func newScope() *Scope {
	return &Scope{values: make(map[any]any)}
}

// Set stores a value. Use an unexported key type to avoid collisions.
func (s *Scope) Set(key, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = value
}

// Get retrieves a value
func (s *Scope) Get(key any) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	value, exists := s.values[key]
	return value, exists
}

// Delete removes a value
func (s *Scope) Delete(key any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.values, key)
}

// ScopeFrom returns the scope of the operation ctx belongs to
func ScopeFrom(ctx context.Context) (*Scope, bool) {
	s, ok := ctx.Value(scopeKey{}).(*Scope)
	return s, ok
}

func withScope(ctx context.Context) context.Context {
	return context.WithValue(ctx, scopeKey{}, newScope())
}
