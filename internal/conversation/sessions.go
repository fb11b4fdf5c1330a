package conversation

import (
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// Sessions maps session IDs to their conversation Context. Sessions that see
// no activity for the idle period expire.
type Sessions struct {
	mu       sync.Mutex
	store    *gocache.Cache
	idle     time.Duration
	maxTurns int
}

// NewSessions creates a registry whose sessions expire after idle without use.
func NewSessions(maxTurns int, idle time.Duration) *Sessions {
	if idle <= 0 {
		idle = time.Hour
	}
	cleanup := idle / 6
	if cleanup < time.Minute {
		cleanup = time.Minute
	}
	return &Sessions{
		store:    gocache.New(idle, cleanup),
		idle:     idle,
		maxTurns: maxTurns,
	}
}

// Get returns the context for id, creating it if needed. Each access refreshes
// the idle timer.
func (s *Sessions) Get(id string) *Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	if v, ok := s.store.Get(id); ok {
		if ctx, ok := v.(*Context); ok {
			s.store.Set(id, ctx, s.idle)
			return ctx
		}
	}
	ctx := New(s.maxTurns)
	s.store.Set(id, ctx, s.idle)
	return ctx
}

// Peek returns the context for id without creating or refreshing it.
func (s *Sessions) Peek(id string) (*Context, bool) {
	v, ok := s.store.Get(id)
	if !ok {
		return nil, false
	}
	ctx, ok := v.(*Context)
	return ctx, ok
}

// Reset clears and forgets the session. It reports whether it existed.
func (s *Sessions) Reset(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.store.Get(id)
	if ok {
		if ctx, isCtx := v.(*Context); isCtx {
			ctx.Clear()
		}
		s.store.Delete(id)
	}
	return ok
}

// Count returns the number of live sessions.
func (s *Sessions) Count() int {
	return s.store.ItemCount()
}
