// Package conversation keeps a bounded memory of recent turns per session so
// follow-up questions ("those orders", "their details") can be resolved.
package conversation

import (
	"sync"
	"time"

	"github.com/ziadkadry99/menusql/internal/category"
)

// DefaultMaxTurns is used when a Context is created with a non-positive cap.
const DefaultMaxTurns = 8

// Turn is one recorded exchange. SQL is empty when no statement was produced.
type Turn struct {
	Utterance string            `json:"utterance"`
	Category  category.Category `json:"category"`
	SQL       string            `json:"sql,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

// HasSQL reports whether the turn produced a statement.
func (t Turn) HasSQL() bool { return t.SQL != "" }

// Context is an ordered, size-bounded log of turns, most recent last.
// Oldest turns are evicted first once the cap is reached.
type Context struct {
	mu    sync.RWMutex
	max   int
	turns []Turn
}

// New creates an empty Context holding at most maxTurns turns.
func New(maxTurns int) *Context {
	if maxTurns <= 0 {
		maxTurns = DefaultMaxTurns
	}
	return &Context{max: maxTurns, turns: make([]Turn, 0, maxTurns)}
}

// Record appends t, evicting the oldest turn when over capacity.
func (c *Context) Record(t Turn) {
	if t.Timestamp.IsZero() {
		t.Timestamp = time.Now()
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.turns = append(c.turns, t)
	if over := len(c.turns) - c.max; over > 0 {
		// Shift in place so the backing array does not grow unbounded.
		n := copy(c.turns, c.turns[over:])
		for i := n; i < len(c.turns); i++ {
			c.turns[i] = Turn{}
		}
		c.turns = c.turns[:n]
	}
}

// Recent returns up to k of the most recent turns, most recent last.
// The returned slice is a copy.
func (c *Context) Recent(k int) []Turn {
	if k <= 0 {
		return []Turn{}
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	start := len(c.turns) - k
	if start < 0 {
		start = 0
	}
	out := make([]Turn, len(c.turns)-start)
	copy(out, c.turns[start:])
	return out
}

// Last returns the most recent turn, if any.
func (c *Context) Last() (Turn, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.turns) == 0 {
		return Turn{}, false
	}
	return c.turns[len(c.turns)-1], true
}

// Len returns the number of stored turns.
func (c *Context) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.turns)
}

// Cap returns the maximum number of stored turns.
func (c *Context) Cap() int { return c.max }

// Clear drops every turn.
func (c *Context) Clear() {
	c.mu.Lock()
	c.turns = c.turns[:0]
	c.mu.Unlock()
}

// WithSQL filters turns down to those that produced a statement, keeping order.
func WithSQL(turns []Turn) []Turn {
	out := make([]Turn, 0, len(turns))
	for _, t := range turns {
		if t.HasSQL() {
			out = append(out, t)
		}
	}
	return out
}
