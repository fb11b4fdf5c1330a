// Package audit records actions that change data or runtime state: generated
// write statements, rules cache invalidations and conversation resets.
package audit

import "time"

// ActorType identifies who performed an action.
type ActorType string

const (
	ActorUser   ActorType = "user"
	ActorSystem ActorType = "system"
)

// Action describes what was done.
type Action string

const (
	// ActionWriteGenerated is logged when an UPDATE statement is produced for
	// a write category. The statement is not executed by menusql.
	ActionWriteGenerated Action = "write_generated"
	ActionRulesReloaded  Action = "rules_reloaded"
	ActionSessionReset   Action = "session_reset"
)

// Entry is a single audit trail record.
type Entry struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	ActorType ActorType `json:"actor_type"`
	ActorID   string    `json:"actor_id"`
	Action    Action    `json:"action"`
	Category  string    `json:"category,omitempty"`
	SessionID string    `json:"session_id,omitempty"`
	Summary   string    `json:"summary"`
	SQL       string    `json:"sql,omitempty"`
}
