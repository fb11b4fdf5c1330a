// Package history persists every answered or clarified question for audit.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ziadkadry99/menusql/internal/db"
)

// timeLayout is fixed width so stored timestamps sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// Entry is one persisted turn.
type Entry struct {
	ID                 string        `json:"id"`
	SessionID          string        `json:"session_id"`
	CreatedAt          time.Time     `json:"created_at"`
	Utterance          string        `json:"utterance"`
	QueryType          string        `json:"query_type"`
	Confidence         float64       `json:"confidence"`
	NeedsClarification bool          `json:"needs_clarification"`
	SQL                string        `json:"sql,omitempty"`
	Success            bool          `json:"success"`
	Attempts           int           `json:"attempts"`
	Latency            time.Duration `json:"latency_ns"`
	Model              string        `json:"model,omitempty"`
	Error              string        `json:"error,omitempty"`
}

// Filter narrows List results. Zero fields are ignored.
type Filter struct {
	SessionID string
	QueryType string
	Limit     int
}

// Store provides persistence for turn history.
type Store struct {
	db *db.DB
}

// NewStore creates a Store backed by the given database.
func NewStore(database *db.DB) *Store {
	return &Store{db: database}
}

// Record inserts e. If e.ID is empty a UUID is generated; a zero CreatedAt
// is set to now.
func (s *Store) Record(ctx context.Context, e Entry) (string, error) {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO turns (
			id, session_id, created_at, utterance, query_type, confidence,
			needs_clarification, sql_text, success, attempts, latency_ms, model, error
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID,
		e.SessionID,
		e.CreatedAt.UTC().Format(timeLayout),
		e.Utterance,
		e.QueryType,
		e.Confidence,
		boolInt(e.NeedsClarification),
		e.SQL,
		boolInt(e.Success),
		e.Attempts,
		e.Latency.Milliseconds(),
		e.Model,
		e.Error,
	)
	if err != nil {
		return "", fmt.Errorf("inserting turn: %w", err)
	}
	return e.ID, nil
}

// List returns entries newest first.
func (s *Store) List(ctx context.Context, f Filter) ([]Entry, error) {
	var (
		where []string
		args  []any
	)
	if f.SessionID != "" {
		where = append(where, "session_id = ?")
		args = append(args, f.SessionID)
	}
	if f.QueryType != "" {
		where = append(where, "query_type = ?")
		args = append(args, f.QueryType)
	}

	q := `SELECT id, session_id, created_at, utterance, query_type, confidence,
		needs_clarification, sql_text, success, attempts, latency_ms, model, error
		FROM turns`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY created_at DESC, rowid DESC"
	if f.Limit > 0 {
		q += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("listing turns: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

// Get returns one entry by ID.
func (s *Store) Get(ctx context.Context, id string) (*Entry, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, session_id, created_at, utterance, query_type, confidence,
			needs_clarification, sql_text, success, attempts, latency_ms, model, error
		FROM turns WHERE id = ?`, id)
	e, err := scanEntry(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("turn %s not found", id)
	}
	return e, err
}

// DeleteSession removes every entry of a session and returns how many were removed.
func (s *Store) DeleteSession(ctx context.Context, sessionID string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM turns WHERE session_id = ?`, sessionID)
	if err != nil {
		return 0, fmt.Errorf("deleting session turns: %w", err)
	}
	return res.RowsAffected()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(sc scanner) (*Entry, error) {
	var (
		e                Entry
		createdAt        string
		clarify, success int
		latencyMillis    int64
	)
	err := sc.Scan(&e.ID, &e.SessionID, &createdAt, &e.Utterance, &e.QueryType, &e.Confidence,
		&clarify, &e.SQL, &success, &e.Attempts, &latencyMillis, &e.Model, &e.Error)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("scanning turn: %w", err)
	}
	e.CreatedAt = parseTime(createdAt)
	e.NeedsClarification = clarify != 0
	e.Success = success != 0
	e.Latency = time.Duration(latencyMillis) * time.Millisecond
	return &e, nil
}

func parseTime(s string) time.Time {
	for _, layout := range []string{timeLayout, time.RFC3339Nano, time.DateTime} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
