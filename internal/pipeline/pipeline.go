// Package pipeline wires classification, rules lookup and SQL generation
// into one question-answering call per conversation turn.
package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ziadkadry99/menusql/internal/audit"
	"github.com/ziadkadry99/menusql/internal/classifier"
	"github.com/ziadkadry99/menusql/internal/conversation"
	"github.com/ziadkadry99/menusql/internal/history"
	"github.com/ziadkadry99/menusql/internal/rules"
	"github.com/ziadkadry99/menusql/internal/sqlgen"
)

const (
	clarifyVague = "Could you be more specific? You can ask about orders, the menu, " +
		"best sellers, sales trends, ratings, or change a price or menu item."
	clarifyError = "I couldn't work out what you meant just now. Could you rephrase the question?"
)

// Outcome is the result of one Ask call. SQL is only set when Success is true.
type Outcome struct {
	SessionID      string            `json:"session_id"`
	Query          string            `json:"query"`
	Classification classifier.Result `json:"classification"`
	Success        bool              `json:"success"`
	SQL            string            `json:"sql,omitempty"`
	Attempts       int               `json:"attempts"`
	Latency        time.Duration     `json:"latency_ns"`
	Model          string            `json:"model,omitempty"`
	Error          string            `json:"error,omitempty"`
	Clarification  string            `json:"clarification,omitempty"`
	MissingFilters []string          `json:"missing_filters,omitempty"`
	TurnID         string            `json:"turn_id,omitempty"`
}

// Deps are the collaborators of a Pipeline. History and Audit are optional.
type Deps struct {
	Classifier *classifier.Classifier
	Rules      *rules.Store
	Generator  *sqlgen.Generator
	Sessions   *conversation.Sessions
	History    *history.Store
	Audit      *audit.Store
	Logger     *zap.Logger
}

// Pipeline answers questions turn by turn.
type Pipeline struct {
	classifier *classifier.Classifier
	rules      *rules.Store
	generator  *sqlgen.Generator
	sessions   *conversation.Sessions
	history    *history.Store
	audit      *audit.Store
	logger     *zap.Logger
}

// New creates a Pipeline.
func New(d Deps) *Pipeline {
	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	sessions := d.Sessions
	if sessions == nil {
		sessions = conversation.NewSessions(conversation.DefaultMaxTurns, time.Hour)
	}
	return &Pipeline{
		classifier: d.Classifier,
		rules:      d.Rules,
		generator:  d.Generator,
		sessions:   sessions,
		history:    d.History,
		audit:      d.Audit,
		logger:     logger.Named("pipeline"),
	}
}

// Rules returns the rule store.
func (p *Pipeline) Rules() *rules.Store { return p.rules }

// Generator returns the SQL generator.
func (p *Pipeline) Generator() *sqlgen.Generator { return p.generator }

// Sessions returns the session registry.
func (p *Pipeline) Sessions() *conversation.Sessions { return p.sessions }

// Classify classifies query in the context of the session without generating SQL.
func (p *Pipeline) Classify(ctx context.Context, sessionID, query string) classifier.Result {
	var recent []conversation.Turn
	if sessionID != "" {
		if sess, ok := p.sessions.Peek(sessionID); ok {
			recent = sess.Recent(sess.Cap())
		}
	}
	return p.classifier.Classify(ctx, query, recent)
}

// Ask classifies query, loads the category rules and generates SQL. A vague
// question yields a clarification request instead of SQL. Generation
// failures are reported in the Outcome, not as an error.
func (p *Pipeline) Ask(ctx context.Context, sessionID, query string) (*Outcome, error) {
	start := time.Now()
	sess := p.sessions.Get(sessionID)
	recent := sess.Recent(sess.Cap())
	query = strings.TrimSpace(query)

	out := &Outcome{SessionID: sessionID, Query: query}
	out.Classification = p.classifier.Classify(ctx, query, recent)
	cls := out.Classification

	log := p.logger.With(zap.String("session", sessionID), zap.String("query_type", string(cls.QueryType)))

	if cls.NeedsClarification {
		out.Clarification = clarifyVague
		if cls.Error != "" {
			out.Clarification = clarifyError
			out.Error = cls.Error
		}
		out.Latency = time.Since(start)
		log.Info("asking for clarification", zap.Float64("confidence", cls.Confidence), zap.String("error", cls.Error))
		p.persist(ctx, out)
		return out, nil
	}

	rs, err := p.rules.GetRules(ctx, cls.QueryType)
	if err != nil {
		return nil, fmt.Errorf("loading rules: %w", err)
	}

	res := p.generator.Generate(ctx, sqlgen.Request{
		Query:    query,
		Category: cls.QueryType,
		Rules:    rs,
		Recent:   recent,
	})
	out.Success = res.Success
	out.Attempts = res.Attempts
	out.Model = res.Model
	out.Error = res.Error()
	if res.Success {
		out.SQL = res.SQL
		out.MissingFilters = p.checkFilters(log, query, cls, recent, res.SQL)
	}

	sess.Record(conversation.Turn{
		Utterance: query,
		Category:  cls.QueryType,
		SQL:       out.SQL,
		Timestamp: time.Now(),
	})
	out.Latency = time.Since(start)
	p.persist(ctx, out)
	if out.Success && cls.QueryType.IsWrite() {
		p.auditWrite(ctx, out)
	}
	return out, nil
}

// Audit returns the audit store, which may be nil.
func (p *Pipeline) Audit() *audit.Store {
	if p == nil {
		return nil
	}
	return p.audit
}

// Reset clears a session's conversation.
func (p *Pipeline) Reset(sessionID string) bool {
	return p.sessions.Reset(sessionID)
}

// checkFilters compares a follow-up's SQL against the previous statement and
// logs filters that were dropped. The SQL is still returned.
func (p *Pipeline) checkFilters(log *zap.Logger, query string, cls classifier.Result, recent []conversation.Turn, sql string) []string {
	if cls.Source != classifier.SourceFollowUp && !classifier.IsReferential(query) {
		return nil
	}
	prev := conversation.WithSQL(recent)
	if len(prev) == 0 {
		return nil
	}
	missing := sqlgen.MissingFilters(prev[len(prev)-1].SQL, sql)
	if len(missing) > 0 {
		log.Warn("follow-up sql dropped previous filters", zap.Strings("missing", missing))
	}
	return missing
}

func (p *Pipeline) persist(ctx context.Context, out *Outcome) {
	if p.history == nil {
		return
	}
	id, err := p.history.Record(ctx, history.Entry{
		SessionID:          out.SessionID,
		Utterance:          out.Query,
		QueryType:          string(out.Classification.QueryType),
		Confidence:         out.Classification.Confidence,
		NeedsClarification: out.Classification.NeedsClarification,
		SQL:                out.SQL,
		Success:            out.Success,
		Attempts:           out.Attempts,
		Latency:            out.Latency,
		Model:              out.Model,
		Error:              out.Error,
	})
	if err != nil {
		p.logger.Warn("failed to persist turn", zap.Error(err))
		return
	}
	out.TurnID = id
}

func (p *Pipeline) auditWrite(ctx context.Context, out *Outcome) {
	if p.audit == nil {
		return
	}
	_, err := p.audit.Log(ctx, audit.Entry{
		ActorType: audit.ActorUser,
		ActorID:   out.SessionID,
		Action:    audit.ActionWriteGenerated,
		Category:  string(out.Classification.QueryType),
		SessionID: out.SessionID,
		Summary:   out.Query,
		SQL:       out.SQL,
	})
	if err != nil {
		p.logger.Warn("failed to record audit entry", zap.Error(err))
	}
}
