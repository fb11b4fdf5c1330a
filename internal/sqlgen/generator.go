// Package sqlgen turns an assembled prompt into one validated SQL statement,
// retrying failed or malformed generations a bounded number of times.
package sqlgen

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ziadkadry99/menusql/internal/category"
	"github.com/ziadkadry99/menusql/internal/conversation"
	"github.com/ziadkadry99/menusql/internal/llm"
	"github.com/ziadkadry99/menusql/internal/prompt"
	"github.com/ziadkadry99/menusql/internal/rules"
)

// ErrExhausted wraps the last attempt error once every attempt has failed.
var ErrExhausted = errors.New("exhausted")

var errEmptyResponse = errors.New("empty response from LLM")

const systemMessage = "You translate a restaurant manager's questions into PostgreSQL. " +
	"Follow the business rules exactly and answer with a single SQL statement."

// Config controls the retry loop.
type Config struct {
	Model          string
	MaxAttempts    int
	AttemptTimeout time.Duration
	Backoff        time.Duration
	MaxBackoff     time.Duration
	MaxTokens      int
	Temperature    float64
}

// DefaultConfig returns the defaults used for zero Config fields.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:    3,
		AttemptTimeout: 60 * time.Second,
		Backoff:        500 * time.Millisecond,
		MaxBackoff:     8 * time.Second,
		MaxTokens:      2048,
		Temperature:    0.1,
	}
}

// Request is one generation request.
type Request struct {
	Query    string
	Category category.Category
	Rules    *rules.RuleSet
	Recent   []conversation.Turn
}

// Attempt records one LLM round trip inside a Generate call.
type Attempt struct {
	Number       int           `json:"number"`
	Latency      time.Duration `json:"latency_ns"`
	InputTokens  int           `json:"input_tokens"`
	OutputTokens int           `json:"output_tokens"`
	RawText      string        `json:"raw_text,omitempty"`
	ExtractedSQL string        `json:"extracted_sql,omitempty"`
	Success      bool          `json:"success"`
	Err          error         `json:"-"`
}

// Result is the outcome of Generate. Callers must not execute SQL unless
// Success is true.
type Result struct {
	Success  bool          `json:"success"`
	SQL      string        `json:"sql,omitempty"`
	Attempts int           `json:"attempts"`
	Latency  time.Duration `json:"latency_ns"`
	Model    string        `json:"model"`
	Prompt   string        `json:"-"`
	Err      error         `json:"-"`
	History  []Attempt     `json:"-"`
}

// Error returns the failure message, or "" on success.
func (r *Result) Error() string {
	if r == nil || r.Err == nil {
		return ""
	}
	return r.Err.Error()
}

// Generator drives the LLM call loop.
type Generator struct {
	provider  llm.Provider
	assembler *prompt.Assembler
	cfg       Config
	metrics   *Metrics
	logger    *zap.Logger
	sleep     func(ctx context.Context, d time.Duration) error
}

// Option configures a Generator.
type Option func(*Generator)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(g *Generator) {
		if l != nil {
			g.logger = l
		}
	}
}

// WithMetrics shares m instead of allocating new counters.
func WithMetrics(m *Metrics) Option {
	return func(g *Generator) {
		if m != nil {
			g.metrics = m
		}
	}
}

// New creates a Generator. Zero MaxAttempts, MaxBackoff and MaxTokens take
// their DefaultConfig values; a zero Backoff or AttemptTimeout disables it.
func New(p llm.Provider, a *prompt.Assembler, cfg Config, opts ...Option) *Generator {
	def := DefaultConfig()
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = def.MaxBackoff
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = def.MaxTokens
	}
	if a == nil {
		a = prompt.New(prompt.Options{})
	}
	g := &Generator{
		provider:  p,
		assembler: a,
		cfg:       cfg,
		metrics:   NewMetrics(),
		logger:    zap.NewNop(),
		sleep:     sleepCtx,
	}
	for _, opt := range opts {
		opt(g)
	}
	g.logger = g.logger.Named("sqlgen")
	return g
}

// Metrics returns the generator's counters.
func (g *Generator) Metrics() *Metrics { return g.metrics }

// MaxAttempts returns the configured attempt budget.
func (g *Generator) MaxAttempts() int { return g.cfg.MaxAttempts }

type state int

const (
	stateBuild state = iota
	stateAttempt
	stateExtract
	stateValidate
	stateRetry
	stateSuccess
	stateFail
)

func (s state) String() string {
	return [...]string{"build", "attempt", "extract", "validate", "retry", "success", "fail"}[s]
}

// Generate runs Build, Attempt, Extract and Validate until a statement
// validates or the attempt budget is spent. It never returns nil.
func (g *Generator) Generate(ctx context.Context, req Request) *Result {
	start := time.Now()
	g.metrics.generations.Add(1)
	res := &Result{Model: g.model()}

	var (
		att     Attempt
		lastErr error
	)
	st := stateBuild
	for {
		switch st {
		case stateBuild:
			res.Prompt = g.assembler.Build(req.Query, req.Rules, req.Recent)
			st = stateAttempt

		case stateAttempt:
			if err := ctx.Err(); err != nil {
				lastErr = err
				st = stateFail
				continue
			}
			res.Attempts++
			att = g.attempt(ctx, res.Prompt, res.Attempts)
			if att.Err != nil {
				st = stateRetry
			} else {
				st = stateExtract
			}

		case stateExtract:
			att.ExtractedSQL = Extract(att.RawText)
			st = stateValidate

		case stateValidate:
			if err := Validate(att.ExtractedSQL); err != nil {
				att.Err = err
				st = stateRetry
			} else {
				att.Success = true
				st = stateSuccess
			}

		case stateRetry:
			res.History = append(res.History, att)
			lastErr = att.Err
			g.metrics.retries.Add(1)
			g.logger.Warn("generation attempt failed",
				zap.Int("attempt", att.Number),
				zap.Int("max_attempts", g.cfg.MaxAttempts),
				zap.String("category", string(req.Category)),
				zap.Duration("latency", att.Latency),
				zap.Error(att.Err),
			)
			if res.Attempts >= g.cfg.MaxAttempts {
				st = stateFail
				continue
			}
			if err := g.sleep(ctx, g.backoff(res.Attempts)); err != nil {
				lastErr = err
				st = stateFail
				continue
			}
			st = stateAttempt

		case stateSuccess:
			res.History = append(res.History, att)
			res.Success = true
			res.SQL = att.ExtractedSQL
			res.Latency = time.Since(start)
			g.metrics.successes.Add(1)
			g.logger.Info("generated sql",
				zap.String("category", string(req.Category)),
				zap.Int("attempts", res.Attempts),
				zap.Duration("latency", res.Latency),
			)
			return res

		case stateFail:
			res.Latency = time.Since(start)
			if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(lastErr, ctxErr) {
				res.Err = fmt.Errorf("generation cancelled after %d attempts: %w", res.Attempts, lastErr)
			} else {
				res.Err = fmt.Errorf("%w %d attempts: %w", ErrExhausted, res.Attempts, lastErr)
			}
			g.metrics.failures.Add(1)
			g.logger.Error("sql generation failed",
				zap.String("category", string(req.Category)),
				zap.Int("attempts", res.Attempts),
				zap.Error(res.Err),
			)
			return res
		}
	}
}

// attempt makes one LLM call under the per-attempt timeout.
func (g *Generator) attempt(ctx context.Context, promptText string, n int) Attempt {
	att := Attempt{Number: n}
	if g.provider == nil {
		att.Err = errors.New("no LLM provider configured")
		return att
	}

	callCtx := ctx
	if g.cfg.AttemptTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, g.cfg.AttemptTimeout)
		defer cancel()
	}

	promptTokens := llm.EstimateTokens(systemMessage) + llm.EstimateTokens(promptText)
	g.logger.Debug("calling LLM",
		zap.Int("attempt", n),
		zap.Int("estimated_prompt_tokens", promptTokens),
	)

	start := time.Now()
	resp, err := g.provider.Complete(callCtx, llm.CompletionRequest{
		Model: g.cfg.Model,
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: systemMessage},
			{Role: llm.RoleUser, Content: promptText},
		},
		MaxTokens:   g.cfg.MaxTokens,
		Temperature: g.cfg.Temperature,
	})
	att.Latency = time.Since(start)
	if err == nil && resp == nil {
		err = errEmptyResponse
	}
	g.metrics.observeCall(g.model(), att.Latency, resp, promptTokens, err)
	if err != nil {
		att.Err = fmt.Errorf("attempt %d: %w", n, err)
		return att
	}
	att.RawText = resp.Content
	att.InputTokens = resp.InputTokens
	if att.InputTokens == 0 {
		att.InputTokens = promptTokens
	}
	att.OutputTokens = resp.OutputTokens
	return att
}

func (g *Generator) model() string {
	if g.cfg.Model != "" {
		return g.cfg.Model
	}
	if g.provider != nil {
		return g.provider.Name()
	}
	return ""
}

// backoff returns the wait after the given failed attempt: Backoff doubled
// per attempt, capped at MaxBackoff.
func (g *Generator) backoff(attempt int) time.Duration {
	if g.cfg.Backoff <= 0 {
		return 0
	}
	d := g.cfg.Backoff
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= g.cfg.MaxBackoff {
			return g.cfg.MaxBackoff
		}
	}
	return d
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
