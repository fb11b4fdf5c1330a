// Package classifier maps a manager's question to a query category.
package classifier

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/ziadkadry99/menusql/internal/category"
	"github.com/ziadkadry99/menusql/internal/conversation"
	"github.com/ziadkadry99/menusql/internal/llm"
)

const (
	// DefaultThreshold is the confidence below which a clarification is requested.
	DefaultThreshold = 0.6

	followUpConfidence = 0.9
	maxFollowUpWords   = 12
	// A keyword score at or above this overrides follow-up bias.
	strongSignal = 2.0
)

// Source values describe which path produced a Result.
const (
	SourceEmpty    = "empty"
	SourceFollowUp = "follow_up"
	SourceKeywords = "keywords"
	SourceLLM      = "llm"
)

// Result is the outcome of classifying one utterance. Callers must check
// Error before trusting QueryType.
type Result struct {
	QueryType          category.Category `json:"query_type"`
	Confidence         float64           `json:"confidence"`
	Parameters         map[string]any    `json:"parameters"`
	Error              string            `json:"error,omitempty"`
	NeedsClarification bool              `json:"needs_clarification"`
	Source             string            `json:"source"`
}

// Classifier decides the category of an utterance using an LLM when one is
// configured and a keyword scorer otherwise.
type Classifier struct {
	provider  llm.Provider
	model     string
	threshold float64
	logger    *zap.Logger
}

// Option configures a Classifier.
type Option func(*Classifier)

// WithProvider enables LLM classification.
func WithProvider(p llm.Provider, model string) Option {
	return func(c *Classifier) {
		c.provider = p
		c.model = model
	}
}

// WithThreshold sets the clarification threshold.
func WithThreshold(t float64) Option {
	return func(c *Classifier) { c.threshold = t }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Classifier) {
		if l != nil {
			c.logger = l
		}
	}
}

// New creates a Classifier.
func New(opts ...Option) *Classifier {
	c := &Classifier{threshold: DefaultThreshold, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.Named("classifier")
	return c
}

// Classify returns the category for query. recent are the session's latest
// turns, most recent last; a short referential follow-up keeps the category
// of the last turn.
func (c *Classifier) Classify(ctx context.Context, query string, recent []conversation.Turn) Result {
	query = strings.TrimSpace(query)
	if query == "" {
		return c.finish(Result{QueryType: category.General, Parameters: map[string]any{}, Source: SourceEmpty})
	}

	scores := scoreKeywords(query)

	if r, ok := c.followUp(query, recent, scores); ok {
		return c.finish(r)
	}

	if c.provider == nil {
		return c.finish(fromScores(scores))
	}

	r, err := c.classifyLLM(ctx, query, recent)
	if err != nil {
		c.logger.Warn("classification failed", zap.String("query", query), zap.Error(err))
		return c.finish(Result{
			QueryType:  category.General,
			Confidence: 0,
			Parameters: map[string]any{},
			Error:      err.Error(),
			Source:     SourceLLM,
		})
	}
	return c.finish(r)
}

// ClassifyAsync runs Classify in a goroutine. The result is identical to the
// synchronous call for the same inputs.
func (c *Classifier) ClassifyAsync(ctx context.Context, query string, recent []conversation.Turn) <-chan Result {
	turns := make([]conversation.Turn, len(recent))
	copy(turns, recent)
	out := make(chan Result, 1)
	go func() {
		defer close(out)
		out <- c.Classify(ctx, query, turns)
	}()
	return out
}

func (c *Classifier) finish(r Result) Result {
	if r.QueryType == "" {
		r.QueryType = category.General
	}
	if r.Parameters == nil {
		r.Parameters = map[string]any{}
	}
	r.NeedsClarification = r.Error != "" || r.QueryType == category.General || r.Confidence < c.threshold
	return r
}

func (c *Classifier) followUp(query string, recent []conversation.Turn, scores map[category.Category]float64) (Result, bool) {
	if len(recent) == 0 {
		return Result{}, false
	}
	last := recent[len(recent)-1]
	if !last.Category.Valid() || !IsReferential(query) || len(strings.Fields(query)) > maxFollowUpWords {
		return Result{}, false
	}
	best, score := top(scores)
	if best != "" && best != last.Category && score >= strongSignal {
		return Result{}, false
	}
	return Result{
		QueryType:  last.Category,
		Confidence: followUpConfidence,
		Parameters: map[string]any{"follow_up": true},
		Source:     SourceFollowUp,
	}, true
}

type llmClassification struct {
	QueryType  string         `json:"query_type"`
	Confidence float64        `json:"confidence"`
	Parameters map[string]any `json:"parameters"`
}

func (c *Classifier) classifyLLM(ctx context.Context, query string, recent []conversation.Turn) (Result, error) {
	resp, err := c.provider.Complete(ctx, llm.CompletionRequest{
		Model: c.model,
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: systemPrompt()},
			{Role: llm.RoleUser, Content: userPrompt(query, recent)},
		},
		MaxTokens:   256,
		Temperature: 0,
		JSONMode:    true,
	})
	if err != nil {
		return Result{}, fmt.Errorf("classifier completion: %w", err)
	}

	var parsed llmClassification
	if err := json.Unmarshal([]byte(stripFence(resp.Content)), &parsed); err != nil {
		return Result{}, fmt.Errorf("parsing classifier response: %w", err)
	}
	qt, err := category.ParseQueryType(parsed.QueryType)
	if err != nil {
		return Result{}, err
	}
	conf := parsed.Confidence
	if conf < 0 {
		conf = 0
	}
	if conf > 1 {
		conf = 1
	}
	return Result{QueryType: qt, Confidence: conf, Parameters: parsed.Parameters, Source: SourceLLM}, nil
}

func systemPrompt() string {
	var b strings.Builder
	b.WriteString("You classify a restaurant manager's question into exactly one category.\n\nCategories:\n")
	for _, c := range category.All() {
		fmt.Fprintf(&b, "- %s: %s\n", c, c.Description())
	}
	b.WriteString("- general: anything else, or a question too vague to answer with one query.\n\n")
	b.WriteString("Respond with JSON: {\"query_type\": string, \"confidence\": number between 0 and 1, ")
	b.WriteString("\"parameters\": object of extracted entities such as dates, item names, prices or statuses}.\n")
	b.WriteString("If the question refers to an earlier one (\"those\", \"their\", \"that order\"), use the earlier category.")
	return b.String()
}

func userPrompt(query string, recent []conversation.Turn) string {
	var b strings.Builder
	if len(recent) > 0 {
		b.WriteString("Previous questions (oldest first):\n")
		for _, t := range recent {
			fmt.Fprintf(&b, "- [%s] %s\n", t.Category, t.Utterance)
		}
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "Question: %s", query)
	return b.String()
}

func stripFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.Index(s, "\n"); i >= 0 {
		s = s[i+1:]
	}
	return strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "```"))
}
