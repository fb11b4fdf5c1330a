// Package llmtest provides scripted llm.Provider fakes for tests.
package llmtest

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ziadkadry99/menusql/internal/llm"
)

// Step is one scripted reply. Exactly one of Content or Err is used.
type Step struct {
	Content string
	Err     error
	Delay   time.Duration // honoured with ctx cancellation
	Tokens  int           // split evenly between input and output
}

// ErrScriptExhausted is returned once every step has been consumed and no
// fallback is configured.
var ErrScriptExhausted = errors.New("llmtest: script exhausted")

// Provider replays Steps in order and records every request.
type Provider struct {
	mu       sync.Mutex
	name     string
	model    string
	steps    []Step
	fallback *Step
	calls    []llm.CompletionRequest
}

// New returns a provider that replays steps in order.
func New(steps ...Step) *Provider {
	return &Provider{name: "scripted", model: "scripted-model", steps: steps}
}

// Always returns a provider that answers every call with step.
func Always(step Step) *Provider {
	p := New()
	p.fallback = &step
	return p
}

// Reply is shorthand for a successful step.
func Reply(content string) Step { return Step{Content: content, Tokens: 20} }

// Fail is shorthand for a failing step.
func Fail(err error) Step { return Step{Err: err} }

func (p *Provider) Name() string { return p.name }

func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	p.mu.Lock()
	p.calls = append(p.calls, req)
	var step Step
	switch {
	case len(p.steps) > 0:
		step = p.steps[0]
		p.steps = p.steps[1:]
	case p.fallback != nil:
		step = *p.fallback
	default:
		p.mu.Unlock()
		return nil, ErrScriptExhausted
	}
	p.mu.Unlock()

	if step.Delay > 0 {
		timer := time.NewTimer(step.Delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
	if step.Err != nil {
		return nil, step.Err
	}

	model := req.Model
	if model == "" {
		model = p.model
	}
	return &llm.CompletionResponse{
		Content:      step.Content,
		InputTokens:  step.Tokens / 2,
		OutputTokens: step.Tokens - step.Tokens/2,
		Model:        model,
		FinishReason: "stop",
	}, nil
}

// CallCount returns the number of Complete calls so far.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}

// Calls returns a copy of the recorded requests.
func (p *Provider) Calls() []llm.CompletionRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]llm.CompletionRequest, len(p.calls))
	copy(out, p.calls)
	return out
}

// LastUserMessage returns the content of the last user message of the most
// recent call, or "" when there were no calls.
func (p *Provider) LastUserMessage() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.calls) == 0 {
		return ""
	}
	msgs := p.calls[len(p.calls)-1].Messages
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == llm.RoleUser {
			return msgs[i].Content
		}
	}
	return ""
}
