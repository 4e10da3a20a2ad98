// Package llmtest provides scripted providers for tests.
package llmtest

import (
	"context"
	"errors"
	"sync"

	"github.com/adverant/nexus/docintel-worker/internal/llm"
)

// Step is one scripted response. Hang blocks until the call context ends.
type Step struct {
	Text string
	Err  error
	Hang bool
}

// ErrScriptExhausted is returned once all steps were consumed and no
// fallback is set.
var ErrScriptExhausted = errors.New("llmtest: no scripted response left")

// Provider replays steps in order, then repeats Fallback forever.
type Provider struct {
	ProviderName string
	Steps        []Step
	Fallback     *Step
	// Respond, when set, computes responses from the request instead.
	Respond func(req llm.Request) (string, error)

	mu       sync.Mutex
	calls    int
	requests []llm.Request
}

// Name implements llm.Provider.
func (p *Provider) Name() string { return p.ProviderName }

// Complete implements llm.Provider.
func (p *Provider) Complete(ctx context.Context, req llm.Request) (string, error) {
	p.mu.Lock()
	idx := p.calls
	p.calls++
	p.requests = append(p.requests, req)
	p.mu.Unlock()

	if p.Respond != nil {
		return p.Respond(req)
	}

	var step Step
	switch {
	case idx < len(p.Steps):
		step = p.Steps[idx]
	case p.Fallback != nil:
		step = *p.Fallback
	default:
		return "", ErrScriptExhausted
	}
	if step.Hang {
		<-ctx.Done()
		return "", ctx.Err()
	}
	return step.Text, step.Err
}

// Calls returns how many times Complete ran.
func (p *Provider) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

// Requests returns a copy of the received requests.
func (p *Provider) Requests() []llm.Request {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]llm.Request(nil), p.requests...)
}

// Failing returns a provider that always errors.
func Failing(name string) *Provider {
	return &Provider{ProviderName: name, Fallback: &Step{Err: errors.New(name + " unavailable")}}
}

// Always returns a provider that always answers text.
func Always(name, text string) *Provider {
	return &Provider{ProviderName: name, Fallback: &Step{Text: text}}
}
