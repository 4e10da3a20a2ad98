package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/adverant/nexus/docintel-worker/internal/logging"
)

// InvokerConfig is the uniform call policy.
type InvokerConfig struct {
	MaxAttempts int           // attempts per provider
	BaseDelay   time.Duration // first backoff delay
	MaxDelay    time.Duration // backoff cap
	CallTimeout time.Duration // bound on a single provider call
}

// DefaultInvokerConfig mirrors the production defaults.
func DefaultInvokerConfig() InvokerConfig {
	return InvokerConfig{
		MaxAttempts: 3,
		BaseDelay:   time.Second,
		MaxDelay:    60 * time.Second,
		CallTimeout: 120 * time.Second,
	}
}

// Validator checks a raw response. A non-nil error counts as a failed attempt.
type Validator func(text string) (interface{}, error)

// Result describes a successful invocation.
type Result struct {
	Text     string
	Value    interface{}
	Provider string
	Attempts int
	// RetryCount is the number of failed attempts before the successful one.
	RetryCount int
}

// ExhaustedError is returned when every provider failed every attempt.
type ExhaustedError struct {
	Attempts     int
	LastProvider string
	Errors       []error
}

func (e *ExhaustedError) Error() string {
	last := "none"
	if n := len(e.Errors); n > 0 {
		last = e.Errors[n-1].Error()
	}
	return fmt.Sprintf("all providers exhausted after %d attempt(s), last provider %s: %s", e.Attempts, e.LastProvider, last)
}

func (e *ExhaustedError) Unwrap() []error {
	return e.Errors
}

// RetryCount is the number of attempts after the first.
func (e *ExhaustedError) RetryCount() int {
	if e.Attempts == 0 {
		return 0
	}
	return e.Attempts - 1
}

// Invoker calls an ordered provider chain with retry, backoff and fail-over.
type Invoker struct {
	providers []Provider
	cfg       InvokerConfig
	counters  *Counters
	logger    *logging.Logger
}

// Option customizes an Invoker.
type Option func(*Invoker)

// WithCounters overrides the process-wide counters.
func WithCounters(c *Counters) Option {
	return func(i *Invoker) { i.counters = c }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(i *Invoker) { i.logger = l }
}

// NewInvoker creates an invoker over providers in fail-over order.
func NewInvoker(providers []Provider, cfg InvokerConfig, opts ...Option) *Invoker {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	inv := &Invoker{
		providers: providers,
		cfg:       cfg,
		counters:  DefaultCounters,
	}
	for _, opt := range opts {
		opt(inv)
	}
	inv.logger = logging.OrNop(inv.logger)
	return inv
}

// Providers lists provider names in order.
func (inv *Invoker) Providers() []string {
	names := make([]string, len(inv.providers))
	for i, p := range inv.providers {
		names[i] = p.Name()
	}
	return names
}

// Invoke sends req through the chain. Cancellation of ctx stops further
// attempts, but never interrupts a call that is already in flight.
func (inv *Invoker) Invoke(ctx context.Context, req Request, validate Validator) (*Result, error) {
	exhausted := &ExhaustedError{}
	if len(inv.providers) == 0 {
		exhausted.Errors = append(exhausted.Errors, errors.New("no providers configured"))
		return nil, exhausted
	}

	for _, provider := range inv.providers {
		for attempt := 1; attempt <= inv.cfg.MaxAttempts; attempt++ {
			if attempt > 1 {
				if err := inv.wait(ctx, attempt-1); err != nil {
					return nil, err
				}
			}
			if err := ctx.Err(); err != nil {
				return nil, err
			}

			if exhausted.Attempts > 0 {
				inv.counters.Retries.Add(1)
			}
			exhausted.Attempts++
			exhausted.LastProvider = provider.Name()

			start := time.Now()
			text, value, err := inv.call(ctx, provider, req, validate)
			if err == nil {
				inv.logger.Debug("llm.call.succeeded",
					"provider", provider.Name(),
					"attempt", attempt,
					"elapsed_ms", time.Since(start).Milliseconds())
				return &Result{
					Text:       text,
					Value:      value,
					Provider:   provider.Name(),
					Attempts:   exhausted.Attempts,
					RetryCount: exhausted.Attempts - 1,
				}, nil
			}

			inv.counters.Failures.Add(1)
			exhausted.Errors = append(exhausted.Errors, fmt.Errorf("%s attempt %d: %w", provider.Name(), attempt, err))
			inv.logger.Warn("llm.call.failed",
				"provider", provider.Name(),
				"attempt", attempt,
				"max_attempts", inv.cfg.MaxAttempts,
				"elapsed_ms", time.Since(start).Milliseconds(),
				"error", err)
		}
		inv.logger.Warn("llm.provider.exhausted", "provider", provider.Name())
	}

	inv.counters.Exhaustions.Add(1)
	return nil, exhausted
}

type callOutcome struct {
	text string
	err  error
}

func (inv *Invoker) call(ctx context.Context, provider Provider, req Request, validate Validator) (string, interface{}, error) {
	callCtx := context.WithoutCancel(ctx)
	if inv.cfg.CallTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(callCtx, inv.cfg.CallTimeout)
		defer cancel()
	}

	inv.counters.Calls.Add(1)
	inv.counters.providerCall(provider.Name())

	done := make(chan callOutcome, 1)
	go func() {
		text, err := provider.Complete(callCtx, req)
		done <- callOutcome{text: text, err: err}
	}()

	var out callOutcome
	select {
	case out = <-done:
	case <-callCtx.Done():
		inv.counters.Timeouts.Add(1)
		return "", nil, fmt.Errorf("call timed out after %v: %w", inv.cfg.CallTimeout, callCtx.Err())
	}
	if out.err != nil {
		if errors.Is(out.err, context.DeadlineExceeded) {
			inv.counters.Timeouts.Add(1)
		}
		return "", nil, out.err
	}
	if strings.TrimSpace(out.text) == "" {
		return "", nil, errors.New("empty response")
	}
	if validate == nil {
		return out.text, out.text, nil
	}
	value, err := validate(out.text)
	if err != nil {
		return "", nil, fmt.Errorf("response rejected: %w", err)
	}
	return out.text, value, nil
}

// backoff returns BaseDelay * 2^(retry-1), capped at MaxDelay.
func (inv *Invoker) backoff(retry int) time.Duration {
	delay := inv.cfg.BaseDelay * time.Duration(1<<uint(retry-1))
	if inv.cfg.MaxDelay > 0 && delay > inv.cfg.MaxDelay {
		delay = inv.cfg.MaxDelay
	}
	return delay
}

func (inv *Invoker) wait(ctx context.Context, retry int) error {
	delay := inv.backoff(retry)
	if delay <= 0 {
		return nil
	}
	select {
	case <-time.After(delay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
