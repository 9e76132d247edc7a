package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// ErrExhausted is wrapped by [*Failure] when every entry in a chain has been
// tried (or skipped) without a success.
var ErrExhausted = errors.New("router: all providers failed")

// ErrEmptyResult is what capability closures return when a provider answered
// without error but produced nothing usable (an empty transcript, a blank
// reply, a zero-length clip). The chain treats it like any other failure and
// moves to the next entry.
var ErrEmptyResult = errors.New("router: provider returned empty result")

// Attempt records one provider try within a single chain invocation.
// A skipped entry (open breaker) is recorded with [ErrBreakerOpen].
type Attempt struct {
	Provider string
	Err      error
}

// Failure is the error returned when a chain is exhausted. Attempts lists
// every entry in configuration order with the error that ruled it out, so a
// caller (and the log) can see the whole cascade at once.
type Failure struct {
	Capability string
	Attempts   []Attempt
}

func (f *Failure) Error() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "router: %s chain exhausted after %d attempts", f.Capability, len(f.Attempts))
	for _, a := range f.Attempts {
		fmt.Fprintf(&sb, "; %s: %v", a.Provider, a.Err)
	}
	return sb.String()
}

// Unwrap exposes [ErrExhausted] plus every attempt error to [errors.Is] and
// [errors.As].
func (f *Failure) Unwrap() []error {
	errs := make([]error, 0, len(f.Attempts)+1)
	errs = append(errs, ErrExhausted)
	for _, a := range f.Attempts {
		errs = append(errs, a.Err)
	}
	return errs
}

// Config configures a [Chain].
type Config struct {
	// Capability names the pipeline stage ("transcription", "reasoning",
	// "synthesis") for logs and failure errors.
	Capability string

	// Timeout bounds each individual provider call unless the entry was
	// added with its own timeout. Zero means the call inherits only the
	// caller's context deadline.
	Timeout time.Duration

	// Breaker is the template for each entry's breaker; the entry name is
	// filled in per provider.
	Breaker BreakerConfig

	// Logger defaults to [slog.Default].
	Logger *slog.Logger
}

type chainEntry[T any] struct {
	name    string
	value   T
	breaker *Breaker
	timeout time.Duration
}

// Chain is an ordered list of named providers for one capability. Entries
// are tried strictly in the order they were added; breakers skip entries but
// never promote one over another.
//
// Chain is safe for concurrent use once assembly (Add calls) is done.
type Chain[T any] struct {
	capability string
	timeout    time.Duration
	breakerCfg BreakerConfig
	log        *slog.Logger
	entries    []chainEntry[T]
}

// NewChain creates an empty [Chain] for the configured capability.
func NewChain[T any](cfg Config) *Chain[T] {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Chain[T]{
		capability: cfg.Capability,
		timeout:    cfg.Timeout,
		breakerCfg: cfg.Breaker,
		log:        log,
	}
}

// Add appends a provider to the end of the chain with its own breaker,
// bounded by the chain's default timeout.
func (c *Chain[T]) Add(name string, provider T) {
	c.AddWithTimeout(name, provider, 0)
}

// AddWithTimeout appends a provider whose calls are bounded by its own
// timeout instead of the chain default. A timeout of zero or less inherits
// the default.
func (c *Chain[T]) AddWithTimeout(name string, provider T, timeout time.Duration) {
	bCfg := c.breakerCfg
	bCfg.Name = c.capability + "/" + name
	c.entries = append(c.entries, chainEntry[T]{
		name:    name,
		value:   provider,
		breaker: NewBreaker(bCfg, c.log),
		timeout: timeout,
	})
}

// Len reports the number of configured providers.
func (c *Chain[T]) Len() int { return len(c.entries) }

// Capability returns the stage name the chain was configured with.
func (c *Chain[T]) Capability() string { return c.capability }

// Names returns the provider names in attempt order.
func (c *Chain[T]) Names() []string {
	names := make([]string, len(c.entries))
	for i, e := range c.entries {
		names[i] = e.name
	}
	return names
}

// Invoke tries fn against each chain entry in order until one succeeds,
// returning the result and the name of the provider that produced it.
//
// Each attempt runs under its own timeout derived from ctx. If ctx itself is
// done the walk stops immediately and the context error is returned without
// charging the remaining breakers. When every entry fails the returned error
// is a [*Failure] carrying one [Attempt] per entry.
//
// Invoke is a package-level function because Go methods cannot introduce the
// result type parameter.
func Invoke[T any, R any](ctx context.Context, c *Chain[T], fn func(context.Context, T) (R, error)) (R, string, error) {
	var zero R
	if len(c.entries) == 0 {
		return zero, "", &Failure{Capability: c.capability}
	}

	attempts := make([]Attempt, 0, len(c.entries))
	for i := range c.entries {
		entry := &c.entries[i]

		if err := ctx.Err(); err != nil {
			return zero, "", fmt.Errorf("router: %s chain aborted: %w", c.capability, err)
		}

		var result R
		err := entry.breaker.Do(func() error {
			callCtx := ctx
			timeout := entry.timeout
			if timeout <= 0 {
				timeout = c.timeout
			}
			if timeout > 0 {
				var cancel context.CancelFunc
				callCtx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}
			var callErr error
			result, callErr = fn(callCtx, entry.value)
			return callErr
		})
		if err == nil {
			if len(attempts) > 0 {
				c.log.Info("provider chain fell back",
					"capability", c.capability,
					"provider", entry.name,
					"failed_attempts", len(attempts))
			}
			return result, entry.name, nil
		}

		attempts = append(attempts, Attempt{Provider: entry.name, Err: err})
		if errors.Is(err, ErrBreakerOpen) {
			c.log.Debug("skipping provider (breaker open)",
				"capability", c.capability, "provider", entry.name)
		} else {
			c.log.Warn("provider failed, trying next",
				"capability", c.capability, "provider", entry.name, "error", err)
		}
	}

	return zero, "", &Failure{Capability: c.capability, Attempts: attempts}
}
