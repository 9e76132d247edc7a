// Package router selects which provider serves each pipeline stage.
//
// Every capability (transcription, reasoning, synthesis) is configured as an
// ordered [Chain] of named providers. A call walks the chain from the first
// entry, moving on whenever an attempt fails, and returns the first success.
// Each entry carries its own three-state [Breaker] (closed → open →
// half-open) so a backend that keeps failing is skipped without waiting for
// its timeout on every single turn. The breaker only ever skips an entry; it
// never changes the configured order.
//
// All types are safe for concurrent use.
package router

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrBreakerOpen is returned by [Breaker.Do] when the breaker is open and
// the cool-down has not yet elapsed.
var ErrBreakerOpen = errors.New("router: breaker open")

// BreakerState is the operating mode of a [Breaker].
type BreakerState int

const (
	// BreakerClosed forwards every call.
	BreakerClosed BreakerState = iota

	// BreakerOpen rejects calls with [ErrBreakerOpen] until the cool-down
	// elapses.
	BreakerOpen

	// BreakerHalfOpen lets a small number of probe calls through. Successful
	// probes close the breaker; any failure re-opens it.
	BreakerHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// BreakerConfig tunes a [Breaker]. The zero value gets defaults suitable for
// provider chains: with a fresh process every entry is tried in order, and a
// backend has to fail several turns in a row before it is skipped.
type BreakerConfig struct {
	// Name labels the breaker in log output.
	Name string

	// TripAfter is the number of consecutive failures that opens the
	// breaker. Default: 5.
	TripAfter int

	// CoolDown is how long the breaker stays open before admitting probes.
	// Default: 30s.
	CoolDown time.Duration

	// ProbeBudget caps half-open probe calls before the breaker decides.
	// Default: 3.
	ProbeBudget int
}

// Breaker is a three-state circuit breaker guarding one chain entry.
type Breaker struct {
	name        string
	tripAfter   int
	coolDown    time.Duration
	probeBudget int
	log         *slog.Logger

	mu          sync.Mutex
	state       BreakerState
	failRun     int
	lastFailure time.Time
	probeCalls  int
	probeFails  int
}

// NewBreaker creates a [Breaker], replacing zero config fields with
// defaults.
func NewBreaker(cfg BreakerConfig, log *slog.Logger) *Breaker {
	if cfg.TripAfter <= 0 {
		cfg.TripAfter = 5
	}
	if cfg.CoolDown <= 0 {
		cfg.CoolDown = 30 * time.Second
	}
	if cfg.ProbeBudget <= 0 {
		cfg.ProbeBudget = 3
	}
	if log == nil {
		log = slog.Default()
	}
	return &Breaker{
		name:        cfg.Name,
		tripAfter:   cfg.TripAfter,
		coolDown:    cfg.CoolDown,
		probeBudget: cfg.ProbeBudget,
		log:         log,
		state:       BreakerClosed,
	}
}

// Do runs fn if the breaker admits the call, returning [ErrBreakerOpen]
// without calling fn otherwise.
func (b *Breaker) Do(fn func() error) error {
	b.mu.Lock()
	switch b.state {
	case BreakerOpen:
		if time.Since(b.lastFailure) < b.coolDown {
			b.mu.Unlock()
			return ErrBreakerOpen
		}
		b.state = BreakerHalfOpen
		b.probeCalls = 0
		b.probeFails = 0
		b.log.Info("breaker half-open", "breaker", b.name)

	case BreakerHalfOpen:
		if b.probeCalls >= b.probeBudget {
			b.mu.Unlock()
			return ErrBreakerOpen
		}
	}

	probing := b.state == BreakerHalfOpen
	if probing {
		b.probeCalls++
	}
	b.mu.Unlock()

	err := fn()

	b.mu.Lock()
	defer b.mu.Unlock()
	if err != nil {
		b.onFailure(probing)
	} else {
		b.onSuccess(probing)
	}
	return err
}

// onFailure must be called with b.mu held.
func (b *Breaker) onFailure(probing bool) {
	b.lastFailure = time.Now()

	if probing {
		b.probeFails++
		b.state = BreakerOpen
		b.failRun = b.tripAfter
		b.log.Warn("breaker re-opened after failed probe", "breaker", b.name)
		return
	}

	b.failRun++
	if b.failRun >= b.tripAfter {
		b.state = BreakerOpen
		b.log.Warn("breaker opened",
			"breaker", b.name, "consecutive_failures", b.failRun)
	}
}

// onSuccess must be called with b.mu held.
func (b *Breaker) onSuccess(probing bool) {
	if probing {
		if b.probeCalls-b.probeFails >= b.probeBudget {
			b.state = BreakerClosed
			b.failRun = 0
			b.probeCalls = 0
			b.probeFails = 0
			b.log.Info("breaker closed after successful probes", "breaker", b.name)
		}
		return
	}
	b.failRun = 0
}

// State reports the breaker's mode. An open breaker whose cool-down has
// elapsed reports half-open; the transition itself happens on the next call
// to [Breaker.Do].
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == BreakerOpen && time.Since(b.lastFailure) >= b.coolDown {
		return BreakerHalfOpen
	}
	return b.state
}

// Reset forces the breaker closed and clears all counters.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = BreakerClosed
	b.failRun = 0
	b.probeCalls = 0
	b.probeFails = 0
}
