// Package resilience guards calls to the text service: a per-provider
// circuit breaker that fails calls fast while a provider is down, and
// classification of errors as transient.
package resilience

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// State is the state of a Breaker.
type State int

const (
	// Closed lets calls through.
	Closed State = iota
	// Open rejects calls until the cool-down has elapsed.
	Open
	// HalfOpen lets probe calls through to test recovery.
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrOpen is returned when a call is rejected by an open breaker.
var ErrOpen = eris.New("circuit breaker is open")

// BreakerConfig controls a Breaker.
type BreakerConfig struct {
	// FailureThreshold is the number of consecutive tripping failures that
	// opens the breaker. Zero or less disables breaking entirely.
	FailureThreshold int
	// Cooldown is how long the breaker stays open before probing. Default 30s.
	Cooldown time.Duration
	// Probes is the number of successful half-open calls needed to close.
	// Default 1.
	Probes int
	// ShouldTrip decides which errors count. Nil counts transient errors.
	ShouldTrip func(err error) bool
}

// Enabled reports whether the config describes an active breaker.
func (c BreakerConfig) Enabled() bool {
	return c.FailureThreshold > 0
}

// Breaker is a consecutive-failure circuit breaker for one provider.
type Breaker struct {
	name string
	cfg  BreakerConfig

	mu        sync.Mutex
	state     State
	failures  int
	openedAt  time.Time
	successes int

	now func() time.Time
}

// NewBreaker creates a breaker for the named provider.
func NewBreaker(name string, cfg BreakerConfig) *Breaker {
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 30 * time.Second
	}
	if cfg.Probes <= 0 {
		cfg.Probes = 1
	}
	if cfg.ShouldTrip == nil {
		cfg.ShouldTrip = IsTransient
	}
	return &Breaker{name: name, cfg: cfg, now: time.Now}
}

// Call runs fn unless the breaker is open, and records its outcome. A call
// whose ctx was canceled by the caller leaves the breaker untouched.
func Call[T any](ctx context.Context, b *Breaker, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if b == nil {
		return fn(ctx)
	}
	if !b.allow() {
		return zero, ErrOpen
	}
	val, err := fn(ctx)
	if err != nil && errors.Is(ctx.Err(), context.Canceled) {
		return val, err
	}
	b.record(err)
	return val, err
}

// State returns the current state, reporting HalfOpen once the cool-down of
// an open breaker has elapsed.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == Open && b.now().Sub(b.openedAt) >= b.cfg.Cooldown {
		return HalfOpen
	}
	return b.state
}

// Failures returns the current consecutive failure count.
func (b *Breaker) Failures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}

func (b *Breaker) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state != Open {
		return true
	}
	if b.now().Sub(b.openedAt) >= b.cfg.Cooldown {
		b.moveTo(HalfOpen)
		return true
	}
	return false
}

func (b *Breaker) record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err == nil || !b.cfg.ShouldTrip(err) {
		if b.state == HalfOpen {
			b.successes++
			if b.successes < b.cfg.Probes {
				return
			}
			b.moveTo(Closed)
		}
		b.failures = 0
		b.successes = 0
		return
	}

	b.failures++
	switch b.state {
	case Closed:
		if b.failures >= b.cfg.FailureThreshold {
			b.openedAt = b.now()
			b.moveTo(Open)
		}
	case HalfOpen:
		b.openedAt = b.now()
		b.successes = 0
		b.moveTo(Open)
	}
}

func (b *Breaker) moveTo(to State) {
	from := b.state
	b.state = to
	zap.L().Warn("circuit breaker state change",
		zap.String("provider", b.name),
		zap.Stringer("from", from),
		zap.Stringer("to", to),
		zap.Int("consecutive_failures", b.failures),
	)
}

// Breakers hands out one shared Breaker per provider name, so every adapter
// talking to the same provider sees the same failure history.
type Breakers struct {
	cfg BreakerConfig

	mu       sync.Mutex
	breakers map[string]*Breaker
}

// NewBreakers creates a registry. A disabled config makes For return nil.
func NewBreakers(cfg BreakerConfig) *Breakers {
	return &Breakers{cfg: cfg, breakers: make(map[string]*Breaker)}
}

// For returns the breaker for provider, or nil when breaking is disabled.
func (r *Breakers) For(provider string) *Breaker {
	if r == nil || !r.cfg.Enabled() {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.breakers[provider]; ok {
		return b
	}
	b := NewBreaker(provider, r.cfg)
	r.breakers[provider] = b
	return b
}
