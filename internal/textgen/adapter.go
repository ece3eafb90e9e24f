package textgen

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/vocallabs/llm-batch/internal/resilience"
)

const defaultTimeout = 30 * time.Second

// Adapter wraps a Service with timeout, optional throttling and failure
// classification. It never retries.
type Adapter struct {
	provider string
	svc      Service
	timeout  time.Duration
	limiter  *rate.Limiter
	breaker  *resilience.Breaker
	metrics  *Metrics
}

// Option configures an Adapter.
type Option func(*Adapter)

// WithTimeout sets the per-call timeout. Zero or less keeps the default.
func WithTimeout(d time.Duration) Option {
	return func(a *Adapter) {
		if d > 0 {
			a.timeout = d
		}
	}
}

// WithRateLimit throttles calls through this adapter to rps calls per second.
// rps <= 0 leaves calls unthrottled.
func WithRateLimit(rps float64, burst int) Option {
	return func(a *Adapter) {
		if rps <= 0 {
			return
		}
		if burst < 1 {
			burst = 1
		}
		a.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithBreaker guards calls with b. A nil breaker is ignored.
func WithBreaker(b *resilience.Breaker) Option {
	return func(a *Adapter) {
		a.breaker = b
	}
}

// WithMetrics records call latency and outcomes on m.
func WithMetrics(m *Metrics) Option {
	return func(a *Adapter) {
		a.metrics = m
	}
}

// NewAdapter creates an adapter for the named provider.
func NewAdapter(provider string, svc Service, opts ...Option) *Adapter {
	a := &Adapter{
		provider: provider,
		svc:      svc,
		timeout:  defaultTimeout,
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Provider returns the provider name the adapter was built for.
func (a *Adapter) Provider() string { return a.provider }

// Call performs one request. Any error returned is a *CallError.
func (a *Adapter) Call(ctx context.Context, req Request) (string, error) {
	start := time.Now()

	text, err := resilience.Call(ctx, a.breaker, func(ctx context.Context) (string, error) {
		return a.invoke(ctx, req)
	})
	if errors.Is(err, resilience.ErrOpen) {
		err = &CallError{Provider: a.provider, Kind: KindRejected, Err: err}
		zap.L().Warn("textgen: breaker open, call rejected",
			zap.String("provider", a.provider),
			zap.Int("consecutive_failures", a.breaker.Failures()),
		)
	}

	a.metrics.recordCall(ctx, a.provider, time.Since(start), err)
	if err != nil {
		zap.L().Debug("textgen: call failed",
			zap.String("provider", a.provider),
			zap.Error(err),
		)
	}
	return text, err
}

func (a *Adapter) invoke(ctx context.Context, req Request) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			text = ""
			err = &CallError{Provider: a.provider, Kind: KindPanic, Err: fmt.Errorf("%v", r)}
		}
	}()

	if a.limiter != nil {
		if werr := a.limiter.Wait(ctx); werr != nil {
			return "", &CallError{Provider: a.provider, Kind: KindRejected, Err: werr}
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	text, err = a.svc.Complete(callCtx, req)
	if err != nil {
		return "", a.classify(callCtx, err)
	}
	if strings.TrimSpace(text) == "" {
		return "", &CallError{Provider: a.provider, Kind: KindEmpty}
	}
	return text, nil
}

func (a *Adapter) classify(ctx context.Context, err error) *CallError {
	ce := &CallError{Provider: a.provider, Err: err}
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded), errors.Is(err, context.DeadlineExceeded):
		ce.Kind = KindTimeout
	case errors.Is(ctx.Err(), context.Canceled), errors.Is(err, context.Canceled):
		ce.Kind = KindCanceled
	default:
		if code := statusOf(err); code != 0 {
			ce.Kind = KindStatus
			ce.StatusCode = code
		} else {
			ce.Kind = KindTransport
		}
	}
	return ce
}
