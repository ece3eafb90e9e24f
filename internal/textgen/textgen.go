// Package textgen is the remote call adapter in front of the text
// generation providers. An Adapter performs exactly one round-trip per call,
// enforces the per-call timeout, and turns every failure into a *CallError so
// that callers can count it and move on.
package textgen

import (
	"context"
	"errors"
	"fmt"

	"github.com/vocallabs/llm-batch/internal/resilience"
	"github.com/vocallabs/llm-batch/pkg/anthropic"
)

// Request is one text generation request.
type Request struct {
	Model       string
	System      string
	Prompt      string
	MaxTokens   int
	Temperature *float64
	TopP        *float64
}

// Service is a text generation backend.
type Service interface {
	Complete(ctx context.Context, req Request) (string, error)
}

// ServiceFunc adapts a function to the Service interface.
type ServiceFunc func(ctx context.Context, req Request) (string, error)

// Complete calls f.
func (f ServiceFunc) Complete(ctx context.Context, req Request) (string, error) {
	return f(ctx, req)
}

// Kind classifies a failed call.
type Kind string

const (
	KindTimeout   Kind = "timeout"
	KindTransport Kind = "transport"
	KindCanceled  Kind = "canceled"
	KindStatus    Kind = "status"
	KindEmpty     Kind = "empty"
	KindRejected  Kind = "rejected"
	KindPanic     Kind = "panic"
)

// CallError is returned by Adapter.Call for every failed call.
type CallError struct {
	Provider   string
	Kind       Kind
	StatusCode int
	Err        error
}

func (e *CallError) Error() string {
	msg := fmt.Sprintf("textgen: %s call failed (%s)", e.Provider, e.Kind)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" status %d", e.StatusCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *CallError) Unwrap() error { return e.Err }

// Transient reports whether err should count against a provider's circuit
// breaker. Timeouts, transport failures and retryable statuses count; bad
// requests, empty replies and caller cancellations do not.
func Transient(err error) bool {
	var ce *CallError
	if !errors.As(err, &ce) {
		return resilience.IsTransient(err)
	}
	switch ce.Kind {
	case KindTimeout, KindTransport:
		return true
	case KindStatus:
		return resilience.IsTransientHTTPStatus(ce.StatusCode)
	default:
		return false
	}
}

// statusOf extracts an HTTP status from a backend error, or 0.
func statusOf(err error) int {
	var sc resilience.StatusCoder
	if errors.As(err, &sc) {
		return sc.HTTPStatus()
	}
	return anthropic.StatusCode(err)
}
