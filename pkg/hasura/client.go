// Package hasura is a minimal GraphQL client for a Hasura endpoint
// authenticated with the admin secret.
package hasura

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

const (
	adminSecretHeader = "x-hasura-admin-secret"
	defaultTimeout    = 10 * time.Second
	maxErrorBody      = 2048
)

// Client executes GraphQL operations.
type Client struct {
	endpoint    string
	adminSecret string
	http        *http.Client
}

// Option configures the client.
type Option func(*Client)

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.http = hc
	}
}

// WithTimeout sets the per-request timeout. Zero or less keeps the default.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.http.Timeout = d
		}
	}
}

// NewClient creates a client for the GraphQL endpoint.
func NewClient(endpoint, adminSecret string, opts ...Option) *Client {
	c := &Client{
		endpoint:    endpoint,
		adminSecret: adminSecret,
		http: &http.Client{
			Timeout: defaultTimeout,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

type request struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

type response struct {
	Data   json.RawMessage `json:"data"`
	Errors []ErrorDetail   `json:"errors"`
}

// ErrorDetail is one entry of a GraphQL errors array.
type ErrorDetail struct {
	Message    string         `json:"message"`
	Extensions map[string]any `json:"extensions,omitempty"`
}

// GraphQLError is returned when the response carries GraphQL errors.
type GraphQLError struct {
	Errors []ErrorDetail
}

func (e *GraphQLError) Error() string {
	msgs := make([]string, len(e.Errors))
	for i, d := range e.Errors {
		msgs[i] = d.Message
	}
	return "hasura: graphql: " + strings.Join(msgs, "; ")
}

// StatusError is returned for a non-200 HTTP response.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("hasura: unexpected status %d: %s", e.StatusCode, e.Body)
}

// HTTPStatus returns the response status code.
func (e *StatusError) HTTPStatus() int { return e.StatusCode }

// Do runs query with variables and decodes the data object into out. out
// may be nil when the caller does not need the result.
func (c *Client) Do(ctx context.Context, query string, variables map[string]any, out any) error {
	body, err := json.Marshal(request{Query: query, Variables: variables})
	if err != nil {
		return eris.Wrap(err, "hasura: marshal request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return eris.Wrap(err, "hasura: create request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.adminSecret != "" {
		httpReq.Header.Set(adminSecretHeader, c.adminSecret)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return eris.Wrap(err, "hasura: send request")
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return eris.Wrap(err, "hasura: read response")
	}

	if resp.StatusCode != http.StatusOK {
		if len(respBody) > maxErrorBody {
			respBody = respBody[:maxErrorBody]
		}
		return &StatusError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	var envelope response
	if err := json.Unmarshal(respBody, &envelope); err != nil {
		return eris.Wrap(err, "hasura: unmarshal response")
	}
	if len(envelope.Errors) > 0 {
		return &GraphQLError{Errors: envelope.Errors}
	}
	if out == nil {
		return nil
	}
	if len(envelope.Data) == 0 || string(envelope.Data) == "null" {
		return eris.New("hasura: response has no data")
	}
	if err := json.Unmarshal(envelope.Data, out); err != nil {
		return eris.Wrap(err, "hasura: decode data")
	}
	return nil
}
