package textgen

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/vocallabs/llm-batch/pkg/anthropic"
	"github.com/vocallabs/llm-batch/pkg/chat"
)

type mockAnthropic struct {
	mock.Mock
}

func (m *mockAnthropic) CreateMessage(ctx context.Context, req anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*anthropic.MessageResponse), args.Error(1)
}

func TestChatService_Complete(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req chat.ChatCompletionRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		require.Len(t, req.Messages, 2)
		assert.Equal(t, "system", req.Messages[0].Role)
		assert.Equal(t, "You are a strict evaluator.", req.Messages[0].Content)
		assert.Equal(t, "user", req.Messages[1].Role)
		require.NotNil(t, req.MaxTokens)
		assert.Equal(t, 256, *req.MaxTokens)

		_, _ = w.Write([]byte(`{"id":"1","choices":[{"index":0,"message":{"role":"assistant","content":"FALSE"}}],"usage":{}}`))
	}))
	defer srv.Close()

	svc := NewChatService(chat.NewClient("k", chat.WithBaseURL(srv.URL)))
	got, err := svc.Complete(context.Background(), Request{
		System:    "You are a strict evaluator.",
		Prompt:    "transcript",
		MaxTokens: 256,
	})
	require.NoError(t, err)
	assert.Equal(t, "FALSE", got)
}

func TestChatService_NoSystemMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req chat.ChatCompletionRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Len(t, req.Messages, 1)
		assert.Nil(t, req.MaxTokens)
		_, _ = w.Write([]byte(`{"id":"1","choices":[{"index":0,"message":{"role":"assistant","content":"राम"}}],"usage":{}}`))
	}))
	defer srv.Close()

	svc := NewChatService(chat.NewClient("k", chat.WithBaseURL(srv.URL)))
	got, err := svc.Complete(context.Background(), Request{Prompt: "Ram"})
	require.NoError(t, err)
	assert.Equal(t, "राम", got)
}

func TestChatService_StatusErrorClassified(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	a := NewAdapter("openrouter", NewChatService(chat.NewClient("k", chat.WithBaseURL(srv.URL))))
	_, err := a.Call(context.Background(), Request{Prompt: "Ram"})
	ce := requireCallError(t, err)
	assert.Equal(t, KindStatus, ce.Kind)
	assert.Equal(t, http.StatusUnauthorized, ce.StatusCode)
}

func TestAnthropicService_Complete(t *testing.T) {
	mc := new(mockAnthropic)
	temp := 0.0
	mc.On("CreateMessage", mock.Anything, anthropic.MessageRequest{
		Model:       "claude-haiku-4-5-20251001",
		MaxTokens:   defaultAnthropicMaxTokens,
		System:      "judge",
		Messages:    []anthropic.Message{{Role: "user", Content: "p"}},
		Temperature: &temp,
	}).Return(&anthropic.MessageResponse{
		Content: []anthropic.ContentBlock{{Type: "text", Text: "TRUE"}},
	}, nil)

	svc := NewAnthropicService(mc, "claude-haiku-4-5-20251001")
	got, err := svc.Complete(context.Background(), Request{System: "judge", Prompt: "p", Temperature: &temp})
	require.NoError(t, err)
	assert.Equal(t, "TRUE", got)
	mc.AssertExpectations(t)
}

func TestAnthropicService_RequestModelWins(t *testing.T) {
	mc := new(mockAnthropic)
	mc.On("CreateMessage", mock.Anything, mock.MatchedBy(func(r anthropic.MessageRequest) bool {
		return r.Model == "claude-sonnet-4-5-20250929" && r.MaxTokens == 20
	})).Return(&anthropic.MessageResponse{Content: []anthropic.ContentBlock{{Type: "text", Text: "ok"}}}, nil)

	svc := NewAnthropicService(mc, "claude-haiku-4-5-20251001")
	_, err := svc.Complete(context.Background(), Request{Model: "claude-sonnet-4-5-20250929", Prompt: "p", MaxTokens: 20})
	require.NoError(t, err)
	mc.AssertExpectations(t)
}

func TestAnthropicService_NoModel(t *testing.T) {
	svc := NewAnthropicService(new(mockAnthropic), "")
	_, err := svc.Complete(context.Background(), Request{Prompt: "p"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no model configured")
}

func TestAnthropicService_Error(t *testing.T) {
	mc := new(mockAnthropic)
	mc.On("CreateMessage", mock.Anything, mock.Anything).Return(nil, errors.New("connection reset by peer"))

	a := NewAdapter("anthropic", NewAnthropicService(mc, "claude-haiku-4-5-20251001"))
	_, err := a.Call(context.Background(), Request{Prompt: "p"})
	assert.Equal(t, KindTransport, requireCallError(t, err).Kind)
}
