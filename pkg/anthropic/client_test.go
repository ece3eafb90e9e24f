package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(baseURL string) Client {
	return NewClient("test-key", WithBaseURL(baseURL))
}

func writeMessage(w http.ResponseWriter, text string) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{ //nolint:errcheck
		"id":   "msg_test_001",
		"type": "message",
		"role": "assistant",
		"content": []map[string]any{
			{"type": "text", "text": text},
		},
		"model":       "claude-haiku-4-5-20251001",
		"stop_reason": "end_turn",
		"usage": map[string]any{
			"input_tokens":  10,
			"output_tokens": 2,
		},
	})
}

func TestCreateMessage(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Contains(t, r.URL.Path, "/messages")
		assert.Equal(t, "test-key", r.Header.Get("X-Api-Key"))

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "claude-haiku-4-5-20251001", body["model"])
		assert.EqualValues(t, 256, body["max_tokens"])
		assert.EqualValues(t, 0, body["temperature"])
		assert.EqualValues(t, 1, body["top_p"])
		system, ok := body["system"].([]any)
		require.True(t, ok)
		require.Len(t, system, 1)

		writeMessage(w, "TRUE")
	}))
	defer ts.Close()

	temp, topP := 0.0, 1.0
	resp, err := newTestClient(ts.URL).CreateMessage(context.Background(), MessageRequest{
		Model:       "claude-haiku-4-5-20251001",
		MaxTokens:   256,
		System:      "You are a strict evaluator. Return only TRUE or FALSE.",
		Messages:    []Message{{Role: "user", Content: "transcript"}},
		Temperature: &temp,
		TopP:        &topP,
	})
	require.NoError(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, "msg_test_001", resp.ID)
	assert.Equal(t, "end_turn", resp.StopReason)
	assert.Equal(t, "TRUE", resp.Text())
	assert.Equal(t, int64(10), resp.Usage.InputTokens)
	assert.Equal(t, int64(2), resp.Usage.OutputTokens)
}

func TestCreateMessage_NoSystemOmitsField(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		_, hasSystem := body["system"]
		assert.False(t, hasSystem)
		_, hasTemp := body["temperature"]
		assert.False(t, hasTemp)

		writeMessage(w, "Hola")
	}))
	defer ts.Close()

	resp, err := newTestClient(ts.URL).CreateMessage(context.Background(), MessageRequest{
		Model:     "claude-haiku-4-5-20251001",
		MaxTokens: 20,
		Messages:  []Message{{Role: "user", Content: "Hello"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "Hola", resp.Text())
}

func TestCreateMessage_ErrorCarriesStatus(t *testing.T) {
	var attempts atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		json.NewEncoder(w).Encode(map[string]any{ //nolint:errcheck
			"type": "error",
			"error": map[string]any{
				"type":    "rate_limit_error",
				"message": "Rate limit exceeded",
			},
		})
	}))
	defer ts.Close()

	_, err := newTestClient(ts.URL).CreateMessage(context.Background(), MessageRequest{
		Model:     "claude-haiku-4-5-20251001",
		MaxTokens: 20,
		Messages:  []Message{{Role: "user", Content: "Hello"}},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "anthropic: create message")
	assert.Equal(t, http.StatusTooManyRequests, StatusCode(err))
	assert.Equal(t, int32(1), attempts.Load(), "client must not retry")
}

func TestStatusCode_NonAPIError(t *testing.T) {
	assert.Equal(t, 0, StatusCode(nil))
	assert.Equal(t, 0, StatusCode(errors.New("dial tcp: connection refused")))
}

func TestFromSDKMessage(t *testing.T) {
	sdkMsg := &sdk.Message{
		ID:           "msg_test_123",
		Model:        "claude-sonnet-4-5-20250929",
		StopReason:   "end_turn",
		StopSequence: "STOP",
		Content: []sdk.ContentBlockUnion{
			{Type: "text", Text: "Hello "},
			{Type: "thinking"},
			{Type: "text", Text: "world"},
		},
		Usage: sdk.Usage{
			InputTokens:  100,
			OutputTokens: 50,
		},
	}

	resp := fromSDKMessage(sdkMsg)
	require.NotNil(t, resp)
	assert.Equal(t, "msg_test_123", resp.ID)
	assert.Equal(t, "STOP", resp.StopSequence)
	require.Len(t, resp.Content, 3)
	assert.Equal(t, "Hello world", resp.Text())
	assert.Equal(t, int64(100), resp.Usage.InputTokens)
}

func TestFromSDKMessage_EmptyContent(t *testing.T) {
	resp := fromSDKMessage(&sdk.Message{ID: "msg_empty", StopReason: "max_tokens"})
	assert.Empty(t, resp.Content)
	assert.Equal(t, "", resp.Text())
	assert.Equal(t, "max_tokens", resp.StopReason)
}

func TestToSDKMessages(t *testing.T) {
	msgs := []Message{
		{Role: "user", Content: "Question"},
		{Role: "assistant", Content: "Answer"},
		{Role: "unknown", Content: "text"},
	}
	sdkMsgs := toSDKMessages(msgs)
	require.Len(t, sdkMsgs, 3)
	assert.Equal(t, sdk.MessageParamRoleUser, sdkMsgs[0].Role)
	assert.Equal(t, sdk.MessageParamRoleAssistant, sdkMsgs[1].Role)
	assert.Equal(t, sdk.MessageParamRoleUser, sdkMsgs[2].Role)

	assert.Empty(t, toSDKMessages(nil))
}
