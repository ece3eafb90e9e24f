package textgen

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/vocallabs/llm-batch/pkg/anthropic"
	"github.com/vocallabs/llm-batch/pkg/chat"
)

const defaultAnthropicMaxTokens = 1024

// ChatService sends requests to an OpenAI-compatible chat endpoint.
type ChatService struct {
	client chat.Client
}

// NewChatService wraps a chat client.
func NewChatService(client chat.Client) *ChatService {
	return &ChatService{client: client}
}

// Complete sends the system and user messages and returns the first choice.
func (s *ChatService) Complete(ctx context.Context, req Request) (string, error) {
	msgs := make([]chat.Message, 0, 2)
	if req.System != "" {
		msgs = append(msgs, chat.Message{Role: "system", Content: req.System})
	}
	msgs = append(msgs, chat.Message{Role: "user", Content: req.Prompt})

	creq := chat.ChatCompletionRequest{
		Model:       req.Model,
		Messages:    msgs,
		Temperature: req.Temperature,
		TopP:        req.TopP,
	}
	if req.MaxTokens > 0 {
		n := req.MaxTokens
		creq.MaxTokens = &n
	}

	resp, err := s.client.ChatCompletion(ctx, creq)
	if err != nil {
		return "", err
	}
	return resp.Text(), nil
}

// AnthropicService sends requests to the Anthropic Messages API.
type AnthropicService struct {
	client anthropic.Client
	model  string
}

// NewAnthropicService wraps an Anthropic client. model is used when a request
// does not name one.
func NewAnthropicService(client anthropic.Client, model string) *AnthropicService {
	return &AnthropicService{client: client, model: model}
}

// Complete sends one user message and returns the joined text blocks.
func (s *AnthropicService) Complete(ctx context.Context, req Request) (string, error) {
	model := req.Model
	if model == "" {
		model = s.model
	}
	if model == "" {
		return "", eris.New("anthropic: no model configured")
	}

	maxTokens := int64(req.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = defaultAnthropicMaxTokens
	}

	resp, err := s.client.CreateMessage(ctx, anthropic.MessageRequest{
		Model:       model,
		MaxTokens:   maxTokens,
		System:      req.System,
		Messages:    []anthropic.Message{{Role: "user", Content: req.Prompt}},
		Temperature: req.Temperature,
		TopP:        req.TopP,
	})
	if err != nil {
		return "", err
	}
	return resp.Text(), nil
}
