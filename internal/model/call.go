package model

import (
	"strings"
	"time"
)

// CallStatusCompleted is the status of calls eligible for evaluation.
const CallStatusCompleted = "completed"

// DefaultEntryKind is the type recorded for evaluation results.
const DefaultEntryKind = "external"

// Call is a finished voice call of an agent.
type Call struct {
	ID         string        `json:"id"`
	AgentID    string        `json:"agent_id"`
	Status     string        `json:"call_status"`
	Transcript string        `json:"post_call_transcript"`
	Messages   []CallMessage `json:"call_messages"`
	CreatedAt  time.Time     `json:"created_at"`
}

// CallMessage is one turn of a call.
type CallMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// HasContent reports whether TranscriptText(premium) has anything to
// evaluate.
func (c Call) HasContent(premium bool) bool {
	return strings.TrimSpace(c.TranscriptText(premium)) != ""
}

// RenderMessages formats the messages as "role: content" lines.
func (c Call) RenderMessages() string {
	lines := make([]string, 0, len(c.Messages))
	for _, m := range c.Messages {
		lines = append(lines, m.Role+": "+strings.TrimSpace(m.Content))
	}
	return strings.Join(lines, "\n")
}

// TranscriptText returns the text to evaluate. Premium calls use the stored
// post-call transcript and fall back to the rendered messages; other calls
// always use the rendered messages.
func (c Call) TranscriptText(premium bool) string {
	if premium && strings.TrimSpace(c.Transcript) != "" {
		return c.Transcript
	}
	return c.RenderMessages()
}

// AgentPrompt is one post-call evaluation prompt configured on an agent.
type AgentPrompt struct {
	Key    string `json:"key"`
	Prompt string `json:"prompt"`
}

// CallFilter selects completed calls of one agent created in [From, To).
// A zero bound is open.
type CallFilter struct {
	AgentID string
	From    time.Time
	To      time.Time
}

// EvaluationEntry is one evaluation result, unique per (CallID, Key).
type EvaluationEntry struct {
	Key    string `json:"key"`
	Value  string `json:"value"`
	CallID string `json:"call_id"`
	Kind   string `json:"type"`
}

// NewEvaluationEntry builds an entry with the default kind.
func NewEvaluationEntry(callID, key, value string) EvaluationEntry {
	return EvaluationEntry{Key: key, Value: value, CallID: callID, Kind: DefaultEntryKind}
}

// DedupeEntries collapses entries sharing (CallID, Key), keeping the last
// value while preserving first-seen order.
func DedupeEntries(entries []EvaluationEntry) []EvaluationEntry {
	type key struct{ call, key string }
	idx := make(map[key]int, len(entries))
	out := make([]EvaluationEntry, 0, len(entries))
	for _, e := range entries {
		if e.Kind == "" {
			e.Kind = DefaultEntryKind
		}
		k := key{e.CallID, e.Key}
		if i, ok := idx[k]; ok {
			out[i] = e
			continue
		}
		idx[k] = len(out)
		out = append(out, e)
	}
	return out
}
