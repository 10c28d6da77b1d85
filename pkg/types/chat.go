// Package types defines core data structures for gateway requests and responses.
// Chat shapes are compatible with OpenAI's Chat Completion API format so that
// provider adapters can pass them through with minimal transformation.
package types //nolint:revive // package name is intentional

import (
	"fmt"

	"github.com/goccy/go-json"
)

// ChatRequest represents a chat completion request as accepted by the gateway.
// It serves as the unified input format for all provider adapters.
type ChatRequest struct {
	Model       string        `json:"model"`
	Messages    []ChatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature *float64      `json:"temperature,omitempty"`
	TopP        *float64      `json:"top_p,omitempty"`
	Stop        []string      `json:"stop,omitempty"`
	User        string        `json:"user,omitempty"`
}

// Validate checks the minimum viable request shape.
func (r *ChatRequest) Validate() error {
	if r.Model == "" {
		return fmt.Errorf("model is required")
	}
	if len(r.Messages) == 0 {
		return fmt.Errorf("messages is required")
	}
	for i, m := range r.Messages {
		if m.Role == "" {
			return fmt.Errorf("messages[%d]: role is required", i)
		}
	}
	return nil
}

// ChatMessage represents a single message in the conversation.
// Content is kept raw so string and multi-part forms both survive a round trip.
type ChatMessage struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
	Name    string          `json:"name,omitempty"`
}

// Text returns the plain-text content of the message. Multi-part content
// is flattened by concatenating text parts.
func (m ChatMessage) Text() string {
	if len(m.Content) == 0 {
		return ""
	}

	var s string
	if err := json.Unmarshal(m.Content, &s); err == nil {
		return s
	}

	var parts []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}
	if err := json.Unmarshal(m.Content, &parts); err == nil {
		var out string
		for _, p := range parts {
			if p.Type == "" || p.Type == "text" {
				out += p.Text
			}
		}
		return out
	}

	return string(m.Content)
}

// TextMessage builds a ChatMessage with plain string content.
func TextMessage(role, text string) ChatMessage {
	content, _ := json.Marshal(text)
	return ChatMessage{Role: role, Content: content}
}

// ChatResponse represents a chat completion response returned to the caller.
// Provider is the gateway-side provider name that served the request, which
// may differ from the remote model alias the provider saw.
type ChatResponse struct {
	ID       string   `json:"id"`
	Object   string   `json:"object"`
	Created  int64    `json:"created"`
	Model    string   `json:"model"`
	Provider string   `json:"provider,omitempty"`
	Choices  []Choice `json:"choices"`
	Usage    *Usage   `json:"usage,omitempty"`
}

// Choice represents a single completion choice.
type Choice struct {
	Index        int         `json:"index"`
	Message      ChatMessage `json:"message"`
	FinishReason string      `json:"finish_reason,omitempty"`
}

// Usage contains token usage statistics for the request.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Tokens returns the billable token count, preferring the provider-reported
// total over the sum of parts.
func (u *Usage) Tokens() int {
	if u == nil {
		return 0
	}
	if u.TotalTokens > 0 {
		return u.TotalTokens
	}
	return u.PromptTokens + u.CompletionTokens
}
