// Package llm provides the language-model client used by the intent
// classifier's model tier and by skill handlers.
package llm

import (
	"context"
	"strings"
)

// Role identifies the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is a single conversation turn.
type Message struct {
	Role    Role
	Content string
}

// Request is a chat completion request.
type Request struct {
	// System is the optional system prompt.
	System string
	// Messages is the conversation, oldest first.
	Messages []Message
	// MaxTokens bounds the response; zero uses the client default.
	MaxTokens int64
	// Temperature is applied when non-nil.
	Temperature *float64
}

// UserPrompt builds a single-turn request.
func UserPrompt(system, prompt string) Request {
	return Request{
		System:   system,
		Messages: []Message{{Role: RoleUser, Content: prompt}},
	}
}

// Usage is the token and cost accounting for one call.
type Usage struct {
	InputTokens  int64
	OutputTokens int64
	Cost         float64
}

// Total returns input plus output tokens.
func (u Usage) Total() int64 {
	return u.InputTokens + u.OutputTokens
}

// Response is a completed chat response.
type Response struct {
	Text  string
	Usage Usage
}

// Client is the language-model interface.
type Client interface {
	// Chat sends the request and returns the full response.
	Chat(ctx context.Context, req Request) (*Response, error)
	// ChatStream sends the request and calls onChunk for each text delta.
	// The returned response holds the accumulated text and usage.
	ChatStream(ctx context.Context, req Request, onChunk func(chunk string)) (*Response, error)
}

// FirstLine returns the first non-empty trimmed line of a response.
func FirstLine(text string) string {
	for _, line := range strings.Split(text, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			return line
		}
	}
	return ""
}
