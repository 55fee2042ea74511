// Package llm sends requests to LLM providers with per-call timeouts,
// multi-key failover and per-provider circuit breaking.
package llm

import (
	"time"

	"github.com/sells-group/qaforge/internal/model"
)

// Role of a message author.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Part is a text or binary piece of a message.
type Part struct {
	Text     string
	Data     []byte
	MIMEType string
}

// IsBinary reports whether the part carries binary data.
func (p Part) IsBinary() bool { return len(p.Data) > 0 }

// Message is one turn of a conversation.
type Message struct {
	Role  Role
	Parts []Part
}

// UserText builds a single-part user message.
func UserText(text string) Message {
	return Message{Role: RoleUser, Parts: []Part{{Text: text}}}
}

// UserBlob builds a user message carrying a binary attachment and an
// optional instruction.
func UserBlob(mimeType string, data []byte, text string) Message {
	parts := []Part{{Data: data, MIMEType: mimeType}}
	if text != "" {
		parts = append(parts, Part{Text: text})
	}
	return Message{Role: RoleUser, Parts: parts}
}

// Options are sampling parameters. Zero values mean provider defaults.
type Options struct {
	Temperature *float64
	MaxTokens   int
	TopP        *float64
	TopK        *int
}

// Tool names a provider-side capability.
type Tool string

// ToolWebSearch enables provider web search grounding.
const ToolWebSearch Tool = "web_search"

// Request is a single provider call. It is not modified once issued.
type Request struct {
	Provider string
	Model    string
	System   string
	Messages []Message
	Options  Options
	Tools    []Tool
	// Timeout bounds the call. Zero means the failover's default for the
	// request's content type.
	Timeout time.Duration
	// Stage labels the call in logs and usage accounting.
	Stage string
}

// HasBinary reports whether any message part carries binary data.
func (r Request) HasBinary() bool {
	for _, m := range r.Messages {
		for _, p := range m.Parts {
			if p.IsBinary() {
				return true
			}
		}
	}
	return false
}

// Wants reports whether tool t was requested.
func (r Request) Wants(t Tool) bool {
	for _, x := range r.Tools {
		if x == t {
			return true
		}
	}
	return false
}

// Completion is a successful provider response.
type Completion struct {
	Text         string
	FinishReason string
	Usage        model.Usage
	Grounding    []model.GroundingSource
	// SearchQueries are the queries the provider ran for grounding.
	SearchQueries []string
	// Truncated is set when generation stopped at the token budget.
	Truncated bool
	Provider  string
	Model     string
	// KeyIndex is the index of the credential that succeeded.
	KeyIndex int
}
