package api

import (
	"github.com/rs/zerolog"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// MessageRequest is the body of POST /v1/messages.
type MessageRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	System      string    `json:"system,omitempty"`
	MaxTokens   int       `json:"max_tokens"`
	Temperature *float64  `json:"temperature,omitempty"`
	Stream      bool      `json:"stream"`
}

func (r MessageRequest) MarshalZerologObject(e *zerolog.Event) {
	e.Str("model", r.Model)
	e.Int("messages", len(r.Messages))
	e.Int("max_tokens", r.MaxTokens)
	e.Bool("stream", r.Stream)
}

type ContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

func (cb ContentBlock) MarshalZerologObject(e *zerolog.Event) {
	e.Str("type", cb.Type)
	if cb.Text != "" {
		e.Str("text", cb.Text)
	}
}

type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

func (u Usage) MarshalZerologObject(e *zerolog.Event) {
	e.Int("input_tokens", u.InputTokens)
	e.Int("output_tokens", u.OutputTokens)
}

// MessageResponse is the non-streaming response, also embedded in message_start.
type MessageResponse struct {
	ID         string         `json:"id"`
	Type       string         `json:"type"`
	Role       string         `json:"role"`
	Model      string         `json:"model"`
	Content    []ContentBlock `json:"content"`
	StopReason string         `json:"stop_reason,omitempty"`
	Usage      *Usage         `json:"usage,omitempty"`
}

func (m MessageResponse) MarshalZerologObject(e *zerolog.Event) {
	e.Str("id", m.ID)
	e.Str("model", m.Model)
	if m.StopReason != "" {
		e.Str("stop_reason", m.StopReason)
	}
	if m.Usage != nil {
		e.Object("usage", m.Usage)
	}
}

// FullText concatenates the text blocks of the response.
func (m MessageResponse) FullText() string {
	ret := ""
	for _, c := range m.Content {
		if c.Type == "text" {
			ret += c.Text
		}
	}
	return ret
}

// ErrorResponse is the body of a non-2xx response.
type ErrorResponse struct {
	Type  string `json:"type"`
	Error Error  `json:"error"`
}
