package domain

import "time"

// Message represents a chat message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is the canonical inbound completion request. It is treated as
// an immutable value: components that need to alter the model or messages
// work on copies.
type ChatRequest struct {
	Model            string            `json:"model"`
	Messages         []Message         `json:"messages"`
	Temperature      *float64          `json:"temperature,omitempty"`
	MaxTokens        int               `json:"max_tokens,omitempty"`
	TopP             *float64          `json:"top_p,omitempty"`
	PresencePenalty  float64           `json:"presence_penalty,omitempty"`
	FrequencyPenalty float64           `json:"frequency_penalty,omitempty"`
	Stop             []string          `json:"stop,omitempty"`
	N                int               `json:"n,omitempty"`
	Stream           bool              `json:"stream,omitempty"`
	// Metadata carries caller-supplied cache-affecting keys (e.g. an active
	// schema id). Keys not listed here never influence the cache fingerprint.
	Metadata map[string]string `json:"metadata,omitempty"`
}

// LastUserMessage returns the content of the most recent user message, or ""
// if the request has none.
func (r *ChatRequest) LastUserMessage() string {
	for i := len(r.Messages) - 1; i >= 0; i-- {
		if r.Messages[i].Role == "user" {
			return r.Messages[i].Content
		}
	}
	return ""
}

// CallOptions carries per-call sampling parameters and the per-call timeout
// handed to provider adapters.
type CallOptions struct {
	Temperature      *float64
	MaxTokens        int
	TopP             *float64
	PresencePenalty  float64
	FrequencyPenalty float64
	Stop             []string
	Timeout          time.Duration
}

// OptionsFromRequest projects a request's sampling parameters into CallOptions.
func OptionsFromRequest(req *ChatRequest, timeout time.Duration) CallOptions {
	return CallOptions{
		Temperature:      req.Temperature,
		MaxTokens:        req.MaxTokens,
		TopP:             req.TopP,
		PresencePenalty:  req.PresencePenalty,
		FrequencyPenalty: req.FrequencyPenalty,
		Stop:             req.Stop,
		Timeout:          timeout,
	}
}

// Usage represents token usage.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Choice represents a single completion choice.
type Choice struct {
	Index        int     `json:"index"`
	Message      Message `json:"message"`
	FinishReason string  `json:"finish_reason"`
}

// Response is the normalized upstream response shape. Every provider adapter
// translates its wire format into this; nothing downstream branches on
// provider identity.
type Response struct {
	ID      string   `json:"id"`
	Model   string   `json:"model"`
	Created int64    `json:"created"`
	Choices []Choice `json:"choices"`
	Usage   Usage    `json:"usage"`
}

// FirstContent returns the content of the first choice, or "" when the
// response has no choices.
func (r *Response) FirstContent() string {
	if r == nil || len(r.Choices) == 0 {
		return ""
	}
	return r.Choices[0].Message.Content
}
