// Package openai adapts the normalized call contract to the OpenAI chat
// completions API.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/tjfontaine/autopilot-gateway/internal/domain"
	"github.com/tjfontaine/autopilot-gateway/internal/provider"
)

const defaultBaseURL = "https://api.openai.com/v1"

// chatRequest is the OpenAI wire shape.
type chatRequest struct {
	Model            string        `json:"model"`
	Messages         []chatMessage `json:"messages"`
	MaxTokens        int           `json:"max_tokens,omitempty"`
	Temperature      *float64      `json:"temperature,omitempty"`
	TopP             *float64      `json:"top_p,omitempty"`
	PresencePenalty  float64       `json:"presence_penalty,omitempty"`
	FrequencyPenalty float64       `json:"frequency_penalty,omitempty"`
	Stop             []string      `json:"stop,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Created int64  `json:"created"`
	Choices []struct {
		Index        int         `json:"index"`
		Message      chatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

type errorResponse struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    any    `json:"code"`
	} `json:"error"`
}

// Adapter implements provider.Adapter for OpenAI.
type Adapter struct {
	httpClient *http.Client
}

var _ provider.Adapter = (*Adapter)(nil)

// New creates an OpenAI adapter. httpClient may be nil.
func New(httpClient *http.Client) *Adapter {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Adapter{httpClient: httpClient}
}

func (a *Adapter) Type() domain.ProviderType {
	return domain.ProviderOpenAI
}

func (a *Adapter) Call(ctx context.Context, cfg domain.ProviderConfig, model string, messages []domain.Message, opts domain.CallOptions) (*domain.Response, error) {
	ctx, cancel := provider.CallContext(ctx, opts)
	defer cancel()

	wire := chatRequest{
		Model:            model,
		MaxTokens:        opts.MaxTokens,
		Temperature:      opts.Temperature,
		TopP:             opts.TopP,
		PresencePenalty:  opts.PresencePenalty,
		FrequencyPenalty: opts.FrequencyPenalty,
		Stop:             opts.Stop,
	}
	wire.Messages = make([]chatMessage, len(messages))
	for i, m := range messages {
		wire.Messages[i] = chatMessage{Role: m.Role, Content: m.Content}
	}

	body, err := json.Marshal(wire)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	baseURL := defaultBaseURL
	if cfg.BaseURL != "" {
		baseURL = strings.TrimSuffix(cfg.BaseURL, "/")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+cfg.APIKey)

	resp, err := a.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, upstreamError(resp.StatusCode, respBody)
	}

	var result chatResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}

	return normalize(&result), nil
}

func upstreamError(status int, body []byte) error {
	var er errorResponse
	message := string(body)
	if err := json.Unmarshal(body, &er); err == nil && er.Error.Message != "" {
		message = er.Error.Message
	}
	if status == http.StatusUnauthorized || status == http.StatusForbidden {
		return domain.ErrAuthentication(message).WithStatusCode(status)
	}
	return fmt.Errorf("openai API error (status %d): %s", status, message)
}

func normalize(r *chatResponse) *domain.Response {
	out := &domain.Response{
		ID:      r.ID,
		Model:   r.Model,
		Created: r.Created,
		Usage: domain.Usage{
			PromptTokens:     r.Usage.PromptTokens,
			CompletionTokens: r.Usage.CompletionTokens,
			TotalTokens:      r.Usage.TotalTokens,
		},
	}
	out.Choices = make([]domain.Choice, len(r.Choices))
	for i, c := range r.Choices {
		out.Choices[i] = domain.Choice{
			Index:        c.Index,
			Message:      domain.Message{Role: c.Message.Role, Content: c.Message.Content},
			FinishReason: c.FinishReason,
		}
	}
	return out
}
