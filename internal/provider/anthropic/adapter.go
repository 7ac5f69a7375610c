// Package anthropic adapts the normalized call contract to the Anthropic
// messages API.
package anthropic

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tjfontaine/autopilot-gateway/internal/domain"
	"github.com/tjfontaine/autopilot-gateway/internal/provider"
)

const (
	defaultBaseURL = "https://api.anthropic.com"
	apiVersion     = "2023-06-01"

	// Anthropic requires max_tokens; applied when the caller sets none.
	defaultMaxTokens = 4096
)

type messagesRequest struct {
	Model         string        `json:"model"`
	System        string        `json:"system,omitempty"`
	Messages      []wireMessage `json:"messages"`
	MaxTokens     int           `json:"max_tokens"`
	Temperature   *float64      `json:"temperature,omitempty"`
	TopP          *float64      `json:"top_p,omitempty"`
	StopSequences []string      `json:"stop_sequences,omitempty"`
}

type wireMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type messagesResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

type errorResponse struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// Adapter implements provider.Adapter for Anthropic.
type Adapter struct {
	httpClient *http.Client
}

var _ provider.Adapter = (*Adapter)(nil)

// New creates an Anthropic adapter. httpClient may be nil.
func New(httpClient *http.Client) *Adapter {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Adapter{httpClient: httpClient}
}

func (a *Adapter) Type() domain.ProviderType {
	return domain.ProviderAnthropic
}

func (a *Adapter) Call(ctx context.Context, cfg domain.ProviderConfig, model string, messages []domain.Message, opts domain.CallOptions) (*domain.Response, error) {
	ctx, cancel := provider.CallContext(ctx, opts)
	defer cancel()

	wire := messagesRequest{
		Model:         model,
		MaxTokens:     opts.MaxTokens,
		Temperature:   opts.Temperature,
		TopP:          opts.TopP,
		StopSequences: opts.Stop,
	}
	if wire.MaxTokens <= 0 {
		wire.MaxTokens = defaultMaxTokens
	}

	// Anthropic takes system prompts as a top-level field, not a message role.
	for _, m := range messages {
		if m.Role == "system" {
			if wire.System != "" {
				wire.System += "\n\n"
			}
			wire.System += m.Content
			continue
		}
		wire.Messages = append(wire.Messages, wireMessage{Role: m.Role, Content: m.Content})
	}

	body, err := json.Marshal(wire)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	baseURL := defaultBaseURL
	if cfg.BaseURL != "" {
		baseURL = strings.TrimSuffix(cfg.BaseURL, "/")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", cfg.APIKey)
	httpReq.Header.Set("anthropic-version", apiVersion)

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

	var result messagesResponse
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
	return fmt.Errorf("anthropic API error (status %d): %s", status, message)
}

// normalize maps the messages response into the shared shape, including
// Anthropic's stop reasons onto the canonical finish reasons.
func normalize(r *messagesResponse) *domain.Response {
	var text strings.Builder
	for _, block := range r.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}

	finish := "stop"
	if r.StopReason == "max_tokens" {
		finish = "length"
	}

	return &domain.Response{
		ID:      r.ID,
		Model:   r.Model,
		Created: time.Now().Unix(),
		Choices: []domain.Choice{{
			Index:        0,
			Message:      domain.Message{Role: "assistant", Content: text.String()},
			FinishReason: finish,
		}},
		Usage: domain.Usage{
			PromptTokens:     r.Usage.InputTokens,
			CompletionTokens: r.Usage.OutputTokens,
			TotalTokens:      r.Usage.InputTokens + r.Usage.OutputTokens,
		},
	}
}
