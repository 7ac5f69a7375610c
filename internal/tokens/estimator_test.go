package tokens

import (
	"testing"

	"github.com/tjfontaine/autopilot-gateway/internal/domain"
)

func TestEstimatePrompt(t *testing.T) {
	e := NewEstimator()

	messages := []domain.Message{
		{Role: "system", Content: "You are a helpful assistant."},
		{Role: "user", Content: "Summarize the following paragraph in one sentence."},
	}

	got := e.EstimatePrompt("gpt-4o", messages)
	if got <= 0 {
		t.Fatalf("EstimatePrompt() = %d, want positive", got)
	}

	// More content must not shrink the estimate.
	longer := append(messages, domain.Message{Role: "user", Content: "And translate it to French as well, please."})
	if e.EstimatePrompt("gpt-4o", longer) <= got {
		t.Error("estimate did not grow with additional content")
	}

	// Non-OpenAI models still get an estimate via the fallback encoding.
	if e.EstimatePrompt("claude-3-5-sonnet-20241022", messages) <= 0 {
		t.Error("no estimate for non-OpenAI model")
	}
}
