// Package tokens estimates prompt lengths for routing decisions when the
// upstream response carries no usage accounting.
package tokens

import (
	"strings"
	"sync"

	"github.com/tiktoken-go/tokenizer"

	"github.com/tjfontaine/autopilot-gateway/internal/domain"
)

// perMessageOverhead approximates the chat-format framing tokens added per
// message across providers.
const perMessageOverhead = 4

// Estimator counts prompt tokens with tiktoken. Non-OpenAI models are
// estimated with the cl100k encoding, which is close enough for decision
// telemetry.
type Estimator struct {
	mu     sync.Mutex
	codecs map[tokenizer.Encoding]tokenizer.Codec
}

// NewEstimator creates a token estimator.
func NewEstimator() *Estimator {
	return &Estimator{codecs: make(map[tokenizer.Encoding]tokenizer.Codec)}
}

func encodingFor(model string) tokenizer.Encoding {
	m := strings.ToLower(model)
	switch {
	case strings.HasPrefix(m, "gpt-4o"), strings.HasPrefix(m, "o1"), strings.HasPrefix(m, "o3"), strings.HasPrefix(m, "o4"):
		return tokenizer.O200kBase
	default:
		return tokenizer.Cl100kBase
	}
}

func (e *Estimator) codec(enc tokenizer.Encoding) (tokenizer.Codec, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if c, ok := e.codecs[enc]; ok {
		return c, nil
	}
	c, err := tokenizer.Get(enc)
	if err != nil {
		return nil, err
	}
	e.codecs[enc] = c
	return c, nil
}

// EstimatePrompt returns the approximate token length of the message list.
// Falls back to a character heuristic when the tokenizer is unavailable.
func (e *Estimator) EstimatePrompt(model string, messages []domain.Message) int {
	codec, err := e.codec(encodingFor(model))
	if err != nil {
		total := 0
		for _, m := range messages {
			total += len(m.Content)/4 + perMessageOverhead
		}
		return total
	}

	total := 0
	for _, m := range messages {
		if n, err := codec.Count(m.Content); err == nil {
			total += n + perMessageOverhead
		} else {
			total += len(m.Content)/4 + perMessageOverhead
		}
	}
	return total
}
