// Package validate implements the bounded-retry repair loop for defective
// upstream responses.
package validate

import (
	"context"
	"encoding/json"
	"log/slog"
	"math"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tjfontaine/autopilot-gateway/internal/audit"
	"github.com/tjfontaine/autopilot-gateway/internal/domain"
)

// Defect classifies what is wrong with a response. Checks run in this
// priority order; only the highest-priority defect is repaired per round.
type Defect string

const (
	DefectNone        Defect = ""
	DefectEmpty       Defect = "empty"
	DefectInvalidJSON Defect = "invalid_json"
	DefectTruncated   Defect = "truncated"
)

// Strategy names the fix applied for a defect.
const (
	StrategyRetryUnmodified   = "retry_unmodified"
	StrategyReinforceJSON     = "reinforce_json_instruction"
	StrategyIncreaseMaxTokens = "increase_max_tokens"
)

// DefaultMaxRounds is the repair budget.
const DefaultMaxRounds = 2

// jsonInstruction is appended when the model returned malformed JSON.
const jsonInstruction = "Your previous response was not valid JSON. Respond with a single minified JSON object only, with no surrounding text, markdown, or code fences."

// fallbackMaxTokens seeds the truncation fix when the caller set no explicit
// max_tokens (the provider's own cap was hit).
const fallbackMaxTokens = 4096

// Dispatcher re-dispatches a repair attempt. It must be the same path the
// original call took, including provider fallback, not a bypass.
type Dispatcher func(ctx context.Context, messages []domain.Message, opts domain.CallOptions) (*domain.Response, error)

// Validator detects and repairs defective responses within a bounded number
// of rounds.
type Validator struct {
	maxRounds int
	recorder  audit.Recorder
	logger    *slog.Logger
}

// New creates a Validator. maxRounds <= 0 selects the default budget.
func New(maxRounds int, recorder audit.Recorder, logger *slog.Logger) *Validator {
	if maxRounds <= 0 {
		maxRounds = DefaultMaxRounds
	}
	if recorder == nil {
		recorder = audit.Noop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Validator{maxRounds: maxRounds, recorder: recorder, logger: logger}
}

// ExpectsJSON reports whether the request's last message indicates the caller
// wanted JSON output. The flag is computed once from the triggering request
// and reused for every recheck.
func ExpectsJSON(messages []domain.Message) bool {
	if len(messages) == 0 {
		return false
	}
	return strings.Contains(strings.ToLower(messages[len(messages)-1].Content), "json")
}

// detect returns the highest-priority defect present in the response.
func (v *Validator) detect(resp *domain.Response, expectsJSON bool) Defect {
	if resp == nil || len(resp.Choices) == 0 {
		return DefectEmpty
	}
	content := resp.Choices[0].Message.Content
	if strings.TrimSpace(content) == "" {
		return DefectEmpty
	}

	if expectsJSON {
		var parsed any
		if err := json.Unmarshal([]byte(strings.TrimSpace(content)), &parsed); err != nil {
			return DefectInvalidJSON
		}
	}

	if resp.Choices[0].FinishReason == "length" {
		return DefectTruncated
	}
	return DefectNone
}

func strategyFor(defect Defect) string {
	switch defect {
	case DefectEmpty:
		return StrategyRetryUnmodified
	case DefectInvalidJSON:
		return StrategyReinforceJSON
	default:
		return StrategyIncreaseMaxTokens
	}
}

// Repair runs the detect-fix-recheck loop. When the budget is exhausted it
// returns the ORIGINAL response, not the last failed retry: compounding
// prompt mutations across failed repair attempts drifts further from the
// caller's request, so the pre-repair response is the least-bad answer. This
// is the single decision point for that behavior.
func (v *Validator) Repair(ctx context.Context, orgID, requestID string, resp *domain.Response, messages []domain.Message, opts domain.CallOptions, dispatch Dispatcher) *domain.Response {
	expectsJSON := ExpectsJSON(messages)

	defect := v.detect(resp, expectsJSON)
	if defect == DefectNone {
		return resp
	}

	original := resp
	workMsgs := slices.Clone(messages)
	workOpts := opts

	for attempt := 1; attempt <= v.maxRounds; attempt++ {
		strategy := strategyFor(defect)
		v.logger.Info("response defect detected",
			slog.String("org_id", orgID),
			slog.String("request_id", requestID),
			slog.String("defect", string(defect)),
			slog.String("strategy", strategy),
			slog.Int("attempt", attempt))

		switch defect {
		case DefectInvalidJSON:
			workMsgs = append(workMsgs, domain.Message{Role: "user", Content: jsonInstruction})
		case DefectTruncated:
			base := workOpts.MaxTokens
			if base <= 0 {
				base = fallbackMaxTokens
			}
			workOpts.MaxTokens = int(math.Round(float64(base) * 1.5))
		}

		retry, err := dispatch(ctx, workMsgs, workOpts)
		newDefect := defect
		if err != nil {
			v.logger.Warn("repair dispatch failed",
				slog.String("request_id", requestID),
				slog.Int("attempt", attempt),
				slog.String("error", err.Error()))
		} else {
			newDefect = v.detect(retry, expectsJSON)
		}

		fixed := newDefect == DefectNone
		v.recorder.RecordValidationAttempt(&domain.ValidationAttempt{
			ID:        uuid.New().String(),
			OrgID:     orgID,
			RequestID: requestID,
			Defect:    string(defect),
			Strategy:  strategy,
			Attempt:   attempt,
			Fixed:     fixed,
			CreatedAt: time.Now().UTC(),
		})

		if fixed {
			return retry
		}
		defect = newDefect
	}

	return original
}
