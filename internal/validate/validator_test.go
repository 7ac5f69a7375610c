package validate

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/tjfontaine/autopilot-gateway/internal/audit"
	"github.com/tjfontaine/autopilot-gateway/internal/domain"
)

func respWith(content, finishReason string) *domain.Response {
	return &domain.Response{
		Choices: []domain.Choice{{
			Message:      domain.Message{Role: "assistant", Content: content},
			FinishReason: finishReason,
		}},
	}
}

type captureRecorder struct {
	audit.Noop
	attempts []*domain.ValidationAttempt
}

func (c *captureRecorder) RecordValidationAttempt(a *domain.ValidationAttempt) {
	c.attempts = append(c.attempts, a)
}

type dispatchCall struct {
	messages []domain.Message
	opts     domain.CallOptions
}

func scriptedDispatcher(calls *[]dispatchCall, results []*domain.Response, errs []error) Dispatcher {
	return func(_ context.Context, messages []domain.Message, opts domain.CallOptions) (*domain.Response, error) {
		i := len(*calls)
		*calls = append(*calls, dispatchCall{messages: messages, opts: opts})
		var err error
		if i < len(errs) {
			err = errs[i]
		}
		var resp *domain.Response
		if i < len(results) {
			resp = results[i]
		}
		return resp, err
	}
}

func TestRepairCleanResponseDispatchesNothing(t *testing.T) {
	v := New(2, nil, slog.Default())
	var calls []dispatchCall
	dispatch := scriptedDispatcher(&calls, nil, nil)

	resp := respWith("fine answer", "stop")
	got := v.Repair(context.Background(), "org-1", "req-1", resp, []domain.Message{{Role: "user", Content: "hello"}}, domain.CallOptions{}, dispatch)

	if got != resp {
		t.Error("clean response should be returned as-is")
	}
	if len(calls) != 0 {
		t.Errorf("dispatch called %d times for a clean response", len(calls))
	}
}

func TestRepairEmptyResponseRetriesUnmodified(t *testing.T) {
	rec := &captureRecorder{}
	v := New(2, rec, slog.Default())

	msgs := []domain.Message{{Role: "user", Content: "hello"}}
	var calls []dispatchCall
	dispatch := scriptedDispatcher(&calls, []*domain.Response{respWith("recovered", "stop")}, nil)

	got := v.Repair(context.Background(), "org-1", "req-1", respWith("   ", "stop"), msgs, domain.CallOptions{MaxTokens: 100}, dispatch)

	if got.FirstContent() != "recovered" {
		t.Errorf("content = %q, want recovered reply", got.FirstContent())
	}
	if len(calls) != 1 {
		t.Fatalf("dispatch calls = %d, want 1", len(calls))
	}
	if len(calls[0].messages) != len(msgs) {
		t.Errorf("empty-response retry mutated the message list: %d messages", len(calls[0].messages))
	}
	if calls[0].opts.MaxTokens != 100 {
		t.Errorf("empty-response retry mutated options: max_tokens = %d", calls[0].opts.MaxTokens)
	}
	if len(rec.attempts) != 1 {
		t.Fatalf("recorded attempts = %d, want 1", len(rec.attempts))
	}
	a := rec.attempts[0]
	if a.Defect != string(DefectEmpty) || a.Strategy != StrategyRetryUnmodified || !a.Fixed || a.Attempt != 1 {
		t.Errorf("unexpected attempt record: %+v", a)
	}
}

func TestRepairInvalidJSONAppendsInstruction(t *testing.T) {
	v := New(2, nil, slog.Default())

	msgs := []domain.Message{{Role: "user", Content: "Summarize this as JSON."}}
	var calls []dispatchCall
	dispatch := scriptedDispatcher(&calls, []*domain.Response{respWith(`{"ok":true}`, "stop")}, nil)

	got := v.Repair(context.Background(), "org-1", "req-1", respWith("Sure! Here is the data:", "stop"), msgs, domain.CallOptions{}, dispatch)

	if got.FirstContent() != `{"ok":true}` {
		t.Errorf("content = %q, want repaired JSON", got.FirstContent())
	}
	if len(calls) != 1 {
		t.Fatalf("dispatch calls = %d, want 1", len(calls))
	}
	last := calls[0].messages[len(calls[0].messages)-1]
	if last.Role != "user" || !strings.Contains(last.Content, "JSON") {
		t.Errorf("expected appended corrective user message, got %+v", last)
	}
}

func TestRepairJSONCheckSkippedWhenNotRequested(t *testing.T) {
	v := New(2, nil, slog.Default())
	var calls []dispatchCall
	dispatch := scriptedDispatcher(&calls, nil, nil)

	// Plain prose answer to a plain prose question is not a defect.
	resp := respWith("The capital of France is Paris.", "stop")
	got := v.Repair(context.Background(), "org-1", "req-1", resp, []domain.Message{{Role: "user", Content: "What is the capital of France?"}}, domain.CallOptions{}, dispatch)

	if got != resp || len(calls) != 0 {
		t.Errorf("prose response without a JSON request should pass untouched (calls=%d)", len(calls))
	}
}

func TestRepairTruncationGrowsMaxTokens(t *testing.T) {
	v := New(2, nil, slog.Default())

	var calls []dispatchCall
	dispatch := scriptedDispatcher(&calls, []*domain.Response{respWith("complete now", "stop")}, nil)

	v.Repair(context.Background(), "org-1", "req-1", respWith("cut off mid", "length"),
		[]domain.Message{{Role: "user", Content: "write a story"}}, domain.CallOptions{MaxTokens: 1000}, dispatch)

	if len(calls) != 1 {
		t.Fatalf("dispatch calls = %d, want 1", len(calls))
	}
	if calls[0].opts.MaxTokens != 1500 {
		t.Errorf("max_tokens = %d, want 1500", calls[0].opts.MaxTokens)
	}
}

func TestRepairExhaustionReturnsOriginal(t *testing.T) {
	rec := &captureRecorder{}
	v := New(2, rec, slog.Default())

	original := respWith("", "stop")
	var calls []dispatchCall
	dispatch := scriptedDispatcher(&calls, []*domain.Response{
		respWith("", "stop"),
		respWith("", "stop"),
	}, nil)

	got := v.Repair(context.Background(), "org-1", "req-1", original,
		[]domain.Message{{Role: "user", Content: "hello"}}, domain.CallOptions{}, dispatch)

	if got != original {
		t.Error("exhausted repair must return the original response, not the last retry")
	}
	if len(calls) != 2 {
		t.Errorf("dispatch calls = %d, want 2", len(calls))
	}
	if len(rec.attempts) != 2 {
		t.Fatalf("recorded attempts = %d, want 2", len(rec.attempts))
	}
	for i, a := range rec.attempts {
		if a.Fixed {
			t.Errorf("attempt %d recorded as fixed", i+1)
		}
		if a.Attempt != i+1 {
			t.Errorf("attempt number = %d, want %d", a.Attempt, i+1)
		}
	}
}

func TestRepairDispatchErrorCountsAsRound(t *testing.T) {
	v := New(1, nil, slog.Default())

	original := respWith("", "stop")
	var calls []dispatchCall
	dispatch := scriptedDispatcher(&calls, []*domain.Response{nil}, []error{errors.New("all providers down")})

	got := v.Repair(context.Background(), "org-1", "req-1", original,
		[]domain.Message{{Role: "user", Content: "hello"}}, domain.CallOptions{}, dispatch)

	if got != original {
		t.Error("failed dispatch should fall back to the original response")
	}
}

func TestRepairDefectPriority(t *testing.T) {
	v := New(2, nil, slog.Default())

	// Empty beats invalid JSON beats truncated.
	tests := []struct {
		name        string
		resp        *domain.Response
		expectsJSON bool
		want        Defect
	}{
		{"empty wins over truncated", respWith("", "length"), false, DefectEmpty},
		{"empty wins over json", respWith("  ", "stop"), true, DefectEmpty},
		{"invalid json wins over truncated", respWith("not json", "length"), true, DefectInvalidJSON},
		{"truncated alone", respWith("valid text", "length"), false, DefectTruncated},
		{"valid json truncated", respWith(`{"a":1}`, "length"), true, DefectTruncated},
		{"no choices", &domain.Response{}, false, DefectEmpty},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := v.detect(tt.resp, tt.expectsJSON); got != tt.want {
				t.Errorf("detect() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestExpectsJSON(t *testing.T) {
	if !ExpectsJSON([]domain.Message{{Role: "user", Content: "Give me JSON output"}}) {
		t.Error("explicit JSON request not detected")
	}
	if ExpectsJSON([]domain.Message{{Role: "user", Content: "Give me json"}, {Role: "user", Content: "actually prose"}}) {
		t.Error("only the last message should be inspected")
	}
	if ExpectsJSON(nil) {
		t.Error("empty message list should not expect JSON")
	}
}
