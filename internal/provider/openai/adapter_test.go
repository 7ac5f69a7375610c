package openai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/tjfontaine/autopilot-gateway/internal/domain"
)

func TestAdapterCall(t *testing.T) {
	var gotAuth string
	var gotBody chatRequest

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decode request: %v", err)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"id":      "chatcmpl-1",
			"model":   "gpt-4o-mini",
			"created": 1700000000,
			"choices": []map[string]any{{
				"index":         0,
				"message":       map[string]string{"role": "assistant", "content": "hi"},
				"finish_reason": "stop",
			}},
			"usage": map[string]int{"prompt_tokens": 7, "completion_tokens": 2, "total_tokens": 9},
		})
	}))
	defer srv.Close()

	a := New(nil)
	cfg := domain.ProviderConfig{Provider: domain.ProviderOpenAI, APIKey: "sk-test", BaseURL: srv.URL, Enabled: true}
	resp, err := a.Call(context.Background(), cfg, "gpt-4o-mini",
		[]domain.Message{{Role: "user", Content: "hello"}}, domain.CallOptions{MaxTokens: 64})
	if err != nil {
		t.Fatalf("Call() error = %v", err)
	}

	if gotAuth != "Bearer sk-test" {
		t.Errorf("Authorization = %q", gotAuth)
	}
	if gotBody.Model != "gpt-4o-mini" || gotBody.MaxTokens != 64 {
		t.Errorf("wire request = %+v", gotBody)
	}
	if resp.FirstContent() != "hi" {
		t.Errorf("content = %q, want hi", resp.FirstContent())
	}
	if resp.Usage.TotalTokens != 9 {
		t.Errorf("total tokens = %d, want 9", resp.Usage.TotalTokens)
	}
}

func TestAdapterCallAuthError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]string{"message": "Incorrect API key provided", "type": "invalid_request_error"},
		})
	}))
	defer srv.Close()

	a := New(nil)
	cfg := domain.ProviderConfig{Provider: domain.ProviderOpenAI, APIKey: "bad", BaseURL: srv.URL, Enabled: true}
	_, err := a.Call(context.Background(), cfg, "gpt-4o-mini",
		[]domain.Message{{Role: "user", Content: "hello"}}, domain.CallOptions{})
	if err == nil {
		t.Fatal("expected error for 401")
	}

	var apiErr *domain.APIError
	if !errors.As(err, &apiErr) || apiErr.Type != domain.ErrorTypeAuthentication {
		t.Errorf("error = %v, want authentication APIError", err)
	}
}

func TestAdapterCallServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("upstream exploded"))
	}))
	defer srv.Close()

	a := New(nil)
	cfg := domain.ProviderConfig{Provider: domain.ProviderOpenAI, APIKey: "sk-test", BaseURL: srv.URL, Enabled: true}
	if _, err := a.Call(context.Background(), cfg, "gpt-4o-mini",
		[]domain.Message{{Role: "user", Content: "hello"}}, domain.CallOptions{}); err == nil {
		t.Fatal("expected error for 500")
	}
}
