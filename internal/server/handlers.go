package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/tjfontaine/autopilot-gateway/internal/autopilot"
	"github.com/tjfontaine/autopilot-gateway/internal/domain"
	"github.com/tjfontaine/autopilot-gateway/internal/ratelimit"
)

// orgHeader carries the calling organization's id.
const orgHeader = "X-Organization-ID"

// Engine is the request-handling core behind the HTTP surface.
type Engine interface {
	HandleCompletionRequest(ctx context.Context, orgID string, req *domain.ChatRequest) (*domain.Response, *domain.RoutingDecision, error)
	CurrentUsage(ctx context.Context, orgID string) []ratelimit.WindowUsage
}

// CacheAdmin exposes cache purging for the admin endpoint.
type CacheAdmin interface {
	Clear(ctx context.Context, orgID string) (fastDeleted, durableDeleted int64, err error)
}

// Handler serves the gateway's HTTP API.
type Handler struct {
	engine Engine
	cache  CacheAdmin
}

// NewHandler creates a Handler. cache may be nil, which disables the purge
// endpoint.
func NewHandler(engine Engine, cache CacheAdmin) *Handler {
	return &Handler{engine: engine, cache: cache}
}

func (h *Handler) handleCompletions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	orgID := r.Header.Get(orgHeader)
	if orgID == "" {
		writeError(w, domain.NewAPIError(domain.ErrorTypeInvalidRequest, "missing "+orgHeader+" header"))
		return
	}
	AddLogField(ctx, "org_id", orgID)

	var req domain.ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, domain.NewAPIError(domain.ErrorTypeInvalidRequest, "invalid request body: "+err.Error()))
		return
	}
	if req.Model == "" || len(req.Messages) == 0 {
		writeError(w, domain.NewAPIError(domain.ErrorTypeInvalidRequest, "model and messages are required"))
		return
	}

	resp, decision, err := h.engine.HandleCompletionRequest(ctx, orgID, &req)
	if err != nil {
		AddError(ctx, err)

		var admErr *autopilot.AdmissionError
		if errors.As(err, &admErr) {
			rateLimitHeaders(w, admErr.Usage)
			if admErr.RetryAfterSeconds > 0 {
				w.Header().Set("Retry-After", fmt.Sprintf("%d", admErr.RetryAfterSeconds))
			}
			writeError(w, admErr.APIError)
			return
		}

		var apiErr *domain.APIError
		if errors.As(err, &apiErr) {
			writeError(w, apiErr)
			return
		}
		writeError(w, domain.NewAPIError(domain.ErrorTypeServer, "internal error"))
		return
	}

	rateLimitHeaders(w, h.engine.CurrentUsage(ctx, orgID))
	w.Header().Set("X-Autopilot-Model", decision.SelectedModel)
	if decision.CacheHit {
		w.Header().Set("X-Autopilot-Cache", "HIT")
	} else {
		w.Header().Set("X-Autopilot-Cache", "MISS")
	}
	AddLogField(ctx, "selected_model", decision.SelectedModel)
	AddLogField(ctx, "routing_reason", decision.Reason)

	writeJSON(w, http.StatusOK, resp)
}

// usageResponse is one window's state in the usage endpoint.
type usageResponse struct {
	Window            string `json:"window"`
	Used              int64  `json:"used"`
	Limit             int64  `json:"limit"`
	ResetAfterSeconds int    `json:"reset_after_seconds"`
}

func (h *Handler) handleUsage(w http.ResponseWriter, r *http.Request) {
	orgID := chi.URLParam(r, "orgID")
	usage := h.engine.CurrentUsage(r.Context(), orgID)

	out := make([]usageResponse, 0, len(usage))
	for _, u := range usage {
		out = append(out, usageResponse{
			Window:            u.Window,
			Used:              u.Used,
			Limit:             u.Limit,
			ResetAfterSeconds: int(math.Ceil(u.ResetAfter.Seconds())),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"organization": orgID, "windows": out})
}

func (h *Handler) handleCachePurge(w http.ResponseWriter, r *http.Request) {
	if h.cache == nil {
		writeError(w, domain.NewAPIError(domain.ErrorTypeInvalidRequest, "cache administration is not enabled").WithStatusCode(http.StatusNotFound))
		return
	}
	orgID := chi.URLParam(r, "orgID")
	fast, durable, err := h.cache.Clear(r.Context(), orgID)
	if err != nil {
		AddError(r.Context(), err)
		writeError(w, domain.NewAPIError(domain.ErrorTypeServer, "cache purge failed"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{
		"fast_deleted":    fast,
		"durable_deleted": durable,
	})
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// rateLimitHeaders writes normalized x-ratelimit-* headers for every window.
func rateLimitHeaders(w http.ResponseWriter, usage []ratelimit.WindowUsage) {
	h := w.Header()
	for _, u := range usage {
		remaining := u.Limit - u.Used
		if remaining < 0 {
			remaining = 0
		}
		h.Set("x-ratelimit-limit-"+u.Window, fmt.Sprintf("%d", u.Limit))
		h.Set("x-ratelimit-remaining-"+u.Window, fmt.Sprintf("%d", remaining))
		h.Set("x-ratelimit-reset-"+u.Window, fmt.Sprintf("%d", int(math.Ceil(u.ResetAfter.Seconds()))))
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, apiErr *domain.APIError) {
	writeJSON(w, apiErr.HTTPStatusCode(), map[string]any{"error": apiErr})
}
