// Package cache implements the response cache: a deterministic fingerprint
// over the semantically relevant request fields, a best-effort fast tier and
// an authoritative durable tier.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"

	"github.com/tjfontaine/autopilot-gateway/internal/domain"
)

// defaultTemperature is used for fingerprinting when the caller did not set
// one. Absent temperature means "provider default", which is 1.0 — it is not
// a wildcard, so explicit 1.0 and unset hash identically and nothing else does.
const defaultTemperature = 1.0

// Fingerprint derives the cache key for a request. effectiveModel is the
// model actually dispatched (after any autopilot rewrite); using it here is
// what keeps rewritten requests hitting and populating the correct slot.
//
// The key is `{org}:{hex(sha256(projection))}` where the projection is a
// sorted-key JSON object with no incidental whitespace. The org prefix gives
// strict tenant isolation: identical requests from different organizations
// never share an entry.
func Fingerprint(orgID string, req *domain.ChatRequest, effectiveModel string) string {
	projection := normalize(req, effectiveModel, true)
	return orgID + ":" + hashProjection(projection)
}

// CoarseHash is a second, coarser digest that excludes sampling parameters.
// It is stored alongside durable entries so the relational tier can group
// "same prompt, different knobs" requests for deduplication analytics; it is
// never used for lookups.
func CoarseHash(req *domain.ChatRequest, effectiveModel string) string {
	projection := normalize(req, effectiveModel, false)
	return hashProjection(projection)
}

// normalize builds the canonical projection. Message order matters and
// content is compared exactly (no trimming); fields irrelevant to caching
// (stream flag, non-cache metadata) are omitted.
func normalize(req *domain.ChatRequest, effectiveModel string, withSampling bool) map[string]any {
	messages := make([]map[string]string, len(req.Messages))
	for i, m := range req.Messages {
		messages[i] = map[string]string{"role": m.Role, "content": m.Content}
	}

	projection := map[string]any{
		"model":    effectiveModel,
		"messages": messages,
	}

	if withSampling {
		temperature := defaultTemperature
		if req.Temperature != nil {
			temperature = *req.Temperature
		}
		projection["temperature"] = temperature
		if req.MaxTokens > 0 {
			projection["max_tokens"] = req.MaxTokens
		}
		if req.TopP != nil {
			projection["top_p"] = *req.TopP
		}
		if req.PresencePenalty != 0 {
			projection["presence_penalty"] = req.PresencePenalty
		}
		if req.FrequencyPenalty != 0 {
			projection["frequency_penalty"] = req.FrequencyPenalty
		}
		if len(req.Stop) > 0 {
			projection["stop"] = req.Stop
		}
		if req.N > 1 {
			projection["n"] = req.N
		}
	}

	if len(req.Metadata) > 0 {
		keys := make([]string, 0, len(req.Metadata))
		for k := range req.Metadata {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		meta := make(map[string]string, len(keys))
		for _, k := range keys {
			meta[k] = req.Metadata[k]
		}
		projection["metadata"] = meta
	}

	return projection
}

// hashProjection serializes with sorted keys (encoding/json sorts map keys)
// and no whitespace, then hashes.
func hashProjection(projection map[string]any) string {
	raw, err := json.Marshal(projection)
	if err != nil {
		// Projection is built from plain strings and numbers; Marshal cannot
		// fail on it. Hash the error text so a future type slip is loud in
		// cache-hit metrics instead of silently colliding.
		raw = []byte("unmarshalable:" + err.Error())
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}
