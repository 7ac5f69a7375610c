// Package router resolves models to providers and dispatches normalized calls
// with provider-level fallback.
package router

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/tjfontaine/autopilot-gateway/internal/domain"
	"github.com/tjfontaine/autopilot-gateway/internal/provider"
)

// familyRule maps a model naming convention to its provider.
type familyRule struct {
	prefix   string
	provider domain.ProviderType
}

// familyRules is checked in order; first prefix match wins.
var familyRules = []familyRule{
	{"gpt-", domain.ProviderOpenAI},
	{"chatgpt-", domain.ProviderOpenAI},
	{"o1", domain.ProviderOpenAI},
	{"o3", domain.ProviderOpenAI},
	{"o4", domain.ProviderOpenAI},
	{"text-", domain.ProviderOpenAI},
	{"claude", domain.ProviderAnthropic},
	{"mistral", domain.ProviderMistral},
	{"open-mistral", domain.ProviderMistral},
	{"open-mixtral", domain.ProviderMistral},
	{"ministral", domain.ProviderMistral},
	{"codestral", domain.ProviderMistral},
}

// defaultModels is each provider's nearest default, substituted at dispatch
// when a provider is asked to serve a model outside its family.
var defaultModels = map[domain.ProviderType]string{
	domain.ProviderOpenAI:    "gpt-4o",
	domain.ProviderAnthropic: "claude-3-5-sonnet-20241022",
	domain.ProviderMistral:   "mistral-large-latest",
}

// FamilyOf returns the provider whose naming convention the model matches,
// or "" when the model matches none.
func FamilyOf(model string) domain.ProviderType {
	m := strings.ToLower(model)
	for _, rule := range familyRules {
		if strings.HasPrefix(m, rule.prefix) {
			return rule.provider
		}
	}
	return ""
}

// DispatchModel returns the model the given provider should actually be
// called with: the model itself when it belongs to the provider's family,
// otherwise the provider's default. The substitution is dispatch-only;
// decisions are recorded against the originally selected model.
func DispatchModel(p domain.ProviderType, model string) string {
	if FamilyOf(model) == p {
		return model
	}
	return defaultModels[p]
}

// FallbackError aggregates a fully exhausted fallback chain. It names the
// primary (first) failure; the later attempts are retained for logs.
type FallbackError struct {
	Primary    domain.ProviderType
	PrimaryErr error
	Attempts   []error
}

func (e *FallbackError) Error() string {
	return fmt.Sprintf("all %d providers failed; primary %s: %v", len(e.Attempts), e.Primary, e.PrimaryErr)
}

func (e *FallbackError) Unwrap() error {
	return e.PrimaryErr
}

// Router dispatches normalized calls across an organization's enabled
// provider configs. It holds no per-request state and does no caching or
// persistence.
type Router struct {
	registry *provider.Registry
	logger   *slog.Logger
}

// New creates a Router over the adapter registry.
func New(registry *provider.Registry, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{registry: registry, logger: logger}
}

// enabledByPriority returns the enabled configs sorted by priority descending.
// Order among equal priorities follows the input order, so config order is a
// deterministic tiebreak.
func enabledByPriority(cfgs []domain.ProviderConfig) []domain.ProviderConfig {
	out := make([]domain.ProviderConfig, 0, len(cfgs))
	for _, c := range cfgs {
		if c.Enabled {
			out = append(out, c)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Priority > out[j].Priority })
	return out
}

// Resolve picks the provider config that should serve a model: the
// highest-priority enabled config whose provider matches the model's family,
// else the highest-priority enabled config overall. A false result means no
// provider is available — a normal outcome, not an error.
func (r *Router) Resolve(cfgs []domain.ProviderConfig, model string) (domain.ProviderConfig, bool) {
	enabled := enabledByPriority(cfgs)
	if len(enabled) == 0 {
		return domain.ProviderConfig{}, false
	}

	if family := FamilyOf(model); family != "" {
		for _, c := range enabled {
			if c.Provider == family {
				return c, true
			}
		}
	}
	return enabled[0], true
}

// Call dispatches one normalized call to a single provider config.
func (r *Router) Call(ctx context.Context, cfg domain.ProviderConfig, model string, messages []domain.Message, opts domain.CallOptions) (*domain.Response, error) {
	adapter, ok := r.registry.Adapter(cfg.Provider)
	if !ok {
		return nil, fmt.Errorf("no adapter registered for provider %s", cfg.Provider)
	}
	return adapter.Call(ctx, cfg, model, messages, opts)
}

// CallWithFallback calls the primary-resolved provider and, on any adapter
// error, walks the remaining enabled providers in priority order, returning
// the first success along with the config that served it. Each attempt
// dispatches the model compatible with that provider. When every provider
// fails, the aggregate error names the primary failure.
func (r *Router) CallWithFallback(ctx context.Context, cfgs []domain.ProviderConfig, model string, messages []domain.Message, opts domain.CallOptions) (*domain.Response, domain.ProviderConfig, error) {
	primary, ok := r.Resolve(cfgs, model)
	if !ok {
		return nil, domain.ProviderConfig{}, domain.ErrNoProvider(fmt.Sprintf("no enabled provider for model %s", model))
	}

	chain := []domain.ProviderConfig{primary}
	for _, c := range enabledByPriority(cfgs) {
		if c.Provider != primary.Provider {
			chain = append(chain, c)
		}
	}

	var attempts []error
	for i, cfg := range chain {
		resp, err := r.Call(ctx, cfg, DispatchModel(cfg.Provider, model), messages, opts)
		if err == nil {
			if i > 0 {
				r.logger.Info("served by fallback provider",
					slog.String("provider", string(cfg.Provider)),
					slog.Int("attempt", i+1))
			}
			return resp, cfg, nil
		}
		attempts = append(attempts, err)
		r.logger.Warn("provider call failed",
			slog.String("provider", string(cfg.Provider)),
			slog.Int("attempt", i+1),
			slog.String("error", err.Error()))
	}

	return nil, domain.ProviderConfig{}, &FallbackError{
		Primary:    primary.Provider,
		PrimaryErr: attempts[0],
		Attempts:   attempts,
	}
}
