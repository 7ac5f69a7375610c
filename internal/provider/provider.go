// Package provider defines the normalized adapter boundary over the closed
// set of upstream providers and the registry that holds one adapter per
// member of that set.
package provider

import (
	"context"
	"fmt"
	"time"

	"github.com/tjfontaine/autopilot-gateway/internal/domain"
)

// DefaultCallTimeout bounds every single upstream call, including each
// validator retry and each fallback attempt.
const DefaultCallTimeout = 60 * time.Second

// Adapter is the normalized call contract one provider implements. Adapters
// translate the shared role/message model into the provider's wire shape and
// translate usage accounting back into the normalized response; callers never
// branch on provider identity.
type Adapter interface {
	Type() domain.ProviderType
	Call(ctx context.Context, cfg domain.ProviderConfig, model string, messages []domain.Message, opts domain.CallOptions) (*domain.Response, error)
}

// Registry holds exactly one adapter per provider type. It is populated at
// startup and never mutated afterwards.
type Registry struct {
	adapters map[domain.ProviderType]Adapter
}

// NewRegistry creates a registry from the given adapters.
func NewRegistry(adapters ...Adapter) (*Registry, error) {
	m := make(map[domain.ProviderType]Adapter, len(adapters))
	for _, a := range adapters {
		t := a.Type()
		if !t.Valid() {
			return nil, fmt.Errorf("adapter for unknown provider type %q", t)
		}
		if _, dup := m[t]; dup {
			return nil, fmt.Errorf("duplicate adapter for provider %q", t)
		}
		m[t] = a
	}
	return &Registry{adapters: m}, nil
}

// Adapter returns the adapter for a provider type.
func (r *Registry) Adapter(t domain.ProviderType) (Adapter, bool) {
	a, ok := r.adapters[t]
	return a, ok
}

// CallContext applies the per-call timeout from opts, defaulting when unset.
// The returned context is detached from upstream cancellation only in the
// sense of the deadline; cancellation still propagates.
func CallContext(ctx context.Context, opts domain.CallOptions) (context.Context, context.CancelFunc) {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultCallTimeout
	}
	return context.WithTimeout(ctx, timeout)
}
