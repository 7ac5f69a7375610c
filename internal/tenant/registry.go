// Package tenant resolves per-organization provider credentials and
// rate-limit overrides from configuration. The registry is read-only after
// startup.
package tenant

import (
	"fmt"

	"github.com/tjfontaine/autopilot-gateway/internal/config"
	"github.com/tjfontaine/autopilot-gateway/internal/domain"
	"github.com/tjfontaine/autopilot-gateway/internal/ratelimit"
)

// Org is one client organization.
type Org struct {
	ID        string
	Providers []domain.ProviderConfig
	Limits    ratelimit.Limits
}

// Registry holds every configured organization.
type Registry struct {
	orgs map[string]*Org
}

// NewRegistry builds the registry from org configs, unsealing credentials
// with sealKey when a sealed form is present. sealKey may be nil when every
// credential is plaintext.
func NewRegistry(cfgs []config.OrgConfig, sealKey []byte) (*Registry, error) {
	orgs := make(map[string]*Org, len(cfgs))
	for _, oc := range cfgs {
		if _, dup := orgs[oc.ID]; dup {
			return nil, fmt.Errorf("duplicate organization %q", oc.ID)
		}

		org := &Org{ID: oc.ID, Limits: ratelimit.DefaultLimits}
		if oc.RateLimit != nil {
			org.Limits = ratelimit.Limits{
				PerMinute: oc.RateLimit.PerMinute,
				PerHour:   oc.RateLimit.PerHour,
				PerDay:    oc.RateLimit.PerDay,
				Enabled:   oc.RateLimit.Enabled,
			}
		}

		for _, pc := range oc.Providers {
			pt := domain.ProviderType(pc.Provider)
			if !pt.Valid() {
				return nil, fmt.Errorf("org %s: unknown provider %q", oc.ID, pc.Provider)
			}

			apiKey := pc.APIKey
			if pc.APIKeySealed != "" {
				if sealKey == nil {
					return nil, fmt.Errorf("org %s: sealed credential for %s but no sealing key configured", oc.ID, pc.Provider)
				}
				var err error
				apiKey, err = Unseal(sealKey, pc.APIKeySealed)
				if err != nil {
					return nil, fmt.Errorf("org %s: %s: %w", oc.ID, pc.Provider, err)
				}
			}

			org.Providers = append(org.Providers, domain.ProviderConfig{
				Provider: pt,
				APIKey:   apiKey,
				BaseURL:  pc.BaseURL,
				Enabled:  pc.Enabled,
				Priority: pc.Priority,
			})
		}
		orgs[oc.ID] = org
	}
	return &Registry{orgs: orgs}, nil
}

// Org returns the organization by id.
func (r *Registry) Org(id string) (*Org, bool) {
	o, ok := r.orgs[id]
	return o, ok
}

// ProviderConfigs returns the organization's provider configs, or nil for an
// unknown organization.
func (r *Registry) ProviderConfigs(orgID string) []domain.ProviderConfig {
	if o, ok := r.orgs[orgID]; ok {
		return o.Providers
	}
	return nil
}

// Limits returns the organization's rate limits, defaulting for unknown
// organizations.
func (r *Registry) Limits(orgID string) ratelimit.Limits {
	if o, ok := r.orgs[orgID]; ok {
		return o.Limits
	}
	return ratelimit.DefaultLimits
}
