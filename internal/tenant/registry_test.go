package tenant

import (
	"bytes"
	"testing"

	"github.com/tjfontaine/autopilot-gateway/internal/config"
	"github.com/tjfontaine/autopilot-gateway/internal/domain"
	"github.com/tjfontaine/autopilot-gateway/internal/ratelimit"
)

var testKey = bytes.Repeat([]byte{0x42}, KeySize)

func TestSealRoundTrip(t *testing.T) {
	sealed, err := Seal(testKey, "sk-secret-credential")
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	got, err := Unseal(testKey, sealed)
	if err != nil {
		t.Fatalf("Unseal: %v", err)
	}
	if got != "sk-secret-credential" {
		t.Errorf("unsealed = %q", got)
	}

	// A different key must not decrypt.
	otherKey := bytes.Repeat([]byte{0x43}, KeySize)
	if _, err := Unseal(otherKey, sealed); err == nil {
		t.Error("unseal with the wrong key should fail")
	}
}

func TestSealUniqueNonces(t *testing.T) {
	a, _ := Seal(testKey, "same")
	b, _ := Seal(testKey, "same")
	if a == b {
		t.Error("two seals of the same plaintext should differ")
	}
}

func TestParseKey(t *testing.T) {
	if _, err := ParseKey("zz"); err == nil {
		t.Error("non-hex key should be rejected")
	}
	if _, err := ParseKey("abcd"); err == nil {
		t.Error("short key should be rejected")
	}
	key, err := ParseKey("4242424242424242424242424242424242424242424242424242424242424242")
	if err != nil {
		t.Fatalf("ParseKey: %v", err)
	}
	if !bytes.Equal(key, testKey) {
		t.Error("parsed key mismatch")
	}
}

func TestRegistryUnsealsCredentials(t *testing.T) {
	sealed, err := Seal(testKey, "sk-ant-secret")
	if err != nil {
		t.Fatal(err)
	}

	reg, err := NewRegistry([]config.OrgConfig{{
		ID: "org-a",
		RateLimit: &config.RateLimitConfig{
			PerMinute: 5, PerHour: 50, PerDay: 500, Enabled: true,
		},
		Providers: []config.ProviderCredential{
			{Provider: "openai", APIKey: "sk-plain", Enabled: true, Priority: 10},
			{Provider: "anthropic", APIKeySealed: sealed, Enabled: true, Priority: 5},
		},
	}}, testKey)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}

	cfgs := reg.ProviderConfigs("org-a")
	if len(cfgs) != 2 {
		t.Fatalf("providers = %d, want 2", len(cfgs))
	}
	if cfgs[0].APIKey != "sk-plain" {
		t.Errorf("plaintext key = %q", cfgs[0].APIKey)
	}
	if cfgs[1].Provider != domain.ProviderAnthropic || cfgs[1].APIKey != "sk-ant-secret" {
		t.Errorf("sealed credential not unsealed: %+v", cfgs[1])
	}

	limits := reg.Limits("org-a")
	if limits.PerMinute != 5 || !limits.Enabled {
		t.Errorf("limits = %+v", limits)
	}
}

func TestRegistryUnknownOrgDefaults(t *testing.T) {
	reg, err := NewRegistry(nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if cfgs := reg.ProviderConfigs("who"); cfgs != nil {
		t.Errorf("unknown org providers = %+v, want nil", cfgs)
	}
	if limits := reg.Limits("who"); limits != ratelimit.DefaultLimits {
		t.Errorf("unknown org limits = %+v, want defaults", limits)
	}
}

func TestRegistryRejectsBadConfig(t *testing.T) {
	if _, err := NewRegistry([]config.OrgConfig{
		{ID: "a"}, {ID: "a"},
	}, nil); err == nil {
		t.Error("duplicate org ids should be rejected")
	}

	if _, err := NewRegistry([]config.OrgConfig{{
		ID:        "a",
		Providers: []config.ProviderCredential{{Provider: "acme"}},
	}}, nil); err == nil {
		t.Error("unknown provider should be rejected")
	}

	if _, err := NewRegistry([]config.OrgConfig{{
		ID:        "a",
		Providers: []config.ProviderCredential{{Provider: "openai", APIKeySealed: "c2VhbGVk"}},
	}}, nil); err == nil {
		t.Error("sealed credential without a key should be rejected")
	}
}
