// Package config loads gateway configuration from a YAML file with
// environment variable overrides.
package config

import (
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Storage   StorageConfig   `koanf:"storage"`
	Redis     RedisConfig     `koanf:"redis"`
	Cache     CacheConfig     `koanf:"cache"`
	Validator ValidatorConfig `koanf:"validator"`
	Sealing   SealingConfig   `koanf:"sealing"`
	Orgs      []OrgConfig     `koanf:"orgs"`
}

type ServerConfig struct {
	Port           int           `koanf:"port"`
	RequestTimeout time.Duration `koanf:"request_timeout"`
}

// StorageConfig points at the durable SQLite database.
type StorageConfig struct {
	Path string `koanf:"path"`
}

// RedisConfig configures the fast cache tier and the distributed rate-limit
// counters. When disabled, both fall back to in-process equivalents.
type RedisConfig struct {
	Enabled  bool   `koanf:"enabled"`
	Addr     string `koanf:"addr"`
	Password string `koanf:"password"`
	DB       int    `koanf:"db"`
}

type CacheConfig struct {
	TTL time.Duration `koanf:"ttl"`
}

type ValidatorConfig struct {
	MaxRounds int `koanf:"max_rounds"`
}

// SealingConfig holds the hex-encoded 32-byte AES key used to unseal
// provider credentials stored in org configs.
type SealingConfig struct {
	Key string `koanf:"key"`
}

type RateLimitConfig struct {
	PerMinute int64 `koanf:"per_minute"`
	PerHour   int64 `koanf:"per_hour"`
	PerDay    int64 `koanf:"per_day"`
	Enabled   bool  `koanf:"enabled"`
}

// ProviderCredential configures one upstream credential for an organization.
// APIKeySealed takes precedence over APIKey; plaintext keys are for local
// development only.
type ProviderCredential struct {
	Provider     string `koanf:"provider"`
	APIKey       string `koanf:"api_key"`
	APIKeySealed string `koanf:"api_key_sealed"`
	BaseURL      string `koanf:"base_url"`
	Enabled      bool   `koanf:"enabled"`
	Priority     int    `koanf:"priority"`
}

type OrgConfig struct {
	ID        string               `koanf:"id"`
	RateLimit *RateLimitConfig     `koanf:"rate_limit"`
	Providers []ProviderCredential `koanf:"providers"`
}

// Load reads path (when it exists), applies GATEWAY_-prefixed environment
// overrides, fills defaults and unmarshals.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
				return nil, err
			}
		}
	}

	// GATEWAY_SERVER_PORT=9090 overrides server.port, and so on.
	if err := k.Load(env.Provider("GATEWAY_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, "GATEWAY_")), "_", ".", -1)
	}), nil); err != nil {
		return nil, err
	}

	defaults := map[string]any{
		"server.port":            8080,
		"server.request_timeout": "90s",
		"storage.path":           "./data/gateway.db",
		"redis.addr":             "localhost:6379",
		"cache.ttl":              "1h",
		"validator.max_rounds":   2,
	}
	for key, val := range defaults {
		if !k.Exists(key) {
			k.Set(key, val)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
