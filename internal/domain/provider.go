package domain

// ProviderType identifies an upstream provider. The set is closed: adapters
// are registered per ProviderType and unknown values are rejected at config
// load, never dispatched dynamically by string.
type ProviderType string

const (
	ProviderOpenAI    ProviderType = "openai"
	ProviderAnthropic ProviderType = "anthropic"
	ProviderMistral   ProviderType = "mistral"
)

// AllProviders lists every supported provider in a stable order.
var AllProviders = []ProviderType{ProviderOpenAI, ProviderAnthropic, ProviderMistral}

// Valid reports whether p is a member of the closed provider set.
func (p ProviderType) Valid() bool {
	switch p {
	case ProviderOpenAI, ProviderAnthropic, ProviderMistral:
		return true
	}
	return false
}

// ProviderConfig is a per-organization upstream credential. APIKey holds the
// decrypted secret; the configuration boundary stores it AES-GCM sealed and
// decrypts at load time.
type ProviderConfig struct {
	Provider ProviderType
	APIKey   string
	BaseURL  string
	Enabled  bool
	Priority int
}
