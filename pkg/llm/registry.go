package llm

import (
	"foreman/pkg/config"
)

// ProviderGroupConfig defines the configuration for one group of models.
// It is the standard input for every ProviderFactory.
type ProviderGroupConfig struct {
	Type    string         `json:"type"`
	APIKeys []string       `json:"api_keys,omitempty"`
	Models  []string       `json:"models"`
	BaseURL string         `json:"base_url,omitempty"`
	Options map[string]any `json:"options,omitempty"`
}

// ProviderFactory defines the factory interface for building model clients.
type ProviderFactory interface {
	// Create builds a set of atomic clients from the group configuration.
	Create(groupConfig ProviderGroupConfig, systemConfig *config.SystemConfig) ([]ModelClient, error)
}

// Global provider registry, populated by provider packages at init time.
var providerRegistry = make(map[string]ProviderFactory)

// RegisterProvider registers a ProviderFactory under a provider type name.
func RegisterProvider(name string, factory ProviderFactory) {
	providerRegistry[name] = factory
}

// GetProviderFactory retrieves the factory for a provider type name.
func GetProviderFactory(name string) (ProviderFactory, bool) {
	f, ok := providerRegistry[name]
	return f, ok
}
