package types //nolint:revive // package name is intentional

// ModelInfo describes one entry of the aggregated model catalog.
type ModelInfo struct {
	ID            string `json:"id"`
	Provider      string `json:"provider"`
	ContextLength int    `json:"context_length,omitempty"`
}

// ProviderStatus reports the routing health of a configured provider.
type ProviderStatus string

// Provider status values surfaced on the catalog endpoint.
const (
	ProviderAvailable ProviderStatus = "available"
	ProviderDegraded  ProviderStatus = "degraded"
)

// Catalog is the aggregated model listing across all enabled providers.
type Catalog struct {
	Models         []ModelInfo               `json:"models"`
	ProviderStatus map[string]ProviderStatus `json:"provider_status"`
}
