// Package provider defines the interface for upstream AI provider clients
// and the registry that routes logical model names to them.
package provider

import (
	"context"
	"net/http"

	"github.com/openloom/llmgate/pkg/types"
)

// Client is the uniform interface every upstream provider implements.
// It handles the wire-format specifics of one provider: building the HTTP
// request, parsing the response, listing the remote catalog, and mapping
// provider error payloads onto the gateway taxonomy.
type Client interface {
	// Name returns the provider identifier (e.g. "openai", "anthropic").
	Name() string

	// BuildRequest transforms a unified ChatRequest into a provider-specific
	// HTTP request targeting the given remote model id.
	BuildRequest(ctx context.Context, req *types.ChatRequest, remoteModel string) (*http.Request, error)

	// ParseResponse transforms a provider response into the unified format.
	ParseResponse(resp *http.Response) (*types.ChatResponse, error)

	// ListModels fetches the provider's remote model catalog.
	ListModels(ctx context.Context) ([]string, error)

	// MapError converts a provider error response into a GatewayError.
	MapError(statusCode int, body []byte) error
}

// ClientConfig contains the per-provider settings a factory needs.
type ClientConfig struct {
	Name    string
	APIKey  string
	BaseURL string
	Headers map[string]string
}

// Factory creates a provider client from configuration.
type Factory func(cfg ClientConfig) (Client, error)

// Descriptor binds a configured provider to the logical models it serves.
// Immutable after load; the registry owns one per provider for the process
// lifetime.
type Descriptor struct {
	Name string
	// Models maps client-facing logical names to provider-side model ids.
	Models map[string]string
	// ContextLengths optionally records the context window per logical model
	// for the catalog endpoint.
	ContextLengths map[string]int
	// Priority orders candidates when a logical model is mirrored on several
	// providers; lower wins.
	Priority int
	Enabled  bool
}

// RemoteModel resolves a logical model name to this provider's remote id.
func (d *Descriptor) RemoteModel(logical string) (string, bool) {
	remote, ok := d.Models[logical]
	return remote, ok
}
