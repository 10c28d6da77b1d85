// Package openailike implements a generic client for OpenAI-compatible
// endpoints such as vLLM, Ollama, or hosted gateways. It reuses the OpenAI
// wire format but requires an explicit base URL and tolerates servers that
// do not implement the models listing.
package openailike

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/goccy/go-json"

	"github.com/openloom/llmgate/internal/provider"
	gerrors "github.com/openloom/llmgate/pkg/errors"
	"github.com/openloom/llmgate/pkg/types"
)

// ProviderName is the factory identifier for OpenAI-compatible endpoints.
const ProviderName = "openai-like"

// Client implements an adapter for OpenAI-compatible APIs.
type Client struct {
	name    string
	apiKey  string
	baseURL string
	headers map[string]string
}

// New creates a client for an OpenAI-compatible endpoint. BaseURL is
// mandatory since there is no canonical default.
func New(cfg provider.ClientConfig) (provider.Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base_url is required for provider %s", cfg.Name)
	}
	name := cfg.Name
	if name == "" {
		name = ProviderName
	}
	return &Client{
		name:    name,
		apiKey:  cfg.APIKey,
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		headers: cfg.Headers,
	}, nil
}

// Name returns the provider identifier.
func (c *Client) Name() string {
	return c.name
}

// BuildRequest creates an HTTP request in the OpenAI chat completions format.
func (c *Client) BuildRequest(ctx context.Context, req *types.ChatRequest, remoteModel string) (*http.Request, error) {
	outbound := *req
	outbound.Model = remoteModel

	body, err := json.Marshal(&outbound)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	url := c.baseURL + "/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	for k, v := range c.headers {
		httpReq.Header.Set(k, v)
	}
	return httpReq, nil
}

// ParseResponse decodes an OpenAI-format response.
func (c *Client) ParseResponse(resp *http.Response) (*types.ChatResponse, error) {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	var chatResp types.ChatResponse
	if err := json.Unmarshal(body, &chatResp); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}
	return &chatResp, nil
}

// ListModels fetches the remote catalog. Endpoints that do not implement
// GET /models report an empty catalog rather than an error, so configured
// mappings stay routable.
func (c *Client) ListModels(ctx context.Context) ([]string, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/models", nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	for k, v := range c.headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := http.DefaultClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("list models: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusMethodNotAllowed {
		return nil, nil
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return nil, c.MapError(resp.StatusCode, body)
	}

	var listResp struct {
		Data []struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &listResp); err != nil {
		return nil, fmt.Errorf("unmarshal models: %w", err)
	}

	ids := make([]string, 0, len(listResp.Data))
	for _, m := range listResp.Data {
		ids = append(ids, m.ID)
	}
	return ids, nil
}

// MapError converts an OpenAI-format error response to a GatewayError.
func (c *Client) MapError(statusCode int, body []byte) error {
	var errResp struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}

	message := "unknown error"
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error.Message != "" {
		message = errResp.Error.Message
	}

	switch statusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return gerrors.NewAuthenticationError(c.name, "", message)
	case http.StatusTooManyRequests:
		return gerrors.NewRateLimitError("", 0)
	case http.StatusBadRequest:
		return gerrors.NewInvalidRequestError("", message)
	case http.StatusNotFound:
		return gerrors.NewNotFoundError(c.name, "", message)
	case http.StatusRequestTimeout, http.StatusGatewayTimeout:
		return gerrors.NewProviderTimeoutError(c.name, "")
	default:
		return gerrors.NewProviderError(c.name, "", message)
	}
}
