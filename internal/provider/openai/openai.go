// Package openai implements the OpenAI provider client.
// It serves as the reference implementation for other provider adapters.
package openai

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

const (
	// ProviderName is the identifier for this provider.
	ProviderName = "openai"

	// DefaultBaseURL is the default OpenAI API endpoint.
	DefaultBaseURL = "https://api.openai.com/v1"
)

// Client implements the OpenAI API adapter.
type Client struct {
	name    string
	apiKey  string
	baseURL string
}

// New creates a new OpenAI provider client.
func New(cfg provider.ClientConfig) (provider.Client, error) {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	name := cfg.Name
	if name == "" {
		name = ProviderName
	}
	return &Client{
		name:    name,
		apiKey:  cfg.APIKey,
		baseURL: strings.TrimSuffix(baseURL, "/"),
	}, nil
}

// Name returns the provider identifier.
func (c *Client) Name() string {
	return c.name
}

// BuildRequest creates an HTTP request for the OpenAI chat completions API.
// The gateway's unified format is OpenAI-compatible, so the body passes
// through with only the model id swapped for the remote alias.
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
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	return httpReq, nil
}

// ParseResponse transforms an OpenAI response into the unified format.
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

// ListModels fetches the remote model catalog.
func (c *Client) ListModels(ctx context.Context) ([]string, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/models", nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := http.DefaultClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("list models: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

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

// MapError converts an OpenAI error response to a GatewayError.
func (c *Client) MapError(statusCode int, body []byte) error {
	var errResp struct {
		Error struct {
			Message string `json:"message"`
			Type    string `json:"type"`
			Code    string `json:"code"`
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
