// Package anthropic implements the Anthropic provider client, translating
// between the unified OpenAI-style format and the Anthropic Messages API.
package anthropic

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/openloom/llmgate/internal/provider"
	gerrors "github.com/openloom/llmgate/pkg/errors"
	"github.com/openloom/llmgate/pkg/types"
)

const (
	ProviderName   = "anthropic"
	DefaultBaseURL = "https://api.anthropic.com/v1"

	apiVersion = "2023-06-01"

	// defaultMaxTokens applies when the inbound request omits max_tokens;
	// the Messages API requires the field.
	defaultMaxTokens = 4096
)

// Client implements the Anthropic API adapter.
type Client struct {
	name    string
	apiKey  string
	baseURL string
}

// New creates a new Anthropic provider client.
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

// anthropicRequest is the Messages API request shape.
type anthropicRequest struct {
	Model       string             `json:"model"`
	Messages    []anthropicMessage `json:"messages"`
	System      string             `json:"system,omitempty"`
	MaxTokens   int                `json:"max_tokens"`
	Temperature *float64           `json:"temperature,omitempty"`
	TopP        *float64           `json:"top_p,omitempty"`
	StopSeqs    []string           `json:"stop_sequences,omitempty"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// anthropicResponse is the Messages API response shape.
type anthropicResponse struct {
	ID         string `json:"id"`
	Type       string `json:"type"`
	Model      string `json:"model"`
	StopReason string `json:"stop_reason"`
	Content    []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Usage anthropicUsage `json:"usage"`
}

type anthropicUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// BuildRequest translates the unified request into a Messages API call.
// System messages are lifted out of the message list into the dedicated
// system field; consecutive system messages are joined with newlines.
func (c *Client) BuildRequest(ctx context.Context, req *types.ChatRequest, remoteModel string) (*http.Request, error) {
	outbound := anthropicRequest{
		Model:       remoteModel,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		TopP:        req.TopP,
		StopSeqs:    req.Stop,
	}
	if outbound.MaxTokens <= 0 {
		outbound.MaxTokens = defaultMaxTokens
	}

	var systemParts []string
	for _, msg := range req.Messages {
		text := msg.Text()
		if msg.Role == "system" {
			systemParts = append(systemParts, text)
			continue
		}
		outbound.Messages = append(outbound.Messages, anthropicMessage{
			Role:    msg.Role,
			Content: text,
		})
	}
	outbound.System = strings.Join(systemParts, "\n")

	body, err := json.Marshal(&outbound)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	url := c.baseURL + "/messages"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", c.apiKey)
	httpReq.Header.Set("anthropic-version", apiVersion)
	return httpReq, nil
}

// ParseResponse translates a Messages API response into the unified format.
func (c *Client) ParseResponse(resp *http.Response) (*types.ChatResponse, error) {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	var ar anthropicResponse
	if err := json.Unmarshal(body, &ar); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}

	var text strings.Builder
	for _, block := range ar.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}

	return &types.ChatResponse{
		ID:      ar.ID,
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   ar.Model,
		Choices: []types.Choice{{
			Index:        0,
			Message:      types.TextMessage("assistant", text.String()),
			FinishReason: mapStopReason(ar.StopReason),
		}},
		Usage: &types.Usage{
			PromptTokens:     ar.Usage.InputTokens,
			CompletionTokens: ar.Usage.OutputTokens,
			TotalTokens:      ar.Usage.InputTokens + ar.Usage.OutputTokens,
		},
	}, nil
}

func mapStopReason(reason string) string {
	switch reason {
	case "end_turn", "stop_sequence":
		return "stop"
	case "max_tokens":
		return "length"
	default:
		return reason
	}
}

// ListModels fetches the remote model catalog.
func (c *Client) ListModels(ctx context.Context) ([]string, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/models", nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("x-api-key", c.apiKey)
	httpReq.Header.Set("anthropic-version", apiVersion)

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

// MapError converts an Anthropic error response to a GatewayError.
func (c *Client) MapError(statusCode int, body []byte) error {
	var errResp struct {
		Error struct {
			Type    string `json:"type"`
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
	case 529: // overloaded_error
		return gerrors.NewProviderError(c.name, "", message)
	case http.StatusRequestTimeout, http.StatusGatewayTimeout:
		return gerrors.NewProviderTimeoutError(c.name, "")
	default:
		return gerrors.NewProviderError(c.name, "", message)
	}
}
