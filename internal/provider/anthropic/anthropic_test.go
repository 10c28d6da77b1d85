package anthropic

import (
	"context"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openloom/llmgate/internal/provider"
	gerrors "github.com/openloom/llmgate/pkg/errors"
	"github.com/openloom/llmgate/pkg/types"
)

func newClient(t *testing.T) provider.Client {
	t.Helper()
	c, err := New(provider.ClientConfig{APIKey: "sk-ant-test"})
	require.NoError(t, err)
	return c
}

func TestBuildRequestExtractsSystem(t *testing.T) {
	c := newClient(t)

	req := &types.ChatRequest{
		Model: "claude-sonnet",
		Messages: []types.ChatMessage{
			types.TextMessage("system", "You are terse."),
			types.TextMessage("user", "hello"),
			types.TextMessage("assistant", "hi"),
			types.TextMessage("user", "bye"),
		},
		MaxTokens: 256,
	}

	httpReq, err := c.BuildRequest(context.Background(), req, "claude-sonnet-4-20250514")
	require.NoError(t, err)

	assert.Equal(t, "https://api.anthropic.com/v1/messages", httpReq.URL.String())
	assert.Equal(t, "sk-ant-test", httpReq.Header.Get("x-api-key"))
	assert.Equal(t, apiVersion, httpReq.Header.Get("anthropic-version"))

	body, err := io.ReadAll(httpReq.Body)
	require.NoError(t, err)

	var sent anthropicRequest
	require.NoError(t, json.Unmarshal(body, &sent))
	assert.Equal(t, "claude-sonnet-4-20250514", sent.Model)
	assert.Equal(t, "You are terse.", sent.System)
	assert.Equal(t, 256, sent.MaxTokens)
	require.Len(t, sent.Messages, 3)
	assert.Equal(t, "user", sent.Messages[0].Role)
	assert.Equal(t, "hello", sent.Messages[0].Content)
}

func TestBuildRequestDefaultsMaxTokens(t *testing.T) {
	c := newClient(t)

	req := &types.ChatRequest{
		Model:    "claude-sonnet",
		Messages: []types.ChatMessage{types.TextMessage("user", "hi")},
	}

	httpReq, err := c.BuildRequest(context.Background(), req, "claude-sonnet-4-20250514")
	require.NoError(t, err)

	body, err := io.ReadAll(httpReq.Body)
	require.NoError(t, err)

	var sent anthropicRequest
	require.NoError(t, json.Unmarshal(body, &sent))
	assert.Equal(t, defaultMaxTokens, sent.MaxTokens)
}

func TestParseResponse(t *testing.T) {
	c := newClient(t)

	payload := `{
		"id": "msg_01",
		"type": "message",
		"model": "claude-sonnet-4-20250514",
		"stop_reason": "end_turn",
		"content": [{"type": "text", "text": "hello "}, {"type": "text", "text": "world"}],
		"usage": {"input_tokens": 20, "output_tokens": 5}
	}`

	resp := &http.Response{Body: io.NopCloser(strings.NewReader(payload))}
	parsed, err := c.ParseResponse(resp)
	require.NoError(t, err)

	assert.Equal(t, "msg_01", parsed.ID)
	require.Len(t, parsed.Choices, 1)
	assert.Equal(t, "hello world", parsed.Choices[0].Message.Text())
	assert.Equal(t, "stop", parsed.Choices[0].FinishReason)
	assert.Equal(t, 20, parsed.Usage.PromptTokens)
	assert.Equal(t, 5, parsed.Usage.CompletionTokens)
	assert.Equal(t, 25, parsed.Usage.Tokens())
}

func TestMapStopReason(t *testing.T) {
	assert.Equal(t, "stop", mapStopReason("end_turn"))
	assert.Equal(t, "stop", mapStopReason("stop_sequence"))
	assert.Equal(t, "length", mapStopReason("max_tokens"))
	assert.Equal(t, "tool_use", mapStopReason("tool_use"))
}

func TestMapError(t *testing.T) {
	c := newClient(t)

	err := c.MapError(429, []byte(`{"type": "error", "error": {"type": "rate_limit_error", "message": "throttled"}}`))
	assert.True(t, gerrors.IsKind(err, gerrors.KindRateLimited))

	err = c.MapError(529, []byte(`{"type": "error", "error": {"type": "overloaded_error", "message": "overloaded"}}`))
	assert.True(t, gerrors.IsKind(err, gerrors.KindProviderError))
	assert.True(t, gerrors.IsRetryable(err))

	err = c.MapError(401, []byte(`{"type": "error", "error": {"type": "authentication_error", "message": "bad key"}}`))
	assert.True(t, gerrors.IsKind(err, gerrors.KindAuthentication))
}
