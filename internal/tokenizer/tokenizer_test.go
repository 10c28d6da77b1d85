package tokenizer

import (
	"testing"

	"github.com/openloom/llmgate/pkg/types"
)

func TestCountTextTokens(t *testing.T) {
	if got := CountTextTokens("gpt-4", ""); got != 0 {
		t.Fatalf("CountTextTokens(empty) = %d, want 0", got)
	}
	if got := CountTextTokens("gpt-4", "hello world"); got <= 0 {
		t.Fatalf("CountTextTokens() = %d, want > 0", got)
	}
}

func TestEstimatePromptTokens(t *testing.T) {
	req := &types.ChatRequest{
		Model: "gpt-4",
		Messages: []types.ChatMessage{
			types.TextMessage("system", "You are a helpful assistant."),
			types.TextMessage("user", "Summarize the plot of Hamlet."),
		},
	}

	got := EstimatePromptTokens("gpt-4", req)
	// Two messages plus primer overhead: must exceed the raw content count.
	content := CountTextTokens("gpt-4", "You are a helpful assistant.") +
		CountTextTokens("gpt-4", "Summarize the plot of Hamlet.")
	if got <= content {
		t.Fatalf("EstimatePromptTokens() = %d, want > %d", got, content)
	}
}

func TestEstimateCompletionTokens(t *testing.T) {
	resp := &types.ChatResponse{
		Choices: []types.Choice{
			{Message: types.TextMessage("assistant", "A prince avenges his father.")},
		},
	}
	if got := EstimateCompletionTokens("gpt-4", resp); got <= 0 {
		t.Fatalf("EstimateCompletionTokens() = %d, want > 0", got)
	}
	if got := EstimateCompletionTokens("gpt-4", nil); got != 0 {
		t.Fatalf("EstimateCompletionTokens(nil) = %d, want 0", got)
	}
}

func TestNormalizeModelName(t *testing.T) {
	if got := normalizeModelName("openai/gpt-4"); got != "gpt-4" {
		t.Fatalf("normalizeModelName() = %q, want %q", got, "gpt-4")
	}
	if got := normalizeModelName("gpt-4"); got != "gpt-4" {
		t.Fatalf("normalizeModelName() = %q, want %q", got, "gpt-4")
	}
}
