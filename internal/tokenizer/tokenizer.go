// Package tokenizer provides token counting helpers for gateway requests
// and responses. Counts feed the worst-case reservation estimate and the
// usage fallback when a provider omits usage in its response.
package tokenizer

import (
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"github.com/openloom/llmgate/pkg/types"
)

var (
	encodingCache sync.Map
	defaultOnce   sync.Once
	defaultEnc    *tiktoken.Tiktoken
)

// CountTextTokens returns the token count for the given text using tiktoken.
// If no encoding is available, it falls back to a conservative len/4 estimate.
func CountTextTokens(model, text string) int {
	if text == "" {
		return 0
	}
	enc := getEncoding(model)
	if enc == nil {
		return len(text) / 4
	}
	return len(enc.Encode(text, nil, nil))
}

// EstimatePromptTokens estimates prompt tokens for a chat request.
// It counts message content and adds a small overhead per message.
func EstimatePromptTokens(model string, req *types.ChatRequest) int {
	if req == nil {
		return 0
	}

	total := 0
	for _, msg := range req.Messages {
		total += CountTextTokens(model, msg.Role)
		total += CountTextTokens(model, msg.Name)
		total += CountTextTokens(model, msg.Text())
		// Per-message formatting overhead used by common chat formats.
		total += 2
	}

	// Reply primer overhead.
	total += 3
	return total
}

// EstimateCompletionTokens counts output tokens from a response when the
// provider did not report usage.
func EstimateCompletionTokens(model string, resp *types.ChatResponse) int {
	if resp == nil {
		return 0
	}
	total := 0
	for i := range resp.Choices {
		total += CountTextTokens(model, resp.Choices[i].Message.Text())
	}
	return total
}

func getEncoding(model string) *tiktoken.Tiktoken {
	base := normalizeModelName(model)
	if cached, ok := encodingCache.Load(base); ok {
		if enc, ok := cached.(*tiktoken.Tiktoken); ok {
			return enc
		}
		return getDefaultEncoding()
	}

	enc, err := tiktoken.EncodingForModel(base)
	if err != nil {
		enc = getDefaultEncoding()
	}
	if enc != nil {
		encodingCache.Store(base, enc)
	}
	return enc
}

func getDefaultEncoding() *tiktoken.Tiktoken {
	defaultOnce.Do(func() {
		enc, err := tiktoken.GetEncoding("cl100k_base")
		if err == nil {
			defaultEnc = enc
		}
	})
	return defaultEnc
}

func normalizeModelName(model string) string {
	if model == "" {
		return model
	}
	if idx := strings.LastIndex(model, "/"); idx >= 0 && idx+1 < len(model) {
		return model[idx+1:]
	}
	return model
}
