// Package llmgate provides an LLM proxy with usage governance: a unified
// OpenAI-compatible completion API in front of multiple upstream providers,
// fixed-window request rate limiting per principal, and token quota
// accounting with reserve/consume/release semantics so a principal can never
// spend tokens it does not have.
//
// The server binary lives in cmd/server; this package re-exports the wire
// types so integrations do not need to import pkg/types directly.
package llmgate

import (
	"github.com/openloom/llmgate/pkg/errors"
	"github.com/openloom/llmgate/pkg/types"
)

// Version is the current version of llmgate.
const Version = "0.1.0"

// Re-export core request/response types for convenience.
type (
	// ChatRequest represents an OpenAI-compatible chat completion request.
	ChatRequest = types.ChatRequest

	// ChatResponse represents an OpenAI-compatible chat completion response.
	ChatResponse = types.ChatResponse

	// ChatMessage represents a single message in the conversation.
	ChatMessage = types.ChatMessage

	// Usage contains token usage statistics for a request.
	Usage = types.Usage

	// Principal is the billable caller identity resolved by the auth layer.
	Principal = types.Principal

	// Tier is a principal's subscription tier.
	Tier = types.Tier

	// UsageRecord is one audit-trail entry written per settled request.
	UsageRecord = types.UsageRecord

	// GatewayError is the standardized error returned by all operations.
	GatewayError = errors.GatewayError
)

// Subscription tiers.
const (
	TierFree       = types.TierFree
	TierPro        = types.TierPro
	TierEnterprise = types.TierEnterprise
	TierAPIKey     = types.TierAPIKey
)
