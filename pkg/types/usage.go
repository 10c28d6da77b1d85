package types //nolint:revive // package name is intentional

import "time"

// RequestKind classifies a usage record.
type RequestKind string

// Request kinds written to the usage log.
const (
	// RequestKindCompletion marks a successfully billed completion.
	RequestKindCompletion RequestKind = "completion"
	// RequestKindFailed marks a released reservation: the upstream call
	// failed or was cancelled and zero tokens were billed.
	RequestKindFailed RequestKind = "failed"
)

// UsageRecord is one append-only accounting entry. A record is written
// exactly once per resolved reservation and never mutated afterwards;
// retention is an external concern.
//
// Model holds the logical name the caller requested; RemoteModel holds the
// provider-side alias it resolved to, so billing stays legible to the caller.
type UsageRecord struct {
	ID               string      `json:"id"`
	PrincipalID      string      `json:"principal_id"`
	Provider         string      `json:"provider"`
	Model            string      `json:"model"`
	RemoteModel      string      `json:"remote_model"`
	PromptTokens     int         `json:"prompt_tokens"`
	CompletionTokens int         `json:"completion_tokens"`
	TokensUsed       int64       `json:"tokens_used"`
	RequestKind      RequestKind `json:"request_kind"`
	CreatedAt        time.Time   `json:"created_at"`
}
