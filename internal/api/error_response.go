package api //nolint:revive // package name is intentional

// ErrorResponse is the OpenAI-compatible error envelope.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail describes the error payload. RetryAfter and TokensRemaining
// carry the numeric hints for rate-limit and quota rejections.
type ErrorDetail struct {
	Message         string `json:"message"`
	Type            string `json:"type"`
	Provider        string `json:"provider,omitempty"`
	RetryAfter      int64  `json:"retry_after,omitempty"`
	TokensRemaining int64  `json:"tokens_remaining,omitempty"`
}
