// Package api provides HTTP handlers for the LLM gateway API.
// It implements OpenAI-compatible endpoints for chat completions.
package api //nolint:revive // package name is intentional

import (
	"io"
	"log/slog"
	"math"
	"net/http"
	"strconv"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/openloom/llmgate/internal/gateway"
	"github.com/openloom/llmgate/internal/ratelimit"
	gerrors "github.com/openloom/llmgate/pkg/errors"
	"github.com/openloom/llmgate/pkg/types"
)

// DefaultMaxBodyBytes caps request bodies when no limit is configured.
const DefaultMaxBodyBytes = 10 << 20

// PrincipalResolver resolves the calling principal from a request. The
// authentication layer in front of the gateway provides the implementation;
// tests supply a stub.
type PrincipalResolver interface {
	Resolve(r *http.Request) (*types.Principal, error)
}

// PrincipalResolverFunc adapts a function to the PrincipalResolver interface.
type PrincipalResolverFunc func(r *http.Request) (*types.Principal, error)

// Resolve implements PrincipalResolver.
func (f PrincipalResolverFunc) Resolve(r *http.Request) (*types.Principal, error) {
	return f(r)
}

// Handler handles HTTP requests for the LLM gateway.
type Handler struct {
	gateway      *gateway.Gateway
	resolver     PrincipalResolver
	maxBodyBytes int64
	logger       *slog.Logger
}

// NewHandler creates a new API handler.
func NewHandler(gw *gateway.Gateway, resolver PrincipalResolver, maxBodyBytes int64, logger *slog.Logger) *Handler {
	if maxBodyBytes <= 0 {
		maxBodyBytes = DefaultMaxBodyBytes
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		gateway:      gw,
		resolver:     resolver,
		maxBodyBytes: maxBodyBytes,
		logger:       logger,
	}
}

// ChatCompletions handles POST /llm/chat/completions requests.
func (h *Handler) ChatCompletions(w http.ResponseWriter, r *http.Request) {
	requestID := uuid.NewString()
	w.Header().Set("X-Request-Id", requestID)

	principal, err := h.resolver.Resolve(r)
	if err != nil {
		h.writeError(w, gerrors.NewAuthenticationError("", "", "invalid credentials"))
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, h.maxBodyBytes+1))
	if err != nil {
		h.writeError(w, gerrors.NewInvalidRequestError("", "failed to read request body"))
		return
	}
	defer func() { _ = r.Body.Close() }()
	if int64(len(body)) > h.maxBodyBytes {
		h.writeError(w, gerrors.NewInvalidRequestError("", "request body too large"))
		return
	}

	var req types.ChatRequest
	if err := json.Unmarshal(body, &req); err != nil {
		h.writeError(w, gerrors.NewInvalidRequestError("", "invalid JSON: "+err.Error()))
		return
	}

	resp, decision, err := h.gateway.Complete(r.Context(), principal, &req)
	if decision != nil {
		writeRateLimitHeaders(w, decision)
	}
	if err != nil {
		ge := gerrors.AsGatewayError(err)
		if ge.StatusCode >= http.StatusInternalServerError {
			h.logger.Error("completion failed",
				"request_id", requestID, "principal", principal.ID,
				"model", req.Model, "kind", ge.Kind, "error", err)
		}
		h.writeError(w, ge)
		return
	}

	h.writeJSON(w, http.StatusOK, resp)
}

// Models handles GET /llm/models requests.
func (h *Handler) Models(w http.ResponseWriter, r *http.Request) {
	principal, err := h.resolver.Resolve(r)
	if err != nil {
		h.writeError(w, gerrors.NewAuthenticationError("", "", "invalid credentials"))
		return
	}

	catalog, decision, err := h.gateway.Models(r.Context(), principal)
	if decision != nil {
		writeRateLimitHeaders(w, decision)
	}
	if err != nil {
		h.writeError(w, gerrors.AsGatewayError(err))
		return
	}

	h.writeJSON(w, http.StatusOK, catalog)
}

// Health handles GET /health requests.
func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeRateLimitHeaders(w http.ResponseWriter, d *ratelimit.Decision) {
	if d.Limit <= 0 {
		return
	}
	w.Header().Set("X-RateLimit-Limit", strconv.FormatInt(d.Limit, 10))
	w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(d.Remaining, 10))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(d.ResetAt.Unix(), 10))
	if !d.Allowed && d.RetryAfter > 0 {
		w.Header().Set("Retry-After", strconv.FormatInt(int64(math.Ceil(d.RetryAfter.Seconds())), 10))
	}
}

func (h *Handler) writeError(w http.ResponseWriter, ge *gerrors.GatewayError) {
	resp := ErrorResponse{
		Error: ErrorDetail{
			Message:  ge.Message,
			Type:     ge.Kind,
			Provider: ge.Provider,
		},
	}
	if ge.Kind == gerrors.KindRateLimited && ge.RetryAfter > 0 {
		resp.Error.RetryAfter = int64(math.Ceil(ge.RetryAfter.Seconds()))
	}
	if ge.Kind == gerrors.KindQuotaExceeded {
		resp.Error.TokensRemaining = ge.TokensRemaining
	}
	h.writeJSON(w, ge.HTTPStatusCode(), resp)
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("write response failed", "error", err)
	}
}
