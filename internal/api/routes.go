package api //nolint:revive // package name is intentional

import (
	"net/http"
)

// RegisterRoutes registers all API routes on the given mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /llm/chat/completions", h.ChatCompletions)
	mux.HandleFunc("GET /llm/models", h.Models)
	mux.HandleFunc("GET /health", h.Health)
}
