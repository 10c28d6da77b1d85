// Package gateway orchestrates a completion request end to end: admission
// through the rate limiter, a worst-case token reservation, the upstream
// provider call with retry and failover, and settlement of the reservation
// against actual usage.
package gateway

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/openloom/llmgate/internal/metrics"
	"github.com/openloom/llmgate/internal/observability"
	"github.com/openloom/llmgate/internal/provider"
	"github.com/openloom/llmgate/internal/quota"
	"github.com/openloom/llmgate/internal/ratelimit"
	"github.com/openloom/llmgate/internal/tokenizer"
	gerrors "github.com/openloom/llmgate/pkg/errors"
	"github.com/openloom/llmgate/pkg/types"
)

// Config holds the gateway's orchestration settings.
type Config struct {
	// DefaultMaxTokens caps completion length when the request does not set
	// max_tokens. If both are unset the request is rejected rather than
	// reserved with an unbounded estimate.
	DefaultMaxTokens int
	// RequestTimeout bounds one upstream attempt.
	RequestTimeout time.Duration
	// UnhealthyTTL is how long a provider stays out of routing after
	// exhausting its retry budget.
	UnhealthyTTL time.Duration
	// MaxFailovers bounds how many distinct providers one request may try.
	MaxFailovers int
	Retry        RetryPolicy
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		DefaultMaxTokens: 1024,
		RequestTimeout:   60 * time.Second,
		UnhealthyTTL:     30 * time.Second,
		MaxFailovers:     3,
		Retry:            DefaultRetryPolicy(),
	}
}

// Gateway coordinates the registry, limiter, and ledger for each request.
// It holds no per-request state and is safe for concurrent use.
type Gateway struct {
	registry   *provider.Registry
	limiter    ratelimit.Limiter
	ledger     *quota.Ledger
	httpClient *http.Client
	cfg        Config
	logger     *slog.Logger
}

// New creates a gateway.
func New(registry *provider.Registry, limiter ratelimit.Limiter, ledger *quota.Ledger, cfg Config, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultConfig().RequestTimeout
	}
	if cfg.UnhealthyTTL <= 0 {
		cfg.UnhealthyTTL = DefaultConfig().UnhealthyTTL
	}
	if cfg.MaxFailovers <= 0 {
		cfg.MaxFailovers = DefaultConfig().MaxFailovers
	}
	return &Gateway{
		registry:   registry,
		limiter:    limiter,
		ledger:     ledger,
		httpClient: &http.Client{Timeout: cfg.RequestTimeout},
		cfg:        cfg,
		logger:     logger,
	}
}

// SetHTTPClient overrides the upstream HTTP client. Used by tests.
func (g *Gateway) SetHTTPClient(c *http.Client) {
	g.httpClient = c
}

// Complete runs one chat completion. The returned decision carries the
// rate-limit window state for response headers and is valid whenever the
// limiter was consulted, on success and on rejection alike.
func (g *Gateway) Complete(ctx context.Context, principal *types.Principal, req *types.ChatRequest) (*types.ChatResponse, *ratelimit.Decision, error) {
	ctx, span := observability.StartCompletionSpan(ctx, otel.Tracer(observability.TracerName),
		principal.ID, req.Model, req.MaxTokens)
	defer span.End()

	resp, decision, err := g.complete(ctx, principal, req)
	if err != nil {
		observability.RecordError(span, err)
	} else if resp.Usage != nil {
		observability.RecordCompletion(span, resp.Provider, resp.Usage.PromptTokens, resp.Usage.CompletionTokens)
	}
	return resp, decision, err
}

func (g *Gateway) complete(ctx context.Context, principal *types.Principal, req *types.ChatRequest) (*types.ChatResponse, *ratelimit.Decision, error) {
	if err := req.Validate(); err != nil {
		metrics.CompletionRequests.WithLabelValues(req.Model, gerrors.KindInvalidRequest).Inc()
		return nil, nil, gerrors.NewInvalidRequestError(req.Model, err.Error())
	}

	// A limiter backend error still yields a decision (fail-open, fail-closed,
	// or local fallback); the decision is honored either way.
	decision, err := g.limiter.Check(ctx, principal, ratelimit.ClassLLM)
	if err != nil {
		g.logger.Warn("rate limiter backend error", "model", req.Model, "error", err)
	}
	if !decision.Allowed {
		metrics.RateLimitRejections.WithLabelValues(string(ratelimit.ClassLLM), string(principal.Tier)).Inc()
		metrics.CompletionRequests.WithLabelValues(req.Model, gerrors.KindRateLimited).Inc()
		return nil, &decision, gerrors.NewRateLimitError(req.Model, decision.RetryAfter)
	}

	// Routing is checked before any reservation so an unknown model never
	// touches quota state.
	if _, _, _, err := g.registry.Resolve(req.Model); err != nil {
		metrics.CompletionRequests.WithLabelValues(req.Model, gerrors.KindModelUnavailable).Inc()
		return nil, &decision, err
	}

	estimate, err := g.estimateWorstCase(req)
	if err != nil {
		metrics.CompletionRequests.WithLabelValues(req.Model, gerrors.KindConfig).Inc()
		return nil, &decision, err
	}

	res, err := g.ledger.Reserve(ctx, principal, estimate)
	if err != nil {
		if ge := gerrors.AsGatewayError(err); ge.Model == "" {
			ge.Model = req.Model
		}
		metrics.CompletionRequests.WithLabelValues(req.Model, gerrors.AsGatewayError(err).Kind).Inc()
		return nil, &decision, err
	}

	// The reservation must be settled exactly once. The happy path consumes;
	// every other exit releases the full hold.
	settled := false
	defer func() {
		if !settled {
			if relErr := g.ledger.Release(ctx, res, quota.UsageDetail{Model: req.Model}); relErr != nil {
				g.logger.Error("release after failure failed",
					"principal", principal.ID, "error", relErr)
			}
		}
	}()

	resp, desc, remote, err := g.callWithFailover(ctx, req)
	if err != nil {
		detail := quota.UsageDetail{Model: req.Model}
		if ge := gerrors.AsGatewayError(err); ge.Provider != "" {
			detail.Provider = ge.Provider
		}
		if relErr := g.ledger.Release(ctx, res, detail); relErr != nil {
			g.logger.Error("release after provider failure failed",
				"principal", principal.ID, "error", relErr)
		}
		settled = true
		metrics.CompletionRequests.WithLabelValues(req.Model, gerrors.AsGatewayError(err).Kind).Inc()
		return nil, &decision, err
	}

	prompt, completion := g.extractUsage(req, resp)
	actual := int64(prompt + completion)

	if err := g.ledger.Consume(ctx, res, actual, quota.UsageDetail{
		Provider:         desc.Name,
		Model:            req.Model,
		RemoteModel:      remote,
		PromptTokens:     prompt,
		CompletionTokens: completion,
	}); err != nil {
		settled = true
		metrics.CompletionRequests.WithLabelValues(req.Model, gerrors.AsGatewayError(err).Kind).Inc()
		return nil, &decision, err
	}
	settled = true

	// Callers see the logical model they asked for, not the remote alias.
	resp.Model = req.Model
	resp.Provider = desc.Name
	if resp.Usage == nil {
		resp.Usage = &types.Usage{
			PromptTokens:     prompt,
			CompletionTokens: completion,
			TotalTokens:      prompt + completion,
		}
	}

	metrics.CompletionRequests.WithLabelValues(req.Model, "success").Inc()
	return resp, &decision, nil
}

// Models lists the aggregated catalog. Catalog reads are admitted under the
// general traffic class, not the LLM class.
func (g *Gateway) Models(ctx context.Context, principal *types.Principal) (*types.Catalog, *ratelimit.Decision, error) {
	decision, err := g.limiter.Check(ctx, principal, ratelimit.ClassGeneral)
	if err != nil {
		g.logger.Warn("rate limiter backend error", "error", err)
	}
	if !decision.Allowed {
		metrics.RateLimitRejections.WithLabelValues(string(ratelimit.ClassGeneral), string(principal.Tier)).Inc()
		return nil, &decision, gerrors.NewRateLimitError("", decision.RetryAfter)
	}
	return g.registry.Catalog(ctx, g.cfg.UnhealthyTTL), &decision, nil
}

// estimateWorstCase computes the token ceiling reserved before the call:
// the prompt estimate plus the completion cap.
func (g *Gateway) estimateWorstCase(req *types.ChatRequest) (int64, error) {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = g.cfg.DefaultMaxTokens
	}
	if maxTokens <= 0 {
		return 0, gerrors.NewConfigError("no max_tokens on request and no default configured")
	}
	prompt := tokenizer.EstimatePromptTokens(req.Model, req)
	return int64(prompt + maxTokens), nil
}

// callWithFailover tries providers in priority order. Each provider gets the
// retry budget; when it is exhausted the provider is marked unhealthy and
// resolution repeats, which lands on the next candidate. The last provider
// error is returned when no candidate remains.
func (g *Gateway) callWithFailover(ctx context.Context, req *types.ChatRequest) (*types.ChatResponse, *provider.Descriptor, string, error) {
	var lastErr error
	for attempt := 0; attempt < g.cfg.MaxFailovers; attempt++ {
		client, desc, remote, err := g.registry.Resolve(req.Model)
		if err != nil {
			if lastErr != nil {
				return nil, nil, "", lastErr
			}
			return nil, nil, "", err
		}

		var resp *types.ChatResponse
		callErr := g.cfg.Retry.do(ctx, func() error {
			var err error
			resp, err = g.callProvider(ctx, client, desc, req, remote)
			return err
		})
		if callErr == nil {
			return resp, desc, remote, nil
		}

		lastErr = callErr
		if ctx.Err() != nil {
			// The caller went away mid-call; the provider is not at fault
			// and other principals keep routing to it.
			return nil, nil, "", callErr
		}
		if !gerrors.IsRetryable(callErr) {
			// Client errors are the caller's to fix; the provider is fine.
			return nil, nil, "", callErr
		}

		g.logger.Warn("provider failed, failing over",
			"provider", desc.Name, "model", req.Model, "error", callErr)
		g.registry.MarkUnhealthy(desc.Name, g.cfg.UnhealthyTTL)
	}
	return nil, nil, "", lastErr
}

// callProvider runs a single upstream attempt.
func (g *Gateway) callProvider(ctx context.Context, client provider.Client, desc *provider.Descriptor, req *types.ChatRequest, remote string) (*types.ChatResponse, error) {
	httpReq, err := client.BuildRequest(ctx, req, remote)
	if err != nil {
		return nil, gerrors.NewInternalError(desc.Name, req.Model, "build request: "+err.Error())
	}

	start := time.Now()
	httpResp, err := g.httpClient.Do(httpReq)
	metrics.ProviderLatency.WithLabelValues(desc.Name, req.Model).Observe(time.Since(start).Seconds())
	if err != nil {
		kind := gerrors.KindProviderError
		mapped := error(gerrors.NewProviderError(desc.Name, req.Model, err.Error()))
		if isTimeout(err) {
			kind = gerrors.KindProviderTimeout
			mapped = gerrors.NewProviderTimeoutError(desc.Name, req.Model)
		}
		metrics.ProviderErrors.WithLabelValues(desc.Name, kind).Inc()
		return nil, mapped
	}
	defer func() { _ = httpResp.Body.Close() }()

	if httpResp.StatusCode >= http.StatusBadRequest {
		body, _ := io.ReadAll(io.LimitReader(httpResp.Body, 64*1024))
		mapped := client.MapError(httpResp.StatusCode, body)
		metrics.ProviderErrors.WithLabelValues(desc.Name, gerrors.AsGatewayError(mapped).Kind).Inc()
		return nil, mapped
	}

	resp, err := client.ParseResponse(httpResp)
	if err != nil {
		metrics.ProviderErrors.WithLabelValues(desc.Name, gerrors.KindProviderError).Inc()
		return nil, gerrors.NewProviderError(desc.Name, req.Model, "parse response: "+err.Error())
	}
	return resp, nil
}

// extractUsage prefers provider-reported usage and falls back to local
// tokenizer estimates when the provider omits it.
func (g *Gateway) extractUsage(req *types.ChatRequest, resp *types.ChatResponse) (prompt, completion int) {
	if resp.Usage != nil && resp.Usage.Tokens() > 0 {
		prompt = resp.Usage.PromptTokens
		completion = resp.Usage.CompletionTokens
		if prompt == 0 && completion == 0 {
			// Total reported without the split; bill it all as completion.
			completion = resp.Usage.TotalTokens
		}
		return prompt, completion
	}

	g.logger.Debug("provider omitted usage, estimating locally", "model", req.Model)
	prompt = tokenizer.EstimatePromptTokens(req.Model, req)
	completion = tokenizer.EstimateCompletionTokens(req.Model, resp)
	return prompt, completion
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
