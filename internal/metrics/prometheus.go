// Package metrics provides Prometheus metrics for the LLM gateway:
// request outcomes, rate-limit and quota rejections, provider latency,
// and billed token counts.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "llmgate"

// LatencyBuckets defines histogram buckets for latency metrics (in seconds).
var LatencyBuckets = []float64{
	0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5,
	1.0, 2.0, 3.0, 5.0, 7.5, 10.0, 15.0, 20.0, 30.0, 60.0, 120.0,
}

var (
	// CompletionRequests counts completion requests by terminal outcome.
	// outcome is "success" or the error kind (rate_limited, quota_exceeded, ...).
	CompletionRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "completion_requests_total",
			Help:      "Total completion requests by model and outcome",
		},
		[]string{"model", "outcome"},
	)

	// RateLimitRejections counts rejections per traffic class and tier.
	RateLimitRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ratelimit_rejections_total",
			Help:      "Requests rejected by the fixed-window rate limiter",
		},
		[]string{"class", "tier"},
	)

	// RateLimitBackendErrors counts distributed limiter backend failures
	// and the action taken (allow, deny, fallback).
	RateLimitBackendErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ratelimit_backend_errors_total",
			Help:      "Rate limiter backend errors by resulting action",
		},
		[]string{"action"},
	)

	// QuotaRejections counts reservations rejected for insufficient balance.
	QuotaRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "quota_rejections_total",
			Help:      "Reservations rejected for insufficient token balance",
		},
		[]string{"tier"},
	)

	// TokensBilled counts tokens consumed from principal balances.
	TokensBilled = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tokens_billed_total",
			Help:      "Tokens billed against principal balances",
		},
		[]string{"model", "provider"},
	)

	// ProviderLatency tracks upstream call latency per provider.
	ProviderLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "provider_latency_seconds",
			Help:      "Upstream provider call latency in seconds",
			Buckets:   LatencyBuckets,
		},
		[]string{"provider", "model"},
	)

	// ProviderErrors counts upstream failures per provider and kind.
	ProviderErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_errors_total",
			Help:      "Upstream provider failures by error kind",
		},
		[]string{"provider", "kind"},
	)

	// ProviderUnhealthyMarks counts providers marked unhealthy for routing.
	ProviderUnhealthyMarks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_unhealthy_marks_total",
			Help:      "Times a provider was marked unhealthy after failures",
		},
		[]string{"provider"},
	)
)
