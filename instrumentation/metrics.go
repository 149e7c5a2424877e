package instrumentation

import (
	"fmt"

	"go.opentelemetry.io/otel/metric"
)

// Metrics holds all metric instruments for the OAuth client library.
type Metrics struct {
	// Client operation metrics
	TokenOperationsTotal metric.Int64Counter // op=exchange|refresh|revoke, outcome=ok|error
	IntrospectionsTotal  metric.Int64Counter // outcome=valid|invalid|error, source=cache|live

	// Upstream metrics
	UpstreamRequestDuration metric.Float64Histogram // endpoint=token|introspect|userinfo|revoke
	UpstreamErrorsTotal     metric.Int64Counter     // endpoint, status

	// Cache metrics
	CacheOperationsTotal metric.Int64Counter // op=get|set|delete, result=hit|miss|stored|skipped|error

	// Middleware metrics
	RequestsAuthenticated metric.Int64Counter // outcome=ok|rejected|passthrough
	RateLimitExceeded     metric.Int64Counter
}

// newMetrics creates and registers all metric instruments.
func newMetrics(inst *Instrumentation) (*Metrics, error) {
	m := &Metrics{}
	var err error

	clientMeter := inst.Meter("client")
	cacheMeter := inst.Meter("cache")
	middlewareMeter := inst.Meter("middleware")

	m.TokenOperationsTotal, err = clientMeter.Int64Counter(
		"oauthclient.token.operations.total",
		metric.WithDescription("Total number of token lifecycle operations"),
		metric.WithUnit("{operation}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create token.operations.total counter: %w", err)
	}

	m.IntrospectionsTotal, err = clientMeter.Int64Counter(
		"oauthclient.introspections.total",
		metric.WithDescription("Total number of token introspections"),
		metric.WithUnit("{introspection}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create introspections.total counter: %w", err)
	}

	m.UpstreamRequestDuration, err = clientMeter.Float64Histogram(
		"oauthclient.upstream.request.duration",
		metric.WithDescription("Authorization server request duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create upstream.request.duration histogram: %w", err)
	}

	m.UpstreamErrorsTotal, err = clientMeter.Int64Counter(
		"oauthclient.upstream.errors.total",
		metric.WithDescription("Total number of non-2xx authorization server responses"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create upstream.errors.total counter: %w", err)
	}

	m.CacheOperationsTotal, err = cacheMeter.Int64Counter(
		"oauthclient.cache.operations.total",
		metric.WithDescription("Total number of introspection cache operations"),
		metric.WithUnit("{operation}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create cache.operations.total counter: %w", err)
	}

	m.RequestsAuthenticated, err = middlewareMeter.Int64Counter(
		"oauthclient.requests.authenticated",
		metric.WithDescription("Total number of requests through the authentication guard"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create requests.authenticated counter: %w", err)
	}

	m.RateLimitExceeded, err = middlewareMeter.Int64Counter(
		"oauthclient.ratelimit.exceeded",
		metric.WithDescription("Total number of rate limited requests"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create ratelimit.exceeded counter: %w", err)
	}

	return m, nil
}
