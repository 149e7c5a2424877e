package middleware

import (
	"context"

	oauthclient "github.com/authrelay/oauth-client"
)

// introspectionContextKey is the context key for the introspection result
type introspectionContextKey struct{}

// contextWithIntrospection attaches the introspection result for
// downstream handlers.
func contextWithIntrospection(ctx context.Context, result *oauthclient.IntrospectionResult) context.Context {
	return context.WithValue(ctx, introspectionContextKey{}, result)
}

// IntrospectionFromContext returns the introspection result attached by
// AuthenticateRequest, if any.
func IntrospectionFromContext(ctx context.Context) (*oauthclient.IntrospectionResult, bool) {
	result, ok := ctx.Value(introspectionContextKey{}).(*oauthclient.IntrospectionResult)
	return result, ok
}
