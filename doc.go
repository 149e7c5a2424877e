// Package oauthclient is an OAuth2 / OpenID Connect client facade for
// services that authenticate users against a central authorization server.
//
// The Client covers the full token lifecycle: building the authorization
// URL, exchanging the code, refreshing, revoking and introspecting tokens,
// and fetching userinfo claims. It holds no token state itself; every
// operation takes a caller-owned *TokenState representing one logical
// session, so one Client instance can safely serve many sessions.
//
// Introspection results can be cached in front of the live call through an
// IntrospectionCache, backed by any kvstore.Store implementation. Entries
// live until the introspected token's exp claim; tokens without one are
// never cached.
//
// The middleware package binds the client to net/http for web services
// that run the popup-based login flow.
package oauthclient
