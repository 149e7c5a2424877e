package oauthclient

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/oauth2"

	"github.com/authrelay/oauth-client/instrumentation"
	"github.com/authrelay/oauth-client/internal/util"
	"github.com/authrelay/oauth-client/security"
)

const (
	// tokenLogLength is the number of token characters included in debug logs
	tokenLogLength = 8

	// maxResponseBodySize bounds upstream response bodies (1MB)
	maxResponseBodySize = 1 << 20
)

// introspectedTokenType is the token_type an introspection response must
// carry for the token to be considered valid.
const introspectedTokenType = "access_token"

// Client performs the OAuth2 token lifecycle against a configured
// authorization server: code exchange, refresh, revocation, introspection
// and userinfo. It holds no token state of its own; every operation takes
// the caller-owned *TokenState of one logical session.
type Client struct {
	cfg    Config
	cache  *IntrospectionCache
	logger *slog.Logger
	inst   *instrumentation.Instrumentation
}

// New creates a Client from cfg with an optional introspection cache.
// A nil cache disables caching; every Introspect call then hits the
// authorization server.
func New(cfg Config, cache *IntrospectionCache) (*Client, error) {
	cfg.setDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &Client{
		cfg:    cfg,
		cache:  cache,
		logger: cfg.Logger,
		inst:   cfg.Instrumentation,
	}, nil
}

// Cache returns the configured introspection cache, or nil.
func (c *Client) Cache() *IntrospectionCache {
	return c.cache
}

// Debug reports whether verbose error reporting is enabled.
func (c *Client) Debug() bool {
	return c.cfg.Debug
}

// oauth2Config builds the x/oauth2 configuration for the token endpoint.
// The configured authorization method maps onto the oauth2 auth style:
// "header" becomes HTTP Basic, "body" puts the credentials in the POST
// parameters.
func (c *Client) oauth2Config(scopes []string) *oauth2.Config {
	authStyle := oauth2.AuthStyleInHeader
	if c.cfg.AuthorizationMethod == AuthMethodBody {
		authStyle = oauth2.AuthStyleInParams
	}

	return &oauth2.Config{
		ClientID:     c.cfg.ClientID,
		ClientSecret: c.cfg.ClientSecret,
		RedirectURL:  c.cfg.Endpoints.RedirectURI,
		Scopes:       scopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:   util.JoinURL(c.cfg.Endpoints.PublicHost, c.cfg.Endpoints.AuthorizePath),
			TokenURL:  util.JoinURL(c.cfg.Endpoints.PublicHost, c.cfg.Endpoints.TokenPath),
			AuthStyle: authStyle,
		},
	}
}

// httpContext injects the configured HTTP client so x/oauth2 uses it for
// token-endpoint calls.
func (c *Client) httpContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, c.cfg.HTTPClient)
}

// AuthorizeURL builds the authorization endpoint URL for the given scopes
// and CSRF state. Scopes are joined with a single space, the delimiter
// defined by RFC 6749. Pure function, no side effects.
func (c *Client) AuthorizeURL(scopes []string, state string) string {
	return c.oauth2Config(scopes).AuthCodeURL(state)
}

// ExchangeCode exchanges an authorization code for a token pair and holds
// it in state, replacing any previous pair unconditionally. The new pair is
// unverified until introspected. An empty code fails immediately with no
// network call.
func (c *Client) ExchangeCode(ctx context.Context, state *TokenState, code string) (*TokenPair, error) {
	if code == "" {
		return nil, ErrInvalidArgument("code not passed")
	}

	c.logger.Debug("Exchanging authorization code",
		"code", util.SafeTruncate(code, tokenLogLength),
		"auth_method", string(c.cfg.AuthorizationMethod))

	tok, err := c.oauth2Config(nil).Exchange(c.httpContext(ctx), code)
	if err != nil {
		c.recordTokenOp(ctx, "exchange", "error")
		return nil, c.upstreamError(err)
	}

	pair := tokenPairFrom(tok)
	state.hold(pair)
	c.recordTokenOp(ctx, "exchange", "ok")
	return pair, nil
}

// Refresh obtains a new token pair using the held refresh token and
// replaces the held pair wholesale. Fails with a no-token error when no
// pair with a refresh token is held.
func (c *Client) Refresh(ctx context.Context, state *TokenState) (*TokenPair, error) {
	held := state.Pair()
	if held == nil || held.RefreshToken == "" {
		return nil, ErrNoTokenHeld("no refresh token held, pass the authentication first")
	}

	c.logger.Debug("Refreshing token",
		"refresh_token", util.SafeTruncate(held.RefreshToken, tokenLogLength))

	// A token source seeded with only the refresh token always refreshes.
	src := c.oauth2Config(nil).TokenSource(c.httpContext(ctx), &oauth2.Token{
		RefreshToken: held.RefreshToken,
	})
	tok, err := src.Token()
	if err != nil {
		c.recordTokenOp(ctx, "refresh", "error")
		return nil, c.upstreamError(err)
	}

	pair := tokenPairFrom(tok)
	state.hold(pair)
	c.recordTokenOp(ctx, "refresh", "ok")
	return pair, nil
}

// Introspect checks the held access token against the authorization
// server, consulting the cache first. A cached result is returned
// unchanged without re-validation. On any result with Invalid set the held
// token is cleared; callers must not assume the token is still held after
// a failed introspection.
func (c *Client) Introspect(ctx context.Context, state *TokenState) (*IntrospectionResult, error) {
	held := state.Pair()
	if held == nil || held.AccessToken == "" {
		return nil, ErrNoTokenHeld("no access token held, pass the authentication first")
	}
	token := held.AccessToken

	if c.cache != nil {
		cached, err := c.cache.Get(ctx, token)
		if err != nil {
			// A cache failure is a miss: fall through to the live call.
			logCacheError(c.cfg.Logger, "get", err)
			c.recordCacheOp(ctx, "get", "error")
		} else if cached != nil {
			c.recordCacheOp(ctx, "get", "hit")
			c.recordIntrospection(ctx, cached, "cache")
			if cached.Invalid {
				state.clear()
			}
			return cached, nil
		} else {
			c.recordCacheOp(ctx, "get", "miss")
		}
	}

	result, err := c.introspectLive(ctx, token)
	if err != nil {
		c.recordIntrospectionError(ctx)
		return nil, err
	}

	if c.cache != nil {
		// Best-effort write: never blocks client-visible success.
		ttl := ttlUntil(result.Exp, time.Now())
		if err := c.cache.Set(ctx, token, result, ttl); err != nil {
			logCacheError(c.cfg.Logger, "set", err)
			c.recordCacheOp(ctx, "set", "error")
		} else if ttl > 0 {
			c.recordCacheOp(ctx, "set", "stored")
		} else {
			c.recordCacheOp(ctx, "set", "skipped")
		}
	}

	c.recordIntrospection(ctx, result, "live")
	if result.Invalid {
		state.clear()
	}
	return result, nil
}

// introspectLive performs the network introspection call and applies the
// validity checks. The introspection endpoint is called on the private
// host without client authentication.
func (c *Client) introspectLive(ctx context.Context, token string) (*IntrospectionResult, error) {
	c.logger.Debug("Introspecting token",
		"token", util.SafeTruncate(token, tokenLogLength))

	body, err := c.postForm(ctx, "introspect",
		util.JoinURL(c.cfg.Endpoints.PrivateHost, c.cfg.Endpoints.IntrospectPath),
		url.Values{"token": {token}},
		false)
	if err != nil {
		return nil, err
	}

	result := &IntrospectionResult{}
	if err := json.Unmarshal(body, result); err != nil {
		return nil, ErrUpstream(http.StatusOK, body)
	}

	switch {
	case !result.Active:
		result.Invalid = true
		result.Reason = ReasonTokenNotActive
	default:
		if result.TokenType != introspectedTokenType {
			result.Invalid = true
			result.Reason = ReasonTokenTypeInvalid
		}
		if !c.clientIDAllowed(result.ClientID) {
			result.Invalid = true
			result.Reason = ReasonClientIDInvalid
		}
	}

	return result, nil
}

// clientIDAllowed reports whether id is in the allowed client id set.
func (c *Client) clientIDAllowed(id string) bool {
	for _, allowed := range c.cfg.AllowedClientIDs {
		if allowed == id {
			return true
		}
	}
	return false
}

// UserInfo fetches the user claims for the held access token. No state
// change.
func (c *Client) UserInfo(ctx context.Context, state *TokenState) (map[string]any, error) {
	held := state.Pair()
	if held == nil || held.AccessToken == "" {
		return nil, ErrNoTokenHeld("no access token held, pass the authentication first")
	}

	endpoint := util.JoinURL(c.cfg.Endpoints.PublicHost, c.cfg.Endpoints.UserinfoPath)
	query := url.Values{"access_token": {held.AccessToken}}

	body, err := c.get(ctx, "userinfo", endpoint+"?"+query.Encode())
	if err != nil {
		return nil, err
	}

	var claims map[string]any
	if err := json.Unmarshal(body, &claims); err != nil {
		return nil, ErrUpstream(http.StatusOK, body)
	}
	return claims, nil
}

// Revoke revokes the token of the given kind. Revoking an absent token is
// a no-op, not an error, and does not alter the held state. Any cache
// entry for the revoked token is deleted best-effort.
func (c *Client) Revoke(ctx context.Context, state *TokenState, kind TokenKind) error {
	token := state.Pair().Token(kind)
	if token == "" {
		return nil
	}
	return c.revokeToken(ctx, kind, token)
}

// RevokeAll revokes the access and refresh tokens concurrently. Fails with
// a no-token error when no pair is held at all. The held pair is cleared
// only when both revocations succeed; on partial failure the state is kept
// so the caller can retry.
func (c *Client) RevokeAll(ctx context.Context, state *TokenState) error {
	held := state.Pair()
	if held == nil || (held.AccessToken == "" && held.RefreshToken == "") {
		return ErrNoTokenHeld("no token held, pass the authentication first")
	}

	errc := make(chan error, 2)
	for _, kind := range []TokenKind{AccessToken, RefreshToken} {
		go func(kind TokenKind) {
			token := held.Token(kind)
			if token == "" {
				errc <- nil
				return
			}
			errc <- c.revokeToken(ctx, kind, token)
		}(kind)
	}

	if err := errors.Join(<-errc, <-errc); err != nil {
		return err
	}

	state.clear()
	return nil
}

// revokeToken posts the revocation request and drops the cache entry for
// the token.
func (c *Client) revokeToken(ctx context.Context, kind TokenKind, token string) error {
	c.logger.Debug("Revoking token",
		"kind", string(kind),
		"token", util.SafeTruncate(token, tokenLogLength))

	_, err := c.postForm(ctx, "revoke",
		util.JoinURL(c.cfg.Endpoints.PublicHost, c.cfg.Endpoints.RevokePath),
		url.Values{
			"token_type_hint": {string(kind)},
			"token":           {token},
		},
		true)
	if err != nil {
		c.recordTokenOp(ctx, "revoke", "error")
		return err
	}

	if c.cache != nil {
		logCacheError(c.cfg.Logger, "delete", c.cache.Delete(ctx, token))
	}
	c.recordTokenOp(ctx, "revoke", "ok")
	return nil
}

// postForm sends a form-encoded POST and returns the response body.
// When useAuth is set, the client credentials are attached according to
// the configured authorization method. Non-2xx responses become upstream
// errors with status and body preserved.
func (c *Client) postForm(ctx context.Context, endpoint, rawurl string, form url.Values, useAuth bool) ([]byte, error) {
	if useAuth && c.cfg.AuthorizationMethod == AuthMethodBody {
		form.Set("client_id", c.cfg.ClientID)
		form.Set("client_secret", c.cfg.ClientSecret)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rawurl, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to build %s request: %w", endpoint, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	if useAuth && c.cfg.AuthorizationMethod == AuthMethodHeader {
		req.Header.Set("Authorization", "Basic "+c.basicAuth())
	}

	return c.do(ctx, endpoint, req)
}

// get sends a GET request with the client credentials attached as a Basic
// header when the header authorization method is configured. The body
// method cannot carry credentials on a GET and sends none.
func (c *Client) get(ctx context.Context, endpoint, rawurl string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawurl, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build %s request: %w", endpoint, err)
	}
	req.Header.Set("Accept", "application/json")
	if c.cfg.AuthorizationMethod == AuthMethodHeader {
		req.Header.Set("Authorization", "Basic "+c.basicAuth())
	}

	return c.do(ctx, endpoint, req)
}

// do executes the request and maps non-2xx responses to upstream errors.
func (c *Client) do(ctx context.Context, endpoint string, req *http.Request) ([]byte, error) {
	if id := security.GetRequestID(ctx); id != "" {
		req.Header.Set(security.RequestIDHeader, id)
	}

	c.logger.Debug("Sending upstream request",
		"method", req.Method,
		"url", req.URL.String(),
		"endpoint", endpoint)

	start := time.Now()
	resp, err := c.cfg.HTTPClient.Do(req)
	if err != nil {
		c.observeUpstream(ctx, endpoint, start, 0)
		return nil, &Error{
			Code:        ErrorCodeUpstreamError,
			Description: err.Error(),
			Status:      http.StatusBadGateway,
		}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBodySize))
	if err != nil {
		return nil, fmt.Errorf("failed to read %s response: %w", endpoint, err)
	}

	c.observeUpstream(ctx, endpoint, start, resp.StatusCode)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Warn("Authorization server returned an error",
			"endpoint", endpoint,
			"status", resp.StatusCode)
		return nil, ErrUpstream(resp.StatusCode, body)
	}

	return body, nil
}

// basicAuth builds the Basic credentials, form-url-encoding each part
// before base64 as required by RFC 6749 section 2.3.1.
func (c *Client) basicAuth() string {
	id := formURLEncode(c.cfg.ClientID)
	secret := formURLEncode(c.cfg.ClientSecret)
	return base64.StdEncoding.EncodeToString([]byte(id + ":" + secret))
}

// formURLEncode percent-encodes a credential part, with spaces as "+".
func formURLEncode(value string) string {
	return strings.ReplaceAll(url.QueryEscape(value), "%20", "+")
}

// upstreamError converts an x/oauth2 failure, preserving the authorization
// server's status and body when one answered.
func (c *Client) upstreamError(err error) error {
	var rErr *oauth2.RetrieveError
	if errors.As(err, &rErr) {
		status := 0
		if rErr.Response != nil {
			status = rErr.Response.StatusCode
		}
		return ErrUpstream(status, rErr.Body)
	}
	return &Error{
		Code:        ErrorCodeUpstreamError,
		Description: err.Error(),
		Status:      http.StatusBadGateway,
	}
}

// tokenPairFrom converts an x/oauth2 token into the wire-level pair,
// restoring the extra fields the oauth2 package keeps in its raw form.
func tokenPairFrom(tok *oauth2.Token) *TokenPair {
	pair := &TokenPair{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		TokenType:    tok.TokenType,
	}

	if v, ok := tok.Extra("scope").(string); ok {
		pair.Scope = v
	}
	if v, ok := tok.Extra("id_token").(string); ok {
		pair.IDToken = v
	}

	pair.ExpiresIn = expiresInFrom(tok)
	return pair
}

// expiresInFrom extracts the expires_in seconds, falling back to the
// computed expiry when the raw field is absent.
func expiresInFrom(tok *oauth2.Token) int64 {
	switch v := tok.Extra("expires_in").(type) {
	case float64:
		return int64(v)
	case int64:
		return v
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return n
		}
	case string:
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	if tok.Expiry.IsZero() {
		return 0
	}
	return int64(time.Until(tok.Expiry).Round(time.Second).Seconds())
}

// Metric recording helpers. All are no-ops without instrumentation.

func (c *Client) recordTokenOp(ctx context.Context, op, outcome string) {
	if c.inst == nil {
		return
	}
	c.inst.Metrics().TokenOperationsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("op", op),
		attribute.String("outcome", outcome),
	))
}

func (c *Client) recordIntrospection(ctx context.Context, result *IntrospectionResult, source string) {
	if c.inst == nil {
		return
	}
	outcome := "valid"
	if result.Invalid {
		outcome = "invalid"
	}
	c.inst.Metrics().IntrospectionsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("outcome", outcome),
		attribute.String("source", source),
	))
}

func (c *Client) recordIntrospectionError(ctx context.Context) {
	if c.inst == nil {
		return
	}
	c.inst.Metrics().IntrospectionsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("outcome", "error"),
		attribute.String("source", "live"),
	))
}

func (c *Client) recordCacheOp(ctx context.Context, op, result string) {
	if c.inst == nil {
		return
	}
	c.inst.Metrics().CacheOperationsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("op", op),
		attribute.String("result", result),
	))
}

func (c *Client) observeUpstream(ctx context.Context, endpoint string, start time.Time, status int) {
	if c.inst == nil {
		return
	}
	elapsed := float64(time.Since(start).Microseconds()) / 1000.0
	c.inst.Metrics().UpstreamRequestDuration.Record(ctx, elapsed, metric.WithAttributes(
		attribute.String("endpoint", endpoint),
	))
	if status >= 400 || status == 0 {
		c.inst.Metrics().UpstreamErrorsTotal.Add(ctx, 1, metric.WithAttributes(
			attribute.String("endpoint", endpoint),
			attribute.Int("status", status),
		))
	}
}
