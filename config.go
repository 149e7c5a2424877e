package oauthclient

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/authrelay/oauth-client/instrumentation"
	"github.com/authrelay/oauth-client/kvstore/valkey"
)

// AuthMethod selects how client credentials are sent on token-endpoint calls.
type AuthMethod string

const (
	// AuthMethodHeader sends HTTP Basic auth with base64(client_id:client_secret)
	AuthMethodHeader AuthMethod = "header"
	// AuthMethodBody injects client_id and client_secret into the POST body
	AuthMethodBody AuthMethod = "body"
)

// Default endpoint paths, matching the authorization server's defaults.
const (
	DefaultAuthorizePath  = "/oauth2/authorize"
	DefaultTokenPath      = "/oauth2/token"
	DefaultRevokePath     = "/oauth2/revoke"
	DefaultUserinfoPath   = "/userinfo"
	DefaultIntrospectPath = "/oauth2/introspect"
)

// EndpointConfig holds the authorization server endpoints. Immutable after
// the Client is constructed.
type EndpointConfig struct {
	// PublicHost is the base URL for browser-facing endpoints (required),
	// e.g. "https://auth.example.com"
	PublicHost string

	// PrivateHost is the base URL for server-to-server endpoints such as
	// introspection. Defaults to PublicHost.
	PrivateHost string

	// AuthorizePath defaults to "/oauth2/authorize"
	AuthorizePath string

	// TokenPath defaults to "/oauth2/token"
	TokenPath string

	// RevokePath defaults to "/oauth2/revoke"
	RevokePath string

	// UserinfoPath defaults to "/userinfo"
	UserinfoPath string

	// IntrospectPath defaults to "/oauth2/introspect"
	IntrospectPath string

	// RedirectURI is the callback URL registered with the authorization
	// server (required)
	RedirectURI string
}

// Config holds the Client configuration. Every recognized option is
// enumerated here and validated once at construction; there are no
// layered defaults.
type Config struct {
	// ClientID is the OAuth client identifier (required)
	ClientID string

	// ClientSecret is the OAuth client secret (required)
	ClientSecret string

	// AllowedClientIDs lists the client ids accepted on introspected
	// tokens. ClientID is always included exactly once.
	AllowedClientIDs []string

	// Endpoints configures the authorization server endpoints
	Endpoints EndpointConfig

	// AuthorizationMethod is how client credentials are sent, "header"
	// (default) or "body". Fixed at construction and applied uniformly to
	// every token-endpoint call.
	AuthorizationMethod AuthMethod

	// Debug enables verbose request logging and raw upstream error
	// messages at the middleware boundary
	Debug bool

	// Logger for structured logging (optional, uses slog.Default if not provided)
	Logger *slog.Logger

	// HTTPClient is a custom HTTP client for upstream requests. If not
	// provided, http.DefaultClient is used. Deployments needing bounded
	// latency should configure transport timeouts here.
	HTTPClient *http.Client

	// Instrumentation provides OpenTelemetry metrics and traces (optional)
	Instrumentation *instrumentation.Instrumentation
}

// setDefaults fills in defaulted fields and normalizes AllowedClientIDs.
func (c *Config) setDefaults() {
	if c.Endpoints.PrivateHost == "" {
		c.Endpoints.PrivateHost = c.Endpoints.PublicHost
	}
	if c.Endpoints.AuthorizePath == "" {
		c.Endpoints.AuthorizePath = DefaultAuthorizePath
	}
	if c.Endpoints.TokenPath == "" {
		c.Endpoints.TokenPath = DefaultTokenPath
	}
	if c.Endpoints.RevokePath == "" {
		c.Endpoints.RevokePath = DefaultRevokePath
	}
	if c.Endpoints.UserinfoPath == "" {
		c.Endpoints.UserinfoPath = DefaultUserinfoPath
	}
	if c.Endpoints.IntrospectPath == "" {
		c.Endpoints.IntrospectPath = DefaultIntrospectPath
	}
	if c.AuthorizationMethod == "" {
		c.AuthorizationMethod = AuthMethodHeader
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.HTTPClient == nil {
		c.HTTPClient = http.DefaultClient
	}

	c.AllowedClientIDs = normalizeAllowedClientIDs(c.AllowedClientIDs, c.ClientID)
}

// validate checks required options. Called after setDefaults.
func (c *Config) validate() error {
	if c.ClientID == "" {
		return ErrConfiguration("clientId is required")
	}
	if c.ClientSecret == "" {
		return ErrConfiguration("clientSecret is required")
	}
	if c.Endpoints.PublicHost == "" {
		return ErrConfiguration("endpoints.publicHost is required")
	}
	if c.Endpoints.RedirectURI == "" {
		return ErrConfiguration("endpoints.redirectUri is required")
	}
	if c.AuthorizationMethod != AuthMethodHeader && c.AuthorizationMethod != AuthMethodBody {
		return ErrConfiguration("authorizationMethod must be \"header\" or \"body\"")
	}
	return nil
}

// normalizeAllowedClientIDs deduplicates ids and guarantees clientID is
// present exactly once.
func normalizeAllowedClientIDs(ids []string, clientID string) []string {
	seen := make(map[string]bool, len(ids)+1)
	out := make([]string, 0, len(ids)+1)
	for _, id := range append(ids, clientID) {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

// CacheKind selects the introspection cache backend.
type CacheKind string

const (
	// CacheNone disables introspection caching; every Introspect call hits
	// the authorization server
	CacheNone CacheKind = "none"
	// CacheLRU uses the in-process LRU store
	CacheLRU CacheKind = "lru"
	// CacheNetworked uses the Valkey-backed store
	CacheNetworked CacheKind = "networked"
)

// DefaultCacheKeyPrefix namespaces introspection cache keys.
const DefaultCacheKeyPrefix = "oauthToken"

// CacheConfig selects and configures the introspection cache.
type CacheConfig struct {
	// Kind is "none" (default), "lru" or "networked"
	Kind CacheKind

	// KeyPrefix namespaces cache keys so multiple logical caches can share
	// one physical store. Defaults to "oauthToken".
	KeyPrefix string

	// MaxAge caps the TTL of a cache entry. Zero means entries live until
	// the introspected token's exp.
	MaxAge time.Duration

	// MaxEntries bounds the LRU store. Zero means unbounded. Ignored for
	// the networked backend.
	MaxEntries int

	// Valkey configures the networked backend. Required when Kind is
	// "networked".
	Valkey valkey.Config
}
