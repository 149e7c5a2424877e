package oauthclient

// TokenKind identifies one half of a TokenPair for revocation.
type TokenKind string

const (
	// AccessToken selects the access token of a pair
	AccessToken TokenKind = "access_token"
	// RefreshToken selects the refresh token of a pair
	RefreshToken TokenKind = "refresh_token"
)

// TokenPair is an OAuth2 token grant as returned by the token endpoint.
type TokenPair struct {
	// AccessToken is the bearer token presented to protected resources
	AccessToken string `json:"access_token"`

	// RefreshToken is the optional token used to obtain a new grant
	RefreshToken string `json:"refresh_token,omitempty"`

	// ExpiresIn is the access token lifetime in seconds
	ExpiresIn int64 `json:"expires_in,omitempty"`

	// TokenType is the token type reported by the server (e.g., "bearer")
	TokenType string `json:"token_type,omitempty"`

	// Scope is the granted scope (may differ from the requested one)
	Scope string `json:"scope,omitempty"`

	// IDToken is the optional OIDC ID token
	IDToken string `json:"id_token,omitempty"`
}

// Clone returns a deep copy of the pair, or nil for a nil pair. Sessions
// store a copy, never a shared reference.
func (p *TokenPair) Clone() *TokenPair {
	if p == nil {
		return nil
	}
	cp := *p
	return &cp
}

// Token returns the token string selected by kind, or "" when absent.
func (p *TokenPair) Token(kind TokenKind) string {
	if p == nil {
		return ""
	}
	switch kind {
	case AccessToken:
		return p.AccessToken
	case RefreshToken:
		return p.RefreshToken
	}
	return ""
}

// Introspection invalidity reasons. The strings are part of the API surface
// consumed by downstream services and must not change.
const (
	ReasonTokenNotActive   = "Token not active"
	ReasonTokenTypeInvalid = "Token type invalid"
	ReasonClientIDInvalid  = "Client_id invalid"
)

// IntrospectionResult is the outcome of a token introspection call,
// extended with the client-side validity decision.
type IntrospectionResult struct {
	// Active reports whether the authorization server considers the token valid
	Active bool `json:"active"`

	// Scope is the scope the token carries
	Scope string `json:"scope,omitempty"`

	// ClientID is the client the token was issued to
	ClientID string `json:"client_id,omitempty"`

	// Sub is the subject (user) identifier
	Sub string `json:"sub,omitempty"`

	// Exp is the Unix-seconds expiry of the token
	Exp int64 `json:"exp,omitempty"`

	// Iat is the Unix-seconds issue time
	Iat int64 `json:"iat,omitempty"`

	// Iss is the issuer URL
	Iss string `json:"iss,omitempty"`

	// TokenType is the introspected token's type (expected "access_token")
	TokenType string `json:"token_type,omitempty"`

	// Invalid is true when any client-side validity check failed
	Invalid bool `json:"invalid"`

	// Reason explains why Invalid is true; "" when the token is valid
	Reason string `json:"reason"`
}

// TokenState is the caller-owned token holder passed into every Client
// operation. It is either Unauthenticated (no pair held) or holds exactly
// one TokenPair. One logical session owns one TokenState; the zero of
// synchronization applies: at most one in-flight state-changing operation
// per instance.
type TokenState struct {
	pair *TokenPair
}

// NewTokenState creates a token state holding pair. A nil pair yields the
// Unauthenticated state.
func NewTokenState(pair *TokenPair) *TokenState {
	return &TokenState{pair: pair}
}

// Authenticated reports whether a token pair is held.
func (s *TokenState) Authenticated() bool {
	return s != nil && s.pair != nil
}

// Pair returns the held token pair, or nil when Unauthenticated.
func (s *TokenState) Pair() *TokenPair {
	if s == nil {
		return nil
	}
	return s.pair
}

// hold replaces the held pair wholesale.
func (s *TokenState) hold(pair *TokenPair) {
	s.pair = pair
}

// clear transitions back to Unauthenticated.
func (s *TokenState) clear() {
	s.pair = nil
}
