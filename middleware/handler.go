package middleware

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"regexp"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	oauthclient "github.com/authrelay/oauth-client"
	"github.com/authrelay/oauth-client/instrumentation"
	"github.com/authrelay/oauth-client/internal/util"
	"github.com/authrelay/oauth-client/security"
)

// DefaultNamespace names the session cookie and is the default for
// Config.Namespace.
const DefaultNamespace = "auth"

// genericAuthError is shown instead of introspection reasons and upstream
// messages unless debug is enabled.
const genericAuthError = "Authentication Error"

// bearerPattern extracts the token from an Authorization header. The
// scheme is matched case-insensitively.
var bearerPattern = regexp.MustCompile(`^(?i:Bearer)\s+(.+)$`)

// RateLimitConfig holds per-IP rate limiting for the login endpoints.
type RateLimitConfig struct {
	// Rate is requests per second allowed per IP. Zero disables limiting.
	Rate int

	// Burst is the maximum burst size allowed per IP.
	Burst int

	// TrustProxy enables trusting X-Forwarded-For and X-Real-IP headers.
	// Only enable behind a trusted reverse proxy.
	TrustProxy bool
}

// Config holds the middleware configuration.
type Config struct {
	// Client performs the OAuth operations (required)
	Client *oauthclient.Client

	// SessionKey is the 32-byte AES key sealing the session cookie
	// (required). Generate with security.GenerateKey.
	SessionKey []byte

	// Namespace names the session cookie; defaults to "auth"
	Namespace string

	// Scope is requested on login
	Scope []string

	// PostMessageTemplate is the popup response script with {errorCode},
	// {accessToken}, {expiresIn}, {isSuccess}, {targetOrigin}
	// placeholders (required)
	PostMessageTemplate string

	// PostMessageTargetOrigin defaults to "*"
	PostMessageTargetOrigin string

	// Passthrough lets unauthenticated requests through the guard with no
	// introspection result attached
	Passthrough bool

	// CookiePath defaults to "/"
	CookiePath string

	// SecureCookies marks the session cookie Secure
	SecureCookies bool

	// RateLimit configures per-IP limiting on login and callback
	RateLimit RateLimitConfig

	// Logger for structured logging (optional, uses slog.Default if not provided)
	Logger *slog.Logger

	// Instrumentation provides OpenTelemetry metrics (optional)
	Instrumentation *instrumentation.Instrumentation
}

// Handler exposes the OAuth client as session-bound request handlers:
// Login, Callback, Refresh, Logout, UserInfo, Introspect, and the
// request-guarding AuthenticateRequest middleware.
type Handler struct {
	cfg     Config
	client  *oauthclient.Client
	sealer  *security.Sealer
	limiter *security.RateLimiter
	logger  *slog.Logger
	inst    *instrumentation.Instrumentation
}

// New creates the middleware handler.
func New(cfg Config) (*Handler, error) {
	if cfg.Client == nil {
		return nil, oauthclient.ErrConfiguration("client is required")
	}
	if cfg.PostMessageTemplate == "" {
		return nil, oauthclient.ErrConfiguration("postMessageTemplate is required")
	}
	if cfg.Namespace == "" {
		cfg.Namespace = DefaultNamespace
	}
	if cfg.PostMessageTargetOrigin == "" {
		cfg.PostMessageTargetOrigin = "*"
	}
	if cfg.CookiePath == "" {
		cfg.CookiePath = "/"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	sealer, err := security.NewSealer(cfg.SessionKey)
	if err != nil {
		return nil, oauthclient.ErrConfiguration("sessionKey: " + err.Error())
	}

	h := &Handler{
		cfg:    cfg,
		client: cfg.Client,
		sealer: sealer,
		logger: cfg.Logger,
		inst:   cfg.Instrumentation,
	}
	if cfg.RateLimit.Rate > 0 {
		h.limiter = security.NewRateLimiter(cfg.RateLimit.Rate, cfg.RateLimit.Burst, cfg.Logger)
	}
	return h, nil
}

// Close stops background goroutines.
func (h *Handler) Close() {
	if h.limiter != nil {
		h.limiter.Stop()
	}
}

// Routes registers the handler endpoints on mux under the given prefix
// (e.g. "/auth").
func (h *Handler) Routes(mux *http.ServeMux, prefix string) {
	mux.HandleFunc(prefix+"/login", h.Login)
	mux.HandleFunc(prefix+"/callback", h.Callback)
	mux.HandleFunc(prefix+"/refresh", h.Refresh)
	mux.HandleFunc(prefix+"/logout", h.Logout)
	mux.HandleFunc(prefix+"/userinfo", h.UserInfo)
	mux.HandleFunc(prefix+"/introspect", h.Introspect)
}

// Login starts the authorization flow: it stores a fresh CSRF state in
// the session and redirects to the authorization endpoint. Popup response
// mode: errors are rendered as postMessage payloads.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	r = h.withRequestID(w, r)
	if h.rateLimited(w, r, true) {
		return
	}

	s := h.loadSession(r)
	if s.loggedIn() {
		h.popupError(w, errors.New("User already logged"))
		return
	}

	s.State = newStateToken()
	if err := h.saveSession(w, s); err != nil {
		h.popupError(w, err)
		return
	}

	http.Redirect(w, r, h.client.AuthorizeURL(h.cfg.Scope, s.State), http.StatusFound)
}

// Callback handles the authorization server redirect: it validates the
// CSRF state, exchanges the code, stores the grant in the session, and
// renders the popup success payload.
func (h *Handler) Callback(w http.ResponseWriter, r *http.Request) {
	r = h.withRequestID(w, r)
	if h.rateLimited(w, r, true) {
		return
	}

	s := h.loadSession(r)
	if s.loggedIn() {
		h.popupError(w, errors.New("User already logged"))
		return
	}

	code := r.URL.Query().Get("code")
	state := r.URL.Query().Get("state")
	if code == "" || state == "" || state != s.State {
		h.popupError(w, errors.New("Invalid code or state"))
		return
	}

	ts := oauthclient.NewTokenState(nil)
	pair, err := h.client.ExchangeCode(r.Context(), ts, code)
	if err != nil {
		h.logger.Error("Code exchange failed", "error", err)
		h.popupError(w, err)
		return
	}

	s.State = ""
	s.Tokens = pair.Clone()
	if err := h.saveSession(w, s); err != nil {
		h.popupError(w, err)
		return
	}

	h.writePostMessage(w, postMessageParams{
		AccessToken: pair.AccessToken,
		ExpiresIn:   pair.ExpiresIn,
	})
}

// Refresh exchanges the session's refresh token for a new grant and
// returns the new access token as JSON.
func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	r = h.withRequestID(w, r)

	s := h.loadSession(r)
	if !s.loggedIn() {
		h.writeError(w, http.StatusUnauthorized, "user-not-logged", "User not logged")
		return
	}

	ts := oauthclient.NewTokenState(s.Tokens.Clone())
	pair, err := h.client.Refresh(r.Context(), ts)
	if err != nil {
		h.jsonError(w, err)
		return
	}

	s.Tokens = pair.Clone()
	if err := h.saveSession(w, s); err != nil {
		h.jsonError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"access_token": pair.AccessToken,
		"expires_in":   pair.ExpiresIn,
	})
}

// Logout revokes both tokens and destroys the session. The session is
// kept when revocation fails so the user can retry.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	r = h.withRequestID(w, r)

	s := h.loadSession(r)
	if !s.loggedIn() {
		h.writeError(w, http.StatusUnauthorized, "user-not-logged", "User not logged")
		return
	}

	ts := oauthclient.NewTokenState(s.Tokens.Clone())
	if err := h.client.RevokeAll(r.Context(), ts); err != nil {
		h.jsonError(w, err)
		return
	}

	h.clearSession(w)
	w.WriteHeader(http.StatusNoContent)
}

// UserInfo returns the user claims for the session's access token.
func (h *Handler) UserInfo(w http.ResponseWriter, r *http.Request) {
	r = h.withRequestID(w, r)

	s := h.loadSession(r)
	if !s.loggedIn() {
		h.writeError(w, http.StatusUnauthorized, "user-not-logged", "User not logged")
		return
	}

	ts := oauthclient.NewTokenState(s.Tokens.Clone())
	claims, err := h.client.UserInfo(r.Context(), ts)
	if err != nil {
		h.jsonError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, claims)
}

// Introspect introspects the session's access token and returns the
// result as JSON. When introspection invalidates the token, the session's
// grant is dropped.
func (h *Handler) Introspect(w http.ResponseWriter, r *http.Request) {
	r = h.withRequestID(w, r)

	s := h.loadSession(r)
	if !s.loggedIn() {
		h.writeError(w, http.StatusUnauthorized, "user-not-logged", "User not logged")
		return
	}

	ts := oauthclient.NewTokenState(s.Tokens.Clone())
	result, err := h.client.Introspect(r.Context(), ts)
	if err != nil {
		h.jsonError(w, err)
		return
	}

	if result.Invalid {
		s.Tokens = nil
		if err := h.saveSession(w, s); err != nil {
			h.jsonError(w, err)
			return
		}
	}

	h.writeJSON(w, http.StatusOK, result)
}

// AuthenticateRequest guards downstream handlers: it extracts the Bearer
// token from the Authorization header, introspects it, and either rejects
// with 401 or forwards to next with the introspection result attached to
// the request context. With Passthrough set, requests without a valid
// token pass through without a result.
func (h *Handler) AuthenticateRequest(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r = h.withRequestID(w, r)

		token := bearerToken(r)
		if token == "" {
			if h.cfg.Passthrough {
				h.recordGuard(r, "passthrough")
				next.ServeHTTP(w, r)
				return
			}
			h.recordGuard(r, "rejected")
			h.writeError(w, http.StatusUnauthorized, "invalid-authorization-header",
				`Bad Authorization header format. Format is "Authorization: Bearer <token>"`)
			return
		}

		ts := oauthclient.NewTokenState(&oauthclient.TokenPair{AccessToken: token})
		result, err := h.client.Introspect(r.Context(), ts)
		if err != nil {
			h.recordGuard(r, "rejected")
			h.jsonError(w, err)
			return
		}

		if result.Invalid && !h.cfg.Passthrough {
			h.logger.Warn("Request authentication failed", "reason", result.Reason)
			h.recordGuard(r, "rejected")
			msg := genericAuthError
			if h.client.Debug() {
				msg = result.Reason
			}
			h.writeError(w, http.StatusUnauthorized, "authentication-error", msg)
			return
		}

		h.recordGuard(r, "ok")
		next.ServeHTTP(w, r.WithContext(contextWithIntrospection(r.Context(), result)))
	})
}

// bearerToken extracts the Bearer token from the Authorization header, or
// "" when the header is absent or malformed.
func bearerToken(r *http.Request) string {
	m := bearerPattern.FindStringSubmatch(r.Header.Get("Authorization"))
	if m == nil {
		return ""
	}
	return m[1]
}

// withRequestID attaches a request ID to the request context and echoes
// it on the response, reusing a valid inbound X-Request-ID.
func (h *Handler) withRequestID(w http.ResponseWriter, r *http.Request) *http.Request {
	id := r.Header.Get(security.RequestIDHeader)
	if id == "" || !security.ValidRequestID(id) {
		id = security.GenerateRequestID()
	}
	w.Header().Set(security.RequestIDHeader, id)
	return r.WithContext(security.WithRequestID(r.Context(), id))
}

// rateLimited enforces the per-IP limit on flow endpoints. Returns true
// when the request was rejected.
func (h *Handler) rateLimited(w http.ResponseWriter, r *http.Request, popup bool) bool {
	if h.limiter == nil {
		return false
	}

	ip := security.GetClientIP(r, h.cfg.RateLimit.TrustProxy)
	if h.limiter.Allow(ip) {
		return false
	}

	h.logger.Warn("Rate limit exceeded", "ip", ip, "path", r.URL.Path)
	if h.inst != nil {
		h.inst.Metrics().RateLimitExceeded.Add(r.Context(), 1)
	}
	if popup {
		h.writePostMessage(w, postMessageParams{ErrorCode: "too-many-requests"})
	} else {
		h.writeError(w, http.StatusTooManyRequests, "too-many-requests", "Too many requests")
	}
	return true
}

// popupError renders an error as a postMessage payload. Raw error text is
// only exposed as the error code when debug is enabled.
func (h *Handler) popupError(w http.ResponseWriter, err error) {
	h.logger.Error("Flow endpoint failed", "error", err)

	code := "authentication-error"
	var cerr *oauthclient.Error
	switch {
	case errors.As(err, &cerr) && cerr.Code == oauthclient.ErrorCodeUpstreamError:
		if h.client.Debug() {
			code = util.KebabCase(cerr.Description)
		}
	default:
		code = util.KebabCase(err.Error())
	}
	h.writePostMessage(w, postMessageParams{ErrorCode: code})
}

// jsonError maps a client error to a JSON error response. Upstream error
// bodies are only exposed when debug is enabled.
func (h *Handler) jsonError(w http.ResponseWriter, err error) {
	h.logger.Error("Endpoint failed", "error", err)

	var cerr *oauthclient.Error
	if !errors.As(err, &cerr) {
		h.writeError(w, http.StatusInternalServerError, "internal-error", "Internal error")
		return
	}

	msg := cerr.Description
	if cerr.Code == oauthclient.ErrorCodeUpstreamError && !h.client.Debug() {
		msg = genericAuthError
	}
	h.writeError(w, cerr.Status, util.KebabCase(cerr.Code), msg)
}

// writeError writes a JSON error body.
func (h *Handler) writeError(w http.ResponseWriter, status int, code, description string) {
	h.writeJSON(w, status, map[string]string{
		"error":             code,
		"error_description": description,
	})
}

// writeJSON writes v as a JSON response.
func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Warn("Failed to write response", "error", err)
	}
}

// recordGuard counts guard outcomes.
func (h *Handler) recordGuard(r *http.Request, outcome string) {
	if h.inst == nil {
		return
	}
	h.inst.Metrics().RequestsAuthenticated.Add(r.Context(), 1, metric.WithAttributes(
		attribute.String("outcome", outcome),
	))
}
