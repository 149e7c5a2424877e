package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	oauthclient "github.com/authrelay/oauth-client"
	"github.com/authrelay/oauth-client/internal/testutil"
)

const testTemplate = `postMessage({code:"{errorCode}",token:"{accessToken}",expires:{expiresIn},success:{isSuccess}}, "{targetOrigin}")`

var testSessionKey = []byte("0123456789abcdef0123456789abcdef")

func newTestHandler(t *testing.T, srv *testutil.AuthServer, mutate func(*Config)) *Handler {
	t.Helper()

	client, err := oauthclient.New(oauthclient.Config{
		ClientID:     testutil.ClientID,
		ClientSecret: testutil.ClientSecret,
		Endpoints: oauthclient.EndpointConfig{
			PublicHost:  srv.URL,
			RedirectURI: srv.URL + "/auth/callback",
		},
	}, nil)
	if err != nil {
		t.Fatalf("client New failed: %v", err)
	}

	cfg := Config{
		Client:              client,
		SessionKey:          testSessionKey,
		Scope:               []string{"openid", "offline"},
		PostMessageTemplate: testTemplate,
	}
	if mutate != nil {
		mutate(&cfg)
	}

	h, err := New(cfg)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	t.Cleanup(h.Close)
	return h
}

// sessionCookie seals s into a cookie the handler will accept.
func sessionCookie(t *testing.T, h *Handler, s *session) *http.Cookie {
	t.Helper()

	plaintext, err := json.Marshal(s)
	if err != nil {
		t.Fatalf("marshal session: %v", err)
	}
	sealed, err := h.sealer.Seal(plaintext)
	if err != nil {
		t.Fatalf("seal session: %v", err)
	}
	return &http.Cookie{Name: h.cookieName(), Value: sealed}
}

// savedSession unseals the session cookie set on the response, or nil when
// none was set.
func savedSession(t *testing.T, h *Handler, rec *httptest.ResponseRecorder) *session {
	t.Helper()

	for _, c := range rec.Result().Cookies() {
		if c.Name != h.cookieName() || c.MaxAge < 0 {
			continue
		}
		plaintext, err := h.sealer.Open(c.Value)
		if err != nil {
			t.Fatalf("unseal saved session: %v", err)
		}
		s := &session{}
		if err := json.Unmarshal(plaintext, s); err != nil {
			t.Fatalf("decode saved session: %v", err)
		}
		return s
	}
	return nil
}

func TestNewValidation(t *testing.T) {
	srv := testutil.NewAuthServer()
	defer srv.Close()

	client, _ := oauthclient.New(oauthclient.Config{
		ClientID:     testutil.ClientID,
		ClientSecret: testutil.ClientSecret,
		Endpoints: oauthclient.EndpointConfig{
			PublicHost:  srv.URL,
			RedirectURI: srv.URL + "/auth/callback",
		},
	}, nil)

	tests := []struct {
		name string
		cfg  Config
	}{
		{name: "missing client", cfg: Config{SessionKey: testSessionKey, PostMessageTemplate: testTemplate}},
		{name: "missing template", cfg: Config{Client: client, SessionKey: testSessionKey}},
		{name: "short session key", cfg: Config{Client: client, SessionKey: []byte("short"), PostMessageTemplate: testTemplate}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := New(tc.cfg); err == nil {
				t.Error("expected a configuration error")
			}
		})
	}
}

func TestNewDefaults(t *testing.T) {
	srv := testutil.NewAuthServer()
	defer srv.Close()
	h := newTestHandler(t, srv, nil)

	if h.cfg.Namespace != DefaultNamespace {
		t.Errorf("got namespace %q, want %q", h.cfg.Namespace, DefaultNamespace)
	}
	if h.cfg.PostMessageTargetOrigin != "*" {
		t.Errorf("got target origin %q, want *", h.cfg.PostMessageTargetOrigin)
	}
	if h.cfg.CookiePath != "/" {
		t.Errorf("got cookie path %q, want /", h.cfg.CookiePath)
	}
	if h.cookieName() != "auth_session" {
		t.Errorf("got cookie name %q, want auth_session", h.cookieName())
	}
}

func TestLoginRedirects(t *testing.T) {
	srv := testutil.NewAuthServer()
	defer srv.Close()
	h := newTestHandler(t, srv, nil)

	rec := httptest.NewRecorder()
	h.Login(rec, httptest.NewRequest("GET", "/auth/login", nil))

	if rec.Code != http.StatusFound {
		t.Fatalf("got status %d, want %d", rec.Code, http.StatusFound)
	}

	loc, err := url.Parse(rec.Header().Get("Location"))
	if err != nil {
		t.Fatalf("unparsable Location: %v", err)
	}
	if loc.Path != "/oauth2/authorize" {
		t.Errorf("got path %q, want /oauth2/authorize", loc.Path)
	}
	if loc.Query().Get("scope") != "openid offline" {
		t.Errorf("got scope %q", loc.Query().Get("scope"))
	}

	// The CSRF state in the redirect matches the one sealed into the
	// session cookie.
	s := savedSession(t, h, rec)
	if s == nil || s.State == "" {
		t.Fatal("expected a session with a state token")
	}
	if loc.Query().Get("state") != s.State {
		t.Errorf("redirect state %q does not match session state %q", loc.Query().Get("state"), s.State)
	}
}

func TestLoginAlreadyLogged(t *testing.T) {
	srv := testutil.NewAuthServer()
	defer srv.Close()
	h := newTestHandler(t, srv, nil)

	r := httptest.NewRequest("GET", "/auth/login", nil)
	r.AddCookie(sessionCookie(t, h, &session{Tokens: &oauthclient.TokenPair{AccessToken: "at"}}))

	rec := httptest.NewRecorder()
	h.Login(rec, r)

	if rec.Code != http.StatusOK {
		t.Fatalf("got status %d, want %d", rec.Code, http.StatusOK)
	}
	body := rec.Body.String()
	if !strings.Contains(body, `code:"user-already-logged"`) {
		t.Errorf("body %q should carry the kebab-cased error code", body)
	}
	if !strings.Contains(body, "success:false") {
		t.Errorf("body %q should report failure with a bare boolean", body)
	}
}

func TestCallback(t *testing.T) {
	srv := testutil.NewAuthServer()
	defer srv.Close()
	h := newTestHandler(t, srv, nil)

	r := httptest.NewRequest("GET", "/auth/callback?code=code-1&state=state-1", nil)
	r.AddCookie(sessionCookie(t, h, &session{State: "state-1"}))

	rec := httptest.NewRecorder()
	h.Callback(rec, r)

	if rec.Code != http.StatusOK {
		t.Fatalf("got status %d, want %d: %s", rec.Code, http.StatusOK, rec.Body.String())
	}

	body := rec.Body.String()
	if !strings.Contains(body, `token:"`+testutil.AccessToken+`"`) {
		t.Errorf("body %q should carry the access token", body)
	}
	if !strings.Contains(body, "expires:3600") {
		t.Errorf("body %q should carry expires_in unquoted", body)
	}
	if !strings.Contains(body, "success:true") {
		t.Errorf("body %q should report success with a bare boolean", body)
	}
	if !strings.Contains(body, `"*"`) {
		t.Errorf("body %q should carry the default target origin", body)
	}

	s := savedSession(t, h, rec)
	if s == nil || !s.loggedIn() {
		t.Fatal("expected the grant to be sealed into the session")
	}
	if s.Tokens.RefreshToken != testutil.RefreshToken {
		t.Errorf("got refresh token %q, want %q", s.Tokens.RefreshToken, testutil.RefreshToken)
	}
	if s.State != "" {
		t.Error("the CSRF state must be consumed")
	}
}

func TestCallbackRejectsBadCodeOrState(t *testing.T) {
	tests := []struct {
		name  string
		query string
	}{
		{name: "missing code", query: "state=state-1"},
		{name: "missing state", query: "code=code-1"},
		{name: "state mismatch", query: "code=code-1&state=other"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			srv := testutil.NewAuthServer()
			defer srv.Close()
			h := newTestHandler(t, srv, nil)

			r := httptest.NewRequest("GET", "/auth/callback?"+tc.query, nil)
			r.AddCookie(sessionCookie(t, h, &session{State: "state-1"}))

			rec := httptest.NewRecorder()
			h.Callback(rec, r)

			if !strings.Contains(rec.Body.String(), `code:"invalid-code-or-state"`) {
				t.Errorf("body %q should reject the flow", rec.Body.String())
			}
			if n := srv.Calls("/oauth2/token"); n != 0 {
				t.Errorf("got %d token calls, want 0", n)
			}
		})
	}
}

func TestCallbackTamperedSession(t *testing.T) {
	srv := testutil.NewAuthServer()
	defer srv.Close()
	h := newTestHandler(t, srv, nil)

	r := httptest.NewRequest("GET", "/auth/callback?code=code-1&state=state-1", nil)
	r.AddCookie(&http.Cookie{Name: h.cookieName(), Value: "tampered"})

	rec := httptest.NewRecorder()
	h.Callback(rec, r)

	// A tampered cookie yields an empty session with no matching state.
	if !strings.Contains(rec.Body.String(), `code:"invalid-code-or-state"`) {
		t.Errorf("body %q should reject the flow", rec.Body.String())
	}
}

func TestRefreshEndpoint(t *testing.T) {
	srv := testutil.NewAuthServer()
	defer srv.Close()
	h := newTestHandler(t, srv, nil)

	r := httptest.NewRequest("POST", "/auth/refresh", nil)
	r.AddCookie(sessionCookie(t, h, &session{Tokens: &oauthclient.TokenPair{
		AccessToken:  testutil.AccessToken,
		RefreshToken: testutil.RefreshToken,
	}}))

	rec := httptest.NewRecorder()
	h.Refresh(rec, r)

	if rec.Code != http.StatusOK {
		t.Fatalf("got status %d, want %d: %s", rec.Code, http.StatusOK, rec.Body.String())
	}

	var resp map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unparsable body: %v", err)
	}
	if resp["access_token"] != testutil.RefreshedAccessToken {
		t.Errorf("got %v, want %q", resp["access_token"], testutil.RefreshedAccessToken)
	}

	s := savedSession(t, h, rec)
	if s == nil || s.Tokens.RefreshToken != testutil.RefreshedRefreshToken {
		t.Error("the refreshed grant should replace the session tokens")
	}
}

func TestRefreshEndpointRequiresLogin(t *testing.T) {
	srv := testutil.NewAuthServer()
	defer srv.Close()
	h := newTestHandler(t, srv, nil)

	rec := httptest.NewRecorder()
	h.Refresh(rec, httptest.NewRequest("POST", "/auth/refresh", nil))

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("got status %d, want %d", rec.Code, http.StatusUnauthorized)
	}
	if !strings.Contains(rec.Body.String(), "user-not-logged") {
		t.Errorf("body %q should carry the error code", rec.Body.String())
	}
}

func TestLogout(t *testing.T) {
	srv := testutil.NewAuthServer()
	defer srv.Close()
	h := newTestHandler(t, srv, nil)

	r := httptest.NewRequest("POST", "/auth/logout", nil)
	r.AddCookie(sessionCookie(t, h, &session{Tokens: &oauthclient.TokenPair{
		AccessToken:  "at",
		RefreshToken: "rt",
	}}))

	rec := httptest.NewRecorder()
	h.Logout(rec, r)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("got status %d, want %d: %s", rec.Code, http.StatusNoContent, rec.Body.String())
	}
	if n := srv.Calls("/oauth2/revoke"); n != 2 {
		t.Errorf("got %d revoke calls, want 2", n)
	}

	cleared := false
	for _, c := range rec.Result().Cookies() {
		if c.Name == h.cookieName() && c.MaxAge < 0 {
			cleared = true
		}
	}
	if !cleared {
		t.Error("the session cookie should be expired")
	}
}

func TestLogoutKeepsSessionOnRevocationFailure(t *testing.T) {
	srv := testutil.NewAuthServer()
	defer srv.Close()
	srv.RevokeStatus = 500
	h := newTestHandler(t, srv, nil)

	r := httptest.NewRequest("POST", "/auth/logout", nil)
	r.AddCookie(sessionCookie(t, h, &session{Tokens: &oauthclient.TokenPair{AccessToken: "at"}}))

	rec := httptest.NewRecorder()
	h.Logout(rec, r)

	if rec.Code != http.StatusBadGateway {
		t.Errorf("got status %d, want %d", rec.Code, http.StatusBadGateway)
	}
	for _, c := range rec.Result().Cookies() {
		if c.Name == h.cookieName() && c.MaxAge < 0 {
			t.Error("the session must be kept so the user can retry")
		}
	}
}

func TestUserInfoEndpoint(t *testing.T) {
	srv := testutil.NewAuthServer()
	defer srv.Close()
	h := newTestHandler(t, srv, nil)

	r := httptest.NewRequest("GET", "/auth/userinfo", nil)
	r.AddCookie(sessionCookie(t, h, &session{Tokens: &oauthclient.TokenPair{AccessToken: testutil.AccessToken}}))

	rec := httptest.NewRecorder()
	h.UserInfo(rec, r)

	if rec.Code != http.StatusOK {
		t.Fatalf("got status %d: %s", rec.Code, rec.Body.String())
	}
	var claims map[string]any
	json.Unmarshal(rec.Body.Bytes(), &claims)
	if claims["sub"] != testutil.Sub {
		t.Errorf("got claims %v, want sub %q", claims, testutil.Sub)
	}
}

func TestIntrospectEndpointDropsInvalidGrant(t *testing.T) {
	srv := testutil.NewAuthServer()
	defer srv.Close()
	h := newTestHandler(t, srv, nil)

	r := httptest.NewRequest("GET", "/auth/introspect", nil)
	r.AddCookie(sessionCookie(t, h, &session{Tokens: &oauthclient.TokenPair{AccessToken: testutil.ExpiredToken}}))

	rec := httptest.NewRecorder()
	h.Introspect(rec, r)

	if rec.Code != http.StatusOK {
		t.Fatalf("got status %d: %s", rec.Code, rec.Body.String())
	}

	var result oauthclient.IntrospectionResult
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("unparsable body: %v", err)
	}
	if !result.Invalid || result.Reason != oauthclient.ReasonTokenNotActive {
		t.Errorf("got %+v, want an invalid result", result)
	}

	s := savedSession(t, h, rec)
	if s == nil || s.loggedIn() {
		t.Error("an invalid grant should be dropped from the session")
	}
}

func TestAuthenticateRequest(t *testing.T) {
	srv := testutil.NewAuthServer()
	defer srv.Close()
	h := newTestHandler(t, srv, nil)

	var got *oauthclient.IntrospectionResult
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = IntrospectionFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	})

	r := httptest.NewRequest("GET", "/api/resource", nil)
	r.Header.Set("Authorization", "Bearer "+testutil.AccessToken)

	rec := httptest.NewRecorder()
	h.AuthenticateRequest(next).ServeHTTP(rec, r)

	if rec.Code != http.StatusOK {
		t.Fatalf("got status %d: %s", rec.Code, rec.Body.String())
	}
	if got == nil || got.Sub != testutil.Sub {
		t.Errorf("introspection result not attached to the context: %+v", got)
	}
}

func TestAuthenticateRequestCaseInsensitiveScheme(t *testing.T) {
	srv := testutil.NewAuthServer()
	defer srv.Close()
	h := newTestHandler(t, srv, nil)

	r := httptest.NewRequest("GET", "/api/resource", nil)
	r.Header.Set("Authorization", "bearer "+testutil.AccessToken)

	rec := httptest.NewRecorder()
	h.AuthenticateRequest(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})).ServeHTTP(rec, r)

	if rec.Code != http.StatusOK {
		t.Errorf("got status %d, want %d", rec.Code, http.StatusOK)
	}
}

func TestAuthenticateRequestMissingHeader(t *testing.T) {
	srv := testutil.NewAuthServer()
	defer srv.Close()
	h := newTestHandler(t, srv, nil)

	tests := []struct {
		name   string
		header string
	}{
		{name: "no header", header: ""},
		{name: "wrong scheme", header: "Basic abc"},
		{name: "bare token", header: "sometoken"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", "/api/resource", nil)
			if tc.header != "" {
				r.Header.Set("Authorization", tc.header)
			}

			rec := httptest.NewRecorder()
			h.AuthenticateRequest(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
				t.Error("next must not be called")
			})).ServeHTTP(rec, r)

			if rec.Code != http.StatusUnauthorized {
				t.Fatalf("got status %d, want %d", rec.Code, http.StatusUnauthorized)
			}
			if !strings.Contains(rec.Body.String(), `Authorization: Bearer <token>`) {
				t.Errorf("body %q should explain the expected format", rec.Body.String())
			}
			if n := srv.Calls("/oauth2/introspect"); n != 0 {
				t.Errorf("got %d introspections, want 0", n)
			}
		})
	}
}

func TestAuthenticateRequestInvalidToken(t *testing.T) {
	srv := testutil.NewAuthServer()
	defer srv.Close()
	h := newTestHandler(t, srv, nil)

	r := httptest.NewRequest("GET", "/api/resource", nil)
	r.Header.Set("Authorization", "Bearer "+testutil.ExpiredToken)

	rec := httptest.NewRecorder()
	h.AuthenticateRequest(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Error("next must not be called")
	})).ServeHTTP(rec, r)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("got status %d, want %d", rec.Code, http.StatusUnauthorized)
	}
	// Introspection reasons are hidden unless debug is enabled.
	if !strings.Contains(rec.Body.String(), "Authentication Error") {
		t.Errorf("body %q should carry the generic message", rec.Body.String())
	}
	if strings.Contains(rec.Body.String(), oauthclient.ReasonTokenNotActive) {
		t.Errorf("body %q must not leak the reason", rec.Body.String())
	}
}

func TestAuthenticateRequestDebugExposesReason(t *testing.T) {
	srv := testutil.NewAuthServer()
	defer srv.Close()

	client, err := oauthclient.New(oauthclient.Config{
		ClientID:     testutil.ClientID,
		ClientSecret: testutil.ClientSecret,
		Debug:        true,
		Endpoints: oauthclient.EndpointConfig{
			PublicHost:  srv.URL,
			RedirectURI: srv.URL + "/auth/callback",
		},
	}, nil)
	if err != nil {
		t.Fatalf("client New failed: %v", err)
	}
	h := newTestHandler(t, srv, func(cfg *Config) { cfg.Client = client })

	r := httptest.NewRequest("GET", "/api/resource", nil)
	r.Header.Set("Authorization", "Bearer "+testutil.ExpiredToken)

	rec := httptest.NewRecorder()
	h.AuthenticateRequest(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {})).ServeHTTP(rec, r)

	if !strings.Contains(rec.Body.String(), oauthclient.ReasonTokenNotActive) {
		t.Errorf("body %q should carry the reason in debug mode", rec.Body.String())
	}
}

func TestAuthenticateRequestPassthrough(t *testing.T) {
	srv := testutil.NewAuthServer()
	defer srv.Close()
	h := newTestHandler(t, srv, func(cfg *Config) { cfg.Passthrough = true })

	called := false
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		if _, ok := IntrospectionFromContext(r.Context()); ok {
			t.Error("no introspection result should be attached without a token")
		}
		w.WriteHeader(http.StatusOK)
	})

	rec := httptest.NewRecorder()
	h.AuthenticateRequest(next).ServeHTTP(rec, httptest.NewRequest("GET", "/api/resource", nil))

	if !called {
		t.Error("passthrough must forward requests without a token")
	}
	if rec.Code != http.StatusOK {
		t.Errorf("got status %d, want %d", rec.Code, http.StatusOK)
	}
}

func TestLoginRateLimit(t *testing.T) {
	srv := testutil.NewAuthServer()
	defer srv.Close()
	h := newTestHandler(t, srv, func(cfg *Config) {
		cfg.RateLimit = RateLimitConfig{Rate: 1, Burst: 1}
	})

	first := httptest.NewRecorder()
	h.Login(first, httptest.NewRequest("GET", "/auth/login", nil))
	if first.Code != http.StatusFound {
		t.Fatalf("first request should pass, got %d", first.Code)
	}

	second := httptest.NewRecorder()
	h.Login(second, httptest.NewRequest("GET", "/auth/login", nil))
	if !strings.Contains(second.Body.String(), "too-many-requests") {
		t.Errorf("body %q should report the rate limit", second.Body.String())
	}
}

func TestRequestIDEchoedOnResponse(t *testing.T) {
	srv := testutil.NewAuthServer()
	defer srv.Close()
	h := newTestHandler(t, srv, nil)

	r := httptest.NewRequest("GET", "/auth/login", nil)
	r.Header.Set("X-Request-ID", "req-abc-123")

	rec := httptest.NewRecorder()
	h.Login(rec, r)

	if got := rec.Header().Get("X-Request-ID"); got != "req-abc-123" {
		t.Errorf("got %q, want the inbound request ID echoed", got)
	}
}

func TestRequestIDGeneratedWhenInvalid(t *testing.T) {
	srv := testutil.NewAuthServer()
	defer srv.Close()
	h := newTestHandler(t, srv, nil)

	r := httptest.NewRequest("GET", "/auth/login", nil)
	r.Header.Set("X-Request-ID", "bad id\r\n")

	rec := httptest.NewRecorder()
	h.Login(rec, r)

	got := rec.Header().Get("X-Request-ID")
	if got == "" || got == "bad id\r\n" {
		t.Errorf("got %q, want a freshly generated request ID", got)
	}
}

func TestRoutes(t *testing.T) {
	srv := testutil.NewAuthServer()
	defer srv.Close()
	h := newTestHandler(t, srv, nil)

	mux := http.NewServeMux()
	h.Routes(mux, "/auth")

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest("GET", "/auth/login", nil))
	if rec.Code != http.StatusFound {
		t.Errorf("got status %d, want a login redirect", rec.Code)
	}

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest("POST", "/auth/refresh", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("got status %d, want %d", rec.Code, http.StatusUnauthorized)
	}
}
