package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
)

// Token values the fake authorization server hands out and recognizes.
const (
	ClientID     = "test-client"
	ClientSecret = "test-secret"

	AccessToken           = "test-access-token"
	RefreshToken          = "test-refresh-token"
	IDToken               = "test-id-token"
	RefreshedAccessToken  = "refreshed-access-token"
	RefreshedRefreshToken = "refreshed-refresh-token"

	// ExpiredToken introspects as inactive.
	ExpiredToken = "expired-access-token"
	// ForeignToken introspects as issued to another client.
	ForeignToken = "foreign-access-token"
	// RefreshKindToken introspects with token_type refresh_token.
	RefreshKindToken = "refresh-kind-token"

	Sub       = "test-subject"
	ExpiresIn = 3600
)

// AuthServer is a fake authorization server for tests. It serves the
// token, introspection, userinfo and revocation endpoints and counts
// calls per path.
type AuthServer struct {
	*httptest.Server

	// TokenStatus, when non-zero, is returned by the token endpoint
	// instead of a grant.
	TokenStatus int
	// TokenBody is the body sent with TokenStatus.
	TokenBody string
	// IntrospectStatus, when non-zero, is returned by the introspection
	// endpoint instead of a result.
	IntrospectStatus int
	// RevokeStatus, when non-zero, is returned by the revocation
	// endpoint.
	RevokeStatus int

	// Exp is the exp claim returned by introspection. Zero omits it.
	Exp int64

	mu    sync.Mutex
	calls map[string]int
	forms map[string]url.Values
}

// NewAuthServer starts the fake server.
func NewAuthServer() *AuthServer {
	s := &AuthServer{calls: make(map[string]int)}

	mux := http.NewServeMux()
	mux.HandleFunc("/oauth2/token", s.handleToken)
	mux.HandleFunc("/oauth2/introspect", s.handleIntrospect)
	mux.HandleFunc("/userinfo", s.handleUserInfo)
	mux.HandleFunc("/oauth2/revoke", s.handleRevoke)
	s.Server = httptest.NewServer(mux)
	return s
}

// Calls returns how many requests the given path received.
func (s *AuthServer) Calls(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[path]
}

// LastForm returns the form values of the most recent request to path.
func (s *AuthServer) LastForm(path string) url.Values {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.forms[path]
}

func (s *AuthServer) record(r *http.Request) {
	r.ParseForm()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[r.URL.Path]++
	if s.forms == nil {
		s.forms = make(map[string]url.Values)
	}
	s.forms[r.URL.Path] = r.PostForm
}

func (s *AuthServer) handleToken(w http.ResponseWriter, r *http.Request) {
	s.record(r)

	if s.TokenStatus != 0 {
		w.WriteHeader(s.TokenStatus)
		w.Write([]byte(s.TokenBody))
		return
	}

	grant := map[string]any{
		"token_type": "bearer",
		"expires_in": ExpiresIn,
		"scope":      "openid offline",
	}
	switch r.PostFormValue("grant_type") {
	case "authorization_code":
		grant["access_token"] = AccessToken
		grant["refresh_token"] = RefreshToken
		grant["id_token"] = IDToken
	case "refresh_token":
		grant["access_token"] = RefreshedAccessToken
		grant["refresh_token"] = RefreshedRefreshToken
	default:
		writeOAuthError(w, http.StatusBadRequest, "unsupported_grant_type")
		return
	}
	writeJSON(w, http.StatusOK, grant)
}

func (s *AuthServer) handleIntrospect(w http.ResponseWriter, r *http.Request) {
	s.record(r)

	if s.IntrospectStatus != 0 {
		w.WriteHeader(s.IntrospectStatus)
		return
	}

	token := r.PostFormValue("token")
	result := map[string]any{
		"active":     true,
		"client_id":  ClientID,
		"sub":        Sub,
		"token_type": "access_token",
		"scope":      "openid offline",
	}
	if s.Exp != 0 {
		result["exp"] = s.Exp
	}
	switch token {
	case ExpiredToken:
		result = map[string]any{"active": false}
	case ForeignToken:
		result["client_id"] = "other-client"
	case RefreshKindToken:
		result["token_type"] = "refresh_token"
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *AuthServer) handleUserInfo(w http.ResponseWriter, r *http.Request) {
	s.record(r)
	writeJSON(w, http.StatusOK, map[string]any{"sub": Sub})
}

func (s *AuthServer) handleRevoke(w http.ResponseWriter, r *http.Request) {
	s.record(r)
	if s.RevokeStatus != 0 {
		w.WriteHeader(s.RevokeStatus)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeOAuthError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, map[string]string{"error": code})
}
