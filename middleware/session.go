package middleware

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"

	oauthclient "github.com/authrelay/oauth-client"
)

// session is the per-user record sealed into the session cookie. The token
// pair is a serialized copy, never a reference shared across requests.
type session struct {
	// State is the CSRF state of an in-flight authorization flow
	State string `json:"state,omitempty"`

	// Tokens is the grant held by this session
	Tokens *oauthclient.TokenPair `json:"tokens,omitempty"`
}

// loggedIn reports whether the session holds a grant.
func (s *session) loggedIn() bool {
	return s.Tokens != nil
}

// cookieName returns the session cookie name for the configured namespace.
func (h *Handler) cookieName() string {
	return h.cfg.Namespace + "_session"
}

// loadSession reads and unseals the session cookie. A missing, tampered or
// unparsable cookie yields a fresh empty session.
func (h *Handler) loadSession(r *http.Request) *session {
	cookie, err := r.Cookie(h.cookieName())
	if err != nil {
		return &session{}
	}

	plaintext, err := h.sealer.Open(cookie.Value)
	if err != nil {
		h.logger.Debug("Discarding unreadable session cookie", "error", err)
		return &session{}
	}

	s := &session{}
	if err := json.Unmarshal(plaintext, s); err != nil {
		h.logger.Debug("Discarding undecodable session cookie", "error", err)
		return &session{}
	}
	return s
}

// saveSession seals the session into the response cookie.
func (h *Handler) saveSession(w http.ResponseWriter, s *session) error {
	plaintext, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}

	sealed, err := h.sealer.Seal(plaintext)
	if err != nil {
		return fmt.Errorf("failed to seal session: %w", err)
	}

	http.SetCookie(w, &http.Cookie{
		Name:     h.cookieName(),
		Value:    sealed,
		Path:     h.cfg.CookiePath,
		HttpOnly: true,
		Secure:   h.cfg.SecureCookies,
		SameSite: http.SameSiteLaxMode,
	})
	return nil
}

// clearSession expires the session cookie.
func (h *Handler) clearSession(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     h.cookieName(),
		Value:    "",
		Path:     h.cfg.CookiePath,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.cfg.SecureCookies,
		SameSite: http.SameSiteLaxMode,
	})
}

// newStateToken generates the CSRF state for an authorization flow.
func newStateToken() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		panic(fmt.Sprintf("crypto/rand.Read failed: %v", err))
	}
	return hex.EncodeToString(b)
}
