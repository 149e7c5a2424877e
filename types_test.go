package oauthclient

import "testing"

func TestTokenPairClone(t *testing.T) {
	var nilPair *TokenPair
	if nilPair.Clone() != nil {
		t.Error("clone of nil should be nil")
	}

	p := &TokenPair{AccessToken: "at", RefreshToken: "rt", ExpiresIn: 3600}
	cp := p.Clone()
	if cp == p {
		t.Fatal("clone should be a distinct value")
	}
	cp.AccessToken = "changed"
	if p.AccessToken != "at" {
		t.Error("mutating the clone must not touch the original")
	}
}

func TestTokenPairToken(t *testing.T) {
	p := &TokenPair{AccessToken: "at", RefreshToken: "rt"}

	if got := p.Token(AccessToken); got != "at" {
		t.Errorf("got %q, want %q", got, "at")
	}
	if got := p.Token(RefreshToken); got != "rt" {
		t.Errorf("got %q, want %q", got, "rt")
	}
	if got := p.Token("other"); got != "" {
		t.Errorf("got %q, want empty for an unknown kind", got)
	}

	var nilPair *TokenPair
	if got := nilPair.Token(AccessToken); got != "" {
		t.Errorf("got %q, want empty for a nil pair", got)
	}
}

func TestTokenStateTransitions(t *testing.T) {
	s := NewTokenState(nil)
	if s.Authenticated() {
		t.Error("state with no pair should be unauthenticated")
	}
	if s.Pair() != nil {
		t.Error("unauthenticated state should hold no pair")
	}

	pair := &TokenPair{AccessToken: "at"}
	s.hold(pair)
	if !s.Authenticated() {
		t.Error("state should be authenticated after hold")
	}
	if s.Pair() != pair {
		t.Error("held pair should be returned unchanged")
	}

	replacement := &TokenPair{AccessToken: "at2"}
	s.hold(replacement)
	if s.Pair() != replacement {
		t.Error("hold should replace the pair wholesale")
	}

	s.clear()
	if s.Authenticated() {
		t.Error("state should be unauthenticated after clear")
	}

	var nilState *TokenState
	if nilState.Authenticated() {
		t.Error("nil state should be unauthenticated")
	}
	if nilState.Pair() != nil {
		t.Error("nil state should hold no pair")
	}
}
