package token

import (
	"net/url"
	"testing"
	"time"
)

type payload struct {
	Email    string    `json:"email"`
	Dates    []string  `json:"dates"`
	IssuedAt time.Time `json:"issuedAt"`
}

func TestSignVerifyRoundTrip(t *testing.T) {
	s := NewSigner("test-secret")
	in := payload{
		Email:    "crew@example.com",
		Dates:    []string{"2025-03-10", "2025-03-11"},
		IssuedAt: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	tok, err := s.Sign(in)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	var out payload
	if !s.Verify(tok, &out) {
		t.Fatalf("valid token rejected")
	}
	if out.Email != in.Email || len(out.Dates) != 2 || !out.IssuedAt.Equal(in.IssuedAt) {
		t.Fatalf("payload mangled: %+v", out)
	}
}

func TestVerifyRejectsTampering(t *testing.T) {
	s := NewSigner("test-secret")
	tok, err := s.Sign(payload{Email: "crew@example.com"})
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	for i := 0; i < len(tok); i++ {
		if tok[i] == '.' {
			continue
		}
		mutated := []byte(tok)
		if mutated[i] == 'A' {
			mutated[i] = 'B'
		} else {
			mutated[i] = 'A'
		}
		var out payload
		if s.Verify(string(mutated), &out) {
			t.Fatalf("accepted token with byte %d flipped", i)
		}
	}
}

func TestVerifyRejectsWrongKeyAndGarbage(t *testing.T) {
	s := NewSigner("test-secret")
	tok, err := s.Sign(payload{Email: "crew@example.com"})
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	var out payload
	if NewSigner("other-secret").Verify(tok, &out) {
		t.Fatalf("accepted token signed with a different key")
	}
	for _, bad := range []string{"", "no-separator", "a.b.c", "!!!.###"} {
		if s.Verify(bad, &out) {
			t.Fatalf("accepted malformed token %q", bad)
		}
	}
}

func TestTokenSurvivesURLEncoding(t *testing.T) {
	s := NewSigner("test-secret")
	tok, err := s.Sign(payload{Email: "crew@example.com", Dates: []string{"2025-03-10"}})
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	link := "https://example.com/confirm?token=" + url.QueryEscape(tok)
	u, err := url.Parse(link)
	if err != nil {
		t.Fatalf("parse link: %v", err)
	}
	var out payload
	if !s.Verify(u.Query().Get("token"), &out) {
		t.Fatalf("token broken by URL round trip")
	}
}
