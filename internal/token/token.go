package token

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
)

// Signer issues and verifies tamper-evident confirmation tokens. A token is
// base64url(payload) "." base64url(hmac-sha256(payload)); the payload rides
// in the emailed link itself, so no pending state is stored server-side.
type Signer struct {
	secret []byte
}

func NewSigner(secret string) *Signer {
	return &Signer{secret: []byte(secret)}
}

// Sign serializes payload and appends its MAC. The caller percent-encodes
// the result when placing it in a URL query.
func (s *Signer) Sign(payload any) (string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	mac := s.mac(body)
	return base64.RawURLEncoding.EncodeToString(body) + "." + base64.RawURLEncoding.EncodeToString(mac), nil
}

// Verify recomputes the MAC over the payload segment and, on an exact
// constant-time match, unmarshals the payload into out. It reports false for
// any malformed or forged token without distinguishing why.
func (s *Signer) Verify(tok string, out any) bool {
	body, ok := s.open(tok)
	if !ok {
		return false
	}
	return json.Unmarshal(body, out) == nil
}

func (s *Signer) open(tok string) ([]byte, bool) {
	parts := strings.Split(tok, ".")
	if len(parts) != 2 {
		return nil, false
	}
	body, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil {
		return nil, false
	}
	mac, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return nil, false
	}
	if !hmac.Equal(mac, s.mac(body)) {
		return nil, false
	}
	return body, true
}

func (s *Signer) mac(body []byte) []byte {
	h := hmac.New(sha256.New, s.secret)
	h.Write(body)
	return h.Sum(nil)
}
