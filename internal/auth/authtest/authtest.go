// Package authtest mints access tokens for tests. Production tokens come from
// the session service.
package authtest

import (
	"encoding/base64"
	"encoding/json"
	"testing"
	"time"

	"chronicle/collab/internal/auth"
)

// Token signs claims with secret.
func Token(t testing.TB, secret []byte, claims auth.Claims) string {
	t.Helper()
	raw, err := json.Marshal(claims)
	if err != nil {
		t.Fatalf("marshal claims: %v", err)
	}
	payload := base64.RawURLEncoding.EncodeToString(raw)
	return payload + "." + base64.RawURLEncoding.EncodeToString(auth.Signature(secret, payload))
}

// UserToken is a token for userID valid for an hour.
func UserToken(t testing.TB, secret []byte, userID string) string {
	t.Helper()
	return Token(t, secret, auth.Claims{
		Sub:   userID,
		Name:  "User " + userID,
		Email: userID + "@example.com",
		JTI:   "jti-" + userID,
		Exp:   time.Now().Add(time.Hour).Unix(),
	})
}
