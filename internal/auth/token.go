// Package auth admits sockets by verifying the access tokens minted by the
// chronicle session service: base64url(JSON claims) "." base64url(HMAC-SHA256).
package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"
	"time"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("expired token")
)

// Claims identify the user a socket is admitted for.
type Claims struct {
	Sub   string `json:"sub"`
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
	JTI   string `json:"jti"`
	Exp   int64  `json:"exp"`
}

func (c Claims) complete() bool {
	return c.Sub != "" && c.Name != "" && c.JTI != "" && c.Exp != 0
}

type Verifier struct {
	secret []byte
	now    func() time.Time
}

func NewVerifier(secret []byte) *Verifier {
	return &Verifier{secret: secret, now: time.Now}
}

func (v *Verifier) WithClock(now func() time.Time) *Verifier {
	v.now = now
	return v
}

// Verify checks the signature before decoding anything, then expiry.
func (v *Verifier) Verify(token string) (Claims, error) {
	payload, signature, ok := strings.Cut(strings.TrimSpace(token), ".")
	if !ok || payload == "" || strings.Contains(signature, ".") {
		return Claims{}, ErrInvalidToken
	}
	got, err := base64.RawURLEncoding.DecodeString(signature)
	if err != nil || !hmac.Equal(got, Signature(v.secret, payload)) {
		return Claims{}, ErrInvalidToken
	}

	decoded, err := base64.RawURLEncoding.DecodeString(payload)
	if err != nil {
		return Claims{}, ErrInvalidToken
	}
	var claims Claims
	if err := json.Unmarshal(decoded, &claims); err != nil || !claims.complete() {
		return Claims{}, ErrInvalidToken
	}
	if v.now().Unix() >= claims.Exp {
		return Claims{}, ErrExpiredToken
	}
	return claims, nil
}

// Signature is the raw HMAC-SHA256 of an encoded claims segment.
func Signature(secret []byte, payload string) []byte {
	mac := hmac.New(sha256.New, secret)
	_, _ = mac.Write([]byte(payload))
	return mac.Sum(nil)
}
