// Package auth signs and verifies the browser credentials the gateway
// accepts: the long-lived session cookie and the short-lived WebSocket
// upgrade ticket. Both are HMAC-SHA256 over an app-wide secret; both
// comparisons are constant-time.
package auth

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"strings"
)

// ErrWeakSecret means the configured app secret is too short to sign with.
var ErrWeakSecret = errors.New("app secret must be at least 32 characters")

const minSecretLen = 32

// SignSession mints a new session cookie value: an opaque random token plus
// a base64url MAC over it, dot-separated.
func SignSession(secret string) (string, error) {
	if len(secret) < minSecretLen {
		return "", ErrWeakSecret
	}
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	token := hex.EncodeToString(raw)
	return token + "." + signHMAC(secret, token), nil
}

// VerifySession returns the opaque token inside a signed cookie value, or ""
// when the value is malformed or the MAC does not verify.
func VerifySession(secret, value string) string {
	if len(secret) < minSecretLen {
		return ""
	}
	token, mac, ok := strings.Cut(value, ".")
	if !ok || token == "" {
		return ""
	}
	expected := signHMAC(secret, token)
	if len(mac) != len(expected) || !hmac.Equal([]byte(mac), []byte(expected)) {
		return ""
	}
	return token
}

func signHMAC(secret, payload string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write([]byte(payload))
	return base64.RawURLEncoding.EncodeToString(h.Sum(nil))
}
