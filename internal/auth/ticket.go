package auth

import (
	"crypto/hmac"
	"crypto/rand"
	"encoding/base64"
	"strconv"
	"strings"
	"time"
)

// TicketValidity is how long an issued WebSocket ticket is accepted.
const TicketValidity = 30 * time.Second

// IssueTicket mints a stateless upgrade ticket:
// <timestamp_base36>.<nonce_base64url>.<mac_base64url>. The MAC covers
// "<timestamp>.<nonce>". Tickets exist because some browser environments do
// not send cookies on WebSocket upgrade requests.
func IssueTicket(secret string, now time.Time) (string, error) {
	if len(secret) < minSecretLen {
		return "", ErrWeakSecret
	}
	raw := make([]byte, 16)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	ts := strconv.FormatInt(now.Unix(), 36)
	nonce := base64.RawURLEncoding.EncodeToString(raw)
	payload := ts + "." + nonce
	return payload + "." + signHMAC(secret, payload), nil
}

// ValidateTicket reports whether ticket was issued within TicketValidity of
// now and carries a valid MAC. Any structural problem is just "invalid".
func ValidateTicket(secret, ticket string, now time.Time) bool {
	if len(secret) < minSecretLen {
		return false
	}
	parts := strings.Split(ticket, ".")
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" {
		return false
	}
	issued, err := strconv.ParseInt(parts[0], 36, 64)
	if err != nil {
		return false
	}

	expected := signHMAC(secret, parts[0]+"."+parts[1])
	if len(parts[2]) != len(expected) || !hmac.Equal([]byte(parts[2]), []byte(expected)) {
		return false
	}

	age := now.Sub(time.Unix(issued, 0))
	return age >= 0 && age < TicketValidity
}
