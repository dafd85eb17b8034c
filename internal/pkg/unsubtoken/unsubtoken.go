// Package unsubtoken encodes per-recipient unsubscribe tokens. The token is
// a reversible encoding of the recipient address (plus an optional
// category), signed with HMAC-SHA256 so it is stateless to verify: no
// database lookup, and the same recipient always gets the same link.
package unsubtoken

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/fintrack-api/internal/domain"
)

const sep = "."

// Encode builds the token for a recipient address and optional preference
// flag. An empty flag means "unsubscribe from everything".
func Encode(email, flag, secret string) string {
	payload := base64.RawURLEncoding.EncodeToString([]byte(email + "|" + flag))
	return payload + sep + sign(payload, secret)
}

// Decode verifies the token signature and returns the recipient address and
// preference flag it was issued for.
func Decode(token, secret string) (email, flag string, err error) {
	parts := strings.Split(token, sep)
	if len(parts) != 2 {
		return "", "", fmt.Errorf("malformed token: %w", domain.ErrBadRequest)
	}
	if !hmac.Equal([]byte(sign(parts[0], secret)), []byte(parts[1])) {
		return "", "", fmt.Errorf("invalid token signature: %w", domain.ErrBadRequest)
	}
	raw, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil {
		return "", "", fmt.Errorf("malformed token payload: %w", domain.ErrBadRequest)
	}
	payload := string(raw)
	i := strings.LastIndex(payload, "|")
	if i < 0 {
		return "", "", fmt.Errorf("malformed token payload: %w", domain.ErrBadRequest)
	}
	return payload[:i], payload[i+1:], nil
}

func sign(payload, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(payload))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil)[:16])
}
