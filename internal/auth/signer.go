package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// CanonicalString builds the newline-joined string a request signature covers:
// METHOD, PATH, TIMESTAMP, NONCE and BODY in that order.
func CanonicalString(method, path, timestamp, nonce, body string) string {
	return strings.Join([]string{
		strings.ToUpper(method),
		path,
		timestamp,
		nonce,
		body,
	}, "\n")
}

// Sign returns the hex HMAC-SHA256 of message under secret
func Sign(secret string, message []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(message)
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify checks a hex signature in constant time. Malformed hex never verifies.
func Verify(secret string, message []byte, signature string) bool {
	provided, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(message)
	return hmac.Equal(mac.Sum(nil), provided)
}

// SignRequest signs the canonical string of a request
func SignRequest(secret, method, path, timestamp, nonce, body string) string {
	return Sign(secret, []byte(CanonicalString(method, path, timestamp, nonce, body)))
}
