package paymentwebhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// SignatureHeader carries the hex HMAC-SHA256 of the raw request body.
const SignatureHeader = "X-Payment-Signature"

// Sign returns the hex HMAC-SHA256 of payload under secret.
func Sign(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// ValidSignature compares header against the expected signature in constant time.
func ValidSignature(payload []byte, secret, header string) bool {
	header = strings.ToLower(strings.TrimSpace(header))
	if header == "" || secret == "" {
		return false
	}
	return hmac.Equal([]byte(Sign(payload, secret)), []byte(header))
}
