// Package signature provides HMAC-SHA256 webhook signing and verification.
package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// Sign computes the HMAC-SHA256 signature of the exact serialized payload
// using the given secret. The signature is returned as lowercase hex and is
// sent verbatim in the X-Webhook-Signature header, so the payload bytes must
// not be re-serialized between signing and sending.
func Sign(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify reports whether sig is the valid signature of payload under secret.
// Comparison is constant-time.
func Verify(payload []byte, sig, secret string) bool {
	expected := Sign(payload, secret)
	return hmac.Equal([]byte(expected), []byte(sig))
}
