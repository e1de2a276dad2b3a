package signature

import (
	"crypto/rand"
	"encoding/hex"
)

// GenerateSecret creates a cryptographically random 256-bit signing secret.
// Format: "whsec_" + 32 bytes hex = 70 characters total.
func GenerateSecret() string {
	return "whsec_" + randomHex(32)
}

// GenerateToken creates a cryptographically random 128-bit verification
// token used in the subscription handshake.
func GenerateToken() string {
	return randomHex(16)
}

func randomHex(n int) string {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		panic("loom: failed to read random bytes: " + err.Error())
	}
	return hex.EncodeToString(b)
}
