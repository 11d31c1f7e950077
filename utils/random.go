package utils

import (
	"crypto/rand"
	"encoding/base64"
	"math/big"
)

const shareCodeCharset = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// GenerateShareCode generates a short opaque invite code of length n.
// The charset omits easily confused characters (0/O, 1/I).
func GenerateShareCode(n int) string {
	b := make([]byte, n)
	for i := range b {
		num, err := rand.Int(rand.Reader, big.NewInt(int64(len(shareCodeCharset))))
		if err != nil {
			// Fallback to less secure random if crypto rand fails (highly unlikely)
			return ""
		}
		b[i] = shareCodeCharset[num.Int64()]
	}
	return string(b)
}

// GenerateSecureToken generates a cryptographically secure random token.
func GenerateSecureToken() string {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		panic(err)
	}
	return base64.URLEncoding.EncodeToString(b)
}
