package utils

import (
	"crypto/rand"
	"encoding/hex"
	"strings"
)

// GenerateCode returns 2*n uppercase hex characters drawn from crypto/rand.
// Hex keeps the result URL-safe, so it can travel inside QR payloads and
// manual-entry fields without escaping.
func GenerateCode(n int) (string, error) {
	byt := make([]byte, n)

	if _, err := rand.Read(byt); err != nil {
		return "", err
	}

	return strings.ToUpper(hex.EncodeToString(byt)), nil
}
