package security

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
)

// APIKeyPrefix marks keys issued by this service.
const APIKeyPrefix = "ah_"

// GenerateAPIKey creates a new random API key string.
func GenerateAPIKey() (string, error) {
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return "", fmt.Errorf("generate api key: %w", err)
	}
	return APIKeyPrefix + hex.EncodeToString(secret), nil
}

// LooksLikeAPIKey reports whether a bearer credential is an API key rather than a JWT.
func LooksLikeAPIKey(token string) bool {
	return strings.HasPrefix(token, APIKeyPrefix)
}
