package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

const apiTokenPrefix = "osc_"

// GenerateAPIToken creates a new API token and the hash to put in the
// configuration. Format: osc_<uuid>_<random_secret>
func GenerateAPIToken() (token, hash string, err error) {
	id := uuid.New()

	secretBytes := make([]byte, 32)
	if _, err := rand.Read(secretBytes); err != nil {
		return "", "", fmt.Errorf("failed to generate secret: %w", err)
	}
	secret := hex.EncodeToString(secretBytes)

	token = fmt.Sprintf("%s%s_%s", apiTokenPrefix, id.String(), secret)
	return token, HashAPIToken(token), nil
}

// HashAPIToken returns the hex sha256 of token
func HashAPIToken(token string) string {
	hash := sha256.Sum256([]byte(token))
	return hex.EncodeToString(hash[:])
}

// ValidateAPITokenFormat checks if token has correct format
func ValidateAPITokenFormat(token string) bool {
	if len(token) < len(apiTokenPrefix)+36+1+64 {
		return false
	}
	return strings.HasPrefix(token, apiTokenPrefix)
}
