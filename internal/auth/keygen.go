package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
)

// Key format: bslt_{48 lowercase hex}
// Example: bslt_4f8d2e1b9c7a5f3d2e1b9c7a5f3d2e1b4f8d2e1b9c7a5f3d
const (
	APIKeyPrefix = "bslt_"
	// KeySecretBytes is the entropy carried by a key (192 bits).
	KeySecretBytes = 24
	// KeyHintLen is how much of the plaintext is kept for display.
	KeyHintLen = len(APIKeyPrefix) + 8
)

var keyFormatRegex = regexp.MustCompile(`^bslt_[a-f0-9]{48}$`)

// GeneratedKey contains the parts of a newly generated API key.
type GeneratedKey struct {
	Plaintext string // Full key (show once only)
	Hash      string // SHA-256 lookup hash for storage
	Hint      string // Recognizable leading characters for the dashboard
}

// GenerateAPIKey creates a new random API key.
func GenerateAPIKey() (*GeneratedKey, error) {
	secret := make([]byte, KeySecretBytes)
	if _, err := rand.Read(secret); err != nil {
		return nil, fmt.Errorf("generate secret: %w", err)
	}

	plaintext := APIKeyPrefix + hex.EncodeToString(secret)

	return &GeneratedKey{
		Plaintext: plaintext,
		Hash:      HashAPIKey(plaintext),
		Hint:      plaintext[:KeyHintLen],
	}, nil
}

// HashAPIKey derives the storage lookup hash of a plaintext key.
// Keys carry 192 random bits so a fast hash is sufficient here.
func HashAPIKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

// HasKeyPrefix reports whether s carries the API key prefix.
func HasKeyPrefix(s string) bool {
	return strings.HasPrefix(s, APIKeyPrefix)
}

// ValidateKeyFormat checks if the key matches the expected shape.
func ValidateKeyFormat(key string) bool {
	return keyFormatRegex.MatchString(key)
}
