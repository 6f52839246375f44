// Package auth provides credential primitives: password digests, session
// tokens and API key generation.
package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/crypto/argon2"
)

// Argon2id parameters (OWASP 2024 recommended minimum).
const (
	argon2Time    = 3
	argon2Memory  = 64 * 1024 // 64 MB
	argon2Threads = 4
	argon2KeyLen  = 32
	argon2SaltLen = 16
)

const digestPrefix = "$argon2id$"

var (
	// ErrInvalidDigest indicates the digest was not produced by HashPassword.
	ErrInvalidDigest = errors.New("invalid password digest format")
	// ErrIncompatibleVersion indicates the digest uses another argon2 version.
	ErrIncompatibleVersion = errors.New("incompatible argon2 version")
)

// HashPassword creates an Argon2id digest of the given password.
// The result is a PHC string carrying algorithm, parameters, salt and hash.
func HashPassword(password string) (string, error) {
	salt := make([]byte, argon2SaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}

	hash := argon2.IDKey([]byte(password), salt, argon2Time, argon2Memory, argon2Threads, argon2KeyLen)

	// $argon2id$v=19$m=65536,t=3,p=4$<salt>$<hash>
	return fmt.Sprintf(
		"$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version,
		argon2Memory,
		argon2Time,
		argon2Threads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(hash),
	), nil
}

// VerifyPassword checks password against a digest from HashPassword.
//
// A digest that does not carry the argon2id header was never produced by this
// package and yields ErrInvalidDigest. A digest with the right header but a
// corrupted body simply fails to match.
func VerifyPassword(password, digest string) (bool, error) {
	if !strings.HasPrefix(digest, digestPrefix) {
		return false, ErrInvalidDigest
	}

	parts := strings.Split(digest, "$")
	if len(parts) != 6 {
		return false, nil
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil {
		return false, nil
	}
	if version != argon2.Version {
		return false, ErrIncompatibleVersion
	}

	var memory, time uint32
	var threads uint8
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &memory, &time, &threads); err != nil {
		return false, nil
	}
	if memory == 0 || time == 0 || threads == 0 {
		return false, nil
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return false, nil
	}
	expected, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil || len(expected) == 0 {
		return false, nil
	}

	computed := argon2.IDKey([]byte(password), salt, time, memory, threads, uint32(len(expected)))

	return subtle.ConstantTimeCompare(computed, expected) == 1, nil
}

var (
	dummyDigestOnce sync.Once
	dummyDigest     string
)

// BurnVerification runs a full digest verification against a throwaway hash.
// Login calls it for unknown emails so both failure paths cost the same.
func BurnVerification(password string) {
	dummyDigestOnce.Do(func() {
		dummyDigest, _ = HashPassword("basalt-timing-equalizer")
	})
	_, _ = VerifyPassword(password, dummyDigest)
}
