package auth

import (
	"strings"
	"testing"
)

func TestGenerateAPIKey_Format(t *testing.T) {
	t.Parallel()

	key, err := GenerateAPIKey()
	if err != nil {
		t.Fatalf("GenerateAPIKey failed: %v", err)
	}

	if !strings.HasPrefix(key.Plaintext, APIKeyPrefix) {
		t.Errorf("Key should start with %s, got: %s", APIKeyPrefix, key.Plaintext)
	}
	if len(key.Plaintext) != len(APIKeyPrefix)+2*KeySecretBytes {
		t.Errorf("Key length = %d, want %d", len(key.Plaintext), len(APIKeyPrefix)+2*KeySecretBytes)
	}
	if !ValidateKeyFormat(key.Plaintext) {
		t.Errorf("Generated key should pass format validation: %s", key.Plaintext)
	}
	if key.Hash != HashAPIKey(key.Plaintext) {
		t.Error("Hash should be the lookup hash of the plaintext")
	}
	if len(key.Hash) != 64 {
		t.Errorf("Hash should be 64 hex chars, got: %d", len(key.Hash))
	}
	if len(key.Hint) != KeyHintLen || !strings.HasPrefix(key.Plaintext, key.Hint) {
		t.Errorf("Hint %q should be the first %d chars of the key", key.Hint, KeyHintLen)
	}
}

func TestGenerateAPIKey_Uniqueness(t *testing.T) {
	t.Parallel()

	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		key, err := GenerateAPIKey()
		if err != nil {
			t.Fatalf("GenerateAPIKey failed: %v", err)
		}
		if seen[key.Plaintext] {
			t.Fatalf("Duplicate key generated: %s", key.Plaintext)
		}
		seen[key.Plaintext] = true
	}
}

func TestValidateKeyFormat(t *testing.T) {
	t.Parallel()

	valid := "bslt_" + strings.Repeat("ab", 24)

	tests := []struct {
		name string
		key  string
		want bool
	}{
		{"valid", valid, true},
		{"empty", "", false},
		{"no prefix", strings.Repeat("ab", 24), false},
		{"wrong prefix", "pk_live_" + strings.Repeat("ab", 24), false},
		{"too short", valid[:len(valid)-1], false},
		{"too long", valid + "a", false},
		{"uppercase hex", "bslt_" + strings.Repeat("AB", 24), false},
		{"non hex", "bslt_" + strings.Repeat("zz", 24), false},
		{"session token", "eyJhbGciOiJIUzI1NiJ9.e30.sig", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			if got := ValidateKeyFormat(tt.key); got != tt.want {
				t.Errorf("ValidateKeyFormat(%q) = %v, want %v", tt.key, got, tt.want)
			}
		})
	}
}

func TestHashAPIKey_Deterministic(t *testing.T) {
	t.Parallel()

	if HashAPIKey("bslt_x") != HashAPIKey("bslt_x") {
		t.Error("Same input should produce same hash")
	}
	if HashAPIKey("bslt_x") == HashAPIKey("bslt_y") {
		t.Error("Different input should produce different hash")
	}
}
