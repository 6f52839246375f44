package cache

import (
	"testing"
)

func TestHashIP_Deterministic(t *testing.T) {
	t.Parallel()

	ip := "192.168.1.100"

	if hashIP(ip) != hashIP(ip) {
		t.Error("Same IP should produce same hash")
	}
}

func TestHashIP_Length(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		ip   string
	}{
		{"IPv4", "192.168.1.1"},
		{"IPv6 localhost", "::1"},
		{"IPv6 full", "2001:0db8:85a3:0000:0000:8a2e:0370:7334"},
		{"empty", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			// first 8 bytes of SHA256, encoded as 16 hex chars
			if hash := hashIP(tt.ip); len(hash) != 16 {
				t.Errorf("hashIP(%q) length = %d, want 16", tt.ip, len(hash))
			}
		})
	}
}

func TestHashIP_Different(t *testing.T) {
	t.Parallel()

	if hashIP("10.0.0.1") == hashIP("10.0.0.2") {
		t.Error("Different IPs should produce different hashes")
	}
	if hashIP("127.0.0.1") == hashIP("::1") {
		t.Error("IPv4 and IPv6 loopback should produce different hashes")
	}
}

func TestPairs(t *testing.T) {
	t.Parallel()

	got, err := pairs([]any{"1", "5", "2", "7"})
	if err != nil {
		t.Fatalf("pairs failed: %v", err)
	}
	if got["1"] != "5" || got["2"] != "7" || len(got) != 2 {
		t.Errorf("unexpected pairs: %v", got)
	}

	if _, err := pairs("nope"); err == nil {
		t.Error("non-array reply should fail")
	}
}
