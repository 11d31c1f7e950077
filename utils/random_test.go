package utils

import (
	"strings"
	"testing"
)

func TestGenerateShareCode(t *testing.T) {
	const charset = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		code := GenerateShareCode(8)
		if len(code) != 8 {
			t.Fatalf("expected 8 characters, got %q", code)
		}
		for _, ch := range code {
			if !strings.ContainsRune(charset, ch) {
				t.Fatalf("code %q contains %q outside the charset", code, ch)
			}
		}
		seen[code] = true
	}
	// 100 draws from a 32^8 space colliding would mean a broken generator.
	if len(seen) < 100 {
		t.Fatalf("expected 100 distinct codes, got %d", len(seen))
	}
}

func TestGenerateSecureToken(t *testing.T) {
	a := GenerateSecureToken()
	b := GenerateSecureToken()
	if a == "" || a == b {
		t.Fatalf("tokens not unique: %q %q", a, b)
	}
}
