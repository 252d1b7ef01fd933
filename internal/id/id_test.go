package id

import "testing"

func TestNewIsUniqueHex(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 64; i++ {
		v := New()
		if len(v) != 32 {
			t.Fatalf("expected 32 characters, got %q", v)
		}
		if seen[v] {
			t.Fatalf("duplicate id %s", v)
		}
		seen[v] = true
	}
}
