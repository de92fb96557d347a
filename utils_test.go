package hllcount

import (
	"testing"
)

func TestMax(t *testing.T) {
	if Max(uint8(3), uint8(7)) != 7 || Max(7, 3) != 7 || Max(-1.5, -2.5) != -1.5 {
		t.Errorf("Max returned the smaller value")
	}
}

func TestGenerateRandomString(t *testing.T) {
	s := GenerateRandomString(16)
	if len(s) != 16 {
		t.Fatalf("expected 16 characters, got %d", len(s))
	}
	for _, c := range s {
		if !(c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z') {
			t.Fatalf("unexpected character %q", c)
		}
	}
	if GenerateRandomString(16) == s {
		t.Errorf("two random keys should differ")
	}
}
