package types

import (
	"errors"
	"testing"
)

func TestParseAddress(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		wantErr bool
	}{
		{"checksummed", "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed", false},
		{"lowercase", "0x5aaeb6053f3e94c9b9a09f33669435e7ef1beaed", false},
		{"uppercase body", "0x5AAEB6053F3E94C9B9A09F33669435E7EF1BEAED", false},
		{"no prefix", "5aaeb6053f3e94c9b9a09f33669435e7ef1beaed", false},
		{"bad checksum", "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAeD", true},
		{"too short", "0xabc", true},
		{"not hex", "0xzzaeb6053f3e94c9b9a09f33669435e7ef1beaed", true},
		{"empty", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			addr, err := ParseAddress(tt.in)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidAddress) {
					t.Fatalf("ParseAddress(%q) error = %v, want ErrInvalidAddress", tt.in, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseAddress(%q) error: %v", tt.in, err)
			}
			if addr.Hex() != "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed" {
				t.Errorf("ParseAddress(%q) = %s", tt.in, addr.Hex())
			}
		})
	}
}

func TestSameAddress(t *testing.T) {
	if !SameAddress("0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed", "0x5aaeb6053f3e94c9b9a09f33669435e7ef1beaed") {
		t.Error("case variants of one address should match")
	}
	if SameAddress("0xabc", "0xabc") {
		t.Error("malformed addresses should never match")
	}
}
