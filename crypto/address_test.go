package crypto

import (
	"errors"
	"strings"
	"testing"
)

func TestAddressBech32RoundTrip(t *testing.T) {
	var raw [20]byte
	for i := range raw {
		raw[i] = byte(i + 1)
	}
	encoded := FormatHolding(raw)
	if !strings.HasPrefix(encoded, "vhold1") {
		t.Fatalf("unexpected prefix: %s", encoded)
	}
	decoded, err := DecodeAddress(encoded)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.Raw() != raw {
		t.Fatalf("round trip mismatch")
	}
	if decoded.Prefix() != HoldingPrefix {
		t.Fatalf("unexpected prefix %s", decoded.Prefix())
	}
	parsed, err := ParseAddress(FormatAccount(raw))
	if err != nil || parsed != raw {
		t.Fatalf("parse account: %v", err)
	}
}

func TestParseAddressHex(t *testing.T) {
	parsed, err := ParseAddress("0x00000000000000000000000000000000000000aa")
	if err != nil {
		t.Fatalf("parse hex: %v", err)
	}
	if parsed[19] != 0xaa {
		t.Fatalf("unexpected byte %x", parsed[19])
	}
	if _, err := ParseAddress("0x1234"); !errors.Is(err, ErrInvalidAddress) {
		t.Fatalf("expected invalid address, got %v", err)
	}
	if _, err := ParseAddress("not-an-address"); !errors.Is(err, ErrInvalidAddress) {
		t.Fatalf("expected invalid address, got %v", err)
	}
}
