package crypto

import (
	"bytes"
	"strings"
	"testing"
)

func testSealer(t *testing.T) *Sealer {
	t.Helper()
	s, err := NewSealer(bytes.Repeat([]byte{7}, KeySize))
	if err != nil {
		t.Fatalf("NewSealer: %v", err)
	}
	return s
}

func TestSealOpenRoundTrip(t *testing.T) {
	s := testSealer(t)

	sealed, err := s.Seal("0xdeadbeef-signer")
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	if !Sealed(sealed) || strings.Contains(sealed, "deadbeef") {
		t.Fatalf("sealed=%q, expected opaque prefixed value", sealed)
	}

	opened, err := s.Open(sealed)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if opened != "0xdeadbeef-signer" {
		t.Fatalf("opened=%q", opened)
	}
}

func TestOpenPassesThroughPlaintext(t *testing.T) {
	s := testSealer(t)
	got, err := s.Open("legacy-plaintext-key")
	if err != nil || got != "legacy-plaintext-key" {
		t.Fatalf("Open=(%q,%v)", got, err)
	}
}

func TestSealEmptyStaysEmpty(t *testing.T) {
	s := testSealer(t)
	sealed, err := s.Seal("")
	if err != nil || sealed != "" {
		t.Fatalf("Seal=(%q,%v)", sealed, err)
	}
}

func TestOpenRejectsWrongKey(t *testing.T) {
	s := testSealer(t)
	sealed, err := s.Seal("secret")
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}

	other, err := NewSealer(bytes.Repeat([]byte{9}, KeySize))
	if err != nil {
		t.Fatalf("NewSealer: %v", err)
	}
	if _, err := other.Open(sealed); err == nil {
		t.Fatalf("expected failure with the wrong key")
	}
}

func TestKeyFromString(t *testing.T) {
	hexKey := strings.Repeat("ab", KeySize)
	key, err := KeyFromString(hexKey)
	if err != nil || len(key) != KeySize {
		t.Fatalf("hex key: (%d,%v)", len(key), err)
	}

	raw := strings.Repeat("k", KeySize)
	key, err = KeyFromString(raw)
	if err != nil || len(key) != KeySize {
		t.Fatalf("raw key: (%d,%v)", len(key), err)
	}

	if _, err := KeyFromString("short"); err == nil {
		t.Fatalf("expected short key rejection")
	}
}
