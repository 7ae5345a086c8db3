package passphrase

import (
	"errors"
	"strings"
	"testing"
)

func TestRoundTrip(t *testing.T) {
	cases := []string{
		"hello",
		"hi there",
		"multi\nline\ntext",
		strings.Repeat("long ", 200),
		"unicode ☃ ✓ message",
	}
	for _, plaintext := range cases {
		sealed, err := Encrypt(plaintext, "secret123")
		if err != nil {
			t.Fatalf("encrypt %q: %v", plaintext, err)
		}
		if sealed == plaintext {
			t.Fatalf("ciphertext equals plaintext for %q", plaintext)
		}
		opened, err := Decrypt(sealed, "secret123")
		if err != nil {
			t.Fatalf("decrypt %q: %v", plaintext, err)
		}
		if opened != plaintext {
			t.Fatalf("round trip mismatch: got %q want %q", opened, plaintext)
		}
	}
}

func TestWrongPassphraseFails(t *testing.T) {
	sealed, err := Encrypt("hi there", "key-one")
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	if _, err := Decrypt(sealed, "key-two"); !errors.Is(err, ErrDecryptFailed) {
		t.Fatalf("expected ErrDecryptFailed with wrong key, got %v", err)
	}
}

func TestTamperedCiphertextFails(t *testing.T) {
	sealed, err := Encrypt("payload", "secret123")
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	mangled := []byte(sealed)
	mangled[len(mangled)/2] ^= 0x01
	if _, err := Decrypt(string(mangled), "secret123"); err == nil {
		t.Fatal("expected tampered ciphertext to fail")
	}
}

func TestFreshSaltPerCall(t *testing.T) {
	a, err := Encrypt("same text", "secret123")
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	b, err := Encrypt("same text", "secret123")
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	if a == b {
		t.Fatal("two seals of the same text must differ")
	}
}

func TestEmptyInputs(t *testing.T) {
	if _, err := Encrypt("", "key"); !errors.Is(err, ErrEmptyText) {
		t.Fatalf("expected ErrEmptyText, got %v", err)
	}
	if _, err := Encrypt("text", ""); !errors.Is(err, ErrEmptyPassphrase) {
		t.Fatalf("expected ErrEmptyPassphrase, got %v", err)
	}
	if _, err := Decrypt("text", ""); !errors.Is(err, ErrEmptyPassphrase) {
		t.Fatalf("expected ErrEmptyPassphrase, got %v", err)
	}
}

func TestDecryptGarbage(t *testing.T) {
	if _, err := Decrypt("not base64 at all!!", "key"); err == nil {
		t.Fatal("expected error for invalid base64")
	}
	if _, err := Decrypt("c2hvcnQ=", "key"); err == nil {
		t.Fatal("expected error for truncated blob")
	}
}

func TestIsCiphertext(t *testing.T) {
	sealed, err := Encrypt("hello", "secret123")
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	if !IsCiphertext(sealed) {
		t.Fatal("sealed output should look like ciphertext")
	}
	if IsCiphertext("hello") {
		t.Fatal("plain word should not look like ciphertext")
	}
	if IsCiphertext("") {
		t.Fatal("empty string should not look like ciphertext")
	}
}

func TestRandomKey(t *testing.T) {
	key, err := RandomKey(32)
	if err != nil {
		t.Fatalf("random key: %v", err)
	}
	if len(key) != 32 {
		t.Fatalf("expected 32 chars, got %d", len(key))
	}
	for _, r := range key {
		if !strings.ContainsRune(keyAlphabet, r) {
			t.Fatalf("unexpected rune %q in key", r)
		}
	}
	other, err := RandomKey(32)
	if err != nil {
		t.Fatalf("random key: %v", err)
	}
	if key == other {
		t.Fatal("two random keys should differ")
	}
}
