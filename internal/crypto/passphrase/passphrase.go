// Package passphrase provides symmetric authenticated encryption of chat text
// keyed by a user-supplied passphrase. The passphrase is shared out of band;
// the relay only ever sees the sealed form.
package passphrase

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
)

const (
	saltSize  = 16
	nonceSize = chacha20poly1305.NonceSizeX

	argonTime      = 1
	argonMemory    = 64 * 1024
	argonThreads   = 4
	argonKeyLength = 32

	// envelopeSize is the minimum length of a sealed blob: salt, nonce, and
	// the AEAD tag of an empty plaintext.
	envelopeSize = saltSize + nonceSize + chacha20poly1305.Overhead
)

var (
	ErrEmptyText       = errors.New("plaintext is required")
	ErrEmptyPassphrase = errors.New("passphrase is required")
	ErrDecryptFailed   = errors.New("decryption failed")
)

// Encrypt seals plaintext under the passphrase. The output is
// base64(salt || nonce || ciphertext) with a fresh salt and nonce per call.
func Encrypt(plaintext, pass string) (string, error) {
	if plaintext == "" {
		return "", ErrEmptyText
	}
	if pass == "" {
		return "", ErrEmptyPassphrase
	}

	blob := make([]byte, saltSize+nonceSize)
	if _, err := rand.Read(blob); err != nil {
		return "", fmt.Errorf("generate salt and nonce: %w", err)
	}
	salt := blob[:saltSize]
	nonce := blob[saltSize:]

	key := deriveKey(pass, salt)
	defer zeroBytes(key)

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return "", fmt.Errorf("init cipher: %w", err)
	}

	sealed := aead.Seal(blob, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt opens a sealed blob produced by Encrypt. A wrong passphrase or a
// tampered blob fails authentication; it never yields silently-wrong text.
func Decrypt(encoded, pass string) (string, error) {
	if pass == "" {
		return "", ErrEmptyPassphrase
	}
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("decode ciphertext: %w", err)
	}
	if len(raw) < envelopeSize {
		return "", fmt.Errorf("ciphertext too short: %w", ErrDecryptFailed)
	}

	salt := raw[:saltSize]
	nonce := raw[saltSize : saltSize+nonceSize]
	ciphertext := raw[saltSize+nonceSize:]

	key := deriveKey(pass, salt)
	defer zeroBytes(key)

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return "", fmt.Errorf("init cipher: %w", err)
	}

	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", ErrDecryptFailed
	}
	return string(plaintext), nil
}

// IsCiphertext reports whether a string plausibly came out of Encrypt. It is
// a display heuristic only; Decrypt is the authority.
func IsCiphertext(s string) bool {
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return false
	}
	return len(raw) >= envelopeSize
}

const keyAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// RandomKey generates an alphanumeric passphrase of the given length.
func RandomKey(length int) (string, error) {
	if length <= 0 {
		length = 32
	}
	raw := make([]byte, length)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("generate key: %w", err)
	}
	out := make([]byte, length)
	for i, b := range raw {
		out[i] = keyAlphabet[int(b)%len(keyAlphabet)]
	}
	return string(out), nil
}

func deriveKey(pass string, salt []byte) []byte {
	return argon2.IDKey([]byte(pass), salt, argonTime, argonMemory, argonThreads, argonKeyLength)
}

func zeroBytes(data []byte) {
	for i := range data {
		data[i] = 0
	}
}
