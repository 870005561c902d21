// Package secrets encrypts token material before it touches the config store.
package secrets

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/hkdf"
)

var (
	// ErrInvalidKey means the configured encryption key is not 32 bytes of hex.
	ErrInvalidKey = errors.New("encryption key must be 64 hex characters (32 bytes)")
	// ErrInvalidFormat means the encoded value is not iv:tag:ciphertext hex.
	ErrInvalidFormat = errors.New("malformed encrypted value")
	// ErrAuthenticationFailed means the ciphertext or tag was tampered with.
	ErrAuthenticationFailed = errors.New("decryption authentication failed")
)

const (
	ivSize  = 12
	tagSize = 16
)

// Box encrypts and decrypts UTF-8 strings with AES-256-GCM. Values are
// encoded as iv:tag:ciphertext, each segment hex. Every Encrypt call draws a
// fresh IV.
type Box struct {
	aead cipher.AEAD
}

// New derives the AEAD key from the 64-hex-character master key.
// HKDF-SHA256, salt = 32 zero bytes, info = "perch-secrets".
func New(hexKey string) (*Box, error) {
	master, err := hex.DecodeString(hexKey)
	if err != nil || len(master) != 32 {
		return nil, ErrInvalidKey
	}

	salt := make([]byte, 32)
	kdf := hkdf.New(sha256.New, master, salt, []byte("perch-secrets"))
	aesKey := make([]byte, 32)
	if _, err := io.ReadFull(kdf, aesKey); err != nil {
		return nil, fmt.Errorf("hkdf: %w", err)
	}

	block, err := aes.NewCipher(aesKey)
	if err != nil {
		return nil, fmt.Errorf("aes: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("gcm: %w", err)
	}
	return &Box{aead: aead}, nil
}

// Encrypt seals plaintext and returns iv:tag:ciphertext hex.
func (b *Box) Encrypt(plain string) (string, error) {
	iv := make([]byte, ivSize)
	if _, err := rand.Read(iv); err != nil {
		return "", err
	}
	sealed := b.aead.Seal(nil, iv, []byte(plain), nil) // ciphertext || tag
	ct := sealed[:len(sealed)-tagSize]
	tag := sealed[len(sealed)-tagSize:]
	return hex.EncodeToString(iv) + ":" + hex.EncodeToString(tag) + ":" + hex.EncodeToString(ct), nil
}

// Decrypt reverses Encrypt. Returns ErrInvalidFormat for structural problems
// and ErrAuthenticationFailed when any segment was tampered with.
func (b *Box) Decrypt(encoded string) (string, error) {
	parts := strings.Split(encoded, ":")
	if len(parts) != 3 {
		return "", ErrInvalidFormat
	}
	iv, err := hex.DecodeString(parts[0])
	if err != nil || len(iv) != ivSize {
		return "", ErrInvalidFormat
	}
	tag, err := hex.DecodeString(parts[1])
	if err != nil || len(tag) != tagSize {
		return "", ErrInvalidFormat
	}
	ct, err := hex.DecodeString(parts[2])
	if err != nil {
		return "", ErrInvalidFormat
	}

	plain, err := b.aead.Open(nil, iv, append(ct, tag...), nil)
	if err != nil {
		return "", ErrAuthenticationFailed
	}
	return string(plain), nil
}
