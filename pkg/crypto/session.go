package crypto

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

// Session cipher sizes.
const (
	// SessionKeySize is the size of a session key in bytes.
	SessionKeySize = chacha20poly1305.KeySize

	// SessionNonceSize is the size of the nonce prepended to every sealed message.
	SessionNonceSize = chacha20poly1305.NonceSizeX

	// SessionOverhead is the number of bytes Seal adds to a plaintext.
	SessionOverhead = SessionNonceSize + chacha20poly1305.Overhead
)

// Session cipher errors.
var (
	// ErrCiphertextTooShort indicates a sealed message shorter than the nonce and tag.
	ErrCiphertextTooShort = errors.New("ciphertext too short")

	// ErrDecrypt indicates authentication of a sealed message failed.
	ErrDecrypt = errors.New("message authentication failed")

	// ErrBadKey indicates a malformed encoded key.
	ErrBadKey = errors.New("bad key encoding")
)

// Cipher seals and opens messages with a shared key.
// Implemented by SessionKey.
type Cipher interface {
	// Seal encrypts and authenticates plaintext.
	Seal(plaintext []byte) ([]byte, error)

	// Open authenticates and decrypts a sealed message.
	Open(sealed []byte) ([]byte, error)
}

// SessionKey is the symmetric key shared by two nodes after the handshake.
type SessionKey [SessionKeySize]byte

// NewSessionKey returns a fresh random session key.
func NewSessionKey() (SessionKey, error) {
	var k SessionKey
	if _, err := rand.Read(k[:]); err != nil {
		return SessionKey{}, fmt.Errorf("generate session key: %w", err)
	}
	return k, nil
}

// ParseSessionKey decodes a base64 session key as carried in the handshake.
func ParseSessionKey(s string) (SessionKey, error) {
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return SessionKey{}, fmt.Errorf("%w: %v", ErrBadKey, err)
	}
	if len(raw) != SessionKeySize {
		return SessionKey{}, fmt.Errorf("%w: session key is %d bytes, need %d", ErrBadKey, len(raw), SessionKeySize)
	}
	var k SessionKey
	copy(k[:], raw)
	return k, nil
}

// Encode returns the base64 form of the key.
func (k SessionKey) Encode() string {
	return base64.StdEncoding.EncodeToString(k[:])
}

// IsZero reports whether the key is unset.
func (k SessionKey) IsZero() bool {
	return k == SessionKey{}
}

// String never prints key material.
func (k SessionKey) String() string {
	return "SessionKey{REDACTED}"
}

// GoString never prints key material.
func (k SessionKey) GoString() string {
	return "crypto.SessionKey{REDACTED}"
}

// Seal encrypts plaintext with a random nonce. The nonce is prepended.
func (k SessionKey) Seal(plaintext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(k[:])
	if err != nil {
		return nil, err
	}

	out := make([]byte, SessionNonceSize, SessionNonceSize+len(plaintext)+aead.Overhead())
	if _, err := rand.Read(out); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	return aead.Seal(out, out[:SessionNonceSize], plaintext, nil), nil
}

// Open decrypts a message produced by Seal.
func (k SessionKey) Open(sealed []byte) ([]byte, error) {
	if len(sealed) < SessionOverhead {
		return nil, fmt.Errorf("%w: %d bytes", ErrCiphertextTooShort, len(sealed))
	}
	aead, err := chacha20poly1305.NewX(k[:])
	if err != nil {
		return nil, err
	}

	plain, err := aead.Open(nil, sealed[:SessionNonceSize], sealed[SessionNonceSize:], nil)
	if err != nil {
		return nil, ErrDecrypt
	}
	return plain, nil
}

// SealedSize returns the size of a sealed message for a plaintext of n bytes.
func SealedSize(n int) int {
	return n + SessionOverhead
}

// Compile-time interface satisfaction check.
var _ Cipher = SessionKey{}
