package crypto

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"

	"golang.org/x/crypto/nacl/box"
)

// Box sizes.
const (
	// PublicKeySize is the size of an identity public key.
	PublicKeySize = 32

	// boxNonceSize is the size of the nonce prepended to sealed boxes.
	boxNonceSize = 24
)

// ErrBoxOpen indicates a sealed box could not be authenticated.
var ErrBoxOpen = errors.New("cannot open sealed box")

// PublicKey is an identity public key.
type PublicKey [PublicKeySize]byte

// ParsePublicKey decodes a base64 public key as carried in the handshake.
func ParsePublicKey(s string) (PublicKey, error) {
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return PublicKey{}, fmt.Errorf("%w: %v", ErrBadKey, err)
	}
	if len(raw) != PublicKeySize {
		return PublicKey{}, fmt.Errorf("%w: public key is %d bytes, need %d", ErrBadKey, len(raw), PublicKeySize)
	}
	var pk PublicKey
	copy(pk[:], raw)
	return pk, nil
}

// Encode returns the base64 form of the key.
func (pk PublicKey) Encode() string {
	return base64.StdEncoding.EncodeToString(pk[:])
}

// Identity is the node's asymmetric key pair.
// It is generated once per process and never persisted.
type Identity struct {
	public  PublicKey
	private [32]byte
}

// NewIdentity generates a fresh key pair.
func NewIdentity() (*Identity, error) {
	pub, priv, err := box.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate identity: %w", err)
	}
	return &Identity{public: *pub, private: *priv}, nil
}

// PublicKey returns the public half of the key pair.
func (id *Identity) PublicKey() PublicKey {
	return id.public
}

// String never prints key material.
func (id *Identity) String() string {
	return "Identity{" + id.public.Encode() + "}"
}

// SealTo encrypts msg to the recipient and authenticates it as coming from id.
func (id *Identity) SealTo(recipient PublicKey, msg []byte) ([]byte, error) {
	var nonce [boxNonceSize]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	peer := [32]byte(recipient)
	out := make([]byte, boxNonceSize, boxNonceSize+len(msg)+box.Overhead)
	copy(out, nonce[:])
	return box.Seal(out, msg, &nonce, &peer, &id.private), nil
}

// OpenFrom decrypts a message sealed to id by sender.
func (id *Identity) OpenFrom(sender PublicKey, sealed []byte) ([]byte, error) {
	if len(sealed) < boxNonceSize+box.Overhead {
		return nil, fmt.Errorf("%w: %d bytes", ErrCiphertextTooShort, len(sealed))
	}
	var nonce [boxNonceSize]byte
	copy(nonce[:], sealed[:boxNonceSize])
	peer := [32]byte(sender)

	msg, ok := box.Open(nil, sealed[boxNonceSize:], &nonce, &peer, &id.private)
	if !ok {
		return nil, ErrBoxOpen
	}
	return msg, nil
}
