package wire

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrMissingField indicates a handshake message lacking a required field.
var ErrMissingField = errors.New("handshake message missing field")

// PublicKeyMessage carries a node's identity public key.
type PublicKeyMessage struct {
	PublicKey string `json:"public-key"`
}

// SessionMessage establishes the session. It travels sealed to the
// initiator's public key.
type SessionMessage struct {
	SessionKey string  `json:"aes-key"`
	Header     *Header `json:"header"`
}

// EncodePublicKeyMessage serializes a public key message.
func EncodePublicKeyMessage(encodedKey string) ([]byte, error) {
	return json.Marshal(PublicKeyMessage{PublicKey: encodedKey})
}

// DecodePublicKeyMessage parses a public key message and returns the encoded key.
func DecodePublicKeyMessage(data []byte) (string, error) {
	if len(data) == 0 {
		return "", ErrEmptyMessage
	}
	var msg PublicKeyMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return "", fmt.Errorf("decode public key: %w", err)
	}
	if msg.PublicKey == "" {
		return "", fmt.Errorf("%w: public-key", ErrMissingField)
	}
	return msg.PublicKey, nil
}

// EncodeSessionMessage serializes a session message.
func EncodeSessionMessage(msg *SessionMessage) ([]byte, error) {
	return json.Marshal(msg)
}

// DecodeSessionMessage parses a session message and validates its header.
func DecodeSessionMessage(data []byte) (*SessionMessage, error) {
	if len(data) == 0 {
		return nil, ErrEmptyMessage
	}
	var msg SessionMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	if msg.SessionKey == "" {
		return nil, fmt.Errorf("%w: aes-key", ErrMissingField)
	}
	if msg.Header == nil {
		return nil, fmt.Errorf("%w: header", ErrMissingField)
	}
	if err := msg.Header.Validate(); err != nil {
		return nil, err
	}
	return &msg, nil
}
