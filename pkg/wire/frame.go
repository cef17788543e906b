package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/peerlink/peerlink-go/pkg/crypto"
)

// Framing constants.
const (
	// LengthPrefixSize is the size of the frame length prefix in bytes.
	LengthPrefixSize = 4

	// DefaultMaxReceiveSize is the default payload ceiling (260 kB).
	DefaultMaxReceiveSize = 260000

	// FrameSlack is added to the payload ceiling to cover compression and
	// encryption overhead.
	FrameSlack = 5000

	// UDPPayloadCeiling is the largest payload sent as a single datagram.
	// Payloads must be strictly smaller to use UDP.
	UDPPayloadCeiling = 1400

	// MaxDatagramSize is the receive buffer size for datagrams.
	MaxDatagramSize = 8192
)

// Reserved in-band payloads and notices.
var (
	// PingPayload requests a Pong from the receiving node.
	PingPayload = []byte("Ping")

	// PongPayload answers a Ping.
	PongPayload = []byte("Pong")

	// AcceptPayload completes the handshake.
	AcceptPayload = []byte("accept")

	// RemovalNoticePrefix starts the plaintext notice written before a forced disconnect.
	RemovalNoticePrefix = []byte("1111")
)

// Frame errors.
var (
	// ErrFrameTooLarge indicates a frame beyond the size policy.
	ErrFrameTooLarge = errors.New("frame too large")

	// ErrEmptyFrame indicates a frame announcing zero bytes.
	ErrEmptyFrame = errors.New("frame announces zero length")
)

// MaxFrameSize returns the size ceiling for a payload ceiling of maxReceive bytes.
func MaxFrameSize(maxReceive int) int {
	if maxReceive <= 0 {
		maxReceive = DefaultMaxReceiveSize
	}
	return maxReceive + FrameSlack
}

// IsPing reports whether payload is the reserved Ping.
func IsPing(payload []byte) bool {
	return bytes.Equal(payload, PingPayload)
}

// IsPong reports whether payload is the reserved Pong.
func IsPong(payload []byte) bool {
	return bytes.Equal(payload, PongPayload)
}

// EncodeFrame compresses and seals payload and prepends the big-endian length
// of the resulting ciphertext.
func EncodeFrame(payload []byte, c crypto.Cipher, comp crypto.Compressor) ([]byte, error) {
	packed, err := comp.Compress(payload)
	if err != nil {
		return nil, fmt.Errorf("compress: %w", err)
	}
	sealed, err := c.Seal(packed)
	if err != nil {
		return nil, fmt.Errorf("seal: %w", err)
	}

	frame := make([]byte, LengthPrefixSize+len(sealed))
	binary.BigEndian.PutUint32(frame, uint32(len(sealed)))
	copy(frame[LengthPrefixSize:], sealed)
	return frame, nil
}

// DecodeFrame opens and decompresses one frame body (the bytes following the
// length prefix). The decompressed payload may not exceed limit bytes.
func DecodeFrame(body []byte, c crypto.Cipher, comp crypto.Compressor, limit int) ([]byte, error) {
	if len(body) == 0 {
		return nil, ErrEmptyFrame
	}
	packed, err := c.Open(body)
	if err != nil {
		return nil, fmt.Errorf("open: %w", err)
	}
	payload, err := comp.Decompress(packed, limit)
	if err != nil {
		return nil, fmt.Errorf("decompress: %w", err)
	}
	return payload, nil
}

// FrameLength reads the length prefix at the start of b.
// b must hold at least LengthPrefixSize bytes.
func FrameLength(b []byte) int {
	return int(binary.BigEndian.Uint32(b[:LengthPrefixSize]))
}

// RemovalNotice builds the plaintext notice sent before disconnecting a peer.
func RemovalNotice(reason string) []byte {
	out := make([]byte, 0, len(RemovalNoticePrefix)+len(reason))
	out = append(out, RemovalNoticePrefix...)
	return append(out, reason...)
}
