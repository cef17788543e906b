package wire

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
)

// MaxNameLength is the longest node name; the UDP datagram carries it behind a one-byte length.
const MaxNameLength = 255

// Header validation errors.
var (
	// ErrEmptyMessage indicates a handshake message with no content.
	ErrEmptyMessage = errors.New("empty handshake message")

	// ErrMissingName indicates a header without a node name.
	ErrMissingName = errors.New("header has no name")

	// ErrNameTooLong indicates a node name that does not fit a datagram.
	ErrNameTooLong = errors.New("header name too long")

	// ErrMissingNetworkVersion indicates a header without a network version.
	ErrMissingNetworkVersion = errors.New("header has no network version")

	// ErrBadPort indicates an advertised port outside 0..65535.
	ErrBadPort = errors.New("header port out of range")

	// ErrBadVersion indicates a version field that is neither a string nor a number.
	ErrBadVersion = errors.New("version must be a string or number")
)

// Version is a client or network version identifier.
// Reference nodes send versions either as JSON strings or as bare numbers;
// both decode to the same textual form. Any other JSON shape is rejected.
type Version string

// UnmarshalJSON implements json.Unmarshaler.
func (v *Version) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return ErrBadVersion
	}
	switch {
	case data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*v = Version(s)
		return nil
	case data[0] == '-' || (data[0] >= '0' && data[0] <= '9'):
		if _, err := strconv.ParseFloat(string(data), 64); err != nil {
			return fmt.Errorf("%w: %v", ErrBadVersion, err)
		}
		*v = Version(data)
		return nil
	default:
		return fmt.Errorf("%w: got %s", ErrBadVersion, data)
	}
}

// Header is the cleartext description each node sends at connection start.
type Header struct {
	Name           string  `json:"name"`
	ClientVersion  Version `json:"client_ver"`
	NetworkVersion Version `json:"network_ver"`
	P2PAccept      bool    `json:"p2p_accept"`
	P2PUDPAccept   bool    `json:"p2p_udp_accept"`
	P2PPort        int     `json:"p2p_port"`
	StartTime      int64   `json:"start_time"`
}

// Validate checks the required fields.
func (h *Header) Validate() error {
	if h.Name == "" {
		return ErrMissingName
	}
	if len(h.Name) > MaxNameLength {
		return fmt.Errorf("%w: %d bytes", ErrNameTooLong, len(h.Name))
	}
	if h.NetworkVersion == "" {
		return ErrMissingNetworkVersion
	}
	if h.P2PPort < 0 || h.P2PPort > 65535 {
		return fmt.Errorf("%w: %d", ErrBadPort, h.P2PPort)
	}
	return nil
}

// EncodeHeader serializes h as JSON.
func EncodeHeader(h *Header) ([]byte, error) {
	return json.Marshal(h)
}

// DecodeHeader parses and validates a header.
func DecodeHeader(data []byte) (*Header, error) {
	if len(data) == 0 {
		return nil, ErrEmptyMessage
	}
	var h Header
	if err := json.Unmarshal(data, &h); err != nil {
		return nil, fmt.Errorf("decode header: %w", err)
	}
	if err := h.Validate(); err != nil {
		return nil, err
	}
	return &h, nil
}
