package wire

import (
	"errors"
	"fmt"

	"github.com/peerlink/peerlink-go/pkg/crypto"
)

// ErrMalformedDatagram indicates a datagram whose name field is inconsistent.
var ErrMalformedDatagram = errors.New("malformed datagram")

// EncodeDatagram seals payload and prepends the sender name.
//
// Layout: u8 name length || name || sealed payload. Datagrams are not
// compressed and carry no outer length.
func EncodeDatagram(sender string, payload []byte, c crypto.Cipher) ([]byte, error) {
	if sender == "" || len(sender) > MaxNameLength {
		return nil, fmt.Errorf("%w: sender name length %d", ErrMalformedDatagram, len(sender))
	}
	sealed, err := c.Seal(payload)
	if err != nil {
		return nil, fmt.Errorf("seal: %w", err)
	}

	out := make([]byte, 0, 1+len(sender)+len(sealed))
	out = append(out, byte(len(sender)))
	out = append(out, sender...)
	return append(out, sealed...), nil
}

// SplitDatagram returns the sender name and the sealed body of a datagram.
func SplitDatagram(data []byte) (string, []byte, error) {
	if len(data) < 2 {
		return "", nil, fmt.Errorf("%w: %d bytes", ErrMalformedDatagram, len(data))
	}
	n := int(data[0])
	if n == 0 || len(data) < 1+n {
		return "", nil, fmt.Errorf("%w: name length %d, datagram %d bytes", ErrMalformedDatagram, n, len(data))
	}
	return string(data[1 : 1+n]), data[1+n:], nil
}
