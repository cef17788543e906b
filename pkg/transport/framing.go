package transport

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/peerlink/peerlink-go/pkg/log"
	"github.com/peerlink/peerlink-go/pkg/neterr"
	"github.com/peerlink/peerlink-go/pkg/traffic"
	"github.com/peerlink/peerlink-go/pkg/wire"
)

// Framing constants.
const (
	// ReadBufferSize is the size of a single socket read.
	ReadBufferSize = 4096

	// DefaultIdleTimeout bounds a read waiting for a new frame.
	DefaultIdleTimeout = time.Hour

	// DefaultReadTimeout bounds a read in the middle of a frame.
	DefaultReadTimeout = 10 * time.Second
)

// Stream errors.
var (
	// ErrConnectionClosed indicates the remote side closed the stream.
	ErrConnectionClosed = errors.New("connection closed by peer")

	// ErrRemovedByPeer indicates the remote side sent a removal notice.
	ErrRemovedByPeer = errors.New("removed by peer")
)

// deadlineReader is implemented by net.Conn.
type deadlineReader interface {
	SetReadDeadline(t time.Time) error
}

// FrameReaderConfig configures a FrameReader.
type FrameReaderConfig struct {
	// MaxFrameSize is the largest accepted frame body.
	// Zero means wire.MaxFrameSize(wire.DefaultMaxReceiveSize).
	MaxFrameSize int

	// IdleTimeout bounds a read with no frame in progress.
	IdleTimeout time.Duration

	// ReadTimeout bounds a read with a frame in progress.
	ReadTimeout time.Duration

	// Counters receive the number of bytes read (optional).
	Counters []*traffic.Counter

	// Logger for protocol logging (optional).
	Logger log.Logger

	// ConnID and PeerName are attached to log events.
	ConnID   string
	PeerName string
}

// FrameReader reads length-prefixed frames from a stream.
//
// A single read may deliver part of a length prefix, part of a body or
// several frames at once. Bytes beyond the current frame are kept for the
// next call to Next.
type FrameReader struct {
	r       io.Reader
	dl      deadlineReader
	config  FrameReaderConfig
	pending []byte
	scratch []byte
	err     error
}

// NewFrameReader creates a frame reader on r. If r supports read deadlines
// (as net.Conn does), the configured timeouts are applied.
func NewFrameReader(r io.Reader, config FrameReaderConfig) *FrameReader {
	if config.MaxFrameSize <= 0 {
		config.MaxFrameSize = wire.MaxFrameSize(wire.DefaultMaxReceiveSize)
	}
	if config.IdleTimeout <= 0 {
		config.IdleTimeout = DefaultIdleTimeout
	}
	if config.ReadTimeout <= 0 {
		config.ReadTimeout = DefaultReadTimeout
	}
	fr := &FrameReader{
		r:       r,
		config:  config,
		scratch: make([]byte, ReadBufferSize),
	}
	if dl, ok := r.(deadlineReader); ok {
		fr.dl = dl
	}
	return fr
}

// Buffered returns the number of bytes read but not yet returned.
func (fr *FrameReader) Buffered() int {
	return len(fr.pending)
}

// Next returns the body of the next frame.
//
// Every error is final. The peer closed the stream (ErrConnectionClosed),
// sent a removal notice (ErrRemovedByPeer), announced an empty frame
// (wire.ErrEmptyFrame) or a size over the limit (wire.ErrFrameTooLarge), or
// a deadline expired.
func (fr *FrameReader) Next() ([]byte, error) {
	for {
		if len(fr.pending) >= wire.LengthPrefixSize {
			n := wire.FrameLength(fr.pending)
			if n == 0 {
				fr.pending = fr.pending[wire.LengthPrefixSize:]
				return nil, neterr.Protocol("read frame", wire.ErrEmptyFrame)
			}
			if n > fr.config.MaxFrameSize {
				if bytes.HasPrefix(fr.pending, wire.RemovalNoticePrefix) {
					reason := fr.pending[len(wire.RemovalNoticePrefix):]
					return nil, neterr.New(neterr.KindReset, "read frame",
						fmt.Errorf("%w: %s", ErrRemovedByPeer, reason))
				}
				return nil, neterr.New(neterr.KindCapacity, "read frame",
					fmt.Errorf("%w: %d > %d", wire.ErrFrameTooLarge, n, fr.config.MaxFrameSize))
			}
			end := wire.LengthPrefixSize + n
			if len(fr.pending) >= end {
				body := make([]byte, n)
				copy(body, fr.pending[wire.LengthPrefixSize:end])
				fr.pending = fr.pending[end:]
				if len(fr.pending) == 0 {
					fr.pending = nil
				}
				fr.logFrame(body)
				return body, nil
			}
		}

		if fr.err != nil {
			return nil, fr.err
		}
		fr.err = fr.fill()
	}
}

// fill performs one read and appends the result to pending. Bytes that
// arrive together with an error are kept so complete frames are still
// returned before the error.
func (fr *FrameReader) fill() error {
	if fr.dl != nil {
		timeout := fr.config.IdleTimeout
		if len(fr.pending) > 0 {
			timeout = fr.config.ReadTimeout
		}
		_ = fr.dl.SetReadDeadline(time.Now().Add(timeout))
	}

	n, err := fr.r.Read(fr.scratch)
	if n > 0 {
		fr.pending = append(fr.pending, fr.scratch[:n]...)
		for _, c := range fr.config.Counters {
			c.AddDown(n)
		}
	}
	if err != nil {
		if errors.Is(err, io.EOF) {
			return neterr.New(neterr.KindReset, "read frame", ErrConnectionClosed)
		}
		return neterr.Wrap("read frame", err)
	}
	if n == 0 {
		return neterr.New(neterr.KindReset, "read frame", ErrConnectionClosed)
	}
	return nil
}

func (fr *FrameReader) logFrame(body []byte) {
	if fr.config.Logger == nil {
		return
	}
	log.Emit(fr.config.Logger, log.Event{
		ConnectionID: fr.config.ConnID,
		PeerName:     fr.config.PeerName,
		Direction:    log.DirectionIn,
		Layer:        log.LayerTransport,
		Category:     log.CategoryMessage,
		Frame:        log.NewFrameEvent(body, log.TransportTCP),
	})
}
