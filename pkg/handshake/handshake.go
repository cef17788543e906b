// Package handshake turns a raw TCP connection into an authenticated peer.
//
// The dialing node (initiator) and the accepting node (responder) exchange
// four messages before any frame flows:
//
//	initiator                          responder
//	    │ ── header (JSON, clear) ──────▶ │
//	    │ ◀─────── public key (JSON) ──── │
//	    │ ── public key (JSON) ─────────▶ │
//	    │ ◀── box{session key, header} ── │
//	    │ ── seal(session key, accept) ─▶ │
//
// Each message is read with a single bounded read under a per-step
// deadline. Any failure closes the connection after a best-effort
// diagnostic write; the registry is never touched.
package handshake

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"time"

	"github.com/peerlink/peerlink-go/pkg/crypto"
	"github.com/peerlink/peerlink-go/pkg/log"
	"github.com/peerlink/peerlink-go/pkg/neterr"
	"github.com/peerlink/peerlink-go/pkg/peer"
	"github.com/peerlink/peerlink-go/pkg/traffic"
	"github.com/peerlink/peerlink-go/pkg/wire"
)

const (
	// BufferSize bounds a single handshake message.
	BufferSize = 4096

	// DefaultTimeout bounds each handshake step.
	DefaultTimeout = 10 * time.Second

	// DiagnosticPrefix starts the text written before closing a failed handshake.
	DiagnosticPrefix = "Close on initial check "
)

// Handshake errors.
var (
	// ErrPeerClosed indicates the remote side closed the connection.
	ErrPeerClosed = errors.New("peer closed connection during handshake")

	// ErrSelfConnection indicates a node connected to itself.
	ErrSelfConnection = errors.New("same origin connection")

	// ErrNotAccepted indicates a wrong final acknowledgement.
	ErrNotAccepted = errors.New("not accept signal")

	// ErrVersionMismatch indicates a different network version.
	ErrVersionMismatch = errors.New("network version mismatch")
)

// acceptSize is the exact size of the sealed acknowledgement.
var acceptSize = crypto.SealedSize(len(wire.AcceptPayload))

// Config holds what both sides of the handshake need.
type Config struct {
	// Identity is the local key pair.
	Identity *crypto.Identity

	// Header returns the local header. Called once per handshake.
	Header func() *wire.Header

	// NextID allocates peer IDs.
	NextID func() uint64

	// Timeout bounds each step. Zero means DefaultTimeout.
	Timeout time.Duration

	// Counter receives handshake bytes (optional).
	Counter *traffic.Counter

	// Logger for operational logging (optional).
	Logger *slog.Logger

	// ProtocolLogger receives handshake state events (optional).
	ProtocolLogger log.Logger
}

func (c *Config) timeout() time.Duration {
	if c.Timeout <= 0 {
		return DefaultTimeout
	}
	return c.Timeout
}

// session carries per-connection handshake state.
type session struct {
	config *Config
	conn   net.Conn
	role   peer.Role
	local  *wire.Header
	buf    []byte
}

func newSession(config *Config, conn net.Conn, role peer.Role) *session {
	return &session{
		config: config,
		conn:   conn,
		role:   role,
		local:  config.Header(),
		buf:    make([]byte, BufferSize),
	}
}

// read performs one read of at most BufferSize bytes.
func (s *session) read(step string) ([]byte, error) {
	_ = s.conn.SetReadDeadline(time.Now().Add(s.config.timeout()))
	n, err := s.conn.Read(s.buf)
	if n == 0 {
		if err == nil || errors.Is(err, io.EOF) {
			return nil, neterr.New(neterr.KindReset, step, ErrPeerClosed)
		}
		return nil, neterr.Wrap(step, err)
	}
	s.count(0, n)
	out := make([]byte, n)
	copy(out, s.buf[:n])
	return out, nil
}

// readFull reads exactly n bytes.
func (s *session) readFull(step string, n int) ([]byte, error) {
	_ = s.conn.SetReadDeadline(time.Now().Add(s.config.timeout()))
	out := make([]byte, n)
	got, err := io.ReadFull(s.conn, out)
	s.count(0, got)
	if err != nil {
		if got == 0 && errors.Is(err, io.EOF) {
			return nil, neterr.New(neterr.KindReset, step, ErrPeerClosed)
		}
		return nil, neterr.Wrap(step, err)
	}
	return out, nil
}

func (s *session) write(step string, b []byte) error {
	_ = s.conn.SetWriteDeadline(time.Now().Add(s.config.timeout()))
	n, err := s.conn.Write(b)
	s.count(n, 0)
	if err != nil {
		return neterr.Wrap(step, err)
	}
	return nil
}

func (s *session) count(up, down int) {
	if s.config.Counter != nil {
		s.config.Counter.AddUp(up)
		s.config.Counter.AddDown(down)
	}
}

// fail writes a diagnostic, closes the connection and returns err.
func (s *session) fail(err error) error {
	msg := DiagnosticPrefix + err.Error()
	_ = s.conn.SetWriteDeadline(time.Now().Add(time.Second))
	_, _ = s.conn.Write([]byte(msg))
	if tc, ok := s.conn.(interface{ CloseWrite() error }); ok {
		_ = tc.CloseWrite()
	}
	_ = s.conn.Close()

	s.debugLog("handshake failed", "role", s.role.String(), "remote", s.conn.RemoteAddr().String(), "error", err)
	s.logState("", "FAILED", err.Error())
	return err
}

func (s *session) clearDeadlines() {
	_ = s.conn.SetDeadline(time.Time{})
}

func (s *session) logState(peerName, state, reason string) {
	role := log.RoleServer
	if s.role == peer.RoleClient {
		role = log.RoleClient
	}
	log.Emit(s.config.ProtocolLogger, log.Event{
		Layer:      log.LayerHandshake,
		Category:   log.CategoryState,
		LocalRole:  role,
		RemoteAddr: s.conn.RemoteAddr().String(),
		PeerName:   peerName,
		LocalName:  s.local.Name,
		StateChange: &log.StateChangeEvent{
			Entity:   log.StateEntityHandshake,
			NewState: state,
			Reason:   reason,
		},
	})
}

func (s *session) debugLog(msg string, args ...any) {
	if s.config.Logger != nil {
		s.config.Logger.Debug(msg, args...)
	}
}

// watch aborts blocking I/O on conn when ctx ends.
func watch(ctx context.Context, conn net.Conn) func() bool {
	return context.AfterFunc(ctx, func() {
		_ = conn.SetDeadline(time.Unix(1, 0))
	})
}

func protocolErr(step string, err error) error {
	return neterr.Protocol(step, err)
}

func wrapf(err error, format string, args ...any) error {
	return fmt.Errorf("%w: %s", err, fmt.Sprintf(format, args...))
}
