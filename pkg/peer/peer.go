// Package peer holds the record of one connected node and the registry of
// all active connections.
package peer

import (
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/peerlink/peerlink-go/pkg/crypto"
	"github.com/peerlink/peerlink-go/pkg/traffic"
	"github.com/peerlink/peerlink-go/pkg/wire"
)

// Role tells which side opened the TCP connection.
type Role uint8

const (
	// RoleServer marks a connection accepted by the local listener.
	RoleServer Role = iota
	// RoleClient marks a connection dialed by the local node.
	RoleClient
)

// String returns the role name.
func (r Role) String() string {
	switch r {
	case RoleServer:
		return "server"
	case RoleClient:
		return "client"
	default:
		return "unknown"
	}
}

// Peer describes one authenticated connection.
//
// The exported identity fields are set at creation and never change.
// Capabilities are updated concurrently by reachability probes.
type Peer struct {
	// ID is the process-local sequence number assigned by the registry.
	ID uint64

	// ConnID correlates protocol log events of this connection.
	ConnID string

	// Conn is the TCP connection. It is owned by the peer and closed once.
	Conn net.Conn

	// Addr is the remote TCP address.
	Addr *net.TCPAddr

	// Name is the logical node identity announced in the header.
	Name string

	// Key is the session key shared with the remote node.
	Key crypto.SessionKey

	// Role tells which side dialed.
	Role Role

	NetworkVersion string
	ClientVersion  string
	StartTime      int64
	P2PPort        int

	// Traffic counts the bytes exchanged with this peer.
	Traffic traffic.Counter

	tcpAccept atomic.Bool
	udpAccept atomic.Bool

	writeMu sync.Mutex

	registered   chan struct{}
	registerOnce sync.Once
	done         chan struct{}
	closeOnce    sync.Once
	closeErr     error
	createdAt    time.Time
}

// New creates a peer record from an authenticated connection and the remote header.
func New(id uint64, conn net.Conn, role Role, key crypto.SessionKey, h *wire.Header) *Peer {
	p := &Peer{
		ID:             id,
		ConnID:         uuid.New().String(),
		Conn:           conn,
		Name:           h.Name,
		Key:            key,
		Role:           role,
		NetworkVersion: string(h.NetworkVersion),
		ClientVersion:  string(h.ClientVersion),
		StartTime:      h.StartTime,
		P2PPort:        h.P2PPort,
		registered:     make(chan struct{}),
		done:           make(chan struct{}),
		createdAt:      time.Now(),
	}
	if addr, ok := conn.RemoteAddr().(*net.TCPAddr); ok {
		p.Addr = addr
	}
	p.tcpAccept.Store(h.P2PAccept)
	p.udpAccept.Store(h.P2PUDPAccept)
	return p
}

// TCPAccept reports whether the peer accepts inbound TCP connections.
func (p *Peer) TCPAccept() bool { return p.tcpAccept.Load() }

// UDPAccept reports whether the peer accepts datagrams.
func (p *Peer) UDPAccept() bool { return p.udpAccept.Load() }

// SetTCPAccept updates the TCP capability and returns the previous value.
func (p *Peer) SetTCPAccept(v bool) bool { return p.tcpAccept.Swap(v) }

// SetUDPAccept updates the UDP capability and returns the previous value.
func (p *Peer) SetUDPAccept(v bool) bool { return p.udpAccept.Swap(v) }

// Host returns the remote IP as text, including the zone for link-local IPv6.
func (p *Peer) Host() string {
	if p.Addr == nil {
		if p.Conn == nil {
			return ""
		}
		host, _, _ := net.SplitHostPort(p.Conn.RemoteAddr().String())
		return host
	}
	if p.Addr.Zone != "" {
		return p.Addr.IP.String() + "%" + p.Addr.Zone
	}
	return p.Addr.IP.String()
}

// HostPort returns the remote address as host:port.
func (p *Peer) HostPort() string {
	if p.Addr == nil {
		if p.Conn == nil {
			return ""
		}
		return p.Conn.RemoteAddr().String()
	}
	return p.Addr.String()
}

// AdvertisedAddr returns the address the peer listens on: the remote host
// combined with the port announced in its header.
func (p *Peer) AdvertisedAddr() string {
	return net.JoinHostPort(p.Host(), strconv.Itoa(p.P2PPort))
}

// Age returns how long ago the record was created.
func (p *Peer) Age() time.Duration {
	return time.Since(p.createdAt)
}

// Write writes b to the connection as one unit. Concurrent writers are
// serialized so frames never interleave.
func (p *Peer) Write(b []byte, timeout time.Duration) (int, error) {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()

	if timeout > 0 {
		_ = p.Conn.SetWriteDeadline(time.Now().Add(timeout))
		defer p.Conn.SetWriteDeadline(time.Time{})
	}
	return p.Conn.Write(b)
}

// Registered is closed once the registry admits the peer.
func (p *Peer) Registered() <-chan struct{} { return p.registered }

// Done is closed when the peer is closed.
func (p *Peer) Done() <-chan struct{} { return p.done }

// IsClosed reports whether Close has been called.
func (p *Peer) IsClosed() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

// Close closes the connection. Only the first call has an effect.
func (p *Peer) Close() error {
	p.closeOnce.Do(func() {
		close(p.done)
		if p.Conn != nil {
			p.closeErr = p.Conn.Close()
		}
	})
	return p.closeErr
}

// String returns a short description for logs.
func (p *Peer) String() string {
	return p.Name + "@" + p.HostPort() + "/" + p.Role.String()
}

func (p *Peer) markRegistered() {
	p.registerOnce.Do(func() { close(p.registered) })
}
