package transport

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"time"
)

// ErrSenderClosed indicates a send on a closed UDPSender.
var ErrSenderClosed = errors.New("udp sender closed")

// UDPSender sends datagrams from unbound sockets, one per address family.
// Sockets are opened on first use. It is safe for concurrent use.
type UDPSender struct {
	mu     sync.Mutex
	v4     *net.UDPConn
	v6     *net.UDPConn
	closed bool

	// WriteTimeout bounds each send. Zero means no deadline.
	WriteTimeout time.Duration
}

// NewUDPSender creates a sender.
func NewUDPSender(writeTimeout time.Duration) *UDPSender {
	return &UDPSender{WriteTimeout: writeTimeout}
}

// SendTo sends data to addr (host:port).
func (s *UDPSender) SendTo(addr string, data []byte) (int, error) {
	raddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return 0, fmt.Errorf("resolve %s: %w", addr, err)
	}

	pc, err := s.socket(raddr.IP.To4() == nil)
	if err != nil {
		return 0, err
	}
	if s.WriteTimeout > 0 {
		_ = pc.SetWriteDeadline(time.Now().Add(s.WriteTimeout))
	}
	return pc.WriteToUDP(data, raddr)
}

func (s *UDPSender) socket(v6 bool) (*net.UDPConn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrSenderClosed
	}

	slot, network := &s.v4, "udp4"
	if v6 {
		slot, network = &s.v6, "udp6"
	}
	if *slot == nil {
		pc, err := net.ListenUDP(network, nil)
		if err != nil {
			return nil, fmt.Errorf("open %s socket: %w", network, err)
		}
		*slot = pc
	}
	return *slot, nil
}

// Close closes the sockets.
func (s *UDPSender) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	var errs []error
	for _, pc := range []*net.UDPConn{s.v4, s.v6} {
		if pc != nil {
			errs = append(errs, pc.Close())
		}
	}
	s.v4, s.v6 = nil, nil
	return errors.Join(errs...)
}
