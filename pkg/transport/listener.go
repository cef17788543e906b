package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/peerlink/peerlink-go/pkg/wire"
)

// DefaultRetryDelay is the pause after an unexpected accept failure.
const DefaultRetryDelay = 3 * time.Second

// ErrNoSockets indicates that no socket could be opened.
var ErrNoSockets = errors.New("no listening sockets")

// ListenerConfig configures a Listener.
type ListenerConfig struct {
	// Host to bind. Empty binds the unspecified address of every family.
	Host string

	// Port to bind. Zero picks a free port, shared by all sockets.
	Port int

	// Family is "tcp" (IPv4 and IPv6), "tcp4" or "tcp6".
	Family string

	// TCP and UDP select the socket types to open.
	TCP bool
	UDP bool

	// RetryDelay is the pause after an unexpected accept failure.
	RetryDelay time.Duration

	// Logger for operational logging (optional).
	Logger *slog.Logger

	// OnAccept is called from the dispatch loop for each accepted connection.
	// It must not block.
	OnAccept func(conn net.Conn)

	// OnDatagram is called from the dispatch loop for each datagram.
	// data is owned by the callee.
	OnDatagram func(data []byte, from *net.UDPAddr)
}

type eventKind uint8

const (
	eventAccept eventKind = iota
	eventDatagram
	eventError
)

type event struct {
	kind eventKind
	conn net.Conn
	data []byte
	from *net.UDPAddr
	err  error
}

// Listener owns the server sockets of a node and multiplexes their events
// onto one dispatch loop.
type Listener struct {
	config ListenerConfig

	tcp []net.Listener
	udp []*net.UDPConn

	events chan event
	done   chan struct{}

	running   atomic.Bool
	closeOnce sync.Once
}

// Listen opens the configured sockets. Sockets that fail to open are logged
// and skipped; TCPAccept and UDPAccept report what is available.
// It fails only if nothing could be opened.
func Listen(config ListenerConfig) (*Listener, error) {
	if config.Family == "" {
		config.Family = "tcp"
	}
	if config.RetryDelay <= 0 {
		config.RetryDelay = DefaultRetryDelay
	}

	l := &Listener{
		config: config,
		events: make(chan event),
		done:   make(chan struct{}),
	}

	hosts, err := bindHosts(config.Host, config.Family)
	if err != nil {
		return nil, err
	}

	port := config.Port
	if config.TCP {
		for _, h := range hosts {
			ln, err := net.Listen(h.network, net.JoinHostPort(h.host, strconv.Itoa(port)))
			if err != nil {
				l.debugLog("tcp listen failed", "host", h.host, "port", port, "error", err)
				continue
			}
			if port == 0 {
				port = ln.Addr().(*net.TCPAddr).Port
			}
			l.debugLog("listening", "transport", "tcp", "addr", ln.Addr().String())
			l.tcp = append(l.tcp, ln)
		}
	}
	if config.UDP {
		for _, h := range hosts {
			network := "udp4"
			if h.network == "tcp6" {
				network = "udp6"
			}
			addr, err := net.ResolveUDPAddr(network, net.JoinHostPort(h.host, strconv.Itoa(port)))
			if err != nil {
				l.debugLog("udp resolve failed", "host", h.host, "error", err)
				continue
			}
			pc, err := net.ListenUDP(network, addr)
			if err != nil {
				l.debugLog("udp listen failed", "host", h.host, "port", port, "error", err)
				continue
			}
			if port == 0 {
				port = pc.LocalAddr().(*net.UDPAddr).Port
			}
			l.debugLog("listening", "transport", "udp", "addr", pc.LocalAddr().String())
			l.udp = append(l.udp, pc)
		}
	}

	if len(l.tcp) == 0 && len(l.udp) == 0 {
		return nil, ErrNoSockets
	}
	return l, nil
}

type bindHost struct {
	network string
	host    string
}

// bindHosts expands host and family into concrete bind targets.
func bindHosts(host, family string) ([]bindHost, error) {
	switch family {
	case "tcp", "tcp4", "tcp6":
	default:
		return nil, fmt.Errorf("unsupported family %q", family)
	}

	if host == "" {
		var out []bindHost
		if family != "tcp6" {
			out = append(out, bindHost{"tcp4", "0.0.0.0"})
		}
		if family != "tcp4" {
			out = append(out, bindHost{"tcp6", "::"})
		}
		return out, nil
	}

	ip := net.ParseIP(stripZone(host))
	if ip == nil {
		ips, err := net.LookupIP(host)
		if err != nil {
			return nil, fmt.Errorf("resolve %s: %w", host, err)
		}
		var out []bindHost
		for _, ip := range ips {
			if b, ok := hostForFamily(ip, ip.String(), family); ok {
				out = append(out, b)
			}
		}
		return out, nil
	}

	b, ok := hostForFamily(ip, host, family)
	if !ok {
		return nil, fmt.Errorf("host %s does not match family %s", host, family)
	}
	return []bindHost{b}, nil
}

func hostForFamily(ip net.IP, host, family string) (bindHost, bool) {
	if ip.To4() != nil {
		return bindHost{"tcp4", host}, family != "tcp6"
	}
	return bindHost{"tcp6", host}, family != "tcp4"
}

func stripZone(host string) string {
	for i := 0; i < len(host); i++ {
		if host[i] == '%' {
			return host[:i]
		}
	}
	return host
}

// TCPAccept reports whether at least one TCP socket is open.
func (l *Listener) TCPAccept() bool { return len(l.tcp) > 0 }

// UDPAccept reports whether at least one UDP socket is open.
func (l *Listener) UDPAccept() bool { return len(l.udp) > 0 }

// Port returns the bound port, or 0 if nothing is bound.
func (l *Listener) Port() int {
	switch {
	case len(l.tcp) > 0:
		return l.tcp[0].Addr().(*net.TCPAddr).Port
	case len(l.udp) > 0:
		return l.udp[0].LocalAddr().(*net.UDPAddr).Port
	default:
		return 0
	}
}

// Addrs returns the addresses of all open sockets.
func (l *Listener) Addrs() []net.Addr {
	var out []net.Addr
	for _, ln := range l.tcp {
		out = append(out, ln.Addr())
	}
	for _, pc := range l.udp {
		out = append(out, pc.LocalAddr())
	}
	return out
}

// Serve runs one reader per socket and the dispatch loop until ctx is
// cancelled or Close is called.
func (l *Listener) Serve(ctx context.Context) error {
	if !l.running.CompareAndSwap(false, true) {
		return fmt.Errorf("listener already serving")
	}

	g, ctx := errgroup.WithContext(ctx)

	for _, ln := range l.tcp {
		g.Go(func() error {
			l.acceptLoop(ctx, ln)
			return nil
		})
	}
	for _, pc := range l.udp {
		g.Go(func() error {
			l.readLoop(ctx, pc)
			return nil
		})
	}
	g.Go(func() error {
		select {
		case <-ctx.Done():
		case <-l.done:
		}
		l.Close()
		return nil
	})
	g.Go(func() error {
		l.dispatch(ctx)
		return nil
	})

	return g.Wait()
}

// Close closes every socket. Safe to call multiple times.
func (l *Listener) Close() error {
	var errs []error
	l.closeOnce.Do(func() {
		close(l.done)
		for _, ln := range l.tcp {
			if err := ln.Close(); err != nil {
				errs = append(errs, err)
			}
		}
		for _, pc := range l.udp {
			if err := pc.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	})
	return errors.Join(errs...)
}

// acceptLoop feeds accepted connections to the dispatch loop.
func (l *Listener) acceptLoop(ctx context.Context, ln net.Listener) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			if !l.send(ctx, event{kind: eventError, err: fmt.Errorf("accept: %w", err)}) {
				return
			}
			select {
			case <-ctx.Done():
				return
			case <-l.done:
				return
			case <-time.After(l.config.RetryDelay):
			}
			continue
		}

		if !l.send(ctx, event{kind: eventAccept, conn: conn}) {
			conn.Close()
			return
		}
	}
}

// readLoop feeds datagrams to the dispatch loop.
func (l *Listener) readLoop(ctx context.Context, pc *net.UDPConn) {
	buf := make([]byte, wire.MaxDatagramSize)
	for {
		n, from, err := pc.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) || errors.Is(err, io.EOF) {
				return
			}
			if !l.send(ctx, event{kind: eventError, err: fmt.Errorf("read datagram: %w", err)}) {
				return
			}
			continue
		}
		if n == 0 {
			continue
		}

		data := make([]byte, n)
		copy(data, buf[:n])
		if !l.send(ctx, event{kind: eventDatagram, data: data, from: from}) {
			return
		}
	}
}

func (l *Listener) send(ctx context.Context, ev event) bool {
	select {
	case l.events <- ev:
		return true
	case <-ctx.Done():
		return false
	case <-l.done:
		return false
	}
}

// dispatch handles socket events one at a time.
func (l *Listener) dispatch(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-l.done:
			return
		case ev := <-l.events:
			switch ev.kind {
			case eventAccept:
				l.debugLog("accepted", "remote", ev.conn.RemoteAddr().String())
				if l.config.OnAccept != nil {
					l.config.OnAccept(ev.conn)
				} else {
					ev.conn.Close()
				}
			case eventDatagram:
				if l.config.OnDatagram != nil {
					l.config.OnDatagram(ev.data, ev.from)
				}
			case eventError:
				l.debugLog("socket error", "error", ev.err)
			}
		}
	}
}

// debugLog logs a debug message if logging is enabled.
func (l *Listener) debugLog(msg string, args ...any) {
	if l.config.Logger != nil {
		l.config.Logger.Debug(msg, args...)
	}
}
