package node

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/peerlink/peerlink-go/pkg/crypto"
	"github.com/peerlink/peerlink-go/pkg/handshake"
	"github.com/peerlink/peerlink-go/pkg/liveness"
	"github.com/peerlink/peerlink-go/pkg/log"
	"github.com/peerlink/peerlink-go/pkg/neterr"
	"github.com/peerlink/peerlink-go/pkg/peer"
	"github.com/peerlink/peerlink-go/pkg/queue"
	"github.com/peerlink/peerlink-go/pkg/traffic"
	"github.com/peerlink/peerlink-go/pkg/transport"
	"github.com/peerlink/peerlink-go/pkg/wire"
)

// CloseReason is sent to every peer when the node shuts down.
const CloseReason = "Manually closing."

// Node errors.
var (
	ErrAlreadyStarted = errors.New("node already started")
	ErrNotRunning     = errors.New("node is not running")
)

// State is the lifecycle state of a Node.
type State uint8

const (
	StateIdle State = iota
	StateRunning
	StateStopped
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateRunning:
		return "RUNNING"
	case StateStopped:
		return "STOPPED"
	default:
		return "UNKNOWN"
	}
}

// Message is an application payload received from a peer.
type Message struct {
	Peer    *peer.Peer
	Payload []byte
	UDP     bool
}

// Node is the transport core of one peerlink node.
type Node struct {
	config   Config
	identity *crypto.Identity

	registry  *peer.Registry
	gate      *liveness.Gate
	prober    *liveness.Prober
	initiator *handshake.Initiator
	responder *handshake.Responder
	udp       *transport.UDPSender
	listener  *transport.Listener
	messages  *queue.Broadcast[Message]
	traffic   traffic.Counter

	mu        sync.RWMutex
	state     State
	header    wire.Header
	startTime int64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a node. It does not open any socket.
func New(config Config) (*Node, error) {
	config.applyDefaults()
	if config.Name == "" {
		return nil, wire.ErrMissingName
	}
	if len(config.Name) > wire.MaxNameLength {
		return nil, fmt.Errorf("%w: %d bytes", wire.ErrNameTooLong, len(config.Name))
	}
	if config.NetworkVersion == "" {
		return nil, wire.ErrMissingNetworkVersion
	}

	id := config.Identity
	if id == nil {
		var err error
		if id, err = crypto.NewIdentity(); err != nil {
			return nil, err
		}
	}

	n := &Node{
		config:    config,
		identity:  id,
		registry:  peer.NewRegistry(),
		udp:       transport.NewUDPSender(config.Timeouts.Write),
		messages:  queue.NewBroadcast[Message](config.QueueSize),
		startTime: time.Now().Unix(),
	}
	n.header = wire.Header{
		Name:           config.Name,
		ClientVersion:  wire.Version(config.ClientVersion),
		NetworkVersion: wire.Version(config.NetworkVersion),
		P2PAccept:      config.P2PAccept,
		P2PUDPAccept:   config.P2PAccept && config.P2PUDPAccept,
		P2PPort:        config.Port,
		StartTime:      n.startTime,
	}

	n.gate = liveness.NewGate(liveness.GateConfig{
		GateTimeout: config.Timeouts.PingGate,
		PongTimeout: config.Timeouts.Pong,
		Logger:      config.Logger,
	})
	n.prober = liveness.NewProber(liveness.ProberConfig{
		Gate:           n.gate,
		Registry:       n.registry,
		SendPing:       n.sendPing,
		Timeout:        config.Timeouts.Probe,
		Logger:         config.Logger,
		ProtocolLogger: config.ProtocolLogger,
	})

	hs := handshake.Config{
		Identity:       id,
		Header:         n.Header,
		NextID:         n.registry.NextID,
		Timeout:        config.Timeouts.Handshake,
		Counter:        &n.traffic,
		Logger:         config.Logger,
		ProtocolLogger: config.ProtocolLogger,
	}
	n.initiator = handshake.NewInitiator(hs)
	n.responder = handshake.NewResponder(hs)

	return n, nil
}

// Start opens the listener (if enabled) and starts background work.
func (n *Node) Start(ctx context.Context) error {
	n.mu.Lock()
	if n.state != StateIdle {
		n.mu.Unlock()
		return ErrAlreadyStarted
	}
	n.ctx, n.cancel = context.WithCancel(ctx)
	n.mu.Unlock()

	if n.config.P2PAccept {
		l, err := transport.Listen(transport.ListenerConfig{
			Host:       n.config.Host,
			Port:       n.config.Port,
			Family:     n.config.Family,
			TCP:        true,
			UDP:        n.config.P2PUDPAccept,
			RetryDelay: n.config.Timeouts.ListenerRetry,
			Logger:     n.config.Logger,
			OnAccept:   n.handleAccept,
			OnDatagram: n.handleDatagram,
		})
		n.mu.Lock()
		if err != nil {
			n.logError(log.LayerTransport, "listen", err)
			n.header.P2PAccept = false
			n.header.P2PUDPAccept = false
		} else {
			n.listener = l
			if !l.TCPAccept() {
				n.infoLog("could not open tcp sockets")
				n.header.P2PAccept = false
			}
			if n.config.P2PUDPAccept && !l.UDPAccept() {
				n.infoLog("could not open udp sockets")
				n.header.P2PUDPAccept = false
			}
			if n.header.P2PPort == 0 {
				n.header.P2PPort = l.Port()
			}
		}
		n.mu.Unlock()

		if l != nil {
			n.wg.Add(1)
			go func() {
				defer n.wg.Done()
				_ = l.Serve(n.ctx)
			}()
		}
	} else {
		n.infoLog("p2p accept disabled")
	}

	if n.config.TrafficInterval > 0 {
		rec := traffic.NewRecorder(&n.traffic, traffic.RecorderConfig{
			Interval:       n.config.TrafficInterval,
			Logger:         n.config.Logger,
			ProtocolLogger: n.config.ProtocolLogger,
			LocalName:      n.config.Name,
			Observer:       n.config.TrafficObserver,
		})
		n.wg.Add(1)
		go func() {
			defer n.wg.Done()
			rec.Run(n.ctx)
		}()
	}

	n.mu.Lock()
	n.state = StateRunning
	hdr := n.header
	n.mu.Unlock()

	n.infoLog("node started", "name", hdr.Name, "port", hdr.P2PPort,
		"tcp_accept", hdr.P2PAccept, "udp_accept", hdr.P2PUDPAccept)
	return nil
}

// Close removes every peer, closes the listener and waits for background
// goroutines to finish.
func (n *Node) Close() error {
	n.mu.Lock()
	if n.state != StateRunning {
		n.mu.Unlock()
		return ErrNotRunning
	}
	n.state = StateStopped
	n.mu.Unlock()

	n.cancel()
	if n.listener != nil {
		_ = n.listener.Close()
	}
	for _, p := range n.registry.Snapshot() {
		n.RemoveConnection(p, CloseReason)
	}
	n.wg.Wait()

	n.messages.Close()
	err := n.udp.Close()
	n.infoLog("node stopped")
	return err
}

// Running reports whether the node is started and not yet closed.
func (n *Node) Running() bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.state == StateRunning
}

// State returns the lifecycle state.
func (n *Node) State() State {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.state
}

// Header returns a copy of the header announced to peers.
func (n *Node) Header() *wire.Header {
	n.mu.RLock()
	defer n.mu.RUnlock()
	h := n.header
	return &h
}

// Name returns the node name.
func (n *Node) Name() string { return n.config.Name }

// Port returns the listening port, or the configured port if not listening.
func (n *Node) Port() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.header.P2PPort
}

// Subscribe returns a subscription to received application payloads.
func (n *Node) Subscribe() *queue.Subscription[Message] {
	return n.messages.Subscribe()
}

// Peers returns the currently registered peers.
func (n *Node) Peers() []*peer.Peer {
	return n.registry.Snapshot()
}

// FindByName returns the registered peer with the given name.
func (n *Node) FindByName(name string) (*peer.Peer, bool) {
	return n.registry.FindByName(name)
}

// FindByAddr returns the registered peer at host:port.
func (n *Node) FindByAddr(hostPort string) (*peer.Peer, bool) {
	return n.registry.FindByAddr(hostPort)
}

// Traffic returns the node-wide byte counters.
func (n *Node) Traffic() traffic.Snapshot {
	return n.traffic.Snapshot()
}

// Connect dials host:port, runs the handshake and waits until the new peer
// is registered. A reachability probe runs before Connect returns.
func (n *Node) Connect(ctx context.Context, host string, port int) (*peer.Peer, error) {
	if !n.Running() {
		return nil, ErrNotRunning
	}
	ctx, cancel := mergeContext(ctx, n.ctx)
	defer cancel()

	addr := net.JoinHostPort(host, strconv.Itoa(port))
	dialer := net.Dialer{Timeout: n.config.Timeouts.Dial}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		n.debugLog("dial failed", "addr", addr, "error", err)
		return nil, neterr.Wrap("dial "+addr, err)
	}
	n.debugLog("connection created", "addr", addr)

	p, err := n.initiator.Run(ctx, conn)
	if err != nil {
		return nil, err
	}
	n.infoLog("new connection", "peer", p.Name, "addr", p.HostPort())

	n.spawnReceive(p)

	regErr := n.registry.WaitRegisteredTimeout(ctx, p, n.config.Timeouts.Registration)
	n.prober.IsReachable(ctx, p)
	if regErr != nil {
		return nil, neterr.New(neterr.KindRegistry, "connect "+addr, regErr)
	}
	return p, nil
}

// Ping sends a Ping to p and waits for the Pong. Only one ping is in flight
// node-wide at a time.
func (n *Node) Ping(ctx context.Context, p *peer.Peer, udp bool) bool {
	return n.gate.Ping(ctx, p, func() error {
		return n.sendPing(ctx, p, udp)
	})
}

// IsReachable probes whether p accepts direct TCP connections and
// datagrams, and updates its capabilities. Unregistered peers are skipped.
func (n *Node) IsReachable(ctx context.Context, p *peer.Peer) (liveness.Result, bool) {
	return n.prober.IsReachable(ctx, p)
}

// RemoveConnection closes p, sending reason first if it is not empty, and
// removes it from the registry. It reports whether p was registered.
func (n *Node) RemoveConnection(p *peer.Peer, reason string) bool {
	if p == nil {
		return false
	}
	n.notifyRemoval(p, reason)
	_ = p.Close()

	if !n.registry.Remove(p) {
		n.debugLog("failed remove connection, not found", "peer", p.Name, "reason", reason)
		return false
	}
	n.debugLog("removed connection", "peer", p.Name, "reason", reason)
	n.logPeerState(p, "REGISTERED", "REMOVED", reason)
	return true
}

// notifyRemoval writes the raw removal notice to p, best effort. It does
// nothing for an empty reason or a closed peer.
func (n *Node) notifyRemoval(p *peer.Peer, reason string) {
	if reason == "" || p.IsClosed() {
		return
	}
	if w, err := p.Write(wire.RemovalNotice(reason), time.Second); err == nil {
		n.traffic.AddUp(w)
		p.Traffic.AddUp(w)
	}
	log.Emit(n.config.ProtocolLogger, log.Event{
		ConnectionID: p.ConnID,
		PeerName:     p.Name,
		LocalName:    n.config.Name,
		Direction:    log.DirectionOut,
		Layer:        log.LayerRegistry,
		Category:     log.CategoryControl,
		ControlMsg:   &log.ControlMsgEvent{Type: log.ControlMsgRemoval, Detail: reason},
	})
}

// handleAccept is called from the listener dispatch loop.
func (n *Node) handleAccept(conn net.Conn) {
	n.infoLog("server accept", "remote", conn.RemoteAddr().String())
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		n.handleInbound(conn)
	}()
}

// handleInbound authenticates an accepted connection and checks its
// reachability after a grace period.
func (n *Node) handleInbound(conn net.Conn) {
	p, err := n.responder.Run(n.ctx, conn)
	if err != nil {
		return
	}
	n.infoLog("new connection", "peer", p.Name, "addr", p.HostPort())

	n.spawnReceive(p)

	timer := time.NewTimer(n.config.Timeouts.ReachabilityGrace)
	defer timer.Stop()
	select {
	case <-n.ctx.Done():
		return
	case <-p.Done():
		return
	case <-timer.C:
	}
	n.prober.IsReachable(n.ctx, p)
}

func (n *Node) spawnReceive(p *peer.Peer) {
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		n.receiveLoop(p)
	}()
}

func (n *Node) logError(layer log.Layer, op string, err error) {
	n.debugLog(op+" failed", "error", err)
	log.Emit(n.config.ProtocolLogger, log.Event{
		LocalName: n.config.Name,
		Layer:     layer,
		Category:  log.CategoryError,
		Error: &log.ErrorEventData{
			Layer:   layer,
			Message: err.Error(),
			Kind:    neterr.KindOf(err).String(),
			Context: op,
		},
	})
}

// debugLog logs a debug message if logging is enabled.
func (n *Node) debugLog(msg string, args ...any) {
	if n.config.Logger != nil {
		n.config.Logger.Debug(msg, args...)
	}
}

func (n *Node) infoLog(msg string, args ...any) {
	if n.config.Logger != nil {
		n.config.Logger.Info(msg, args...)
	}
}

// mergeContext returns a context cancelled when either parent is done.
func mergeContext(a, b context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(a)
	stop := context.AfterFunc(b, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}
