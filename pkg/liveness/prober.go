package liveness

import (
	"context"
	"log/slog"
	"net"
	"strconv"
	"time"

	"github.com/peerlink/peerlink-go/pkg/log"
	"github.com/peerlink/peerlink-go/pkg/peer"
)

// DefaultProbeTimeout bounds the TCP reachability connect.
const DefaultProbeTimeout = 10 * time.Second

// PingFunc sends a Ping to p, over UDP when udp is set.
type PingFunc func(ctx context.Context, p *peer.Peer, udp bool) error

// ProberConfig configures a Prober.
type ProberConfig struct {
	// Gate serializes the UDP ping.
	Gate *Gate

	// Registry is consulted before probing; unregistered peers are skipped.
	Registry *peer.Registry

	// SendPing transmits the Ping payload.
	SendPing PingFunc

	// Timeout bounds the TCP connect. Zero means DefaultProbeTimeout.
	Timeout time.Duration

	// Logger for operational logging (optional).
	Logger *slog.Logger

	// ProtocolLogger receives capability changes (optional).
	ProtocolLogger log.Logger
}

// Result is the outcome of a reachability probe.
type Result struct {
	TCP bool
	UDP bool
}

// Prober tests whether a peer accepts direct TCP connections and datagrams.
type Prober struct {
	config ProberConfig
	dialer net.Dialer
}

// NewProber creates a prober.
func NewProber(config ProberConfig) *Prober {
	if config.Timeout <= 0 {
		config.Timeout = DefaultProbeTimeout
	}
	return &Prober{
		config: config,
		dialer: net.Dialer{Timeout: config.Timeout},
	}
}

// IsReachable probes p and updates its capability flags. It does nothing
// and returns false if p is not registered.
func (pr *Prober) IsReachable(ctx context.Context, p *peer.Peer) (Result, bool) {
	if pr.config.Registry != nil && !pr.config.Registry.Contains(p) {
		return Result{}, false
	}

	res := Result{
		TCP: pr.probeTCP(ctx, p),
		UDP: pr.probeUDP(ctx, p),
	}

	if old := p.SetTCPAccept(res.TCP); old != res.TCP {
		pr.logChange(p, "tcp", old, res.TCP)
	}
	if old := p.SetUDPAccept(res.UDP); old != res.UDP {
		pr.logChange(p, "udp", old, res.UDP)
	}
	return res, true
}

func (pr *Prober) probeTCP(ctx context.Context, p *peer.Peer) bool {
	conn, err := pr.dialer.DialContext(ctx, "tcp", p.AdvertisedAddr())
	if err != nil {
		pr.debugLog("tcp probe failed", "peer", p.Name, "addr", p.AdvertisedAddr(), "error", err)
		return false
	}
	conn.Close()
	return true
}

func (pr *Prober) probeUDP(ctx context.Context, p *peer.Peer) bool {
	if pr.config.Gate == nil || pr.config.SendPing == nil {
		return false
	}
	return pr.config.Gate.Ping(ctx, p, func() error {
		return pr.config.SendPing(ctx, p, true)
	})
}

func (pr *Prober) logChange(p *peer.Peer, transport string, old, now bool) {
	pr.debugLog("update accept status", "peer", p.Name, "transport", transport, "old", old, "new", now)
	log.Emit(pr.config.ProtocolLogger, log.Event{
		ConnectionID: p.ConnID,
		PeerName:     p.Name,
		Layer:        log.LayerLiveness,
		Category:     log.CategoryState,
		StateChange: &log.StateChangeEvent{
			Entity:   log.StateEntityCapability,
			OldState: transport + "=" + strconv.FormatBool(old),
			NewState: transport + "=" + strconv.FormatBool(now),
		},
	})
}

func (pr *Prober) debugLog(msg string, args ...any) {
	if pr.config.Logger != nil {
		pr.config.Logger.Debug(msg, args...)
	}
}
