// Package liveness checks whether peers still answer and whether they can
// be reached directly over TCP and UDP.
package liveness

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/peerlink/peerlink-go/pkg/peer"
)

// Liveness defaults.
const (
	// DefaultGateTimeout bounds waiting for the gate.
	DefaultGateTimeout = 10 * time.Second

	// DefaultPongTimeout bounds waiting for a Pong.
	DefaultPongTimeout = 5 * time.Second
)

// GateConfig configures a Gate.
type GateConfig struct {
	GateTimeout time.Duration
	PongTimeout time.Duration
	Logger      *slog.Logger
}

// Gate serializes ping round trips node-wide. At most one ping is in
// flight at a time, and a Pong only completes the ping sent to the same
// peer.
type Gate struct {
	sem    *semaphore.Weighted
	config GateConfig

	mu     sync.Mutex
	target *peer.Peer
	pong   chan struct{}
}

// NewGate creates a gate.
func NewGate(config GateConfig) *Gate {
	if config.GateTimeout <= 0 {
		config.GateTimeout = DefaultGateTimeout
	}
	if config.PongTimeout <= 0 {
		config.PongTimeout = DefaultPongTimeout
	}
	return &Gate{
		sem:    semaphore.NewWeighted(1),
		config: config,
	}
}

// Ping acquires the gate, calls send to transmit a Ping to p, and waits for
// the matching Pong. It returns false if the gate could not be acquired in
// time, send failed, or no Pong arrived within the pong timeout.
func (g *Gate) Ping(ctx context.Context, p *peer.Peer, send func() error) bool {
	actx, cancel := context.WithTimeout(ctx, g.config.GateTimeout)
	err := g.sem.Acquire(actx, 1)
	cancel()
	if err != nil {
		g.debugLog("ping gate busy", "peer", p.Name, "error", err)
		return false
	}
	defer g.sem.Release(1)

	ch := make(chan struct{}, 1)
	g.mu.Lock()
	g.target = p
	g.pong = ch
	g.mu.Unlock()

	defer func() {
		g.mu.Lock()
		g.target = nil
		g.pong = nil
		g.mu.Unlock()
	}()

	if err := send(); err != nil {
		g.debugLog("ping send failed", "peer", p.Name, "error", err)
		return false
	}

	timer := time.NewTimer(g.config.PongTimeout)
	defer timer.Stop()

	select {
	case <-ch:
		return true
	case <-timer.C:
		g.debugLog("pong timeout", "peer", p.Name)
		return false
	case <-p.Done():
		return false
	case <-ctx.Done():
		return false
	}
}

// Pong records a Pong from p. It reports whether a ping to p was waiting.
func (g *Gate) Pong(p *peer.Peer) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.pong == nil || g.target != p {
		return false
	}
	select {
	case g.pong <- struct{}{}:
	default:
	}
	return true
}

// InFlight returns the peer currently being pinged, or nil.
func (g *Gate) InFlight() *peer.Peer {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.target
}

func (g *Gate) debugLog(msg string, args ...any) {
	if g.config.Logger != nil {
		g.config.Logger.Debug(msg, args...)
	}
}
