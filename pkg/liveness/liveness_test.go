package liveness

import (
	"context"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/peerlink/peerlink-go/pkg/crypto"
	"github.com/peerlink/peerlink-go/pkg/peer"
	"github.com/peerlink/peerlink-go/pkg/wire"
)

func newPeer(t *testing.T, name string) *peer.Peer {
	t.Helper()
	a, b := net.Pipe()
	t.Cleanup(func() {
		a.Close()
		b.Close()
	})
	key, err := crypto.NewSessionKey()
	require.NoError(t, err)
	return peer.New(1, a, peer.RoleClient, key, &wire.Header{Name: name, NetworkVersion: "1"})
}

func TestGatePingPong(t *testing.T) {
	g := NewGate(GateConfig{PongTimeout: time.Second})
	p := newPeer(t, "alpha")

	ok := g.Ping(context.Background(), p, func() error {
		go func() {
			time.Sleep(10 * time.Millisecond)
			g.Pong(p)
		}()
		return nil
	})
	assert.True(t, ok)
	assert.Nil(t, g.InFlight())
}

func TestGatePongTimeout(t *testing.T) {
	g := NewGate(GateConfig{PongTimeout: 30 * time.Millisecond})
	p := newPeer(t, "alpha")

	assert.False(t, g.Ping(context.Background(), p, func() error { return nil }))
}

func TestGateSendFailure(t *testing.T) {
	g := NewGate(GateConfig{})
	p := newPeer(t, "alpha")

	assert.False(t, g.Ping(context.Background(), p, func() error { return errors.New("boom") }))
}

func TestGateIgnoresOtherPeers(t *testing.T) {
	g := NewGate(GateConfig{PongTimeout: 50 * time.Millisecond})
	a := newPeer(t, "alpha")
	b := newPeer(t, "beta")

	assert.False(t, g.Pong(a), "no ping in flight")

	ok := g.Ping(context.Background(), a, func() error {
		assert.False(t, g.Pong(b))
		return nil
	})
	assert.False(t, ok)
}

func TestGateSerializesPings(t *testing.T) {
	g := NewGate(GateConfig{PongTimeout: time.Second})

	var inFlight, maxInFlight atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		p := newPeer(t, "peer")
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok := g.Ping(context.Background(), p, func() error {
				n := inFlight.Add(1)
				for {
					m := maxInFlight.Load()
					if n <= m || maxInFlight.CompareAndSwap(m, n) {
						break
					}
				}
				go func() {
					time.Sleep(5 * time.Millisecond)
					inFlight.Add(-1)
					g.Pong(p)
				}()
				return nil
			})
			assert.True(t, ok)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxInFlight.Load())
}

func TestGateAcquireTimeout(t *testing.T) {
	g := NewGate(GateConfig{GateTimeout: 30 * time.Millisecond, PongTimeout: time.Second})
	a := newPeer(t, "alpha")
	b := newPeer(t, "beta")

	started := make(chan struct{})
	release := make(chan struct{})
	go g.Ping(context.Background(), a, func() error {
		close(started)
		<-release
		return nil
	})
	<-started

	sent := false
	ok := g.Ping(context.Background(), b, func() error {
		sent = true
		return nil
	})
	assert.False(t, ok)
	assert.False(t, sent)
	close(release)
}

func TestGatePeerClosed(t *testing.T) {
	g := NewGate(GateConfig{PongTimeout: 5 * time.Second})
	p := newPeer(t, "alpha")

	start := time.Now()
	ok := g.Ping(context.Background(), p, func() error {
		go p.Close()
		return nil
	})
	assert.False(t, ok)
	assert.Less(t, time.Since(start), time.Second)
}

func TestProberReachable(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			c.Close()
		}
	}()

	reg := peer.NewRegistry()
	p := newPeer(t, "alpha")
	p.Addr = &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 1}
	p.P2PPort = ln.Addr().(*net.TCPAddr).Port
	_, err = reg.AddWithDedup(p, nil)
	require.NoError(t, err)

	g := NewGate(GateConfig{PongTimeout: time.Second})
	var udpPings atomic.Int32
	pr := NewProber(ProberConfig{
		Gate:     g,
		Registry: reg,
		Timeout:  time.Second,
		SendPing: func(ctx context.Context, target *peer.Peer, udp bool) error {
			assert.True(t, udp)
			udpPings.Add(1)
			go g.Pong(target)
			return nil
		},
	})

	res, ok := pr.IsReachable(context.Background(), p)
	require.True(t, ok)
	assert.Equal(t, Result{TCP: true, UDP: true}, res)
	assert.True(t, p.TCPAccept())
	assert.True(t, p.UDPAccept())
	assert.Equal(t, int32(1), udpPings.Load())
}

func TestProberUnreachable(t *testing.T) {
	// Reserve a port and release it so nothing listens there.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()

	reg := peer.NewRegistry()
	p := newPeer(t, "alpha")
	p.Addr = &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 1}
	p.P2PPort = port
	p.SetTCPAccept(true)
	p.SetUDPAccept(true)
	_, err = reg.AddWithDedup(p, nil)
	require.NoError(t, err)

	pr := NewProber(ProberConfig{
		Gate:     NewGate(GateConfig{PongTimeout: 20 * time.Millisecond}),
		Registry: reg,
		Timeout:  time.Second,
		SendPing: func(context.Context, *peer.Peer, bool) error { return nil },
	})

	res, ok := pr.IsReachable(context.Background(), p)
	require.True(t, ok)
	assert.Equal(t, Result{}, res)
	assert.False(t, p.TCPAccept())
	assert.False(t, p.UDPAccept())
}

func TestProberSkipsUnregistered(t *testing.T) {
	pr := NewProber(ProberConfig{Registry: peer.NewRegistry()})
	_, ok := pr.IsReachable(context.Background(), newPeer(t, "alpha"))
	assert.False(t, ok)
}
