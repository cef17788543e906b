package node

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/json"
	"io"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/peerlink/peerlink-go/pkg/config"
	"github.com/peerlink/peerlink-go/pkg/crypto"
	"github.com/peerlink/peerlink-go/pkg/handshake"
	"github.com/peerlink/peerlink-go/pkg/neterr"
	"github.com/peerlink/peerlink-go/pkg/peer"
	"github.com/peerlink/peerlink-go/pkg/queue"
	"github.com/peerlink/peerlink-go/pkg/traffic"
	"github.com/peerlink/peerlink-go/pkg/wire"
)

func testTimeouts() config.Timeouts {
	return config.Timeouts{
		Handshake:         2 * time.Second,
		Dial:              2 * time.Second,
		PingGate:          2 * time.Second,
		Pong:              time.Second,
		Probe:             time.Second,
		ReachabilityGrace: time.Hour,
		Registration:      3 * time.Second,
		ListenerRetry:     100 * time.Millisecond,
	}
}

func newTestNode(t *testing.T, name string, opts ...func(*Config)) *Node {
	t.Helper()
	cfg := Config{
		Name:           name,
		ClientVersion:  "test",
		NetworkVersion: "1",
		Host:           "127.0.0.1",
		Family:         "tcp4",
		P2PAccept:      true,
		P2PUDPAccept:   true,
		Timeouts:       testTimeouts(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	n, err := New(cfg)
	require.NoError(t, err)
	require.NoError(t, n.Start(context.Background()))
	t.Cleanup(func() { _ = n.Close() })
	return n
}

func connect(t *testing.T, from, to *Node) *peer.Peer {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	p, err := from.Connect(ctx, "127.0.0.1", to.Port())
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		_, ok := to.FindByName(from.Name())
		return ok
	}, 3*time.Second, 10*time.Millisecond)
	return p
}

func receive(t *testing.T, sub *queue.Subscription[Message]) Message {
	t.Helper()
	select {
	case msg, ok := <-sub.C():
		require.True(t, ok, "subscription closed")
		return msg
	case <-time.After(3 * time.Second):
		t.Fatal("no message received")
		return Message{}
	}
}

func TestNewValidatesName(t *testing.T) {
	_, err := New(Config{NetworkVersion: "1"})
	assert.ErrorIs(t, err, wire.ErrMissingName)

	_, err = New(Config{Name: string(bytes.Repeat([]byte("x"), 256)), NetworkVersion: "1"})
	assert.ErrorIs(t, err, wire.ErrNameTooLong)
}

func TestLifecycle(t *testing.T) {
	n, err := New(Config{Name: "solo", NetworkVersion: "1", Host: "127.0.0.1", Family: "tcp4", P2PAccept: true})
	require.NoError(t, err)
	assert.Equal(t, StateIdle, n.State())
	assert.ErrorIs(t, n.Close(), ErrNotRunning)

	require.NoError(t, n.Start(context.Background()))
	assert.True(t, n.Running())
	assert.NotZero(t, n.Port())
	assert.ErrorIs(t, n.Start(context.Background()), ErrAlreadyStarted)

	require.NoError(t, n.Close())
	assert.Equal(t, StateStopped, n.State())
	assert.ErrorIs(t, n.Close(), ErrNotRunning)
}

func TestHeaderReflectsListener(t *testing.T) {
	n := newTestNode(t, "alpha")
	h := n.Header()
	assert.Equal(t, "alpha", h.Name)
	assert.True(t, h.P2PAccept)
	assert.True(t, h.P2PUDPAccept)
	assert.Equal(t, n.Port(), h.P2PPort)
	assert.NotZero(t, h.StartTime)

	closed := newTestNode(t, "beta", func(c *Config) { c.P2PAccept = false })
	h = closed.Header()
	assert.False(t, h.P2PAccept)
	assert.False(t, h.P2PUDPAccept)
}

func TestEndToEnd(t *testing.T) {
	a := newTestNode(t, "alpha")
	b := newTestNode(t, "beta")
	subA := a.Subscribe()
	subB := b.Subscribe()

	p := connect(t, a, b)
	assert.Equal(t, "beta", p.Name)
	assert.Equal(t, peer.RoleClient, p.Role)

	ctx := context.Background()
	_, err := a.Send(ctx, []byte("hello"), SendOptions{Peer: p})
	require.NoError(t, err)

	msg := receive(t, subB)
	assert.Equal(t, []byte("hello"), msg.Payload)
	assert.Equal(t, "alpha", msg.Peer.Name)
	assert.False(t, msg.UDP)

	_, err = b.Send(ctx, []byte("world"), SendOptions{Peer: msg.Peer})
	require.NoError(t, err)
	reply := receive(t, subA)
	assert.Equal(t, []byte("world"), reply.Payload)

	assert.NotZero(t, a.Traffic().Up)
	assert.NotZero(t, b.Traffic().Down)
	assert.NotZero(t, p.Traffic.Snapshot().Up)
}

func TestSendPicksRandomPeer(t *testing.T) {
	a := newTestNode(t, "alpha")
	b := newTestNode(t, "beta")
	sub := b.Subscribe()
	connect(t, a, b)

	got, err := a.Send(context.Background(), []byte("any"), SendOptions{})
	require.NoError(t, err)
	assert.Equal(t, "beta", got.Name)
	assert.Equal(t, []byte("any"), receive(t, sub).Payload)
}

func TestPingAndPongNotPublished(t *testing.T) {
	a := newTestNode(t, "alpha")
	b := newTestNode(t, "beta")
	sub := b.Subscribe()
	p := connect(t, a, b)

	assert.True(t, a.Ping(context.Background(), p, false))
	assert.True(t, a.Ping(context.Background(), p, true))

	_, err := a.Send(context.Background(), []byte("after"), SendOptions{Peer: p})
	require.NoError(t, err)
	assert.Equal(t, []byte("after"), receive(t, sub).Payload)
}

func TestUDPSelection(t *testing.T) {
	a := newTestNode(t, "alpha")
	b := newTestNode(t, "beta")
	sub := b.Subscribe()
	p := connect(t, a, b)
	res, ok := a.IsReachable(context.Background(), p)
	require.True(t, ok)
	require.True(t, res.UDP)
	require.True(t, p.UDPAccept())

	ctx := context.Background()

	_, err := a.Send(ctx, []byte("small"), SendOptions{Peer: p, UDP: true})
	require.NoError(t, err)
	msg := receive(t, sub)
	assert.True(t, msg.UDP)
	assert.Equal(t, []byte("small"), msg.Payload)

	big := bytes.Repeat([]byte("b"), wire.UDPPayloadCeiling)
	_, err = a.Send(ctx, big, SendOptions{Peer: p, UDP: true})
	require.NoError(t, err)
	msg = receive(t, sub)
	assert.False(t, msg.UDP)
	assert.Equal(t, big, msg.Payload)

	p.SetUDPAccept(false)
	_, err = a.Send(ctx, []byte("tcp"), SendOptions{Peer: p, UDP: true})
	require.NoError(t, err)
	assert.False(t, receive(t, sub).UDP)

	forced := bytes.Repeat([]byte("f"), 2000)
	_, err = a.Send(ctx, forced, SendOptions{Peer: p, ForceUDP: true})
	require.NoError(t, err)
	msg = receive(t, sub)
	assert.True(t, msg.UDP)
	assert.Equal(t, forced, msg.Payload)
}

func TestSendTooLarge(t *testing.T) {
	small := func(c *Config) { c.MaxReceiveSize = 100 }
	a := newTestNode(t, "alpha", small)
	b := newTestNode(t, "beta", small)
	sub := b.Subscribe()
	p := connect(t, a, b)

	payload := make([]byte, wire.MaxFrameSize(100)+1)
	got, err := a.Send(context.Background(), payload, SendOptions{Peer: p})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPayloadTooLarge)
	assert.Equal(t, neterr.KindCapacity, neterr.KindOf(err))
	assert.Same(t, p, got)

	msg := receive(t, sub)
	var notice string
	require.NoError(t, json.Unmarshal(msg.Payload, &notice))
	assert.Contains(t, notice, "exceeds")

	// The connection stays usable.
	_, err = a.Send(context.Background(), []byte("ok"), SendOptions{Peer: p})
	require.NoError(t, err)
	assert.Equal(t, []byte("ok"), receive(t, sub).Payload)
}

func TestSendIncompressibleAtLimit(t *testing.T) {
	small := func(c *Config) { c.MaxReceiveSize = 100 }
	a := newTestNode(t, "alpha", small)
	b := newTestNode(t, "beta", small)
	sub := b.Subscribe()
	p := connect(t, a, b)
	limit := wire.MaxFrameSize(100)

	// Random bytes grow under compression and sealing.
	payload := make([]byte, limit)
	_, _ = rand.Read(payload)
	_, err := a.Send(context.Background(), payload, SendOptions{Peer: p})
	require.ErrorIs(t, err, ErrPayloadTooLarge)
	assert.Equal(t, neterr.KindCapacity, neterr.KindOf(err))

	var notice string
	require.NoError(t, json.Unmarshal(receive(t, sub).Payload, &notice))
	assert.Contains(t, notice, "exceeds")

	fits := make([]byte, limit-100)
	_, _ = rand.Read(fits)
	_, err = a.Send(context.Background(), fits, SendOptions{Peer: p})
	require.NoError(t, err)
	assert.Equal(t, fits, receive(t, sub).Payload)

	assert.False(t, p.IsClosed())
	_, ok := b.FindByName("alpha")
	assert.True(t, ok)
}

func TestSendErrors(t *testing.T) {
	a := newTestNode(t, "alpha")

	_, err := a.Send(context.Background(), []byte("x"), SendOptions{})
	assert.ErrorIs(t, err, peer.ErrNoPeers)
	assert.Equal(t, neterr.KindRegistry, neterr.KindOf(err))

	// An explicit peer does not bypass the empty-registry check.
	b := newTestNode(t, "beta")
	p := connect(t, a, b)
	require.True(t, a.registry.Remove(p))
	_, err = a.Send(context.Background(), []byte("x"), SendOptions{Peer: p})
	assert.ErrorIs(t, err, peer.ErrNoPeers)
	assert.Equal(t, neterr.KindRegistry, neterr.KindOf(err))

	_, err = a.Send(context.Background(), []byte("x"), SendOptions{Status: 700})
	assert.ErrorIs(t, err, ErrInvalidStatus)
	_, err = a.Send(context.Background(), []byte("x"), SendOptions{Status: 199})
	assert.ErrorIs(t, err, ErrInvalidStatus)
}

func TestVersionMismatch(t *testing.T) {
	a := newTestNode(t, "alpha")
	b := newTestNode(t, "beta", func(c *Config) { c.NetworkVersion = "2" })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := a.Connect(ctx, "127.0.0.1", b.Port())
	require.Error(t, err)
	assert.Empty(t, a.Peers())
}

func TestRemoveConnection(t *testing.T) {
	a := newTestNode(t, "alpha")
	b := newTestNode(t, "beta")
	p := connect(t, a, b)

	assert.True(t, a.RemoveConnection(p, "bye"))
	assert.False(t, a.RemoveConnection(p, "bye"))
	assert.True(t, p.IsClosed())

	require.Eventually(t, func() bool { return len(b.Peers()) == 0 }, 3*time.Second, 10*time.Millisecond)
}

func TestCloseRemovesPeers(t *testing.T) {
	a := newTestNode(t, "alpha")
	b := newTestNode(t, "beta")
	p := connect(t, a, b)
	sub := a.Subscribe()

	require.NoError(t, a.Close())
	assert.True(t, p.IsClosed())
	assert.Empty(t, a.Peers())

	_, ok := <-sub.C()
	assert.False(t, ok)

	require.Eventually(t, func() bool { return len(b.Peers()) == 0 }, 3*time.Second, 10*time.Millisecond)

	_, err := a.Connect(context.Background(), "127.0.0.1", b.Port())
	assert.ErrorIs(t, err, ErrNotRunning)
}

func TestDuplicateConnectionKeepsLiveOne(t *testing.T) {
	a := newTestNode(t, "alpha")
	b := newTestNode(t, "beta")
	first := connect(t, a, b)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_, err := a.Connect(ctx, "127.0.0.1", b.Port())
	require.Error(t, err)

	require.Eventually(t, func() bool {
		return len(a.Peers()) == 1 && len(b.Peers()) == 1
	}, 5*time.Second, 10*time.Millisecond)

	got, ok := a.FindByName("beta")
	require.True(t, ok)
	assert.Same(t, first, got)
	assert.False(t, first.IsClosed())
}

func TestEmptyFrameRemovesPeer(t *testing.T) {
	a := newTestNode(t, "alpha")
	b := newTestNode(t, "beta")
	p := connect(t, a, b)

	_, err := p.Write([]byte{0, 0, 0, 0}, time.Second)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		_, ok := b.FindByName("alpha")
		return !ok
	}, 3*time.Second, 10*time.Millisecond)
	require.Eventually(t, p.IsClosed, 3*time.Second, 10*time.Millisecond)
}

func TestEvictedConnectionGetsNotice(t *testing.T) {
	b := newTestNode(t, "beta")

	// A connection that completes the handshake as "alpha" and then never
	// reads, so it cannot answer the dedup ping.
	id, err := crypto.NewIdentity()
	require.NoError(t, err)
	var ids uint64
	initiator := handshake.NewInitiator(handshake.Config{
		Identity: id,
		Header: func() *wire.Header {
			return &wire.Header{Name: "alpha", ClientVersion: "test", NetworkVersion: "1"}
		},
		NextID:  func() uint64 { ids++; return ids },
		Timeout: 2 * time.Second,
	})
	conn, err := net.Dial("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(b.Port())))
	require.NoError(t, err)
	defer conn.Close()
	_, err = initiator.Run(context.Background(), conn)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		_, ok := b.FindByName("alpha")
		return ok
	}, 3*time.Second, 10*time.Millisecond)

	a := newTestNode(t, "alpha")
	connect(t, a, b)

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	data, _ := io.ReadAll(conn)
	assert.True(t, bytes.Contains(data, wire.RemovalNotice(reasonReplaced)),
		"stale connection should receive the removal notice")

	got, ok := b.FindByName("alpha")
	require.True(t, ok)
	assert.False(t, got.IsClosed())
}

func TestFindByAddr(t *testing.T) {
	a := newTestNode(t, "alpha")
	b := newTestNode(t, "beta")
	p := connect(t, a, b)

	got, ok := a.FindByAddr(p.HostPort())
	require.True(t, ok)
	assert.Same(t, p, got)

	_, ok = a.FindByAddr("192.0.2.1:1")
	assert.False(t, ok)
}

func TestReachability(t *testing.T) {
	a := newTestNode(t, "alpha")
	b := newTestNode(t, "beta")
	p := connect(t, a, b)

	res, ok := a.IsReachable(context.Background(), p)
	require.True(t, ok)
	assert.True(t, res.TCP)
	assert.True(t, res.UDP)

	_, ok = a.IsReachable(context.Background(), &peer.Peer{Name: "ghost"})
	assert.False(t, ok)
}

func TestProbeUnreachablePeer(t *testing.T) {
	server := newTestNode(t, "server")
	hidden := newTestNode(t, "hidden", func(c *Config) { c.P2PAccept = false })
	connect(t, hidden, server)

	hp, ok := server.FindByName("hidden")
	require.True(t, ok)
	hp.SetTCPAccept(true)

	res, ok := server.IsReachable(context.Background(), hp)
	require.True(t, ok)
	assert.False(t, res.TCP)
	assert.False(t, hp.TCPAccept())
}

type trafficObserverMock struct {
	mock.Mock
}

func (m *trafficObserverMock) OnTraffic(total, delta traffic.Snapshot, interval time.Duration) {
	m.Called(total, delta, interval)
}

func TestTrafficRecorderReportsSnapshots(t *testing.T) {
	totals := make(chan traffic.Snapshot, 64)
	obs := &trafficObserverMock{}
	obs.On("OnTraffic", mock.Anything, mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		select {
		case totals <- args.Get(0).(traffic.Snapshot):
		default:
		}
	})

	a := newTestNode(t, "alpha", func(c *Config) {
		c.TrafficInterval = 20 * time.Millisecond
		c.TrafficObserver = obs
	})
	b := newTestNode(t, "beta")
	connect(t, a, b)

	deadline := time.After(3 * time.Second)
	for {
		select {
		case total := <-totals:
			if total.Up > 0 && total.Down > 0 {
				return
			}
		case <-deadline:
			t.Fatal("no traffic snapshot with data")
		}
	}
}
