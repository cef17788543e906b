package peer

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/peerlink/peerlink-go/pkg/crypto"
	"github.com/peerlink/peerlink-go/pkg/wire"
)

func newTestPeer(t *testing.T, r *Registry, name string) *Peer {
	t.Helper()
	a, b := net.Pipe()
	t.Cleanup(func() {
		a.Close()
		b.Close()
	})
	key, err := crypto.NewSessionKey()
	require.NoError(t, err)
	return New(r.NextID(), a, RoleServer, key, &wire.Header{
		Name:           name,
		NetworkVersion: "1",
		P2PAccept:      true,
		P2PPort:        2000,
	})
}

func TestAddAndLookup(t *testing.T) {
	r := NewRegistry()
	p := newTestPeer(t, r, "alpha")

	res, err := r.AddWithDedup(p, nil)
	require.NoError(t, err)
	assert.True(t, res.Added)
	assert.Equal(t, 1, r.Len())
	assert.True(t, r.Contains(p))

	got, ok := r.FindByName("alpha")
	require.True(t, ok)
	assert.Same(t, p, got)

	_, ok = r.FindByName("beta")
	assert.False(t, ok)

	select {
	case <-p.Registered():
	default:
		t.Fatal("registered channel not closed")
	}
}

func TestDedupSurvivorKeepsExisting(t *testing.T) {
	r := NewRegistry()
	old := newTestPeer(t, r, "alpha")
	_, err := r.AddWithDedup(old, nil)
	require.NoError(t, err)

	fresh := newTestPeer(t, r, "alpha")
	res, err := r.AddWithDedup(fresh, func(*Peer) bool { return true })
	require.NoError(t, err)

	assert.True(t, res.Discarded)
	assert.False(t, res.Added)
	assert.Empty(t, res.Evicted)
	assert.Equal(t, []*Peer{old}, r.Snapshot())
	assert.False(t, r.Contains(fresh))
}

func TestDedupEvictsStale(t *testing.T) {
	r := NewRegistry()
	old := newTestPeer(t, r, "alpha")
	_, err := r.AddWithDedup(old, nil)
	require.NoError(t, err)

	fresh := newTestPeer(t, r, "alpha")
	var checked []*Peer
	res, err := r.AddWithDedup(fresh, func(p *Peer) bool {
		checked = append(checked, p)
		return false
	})
	require.NoError(t, err)

	assert.True(t, res.Added)
	assert.Equal(t, []*Peer{old}, res.Evicted)
	assert.Equal(t, []*Peer{old}, checked)
	assert.Equal(t, []*Peer{fresh}, r.Snapshot())
}

func TestDedupDoesNotBlockLookups(t *testing.T) {
	r := NewRegistry()
	old := newTestPeer(t, r, "alpha")
	_, err := r.AddWithDedup(old, nil)
	require.NoError(t, err)

	inPing := make(chan struct{})
	release := make(chan struct{})
	fresh := newTestPeer(t, r, "alpha")

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, _ = r.AddWithDedup(fresh, func(*Peer) bool {
			close(inPing)
			<-release
			return true
		})
	}()

	<-inPing
	_, ok := r.FindByName("alpha")
	assert.True(t, ok)
	assert.Equal(t, 1, r.Len())
	close(release)
	wg.Wait()
}

func TestAddClosedPeer(t *testing.T) {
	r := NewRegistry()
	p := newTestPeer(t, r, "alpha")
	require.NoError(t, p.Close())

	_, err := r.AddWithDedup(p, nil)
	assert.ErrorIs(t, err, ErrClosedPeer)
	assert.Equal(t, 0, r.Len())
}

func TestRemove(t *testing.T) {
	r := NewRegistry()
	p := newTestPeer(t, r, "alpha")
	_, err := r.AddWithDedup(p, nil)
	require.NoError(t, err)

	assert.True(t, r.Remove(p))
	assert.False(t, r.Remove(p))
	assert.Equal(t, 0, r.Len())
}

func TestRandom(t *testing.T) {
	r := NewRegistry()
	_, err := r.Random()
	assert.ErrorIs(t, err, ErrNoPeers)

	a := newTestPeer(t, r, "a")
	b := newTestPeer(t, r, "b")
	_, _ = r.AddWithDedup(a, nil)
	_, _ = r.AddWithDedup(b, nil)

	seen := map[*Peer]bool{}
	for i := 0; i < 200; i++ {
		p, err := r.Random()
		require.NoError(t, err)
		seen[p] = true
	}
	assert.Len(t, seen, 2)
}

func TestNextIDUnique(t *testing.T) {
	r := NewRegistry()
	ids := map[uint64]bool{}
	for i := 0; i < 100; i++ {
		id := r.NextID()
		assert.False(t, ids[id])
		ids[id] = true
	}
}

func TestWaitRegistered(t *testing.T) {
	r := NewRegistry()
	p := newTestPeer(t, r, "alpha")

	err := r.WaitRegisteredTimeout(context.Background(), p, 20*time.Millisecond)
	assert.ErrorIs(t, err, ErrRegistrationTimeout)

	go func() {
		time.Sleep(10 * time.Millisecond)
		_, _ = r.AddWithDedup(p, nil)
	}()
	assert.NoError(t, r.WaitRegisteredTimeout(context.Background(), p, time.Second))

	q := newTestPeer(t, r, "beta")
	q.Close()
	assert.ErrorIs(t, r.WaitRegistered(context.Background(), q), ErrClosedPeer)
}

func TestPeerCapabilitiesAndClose(t *testing.T) {
	r := NewRegistry()
	p := newTestPeer(t, r, "alpha")

	assert.True(t, p.TCPAccept())
	assert.False(t, p.UDPAccept())
	assert.False(t, p.SetUDPAccept(true))
	assert.True(t, p.UDPAccept())

	assert.False(t, p.IsClosed())
	assert.NoError(t, p.Close())
	assert.NoError(t, p.Close())
	assert.True(t, p.IsClosed())
}

func TestAdvertisedAddr(t *testing.T) {
	p := &Peer{
		Addr:    &net.TCPAddr{IP: net.ParseIP("10.0.0.5"), Port: 51234},
		P2PPort: 2000,
	}
	assert.Equal(t, "10.0.0.5:51234", p.HostPort())
	assert.Equal(t, "10.0.0.5:2000", p.AdvertisedAddr())

	v6 := &Peer{
		Addr:    &net.TCPAddr{IP: net.ParseIP("fe80::1"), Port: 1, Zone: "eth0"},
		P2PPort: 2000,
	}
	assert.Equal(t, "[fe80::1%eth0]:2000", v6.AdvertisedAddr())
}

func TestFindByAddr(t *testing.T) {
	r := NewRegistry()
	p := &Peer{
		Name:       "alpha",
		Addr:       &net.TCPAddr{IP: net.ParseIP("10.0.0.5"), Port: 51234},
		P2PPort:    2000,
		registered: make(chan struct{}),
		done:       make(chan struct{}),
	}
	_, err := r.AddWithDedup(p, nil)
	require.NoError(t, err)

	got, ok := r.FindByAddr("10.0.0.5:2000")
	require.True(t, ok)
	assert.Same(t, p, got)
	got, ok = r.FindByAddr("10.0.0.5:51234")
	require.True(t, ok)
	assert.Same(t, p, got)
	_, ok = r.FindByAddr("10.0.0.6:2000")
	assert.False(t, ok)
}
