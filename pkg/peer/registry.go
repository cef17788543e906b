package peer

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"
)

// Registry errors.
var (
	// ErrNoPeers indicates an empty registry.
	ErrNoPeers = errors.New("no peers connected")

	// ErrClosedPeer indicates an attempt to register a closed peer.
	ErrClosedPeer = errors.New("peer already closed")

	// ErrRegistrationTimeout indicates a peer was not registered in time.
	ErrRegistrationTimeout = errors.New("peer not registered in time")
)

// AliveFunc reports whether an existing peer still answers. It is called
// without the data lock held and may block.
type AliveFunc func(existing *Peer) bool

// AddResult describes the outcome of AddWithDedup.
type AddResult struct {
	// Added is true if the new peer was admitted.
	Added bool

	// Discarded is true if an existing peer with the same name answered,
	// so the new peer must be removed by the caller.
	Discarded bool

	// Evicted lists existing peers with the same name that did not answer.
	// They are no longer in the registry; the caller closes them.
	Evicted []*Peer
}

// Registry is the set of active peers.
//
// Membership changes go through a registration lock so dedup scans run one
// at a time, while lookups only take the short data lock.
type Registry struct {
	regMu sync.Mutex

	mu    sync.RWMutex
	peers []*Peer

	nextID atomic.Uint64
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// NextID returns a fresh peer ID. IDs are never reused.
func (r *Registry) NextID() uint64 {
	return r.nextID.Add(1)
}

// AddWithDedup admits p, resolving name collisions first.
//
// Every registered peer named like p is checked with alive. A live one wins
// and p is discarded; dead ones are evicted. p is appended only after the
// scan, and only if it was not discarded.
func (r *Registry) AddWithDedup(p *Peer, alive AliveFunc) (AddResult, error) {
	r.regMu.Lock()
	defer r.regMu.Unlock()

	if p.IsClosed() {
		return AddResult{}, ErrClosedPeer
	}

	var res AddResult
	for _, existing := range r.FindAllByName(p.Name) {
		if existing == p {
			continue
		}
		if alive != nil && alive(existing) {
			res.Discarded = true
			continue
		}
		if r.Remove(existing) {
			res.Evicted = append(res.Evicted, existing)
		}
	}
	if res.Discarded {
		return res, nil
	}

	r.mu.Lock()
	r.peers = append(r.peers, p)
	r.mu.Unlock()

	p.markRegistered()
	res.Added = true
	return res, nil
}

// Remove deletes p from the registry. It returns false if p was not present.
func (r *Registry) Remove(p *Peer) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, existing := range r.peers {
		if existing == p {
			r.peers = append(r.peers[:i], r.peers[i+1:]...)
			return true
		}
	}
	return false
}

// Contains reports whether p is registered.
func (r *Registry) Contains(p *Peer) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, existing := range r.peers {
		if existing == p {
			return true
		}
	}
	return false
}

// FindByName returns the first peer with the given name.
func (r *Registry) FindByName(name string) (*Peer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, p := range r.peers {
		if p.Name == name {
			return p, true
		}
	}
	return nil, false
}

// FindAllByName returns every peer with the given name.
func (r *Registry) FindAllByName(name string) []*Peer {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*Peer
	for _, p := range r.peers {
		if p.Name == name {
			out = append(out, p)
		}
	}
	return out
}

// FindByAddr returns the peer whose remote or advertised address is hostPort.
func (r *Registry) FindByAddr(hostPort string) (*Peer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, p := range r.peers {
		if p.HostPort() == hostPort || p.AdvertisedAddr() == hostPort {
			return p, true
		}
	}
	return nil, false
}

// Snapshot returns a copy of the current peers.
func (r *Registry) Snapshot() []*Peer {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Peer, len(r.peers))
	copy(out, r.peers)
	return out
}

// Random returns a uniformly chosen peer.
func (r *Registry) Random() (*Peer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(r.peers) == 0 {
		return nil, ErrNoPeers
	}
	return r.peers[rand.IntN(len(r.peers))], nil
}

// Len returns the number of registered peers.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.peers)
}

// WaitRegistered blocks until p is admitted, closed, or ctx ends.
func (r *Registry) WaitRegistered(ctx context.Context, p *Peer) error {
	select {
	case <-p.Registered():
		return nil
	case <-p.Done():
		return ErrClosedPeer
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("%w: %s", ErrRegistrationTimeout, p.Name)
		}
		return ctx.Err()
	}
}

// WaitRegisteredTimeout is WaitRegistered with a deadline.
func (r *Registry) WaitRegisteredTimeout(ctx context.Context, p *Peer, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return r.WaitRegistered(ctx, p)
}
