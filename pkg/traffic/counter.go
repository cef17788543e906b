// Package traffic counts bytes sent and received.
package traffic

import "sync/atomic"

// Counter holds byte totals. The zero value is ready to use and safe for
// concurrent use.
type Counter struct {
	up   atomic.Uint64
	down atomic.Uint64
}

// Snapshot is a point-in-time copy of a Counter.
type Snapshot struct {
	Up   uint64
	Down uint64
}

// AddUp records n sent bytes.
func (c *Counter) AddUp(n int) {
	if n > 0 {
		c.up.Add(uint64(n))
	}
}

// AddDown records n received bytes.
func (c *Counter) AddDown(n int) {
	if n > 0 {
		c.down.Add(uint64(n))
	}
}

// Snapshot returns the current totals.
func (c *Counter) Snapshot() Snapshot {
	return Snapshot{Up: c.up.Load(), Down: c.down.Load()}
}

// Sub returns the difference s - prev.
func (s Snapshot) Sub(prev Snapshot) Snapshot {
	return Snapshot{Up: s.Up - prev.Up, Down: s.Down - prev.Down}
}
