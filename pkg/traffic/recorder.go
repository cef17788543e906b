package traffic

import (
	"context"
	"log/slog"
	"time"

	"github.com/peerlink/peerlink-go/pkg/log"
)

// DefaultInterval is the default period between recorder snapshots.
const DefaultInterval = 5 * time.Minute

// Observer receives periodic traffic snapshots.
type Observer interface {
	OnTraffic(total, delta Snapshot, interval time.Duration)
}

// RecorderConfig configures a Recorder.
type RecorderConfig struct {
	// Interval between snapshots. Zero means DefaultInterval.
	Interval time.Duration

	// Logger receives a debug line per snapshot (optional).
	Logger *slog.Logger

	// ProtocolLogger receives a TrafficEvent per snapshot (optional).
	ProtocolLogger log.Logger

	// LocalName is recorded in protocol events.
	LocalName string

	// Observer is notified per snapshot (optional).
	Observer Observer
}

// Recorder periodically reports the totals of a Counter.
type Recorder struct {
	counter *Counter
	config  RecorderConfig
	last    Snapshot
}

// NewRecorder creates a recorder for c.
func NewRecorder(c *Counter, config RecorderConfig) *Recorder {
	if config.Interval <= 0 {
		config.Interval = DefaultInterval
	}
	return &Recorder{counter: c, config: config}
}

// Run reports a snapshot every interval until ctx is cancelled, then
// reports a final one.
func (r *Recorder) Run(ctx context.Context) {
	ticker := time.NewTicker(r.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.Record()
			return
		case <-ticker.C:
			r.Record()
		}
	}
}

// Record takes one snapshot and reports it.
func (r *Recorder) Record() {
	total := r.counter.Snapshot()
	delta := total.Sub(r.last)
	r.last = total

	if r.config.Logger != nil {
		r.config.Logger.Debug("traffic",
			"up", total.Up,
			"down", total.Down,
			"up_delta", delta.Up,
			"down_delta", delta.Down)
	}

	log.Emit(r.config.ProtocolLogger, log.Event{
		LocalName: r.config.LocalName,
		Category:  log.CategoryTraffic,
		Traffic: &log.TrafficEvent{
			Up:        total.Up,
			Down:      total.Down,
			Interval:  r.config.Interval,
			UpDelta:   delta.Up,
			DownDelta: delta.Down,
		},
	})

	if r.config.Observer != nil {
		r.config.Observer.OnTraffic(total, delta, r.config.Interval)
	}
}
