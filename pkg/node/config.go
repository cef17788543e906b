package node

import (
	"log/slog"
	"time"

	"github.com/peerlink/peerlink-go/pkg/config"
	"github.com/peerlink/peerlink-go/pkg/crypto"
	"github.com/peerlink/peerlink-go/pkg/log"
	"github.com/peerlink/peerlink-go/pkg/traffic"
	"github.com/peerlink/peerlink-go/pkg/wire"
)

// Config configures a Node.
type Config struct {
	// Name is the node identity announced to peers.
	Name string

	ClientVersion  string
	NetworkVersion string

	// Host and Port to listen on. Port 0 picks a free port.
	Host   string
	Port   int
	Family string

	// P2PAccept enables the listener. P2PUDPAccept enables its UDP sockets.
	P2PAccept    bool
	P2PUDPAccept bool

	// MaxReceiveSize is the payload ceiling.
	MaxReceiveSize int

	// Compressor for TCP frames. Nil means zlib.
	Compressor crypto.Compressor

	Timeouts config.Timeouts

	// QueueSize is the per-subscriber buffer.
	QueueSize int

	// Identity is the node key pair. Nil generates a fresh one.
	Identity *crypto.Identity

	// Logger for operational logging (optional).
	Logger *slog.Logger

	// ProtocolLogger receives protocol events (optional).
	ProtocolLogger log.Logger

	// TrafficInterval enables periodic traffic snapshots when positive.
	TrafficInterval time.Duration

	// TrafficObserver receives traffic snapshots (optional).
	TrafficObserver traffic.Observer
}

// FromConfig builds a node configuration from a loaded config file.
func FromConfig(c *config.Config) (Config, error) {
	comp, err := crypto.NewCompressor(c.Compression)
	if err != nil {
		return Config{}, err
	}
	return Config{
		Name:            c.Name,
		ClientVersion:   c.ClientVersion,
		NetworkVersion:  c.NetworkVersion,
		Host:            c.Host,
		Port:            c.Port,
		Family:          c.Family,
		P2PAccept:       c.P2PAccept,
		P2PUDPAccept:    c.P2PUDPAccept,
		MaxReceiveSize:  c.MaxReceiveSize,
		Compressor:      comp,
		Timeouts:        c.Timeouts,
		QueueSize:       c.QueueSize,
		TrafficInterval: c.TrafficInterval,
	}, nil
}

// applyDefaults fills unset fields.
func (c *Config) applyDefaults() {
	if c.MaxReceiveSize <= 0 {
		c.MaxReceiveSize = wire.DefaultMaxReceiveSize
	}
	if c.Compressor == nil {
		c.Compressor = crypto.Zlib{}
	}
	if c.Family == "" {
		c.Family = config.DefaultFamily
	}
	if c.QueueSize <= 0 {
		c.QueueSize = config.DefaultQueueSize
	}

	c.Timeouts = c.Timeouts.WithDefaults()
}
