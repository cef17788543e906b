package node

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/peerlink/peerlink-go/pkg/log"
	"github.com/peerlink/peerlink-go/pkg/neterr"
	"github.com/peerlink/peerlink-go/pkg/peer"
	"github.com/peerlink/peerlink-go/pkg/wire"
)

// Send errors.
var (
	ErrInvalidStatus   = errors.New("status must be within 200..599")
	ErrPayloadTooLarge = errors.New("payload too large")
)

// Status codes used by the node itself.
const (
	StatusOK          = 200
	StatusServerError = 500
)

// SendOptions selects the target and transport of a payload.
type SendOptions struct {
	// Peer is the target. Nil picks a random registered peer.
	Peer *peer.Peer

	// Status is an application status in 200..599. Zero means StatusOK.
	// It is checked but not transmitted.
	Status int

	// UDP prefers a datagram when the peer accepts them and the payload
	// is small enough.
	UDP bool

	// ForceUDP sends a datagram regardless of size and capability.
	ForceUDP bool
}

// Send writes payload to a peer and returns the peer it went to.
func (n *Node) Send(ctx context.Context, payload []byte, opts SendOptions) (*peer.Peer, error) {
	if opts.Status == 0 {
		opts.Status = StatusOK
	}
	if opts.Status < 200 || opts.Status > 599 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidStatus, opts.Status)
	}

	if n.registry.Len() == 0 {
		return nil, neterr.New(neterr.KindRegistry, "send", peer.ErrNoPeers)
	}
	p := opts.Peer
	if p == nil {
		var err error
		if p, err = n.registry.Random(); err != nil {
			return nil, neterr.New(neterr.KindRegistry, "send", err)
		}
	}

	limit := wire.MaxFrameSize(n.config.MaxReceiveSize)
	if len(payload) > limit {
		return p, n.refuse(ctx, p, len(payload), limit)
	}

	if err := ctx.Err(); err != nil {
		return p, err
	}

	if opts.ForceUDP || (opts.UDP && p.UDPAccept() && len(payload) < wire.UDPPayloadCeiling) {
		return p, n.sendUDP(p, payload)
	}

	frame, err := n.encodeFrame(p, payload)
	if err != nil {
		return p, err
	}
	// The receiver bounds the sealed body, not the plaintext.
	if body := len(frame) - wire.LengthPrefixSize; body > limit {
		return p, n.refuse(ctx, p, body, limit)
	}
	return p, n.writeFrame(p, frame)
}

// refuse sends a size notice to p and returns the capacity error.
func (n *Node) refuse(ctx context.Context, p *peer.Peer, size, limit int) error {
	n.sendSizeNotice(ctx, p, size, limit)
	return neterr.New(neterr.KindCapacity, "send",
		fmt.Errorf("%w: %d > %d bytes", ErrPayloadTooLarge, size, limit))
}

// sendSizeNotice tells p that a payload was refused for its size.
func (n *Node) sendSizeNotice(ctx context.Context, p *peer.Peer, size, limit int) {
	msg, err := json.Marshal(fmt.Sprintf("Payload of %d bytes exceeds the limit of %d bytes", size, limit))
	if err != nil {
		return
	}
	if _, err := n.Send(ctx, msg, SendOptions{Peer: p, Status: StatusServerError}); err != nil {
		n.debugLog("size notice failed", "peer", p.Name, "error", err)
	}
}

// sendTCP encodes payload as a frame and writes it to the peer connection.
func (n *Node) sendTCP(p *peer.Peer, payload []byte) error {
	frame, err := n.encodeFrame(p, payload)
	if err != nil {
		return err
	}
	return n.writeFrame(p, frame)
}

func (n *Node) encodeFrame(p *peer.Peer, payload []byte) ([]byte, error) {
	frame, err := wire.EncodeFrame(payload, p.Key, n.config.Compressor)
	if err != nil {
		return nil, neterr.Protocol("encode frame", err)
	}
	return frame, nil
}

// writeFrame writes an encoded frame under the write timeout.
func (n *Node) writeFrame(p *peer.Peer, frame []byte) error {
	w, err := p.Write(frame, n.config.Timeouts.Write)
	n.traffic.AddUp(w)
	p.Traffic.AddUp(w)
	if err != nil {
		return neterr.Wrap("write "+p.Name, err)
	}
	n.logFrame(p, frame, log.TransportTCP)
	return nil
}

// sendUDP seals payload into a datagram addressed to the peer's advertised port.
func (n *Node) sendUDP(p *peer.Peer, payload []byte) error {
	dgram, err := wire.EncodeDatagram(n.config.Name, payload, p.Key)
	if err != nil {
		return neterr.Protocol("encode datagram", err)
	}
	w, err := n.udp.SendTo(p.AdvertisedAddr(), dgram)
	n.traffic.AddUp(w)
	p.Traffic.AddUp(w)
	if err != nil {
		return neterr.Wrap("send datagram "+p.Name, err)
	}
	n.logFrame(p, dgram, log.TransportUDP)
	return nil
}

// sendControl writes a reserved payload over TCP.
func (n *Node) sendControl(p *peer.Peer, payload []byte) error {
	return n.sendTCP(p, payload)
}

// sendPing transmits the Ping payload. It is used by the gate and prober.
func (n *Node) sendPing(_ context.Context, p *peer.Peer, udp bool) error {
	tr := log.TransportTCP
	var err error
	if udp {
		tr = log.TransportUDP
		err = n.sendUDP(p, wire.PingPayload)
	} else {
		err = n.sendControl(p, wire.PingPayload)
	}
	if err == nil {
		n.logControl(p, log.DirectionOut, log.ControlMsgPing, tr)
	}
	return err
}

func (n *Node) logFrame(p *peer.Peer, data []byte, tr log.Transport) {
	if n.config.ProtocolLogger == nil {
		return
	}
	log.Emit(n.config.ProtocolLogger, log.Event{
		ConnectionID: p.ConnID,
		PeerName:     p.Name,
		LocalName:    n.config.Name,
		Direction:    log.DirectionOut,
		Layer:        log.LayerTransport,
		Category:     log.CategoryMessage,
		Frame:        log.NewFrameEvent(data, tr),
	})
}
