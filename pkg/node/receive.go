package node

import (
	"context"
	"errors"
	"net"

	"github.com/peerlink/peerlink-go/pkg/log"
	"github.com/peerlink/peerlink-go/pkg/neterr"
	"github.com/peerlink/peerlink-go/pkg/peer"
	"github.com/peerlink/peerlink-go/pkg/traffic"
	"github.com/peerlink/peerlink-go/pkg/transport"
	"github.com/peerlink/peerlink-go/pkg/wire"
)

// Removal reasons.
const (
	reasonDuplicate = "Duplicate connection, existing one is alive."
	reasonReplaced  = "Replaced by a newer connection."
)

// alive pings an already registered peer over TCP during dedup.
func (n *Node) alive(existing *peer.Peer) bool {
	return n.Ping(n.ctx, existing, false)
}

// receiveLoop registers p and reads its frames until the connection fails.
func (n *Node) receiveLoop(p *peer.Peer) {
	stop := context.AfterFunc(n.ctx, func() { n.RemoveConnection(p, CloseReason) })
	defer stop()

	res, err := n.registry.AddWithDedup(p, n.alive)
	if err != nil {
		n.debugLog("register failed", "peer", p.Name, "error", err)
		_ = p.Close()
		return
	}
	for _, old := range res.Evicted {
		n.infoLog("replacing dead connection", "peer", old.Name, "addr", old.HostPort())
		n.notifyRemoval(old, reasonReplaced)
		_ = old.Close()
		n.logPeerState(old, "REGISTERED", "REMOVED", reasonReplaced)
	}
	if res.Discarded {
		n.infoLog("dropping duplicate connection", "peer", p.Name, "addr", p.HostPort())
		n.RemoveConnection(p, reasonDuplicate)
		return
	}
	n.logPeerState(p, "AUTHENTICATED", "REGISTERED", "")

	fr := transport.NewFrameReader(p.Conn, transport.FrameReaderConfig{
		MaxFrameSize: wire.MaxFrameSize(n.config.MaxReceiveSize),
		IdleTimeout:  n.config.Timeouts.Idle,
		ReadTimeout:  n.config.Timeouts.Read,
		Counters:     []*traffic.Counter{&n.traffic, &p.Traffic},
		Logger:       n.config.ProtocolLogger,
		ConnID:       p.ConnID,
		PeerName:     p.Name,
	})

	for {
		body, err := fr.Next()
		if err != nil {
			n.closeOnError(p, err)
			return
		}

		payload, err := wire.DecodeFrame(body, p.Key, n.config.Compressor, wire.MaxFrameSize(n.config.MaxReceiveSize))
		if err != nil {
			n.closeOnError(p, neterr.Protocol("decode frame", err))
			return
		}
		n.dispatch(p, payload, false)
	}
}

// dispatch handles one decoded payload from p.
func (n *Node) dispatch(p *peer.Peer, payload []byte, udp bool) {
	transportKind := log.TransportTCP
	if udp {
		transportKind = log.TransportUDP
	}

	switch {
	case wire.IsPing(payload):
		n.logControl(p, log.DirectionIn, log.ControlMsgPing, transportKind)
		if err := n.sendControl(p, wire.PongPayload); err != nil {
			n.debugLog("pong failed", "peer", p.Name, "error", err)
			return
		}
		n.logControl(p, log.DirectionOut, log.ControlMsgPong, log.TransportTCP)
	case wire.IsPong(payload):
		n.logControl(p, log.DirectionIn, log.ControlMsgPong, transportKind)
		if !n.gate.Pong(p) {
			n.debugLog("unexpected pong", "peer", p.Name)
		}
	default:
		n.messages.Publish(Message{Peer: p, Payload: payload, UDP: udp})
	}
}

// closeOnError removes p after a receive failure.
func (n *Node) closeOnError(p *peer.Peer, err error) {
	reason := err.Error()
	switch {
	case errors.Is(err, transport.ErrRemovedByPeer):
		n.infoLog("removed by peer", "peer", p.Name, "reason", reason)
		reason = ""
	case errors.Is(err, transport.ErrConnectionClosed), p.IsClosed():
		reason = ""
	default:
		n.logError(log.LayerTransport, "receive "+p.Name, err)
	}
	if !n.RemoveConnection(p, reason) {
		n.debugLog("receive loop ended for unregistered peer", "peer", p.Name, "error", err)
	}
}

// handleDatagram is called from the listener dispatch loop for every datagram.
func (n *Node) handleDatagram(data []byte, from *net.UDPAddr) {
	name, sealed, err := wire.SplitDatagram(data)
	if err != nil {
		n.debugLog("bad datagram", "from", from.String(), "error", err)
		return
	}
	p, ok := n.registry.FindByName(name)
	if !ok {
		n.debugLog("datagram from unknown peer", "name", name, "from", from.String())
		return
	}
	if !p.UDPAccept() {
		n.debugLog("datagram from peer without udp", "peer", name)
		return
	}

	payload, err := p.Key.Open(sealed)
	if err != nil {
		n.debugLog("cannot open datagram", "peer", name, "error", err)
		return
	}
	n.traffic.AddDown(len(data))
	p.Traffic.AddDown(len(data))
	log.Emit(n.config.ProtocolLogger, log.Event{
		ConnectionID: p.ConnID,
		PeerName:     p.Name,
		LocalName:    n.config.Name,
		Direction:    log.DirectionIn,
		Layer:        log.LayerTransport,
		Category:     log.CategoryMessage,
		RemoteAddr:   from.String(),
		Frame:        log.NewFrameEvent(data, log.TransportUDP),
	})

	n.dispatch(p, payload, true)
}

func (n *Node) logControl(p *peer.Peer, dir log.Direction, typ log.ControlMsgType, tr log.Transport) {
	log.Emit(n.config.ProtocolLogger, log.Event{
		ConnectionID: p.ConnID,
		PeerName:     p.Name,
		LocalName:    n.config.Name,
		Direction:    dir,
		Layer:        log.LayerLiveness,
		Category:     log.CategoryControl,
		ControlMsg:   &log.ControlMsgEvent{Type: typ, Transport: tr},
	})
}

func (n *Node) logPeerState(p *peer.Peer, from, to, reason string) {
	log.Emit(n.config.ProtocolLogger, log.Event{
		ConnectionID: p.ConnID,
		PeerName:     p.Name,
		LocalName:    n.config.Name,
		Layer:        log.LayerRegistry,
		Category:     log.CategoryState,
		StateChange: &log.StateChangeEvent{
			Entity:   log.StateEntityPeer,
			OldState: from,
			NewState: to,
			Reason:   reason,
		},
	})
}
