package handshake

import (
	"bytes"
	"context"
	"net"

	"github.com/peerlink/peerlink-go/pkg/crypto"
	"github.com/peerlink/peerlink-go/pkg/peer"
	"github.com/peerlink/peerlink-go/pkg/wire"
)

// Responder runs the accepting side of the handshake.
type Responder struct {
	config Config
}

// NewResponder creates a responder.
func NewResponder(config Config) *Responder {
	return &Responder{config: config}
}

// Run authenticates an accepted connection. On success the returned peer
// owns conn; on failure conn is closed.
func (r *Responder) Run(ctx context.Context, conn net.Conn) (*peer.Peer, error) {
	stop := watch(ctx, conn)
	defer stop()

	s := newSession(&r.config, conn, peer.RoleServer)
	p, err := r.run(s)
	if err != nil {
		return nil, s.fail(err)
	}
	s.clearDeadlines()
	s.logState(p.Name, "ACCEPTED", "")
	return p, nil
}

func (r *Responder) run(s *session) (*peer.Peer, error) {
	raw, err := s.read("read header")
	if err != nil {
		return nil, err
	}
	remote, err := wire.DecodeHeader(raw)
	if err != nil {
		return nil, protocolErr("read header", err)
	}
	if remote.Name == s.local.Name {
		return nil, protocolErr("read header", ErrSelfConnection)
	}

	key, err := crypto.NewSessionKey()
	if err != nil {
		return nil, err
	}

	msg, err := wire.EncodePublicKeyMessage(r.config.Identity.PublicKey().Encode())
	if err != nil {
		return nil, err
	}
	if err := s.write("send public key", msg); err != nil {
		return nil, err
	}

	raw, err = s.read("read public key")
	if err != nil {
		return nil, err
	}
	encoded, err := wire.DecodePublicKeyMessage(raw)
	if err != nil {
		return nil, protocolErr("read public key", err)
	}
	remoteKey, err := crypto.ParsePublicKey(encoded)
	if err != nil {
		return nil, protocolErr("read public key", err)
	}

	plain, err := wire.EncodeSessionMessage(&wire.SessionMessage{
		SessionKey: key.Encode(),
		Header:     s.local,
	})
	if err != nil {
		return nil, err
	}
	sealed, err := r.config.Identity.SealTo(remoteKey, plain)
	if err != nil {
		return nil, err
	}
	if err := s.write("send session", sealed); err != nil {
		return nil, err
	}

	raw, err = s.readFull("read accept", acceptSize)
	if err != nil {
		return nil, err
	}
	ack, err := key.Open(raw)
	if err != nil {
		return nil, protocolErr("read accept", wrapf(ErrNotAccepted, "%v", err))
	}
	if !bytes.Equal(ack, wire.AcceptPayload) {
		return nil, protocolErr("read accept", ErrNotAccepted)
	}

	var id uint64
	if r.config.NextID != nil {
		id = r.config.NextID()
	}
	p := peer.New(id, s.conn, peer.RoleServer, key, remote)
	s.debugLog("handshake complete", "role", "server", "peer", p.Name, "remote", p.HostPort())
	return p, nil
}
