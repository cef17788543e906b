package handshake

import (
	"context"
	"net"

	"github.com/peerlink/peerlink-go/pkg/crypto"
	"github.com/peerlink/peerlink-go/pkg/peer"
	"github.com/peerlink/peerlink-go/pkg/wire"
)

// Initiator runs the dialing side of the handshake.
type Initiator struct {
	config Config
}

// NewInitiator creates an initiator.
func NewInitiator(config Config) *Initiator {
	return &Initiator{config: config}
}

// Run authenticates a dialed connection. On success the returned peer owns
// conn; on failure conn is closed.
func (i *Initiator) Run(ctx context.Context, conn net.Conn) (*peer.Peer, error) {
	stop := watch(ctx, conn)
	defer stop()

	s := newSession(&i.config, conn, peer.RoleClient)
	p, err := i.run(s)
	if err != nil {
		return nil, s.fail(err)
	}
	s.clearDeadlines()
	s.logState(p.Name, "ACCEPTED", "")
	return p, nil
}

func (i *Initiator) run(s *session) (*peer.Peer, error) {
	hdr, err := wire.EncodeHeader(s.local)
	if err != nil {
		return nil, err
	}
	if err := s.write("send header", hdr); err != nil {
		return nil, err
	}

	raw, err := s.read("read public key")
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

	msg, err := wire.EncodePublicKeyMessage(i.config.Identity.PublicKey().Encode())
	if err != nil {
		return nil, err
	}
	if err := s.write("send public key", msg); err != nil {
		return nil, err
	}

	raw, err = s.read("read session")
	if err != nil {
		return nil, err
	}
	plain, err := i.config.Identity.OpenFrom(remoteKey, raw)
	if err != nil {
		return nil, protocolErr("read session", err)
	}
	sess, err := wire.DecodeSessionMessage(plain)
	if err != nil {
		return nil, protocolErr("read session", err)
	}
	key, err := crypto.ParseSessionKey(sess.SessionKey)
	if err != nil {
		return nil, protocolErr("read session", err)
	}
	if sess.Header.NetworkVersion != s.local.NetworkVersion {
		return nil, protocolErr("read session",
			wrapf(ErrVersionMismatch, "%s != %s", sess.Header.NetworkVersion, s.local.NetworkVersion))
	}

	var id uint64
	if i.config.NextID != nil {
		id = i.config.NextID()
	}
	p := peer.New(id, s.conn, peer.RoleClient, key, sess.Header)

	ack, err := key.Seal(wire.AcceptPayload)
	if err != nil {
		return nil, err
	}
	if err := s.write("send accept", ack); err != nil {
		return nil, err
	}

	s.debugLog("handshake complete", "role", "client", "peer", p.Name, "remote", p.HostPort())
	return p, nil
}
