// Package node is the transport core of a peerlink node.
//
// A Node accepts and dials TCP connections, authenticates them with the
// handshake, runs one receive loop per peer, and sends payloads over TCP or
// UDP. Decoded application payloads are published to subscribers; Ping and
// Pong payloads are handled internally and never published.
//
// # Lifecycle
//
//	n, err := node.New(node.Config{Name: "alpha", NetworkVersion: "1", Port: 2000})
//	if err := n.Start(ctx); err != nil { ... }
//	defer n.Close()
//
//	sub := n.Subscribe()
//	p, err := n.Connect(ctx, "10.0.0.2", 2000)
//	_, err = n.Send(ctx, []byte("hello"), node.SendOptions{Peer: p})
//	msg := <-sub.C()
//
// # Duplicate connections
//
// Two nodes may dial each other at the same time. When a second connection
// to an already registered name completes, the existing connection is
// pinged: if it answers, the new connection is dropped, otherwise the old
// one is replaced.
package node
