// Package transport moves bytes between peerlink nodes.
//
// It provides:
//   - FrameReader, which reassembles length-prefixed frames from a stream
//   - Listener, which brings up TCP and UDP sockets and multiplexes their
//     events onto a single dispatch loop
//   - UDPSender, which sends datagrams over IPv4 or IPv6
//
// # Protocol Stack
//
//	┌────────────────────────────────┐
//	│   Application payload          │
//	├────────────────────────────────┤
//	│   zlib / snappy compression    │
//	├────────────────────────────────┤
//	│   XChaCha20-Poly1305 session   │
//	├────────────────────────────────┤
//	│   Length-Prefix Framing (4B)   │
//	├────────────────────────────────┤
//	│           TCP                  │
//	└────────────────────────────────┘
//
// Datagrams carry the sender name in clear and the sealed payload without
// framing or compression.
//
// # Timeouts
//
// A reader waiting for the start of a frame uses the idle timeout (1 hour by
// default). Once part of a frame has arrived, each further read must complete
// within the read timeout (10 seconds by default).
package transport
