// Package wire defines the peerlink wire formats.
//
// # Handshake
//
// The handshake exchanges JSON messages, one per socket read:
//
//	initiator                         responder
//	  Header (cleartext)       ───▶
//	                           ◀───   {"public-key": ...}
//	  {"public-key": ...}      ───▶
//	                           ◀───   box({"aes-key": ..., "header": ...})
//	  seal(key, "accept")      ───▶
//
// # TCP Frames
//
//	┌──────────────────┬───────────────────────────────────────┐
//	│ length (4B, BE)  │ seal(session key, compress(payload))  │
//	└──────────────────┴───────────────────────────────────────┘
//
// The length counts ciphertext bytes only.
//
// # UDP Datagrams
//
//	┌──────────────┬────────────┬──────────────────────────────┐
//	│ name len (1B)│ name       │ seal(session key, payload)   │
//	└──────────────┴────────────┴──────────────────────────────┘
//
// # Reserved Payloads
//
// The literal payloads "Ping" and "Pong" are consumed by the transport and
// never reach the application queue.
package wire
