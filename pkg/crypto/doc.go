// Package crypto provides the cryptographic primitives of the peerlink
// transport.
//
// Three capabilities are exposed:
//   - Identity: a Curve25519 key pair used during the handshake to seal the
//     session establishment message to the remote node's public key
//     (NaCl box, XSalsa20-Poly1305).
//   - SessionKey: the 32-byte symmetric key shared by exactly two nodes after
//     the handshake; frames and datagrams are sealed with XChaCha20-Poly1305
//     and carry their random 24-byte nonce in front of the ciphertext.
//   - Compressor: the payload compression applied to TCP frames before
//     sealing (zlib by default, snappy optional).
package crypto
