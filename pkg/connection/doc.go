// Package connection keeps a node connected to its bootstrap addresses.
//
// A Manager dials one address, waits for the resulting link to close, and
// dials again. Failed dials are retried with exponential backoff:
//
//	delay = min(initial * multiplier^n, max) + random(0, delay * jitter)
//
// The backoff resets after every successful dial. Node discovery is out of
// scope: the addresses come from configuration.
package connection
