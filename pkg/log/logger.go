package log

import "time"

// MaxFrameDataSize is the maximum ciphertext size kept in a FrameEvent (4 KB).
// Larger frames are truncated to avoid excessive memory use.
const MaxFrameDataSize = 4096

// Logger is the interface applications implement to receive protocol log events.
// Pass nil or NoopLogger to disable logging.
type Logger interface {
	// Log records a protocol event. Implementations must be thread-safe.
	// The event should be processed quickly or queued; blocking affects performance.
	Log(event Event)
}

// NoopLogger discards all events. Use when logging is disabled.
// NoopLogger is safe for concurrent use and usable as a zero value.
type NoopLogger struct{}

// Log discards the event.
func (NoopLogger) Log(Event) {}

// Emit stamps event with the current time if unset and passes it to l.
// A nil logger discards the event.
func Emit(l Logger, event Event) {
	if l == nil {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	l.Log(event)
}

// NewFrameEvent builds a FrameEvent for data, truncating large frames.
func NewFrameEvent(data []byte, transport Transport) *FrameEvent {
	fe := &FrameEvent{Size: len(data), Data: data, Transport: transport}
	if len(data) > MaxFrameDataSize {
		fe.Data = data[:MaxFrameDataSize]
		fe.Truncated = true
	}
	return fe
}

// Compile-time interface satisfaction check.
var _ Logger = NoopLogger{}
