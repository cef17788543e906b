package log

import (
	"time"
)

// Event represents a protocol log event captured at any layer.
// CBOR encoding uses integer keys for compactness.
type Event struct {
	// Timestamp when the event occurred (nanosecond precision).
	Timestamp time.Time `cbor:"1,keyasint"`

	// ConnectionID uniquely identifies the peer connection (UUID).
	ConnectionID string `cbor:"2,keyasint"`

	// Direction indicates message flow.
	Direction Direction `cbor:"3,keyasint"`

	// Layer where the event was captured.
	Layer Layer `cbor:"4,keyasint"`

	// Category classifies the event type.
	Category Category `cbor:"5,keyasint"`

	// LocalRole indicates which side opened the TCP connection.
	LocalRole Role `cbor:"6,keyasint,omitempty"`

	// RemoteAddr is the peer address (IP:port).
	RemoteAddr string `cbor:"7,keyasint,omitempty"`

	// PeerName is the remote node name (populated after the header is read).
	PeerName string `cbor:"8,keyasint,omitempty"`

	// LocalName is the name of the node that recorded the event.
	LocalName string `cbor:"9,keyasint,omitempty"`

	// Type-specific payload (one of these will be set).
	Frame       *FrameEvent       `cbor:"10,keyasint,omitempty"` // Raw frame or datagram
	StateChange *StateChangeEvent `cbor:"12,keyasint,omitempty"` // Handshake/peer/capability state
	ControlMsg  *ControlMsgEvent  `cbor:"13,keyasint,omitempty"` // Ping/pong/removal notice
	Error       *ErrorEventData   `cbor:"14,keyasint,omitempty"` // Errors at any layer
	Traffic     *TrafficEvent     `cbor:"15,keyasint,omitempty"` // Byte counter snapshot
}

// Direction indicates the direction of message flow.
type Direction uint8

const (
	// DirectionIn indicates an incoming message.
	DirectionIn Direction = 0
	// DirectionOut indicates an outgoing message.
	DirectionOut Direction = 1
)

// String returns the direction name.
func (d Direction) String() string {
	switch d {
	case DirectionIn:
		return "IN"
	case DirectionOut:
		return "OUT"
	default:
		return "UNKNOWN"
	}
}

// Layer indicates which component captured the event.
type Layer uint8

const (
	// LayerTransport is the framing and datagram layer.
	LayerTransport Layer = 0
	// LayerHandshake is the connection handshake.
	LayerHandshake Layer = 1
	// LayerRegistry is the connection registry.
	LayerRegistry Layer = 2
	// LayerLiveness is ping/pong and reachability probing.
	LayerLiveness Layer = 3
)

// String returns the layer name.
func (l Layer) String() string {
	switch l {
	case LayerTransport:
		return "TRANSPORT"
	case LayerHandshake:
		return "HANDSHAKE"
	case LayerRegistry:
		return "REGISTRY"
	case LayerLiveness:
		return "LIVENESS"
	default:
		return "UNKNOWN"
	}
}

// Category classifies the event type.
type Category uint8

const (
	// CategoryMessage indicates an application frame or datagram.
	CategoryMessage Category = 0
	// CategoryControl indicates a control payload (ping/pong/removal notice).
	CategoryControl Category = 1
	// CategoryState indicates a state change.
	CategoryState Category = 2
	// CategoryError indicates an error event.
	CategoryError Category = 3
	// CategoryTraffic indicates a traffic counter snapshot.
	CategoryTraffic Category = 4
)

// String returns the category name.
func (c Category) String() string {
	switch c {
	case CategoryMessage:
		return "MESSAGE"
	case CategoryControl:
		return "CONTROL"
	case CategoryState:
		return "STATE"
	case CategoryError:
		return "ERROR"
	case CategoryTraffic:
		return "TRAFFIC"
	default:
		return "UNKNOWN"
	}
}

// Role indicates which side opened the connection.
type Role uint8

const (
	// RoleServer indicates the local node accepted the connection.
	RoleServer Role = 0
	// RoleClient indicates the local node dialed the connection.
	RoleClient Role = 1
)

// String returns the role name.
func (r Role) String() string {
	switch r {
	case RoleServer:
		return "SERVER"
	case RoleClient:
		return "CLIENT"
	default:
		return "UNKNOWN"
	}
}

// Transport identifies the socket type a frame travelled on.
type Transport uint8

const (
	// TransportTCP is a length-prefixed stream frame.
	TransportTCP Transport = 0
	// TransportUDP is a single datagram.
	TransportUDP Transport = 1
)

// String returns the transport name.
func (t Transport) String() string {
	switch t {
	case TransportTCP:
		return "TCP"
	case TransportUDP:
		return "UDP"
	default:
		return "UNKNOWN"
	}
}

// FrameEvent captures raw frame data at the transport layer.
type FrameEvent struct {
	// Size is the number of bytes on the wire.
	Size int `cbor:"1,keyasint"`

	// Data is the raw ciphertext (may be truncated for large frames).
	Data []byte `cbor:"2,keyasint,omitempty"`

	// Truncated indicates if Data was truncated.
	Truncated bool `cbor:"3,keyasint,omitempty"`

	// Transport is the socket type.
	Transport Transport `cbor:"4,keyasint,omitempty"`
}

// StateChangeEvent captures handshake, registry and capability transitions.
type StateChangeEvent struct {
	// Entity being changed.
	Entity StateEntity `cbor:"1,keyasint"`

	// OldState is the previous state (may be empty).
	OldState string `cbor:"2,keyasint,omitempty"`

	// NewState is the new state.
	NewState string `cbor:"3,keyasint"`

	// Reason for the change (if available).
	Reason string `cbor:"4,keyasint,omitempty"`
}

// StateEntity indicates what entity changed state.
type StateEntity uint8

const (
	// StateEntityConnection is the TCP connection.
	StateEntityConnection StateEntity = 0
	// StateEntityHandshake is the handshake progress.
	StateEntityHandshake StateEntity = 1
	// StateEntityPeer is registry membership.
	StateEntityPeer StateEntity = 2
	// StateEntityCapability is a TCP/UDP accept flag.
	StateEntityCapability StateEntity = 3
)

// String returns the entity name.
func (e StateEntity) String() string {
	switch e {
	case StateEntityConnection:
		return "CONNECTION"
	case StateEntityHandshake:
		return "HANDSHAKE"
	case StateEntityPeer:
		return "PEER"
	case StateEntityCapability:
		return "CAPABILITY"
	default:
		return "UNKNOWN"
	}
}

// ControlMsgEvent captures a control payload.
type ControlMsgEvent struct {
	// Type of control payload.
	Type ControlMsgType `cbor:"1,keyasint"`

	// Transport the payload travelled on.
	Transport Transport `cbor:"2,keyasint,omitempty"`

	// Detail carries the removal reason for notices.
	Detail string `cbor:"3,keyasint,omitempty"`
}

// ControlMsgType identifies control payloads.
type ControlMsgType uint8

const (
	// ControlMsgPing is a Ping payload.
	ControlMsgPing ControlMsgType = 0
	// ControlMsgPong is a Pong payload.
	ControlMsgPong ControlMsgType = 1
	// ControlMsgRemoval is the plaintext removal notice.
	ControlMsgRemoval ControlMsgType = 2
)

// String returns the control message type name.
func (c ControlMsgType) String() string {
	switch c {
	case ControlMsgPing:
		return "PING"
	case ControlMsgPong:
		return "PONG"
	case ControlMsgRemoval:
		return "REMOVAL"
	default:
		return "UNKNOWN"
	}
}

// ErrorEventData captures an error at any layer.
type ErrorEventData struct {
	// Layer where the error occurred.
	Layer Layer `cbor:"1,keyasint"`

	// Message is the error text.
	Message string `cbor:"2,keyasint"`

	// Kind is the error classification (see package neterr).
	Kind string `cbor:"3,keyasint,omitempty"`

	// Context describes what operation was being performed.
	Context string `cbor:"4,keyasint,omitempty"`
}

// TrafficEvent captures a snapshot of the traffic counters.
type TrafficEvent struct {
	// Up is the total number of bytes sent.
	Up uint64 `cbor:"1,keyasint"`

	// Down is the total number of bytes received.
	Down uint64 `cbor:"2,keyasint"`

	// Interval is the time covered by UpDelta and DownDelta.
	Interval time.Duration `cbor:"3,keyasint,omitempty"`

	// UpDelta is the number of bytes sent during Interval.
	UpDelta uint64 `cbor:"4,keyasint,omitempty"`

	// DownDelta is the number of bytes received during Interval.
	DownDelta uint64 `cbor:"5,keyasint,omitempty"`
}
