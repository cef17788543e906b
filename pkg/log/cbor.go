package log

import (
	"errors"
	"fmt"
	"io"

	"github.com/fxamacker/cbor/v2"
)

// Decoding bounds for .plog files. Frame data is truncated to
// MaxFrameDataSize when recorded, so longer byte strings only come from
// corrupt input. Text fields (reasons, error messages) get more room.
const (
	maxEventStringLen = 64 << 10
	maxEventMapPairs  = 32
	maxEventNesting   = 8
)

// ErrMultiplePayloads indicates an event with more than one payload field.
var ErrMultiplePayloads = errors.New("event carries more than one payload")

var (
	eventEncMode cbor.EncMode
	eventDecMode cbor.DecMode
)

func init() {
	var err error

	// Canonical key order keeps identical events byte-identical in a file.
	eventEncMode, err = cbor.EncOptions{
		Sort:          cbor.SortCanonical,
		IndefLength:   cbor.IndefLengthForbidden,
		NilContainers: cbor.NilContainerAsNull,
		Time:          cbor.TimeRFC3339Nano,
	}.EncMode()
	if err != nil {
		panic(fmt.Sprintf("peerlink log: cbor encoder mode: %v", err))
	}

	// Unknown keys are skipped so files from newer nodes stay readable.
	eventDecMode, err = cbor.DecOptions{
		DupMapKey:        cbor.DupMapKeyQuiet,
		IndefLength:      cbor.IndefLengthAllowed,
		MaxMapPairs:      maxEventMapPairs,
		MaxNestedLevels:  maxEventNesting,
		MaxArrayElements: 16,
	}.DecMode()
	if err != nil {
		panic(fmt.Sprintf("peerlink log: cbor decoder mode: %v", err))
	}
}

// Validate checks that event carries at most one payload and that recorded
// frame data does not exceed MaxFrameDataSize.
func (e *Event) Validate() error {
	set := 0
	for _, present := range []bool{
		e.Frame != nil,
		e.StateChange != nil,
		e.ControlMsg != nil,
		e.Error != nil,
		e.Traffic != nil,
	} {
		if present {
			set++
		}
	}
	if set > 1 {
		return fmt.Errorf("%w: %d", ErrMultiplePayloads, set)
	}
	if e.Frame != nil && len(e.Frame.Data) > MaxFrameDataSize {
		return fmt.Errorf("frame data of %d bytes exceeds %d", len(e.Frame.Data), MaxFrameDataSize)
	}
	return nil
}

// EncodeEvent encodes event with integer keys.
func EncodeEvent(event Event) ([]byte, error) {
	return eventEncMode.Marshal(event)
}

// DecodeEvent decodes and validates one event.
func DecodeEvent(data []byte) (Event, error) {
	var event Event
	if err := eventDecMode.Unmarshal(data, &event); err != nil {
		return Event{}, err
	}
	if err := event.Validate(); err != nil {
		return Event{}, err
	}
	return event, nil
}

// NewEncoder returns an event encoder writing to w.
func NewEncoder(w io.Writer) *cbor.Encoder {
	return eventEncMode.NewEncoder(w)
}

// NewDecoder returns an event decoder reading from r. Callers validate each
// decoded event.
func NewDecoder(r io.Reader) *cbor.Decoder {
	return eventDecMode.NewDecoder(r)
}
