// Package commands implements the peerlink-log CLI commands.
package commands

import (
	"encoding/hex"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/peerlink/peerlink-go/pkg/log"
)

// ViewFilter selects the events shown by the view command.
type ViewFilter struct {
	Layer     *log.Layer
	Direction *log.Direction
	Category  *log.Category
	PeerName  string
}

func (f ViewFilter) toFilter() log.Filter {
	return log.Filter{
		PeerName:  f.PeerName,
		Layer:     f.Layer,
		Direction: f.Direction,
		Category:  f.Category,
	}
}

// eventType returns a short label for the payload carried by event.
func eventType(event log.Event) string {
	switch {
	case event.Frame != nil:
		return "Frame/" + event.Frame.Transport.String()
	case event.StateChange != nil:
		return "State"
	case event.ControlMsg != nil:
		return event.ControlMsg.Type.String()
	case event.Error != nil:
		return "Error"
	case event.Traffic != nil:
		return "Traffic"
	default:
		return "Unknown"
	}
}

// formatEvent writes a human-readable representation of the event to w.
func formatEvent(w io.Writer, event log.Event) {
	ts := event.Timestamp.UTC().Format("2006-01-02T15:04:05.000000Z")

	layer := event.Layer.String()
	if event.Category == log.CategoryControl {
		layer = "CTRL"
	}

	fmt.Fprintf(w, "%s [conn:%s] %-3s %s %s", ts, shortenConnID(event.ConnectionID), event.Direction, layer, eventType(event))
	if event.PeerName != "" {
		fmt.Fprintf(w, " peer=%s", event.PeerName)
	}
	if event.LocalName != "" {
		fmt.Fprintf(w, " local=%s", event.LocalName)
	}
	fmt.Fprintln(w)
	if event.RemoteAddr != "" {
		fmt.Fprintf(w, "  Remote: %s\n", event.RemoteAddr)
	}

	switch {
	case event.Frame != nil:
		formatFrameDetails(w, event.Frame)
	case event.StateChange != nil:
		formatStateChangeDetails(w, event.StateChange)
	case event.ControlMsg != nil:
		fmt.Fprintf(w, "  Transport: %s\n", event.ControlMsg.Transport)
		if event.ControlMsg.Detail != "" {
			fmt.Fprintf(w, "  Detail: %s\n", event.ControlMsg.Detail)
		}
	case event.Error != nil:
		formatErrorDetails(w, event.Error)
	case event.Traffic != nil:
		formatTrafficDetails(w, event.Traffic)
	}

	fmt.Fprintln(w)
}

// shortenConnID returns the first 8 characters of the connection ID.
func shortenConnID(id string) string {
	if len(id) >= 8 {
		return id[:8]
	}
	return id
}

func formatFrameDetails(w io.Writer, frame *log.FrameEvent) {
	fmt.Fprintf(w, "  Size: %d bytes\n", frame.Size)
	if len(frame.Data) > 0 {
		fmt.Fprintf(w, "  Data: %s", hex.EncodeToString(frame.Data))
		if frame.Truncated {
			fmt.Fprintf(w, " (truncated)")
		}
		fmt.Fprintln(w)
	}
}

func formatStateChangeDetails(w io.Writer, sc *log.StateChangeEvent) {
	fmt.Fprintf(w, "  Entity: %s\n", sc.Entity)
	if sc.OldState != "" {
		fmt.Fprintf(w, "  %s -> %s\n", sc.OldState, sc.NewState)
	} else {
		fmt.Fprintf(w, "  -> %s\n", sc.NewState)
	}
	if sc.Reason != "" {
		fmt.Fprintf(w, "  Reason: %s\n", sc.Reason)
	}
}

func formatErrorDetails(w io.Writer, err *log.ErrorEventData) {
	fmt.Fprintf(w, "  Layer: %s\n", err.Layer)
	fmt.Fprintf(w, "  Message: %s\n", err.Message)
	if err.Kind != "" {
		fmt.Fprintf(w, "  Kind: %s\n", err.Kind)
	}
	if err.Context != "" {
		fmt.Fprintf(w, "  Context: %s\n", err.Context)
	}
}

func formatTrafficDetails(w io.Writer, t *log.TrafficEvent) {
	fmt.Fprintf(w, "  Total: up %s, down %s\n", formatBytes(t.Up), formatBytes(t.Down))
	if t.Interval > 0 {
		fmt.Fprintf(w, "  Last %s: up %s, down %s\n", t.Interval, formatBytes(t.UpDelta), formatBytes(t.DownDelta))
	}
}

// formatBytes formats a byte count with a binary unit.
func formatBytes(n uint64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := uint64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

// ParseLayerFlag parses a layer name (case-insensitive).
func ParseLayerFlag(s string) (log.Layer, error) {
	switch strings.ToLower(s) {
	case "transport":
		return log.LayerTransport, nil
	case "handshake":
		return log.LayerHandshake, nil
	case "registry":
		return log.LayerRegistry, nil
	case "liveness":
		return log.LayerLiveness, nil
	default:
		return 0, fmt.Errorf("invalid layer: %s (must be transport, handshake, registry or liveness)", s)
	}
}

// ParseDirectionFlag parses a direction name (case-insensitive).
func ParseDirectionFlag(s string) (log.Direction, error) {
	switch strings.ToLower(s) {
	case "in":
		return log.DirectionIn, nil
	case "out":
		return log.DirectionOut, nil
	default:
		return 0, fmt.Errorf("invalid direction: %s (must be in or out)", s)
	}
}

// ParseCategoryFlag parses a category name (case-insensitive).
func ParseCategoryFlag(s string) (log.Category, error) {
	switch strings.ToLower(s) {
	case "message":
		return log.CategoryMessage, nil
	case "control":
		return log.CategoryControl, nil
	case "state":
		return log.CategoryState, nil
	case "error":
		return log.CategoryError, nil
	case "traffic":
		return log.CategoryTraffic, nil
	default:
		return 0, fmt.Errorf("invalid category: %s (must be message, control, state, error or traffic)", s)
	}
}

// RunView prints the matching events of a log file.
func RunView(path string, filter ViewFilter, output io.Writer) error {
	reader, err := log.NewFilteredReader(path, filter.toFilter())
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	defer reader.Close()

	for event, err := range reader.All() {
		if err != nil {
			return fmt.Errorf("failed to read event: %w", err)
		}
		formatEvent(output, event)
	}
	return nil
}

// parseTime accepts RFC 3339 timestamps.
func parseTime(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
