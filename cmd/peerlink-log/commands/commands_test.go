package commands

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/peerlink/peerlink-go/pkg/log"
)

var base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func sampleEvents() []log.Event {
	return []log.Event{
		{
			Timestamp:    base,
			ConnectionID: "aaaaaaaa-1111",
			Direction:    log.DirectionIn,
			Layer:        log.LayerHandshake,
			Category:     log.CategoryState,
			PeerName:     "alice",
			StateChange:  &log.StateChangeEvent{Entity: log.StateEntityHandshake, NewState: "AUTHENTICATED"},
		},
		{
			Timestamp:    base.Add(time.Second),
			ConnectionID: "aaaaaaaa-1111",
			Direction:    log.DirectionOut,
			Layer:        log.LayerTransport,
			Category:     log.CategoryMessage,
			PeerName:     "alice",
			Frame:        log.NewFrameEvent([]byte{0xde, 0xad, 0xbe, 0xef}, log.TransportTCP),
		},
		{
			Timestamp:    base.Add(2 * time.Second),
			ConnectionID: "bbbbbbbb-2222",
			Direction:    log.DirectionIn,
			Layer:        log.LayerTransport,
			Category:     log.CategoryMessage,
			PeerName:     "bob",
			Frame:        log.NewFrameEvent(make([]byte, 10), log.TransportUDP),
		},
		{
			Timestamp:    base.Add(3 * time.Second),
			ConnectionID: "bbbbbbbb-2222",
			Direction:    log.DirectionOut,
			Layer:        log.LayerRegistry,
			Category:     log.CategoryControl,
			PeerName:     "bob",
			ControlMsg:   &log.ControlMsgEvent{Type: log.ControlMsgRemoval, Detail: "Manually closing."},
		},
		{
			Timestamp: base.Add(4 * time.Second),
			Layer:     log.LayerTransport,
			Category:  log.CategoryError,
			Error:     &log.ErrorEventData{Layer: log.LayerTransport, Message: "connection reset", Kind: "reset"},
		},
		{
			Timestamp: base.Add(5 * time.Second),
			Layer:     log.LayerTransport,
			Category:  log.CategoryTraffic,
			Traffic:   &log.TrafficEvent{Up: 2048, Down: 100, Interval: time.Minute, UpDelta: 10, DownDelta: 20},
		},
	}
}

func writeLog(t *testing.T, events []log.Event) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "node.plog")
	logger, err := log.NewFileLogger(path)
	require.NoError(t, err)
	for _, e := range events {
		logger.Log(e)
	}
	require.NoError(t, logger.Close())
	return path
}

func TestParseFlags(t *testing.T) {
	l, err := ParseLayerFlag("Liveness")
	require.NoError(t, err)
	assert.Equal(t, log.LayerLiveness, l)
	_, err = ParseLayerFlag("wire")
	assert.Error(t, err)

	d, err := ParseDirectionFlag("OUT")
	require.NoError(t, err)
	assert.Equal(t, log.DirectionOut, d)
	_, err = ParseDirectionFlag("sideways")
	assert.Error(t, err)

	c, err := ParseCategoryFlag("traffic")
	require.NoError(t, err)
	assert.Equal(t, log.CategoryTraffic, c)
	_, err = ParseCategoryFlag("bogus")
	assert.Error(t, err)
}

func TestShortenConnID(t *testing.T) {
	assert.Equal(t, "aaaaaaaa", shortenConnID("aaaaaaaa-1111"))
	assert.Equal(t, "abc", shortenConnID("abc"))
}

func TestFormatBytes(t *testing.T) {
	assert.Equal(t, "512 B", formatBytes(512))
	assert.Equal(t, "2.0 KiB", formatBytes(2048))
	assert.Equal(t, "1.5 MiB", formatBytes(3*1024*1024/2))
}

func TestRunView(t *testing.T) {
	path := writeLog(t, sampleEvents())

	t.Run("all", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, RunView(path, ViewFilter{}, &buf))
		out := buf.String()
		assert.Contains(t, out, "[conn:aaaaaaaa]")
		assert.Contains(t, out, "Data: deadbeef")
		assert.Contains(t, out, "Frame/UDP")
		assert.Contains(t, out, "CTRL REMOVAL")
		assert.Contains(t, out, "Detail: Manually closing.")
		assert.Contains(t, out, "-> AUTHENTICATED")
		assert.Contains(t, out, "Message: connection reset")
		assert.Contains(t, out, "Total: up 2.0 KiB, down 100 B")
	})

	t.Run("by peer", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, RunView(path, ViewFilter{PeerName: "bob"}, &buf))
		out := buf.String()
		assert.Contains(t, out, "peer=bob")
		assert.NotContains(t, out, "peer=alice")
	})

	t.Run("by layer", func(t *testing.T) {
		layer := log.LayerHandshake
		var buf bytes.Buffer
		require.NoError(t, RunView(path, ViewFilter{Layer: &layer}, &buf))
		assert.Equal(t, 1, strings.Count(buf.String(), "[conn:"))
	})

	t.Run("missing file", func(t *testing.T) {
		err := RunView(filepath.Join(t.TempDir(), "none.plog"), ViewFilter{}, &bytes.Buffer{})
		assert.Error(t, err)
	})
}

func TestCollectStats(t *testing.T) {
	path := writeLog(t, sampleEvents())

	stats, err := collectStats(path)
	require.NoError(t, err)

	assert.Equal(t, 6, stats.TotalEvents)
	assert.Equal(t, 4, stats.EventsByLayer[log.LayerTransport])
	assert.Equal(t, 1, stats.Errors)
	assert.Equal(t, 1, stats.Removals)
	require.NotNil(t, stats.LastTraffic)
	assert.Equal(t, uint64(2048), stats.LastTraffic.Up)
	assert.True(t, base.Equal(stats.TimeRange.Start))
	assert.True(t, base.Add(5*time.Second).Equal(stats.TimeRange.End))

	require.Len(t, stats.Connections, 2)
	alice := stats.Connections["aaaaaaaa-1111"]
	assert.Equal(t, "alice", alice.PeerName)
	assert.Equal(t, 4, alice.BytesOut)
	bob := stats.Connections["bbbbbbbb-2222"]
	assert.Equal(t, 10, bob.BytesIn)

	var buf bytes.Buffer
	printStats(&buf, stats)
	out := buf.String()
	assert.Contains(t, out, "Total Events: 6")
	assert.Contains(t, out, "Connections: 2")
	assert.Contains(t, out, "Peer: alice")
	assert.Contains(t, out, "Removal notices: 1")
	assert.Contains(t, out, "Errors: 1")
}

func TestRunFilter(t *testing.T) {
	path := writeLog(t, sampleEvents())

	t.Run("by peer and direction", func(t *testing.T) {
		out := filepath.Join(t.TempDir(), "bob.plog")
		n, err := RunFilter(path, FilterOptions{Output: out, PeerName: "bob", Direction: "in"})
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		reader, err := log.NewReader(out)
		require.NoError(t, err)
		defer reader.Close()
		e, err := reader.Next()
		require.NoError(t, err)
		assert.Equal(t, "bbbbbbbb-2222", e.ConnectionID)
		require.NotNil(t, e.Frame)
		assert.Equal(t, log.TransportUDP, e.Frame.Transport)
	})

	t.Run("by time range", func(t *testing.T) {
		out := filepath.Join(t.TempDir(), "range.plog")
		n, err := RunFilter(path, FilterOptions{
			Output:    out,
			TimeStart: base.Add(time.Second).Format(time.RFC3339),
			TimeEnd:   base.Add(3 * time.Second).Format(time.RFC3339),
		})
		require.NoError(t, err)
		assert.Equal(t, 2, n)
	})

	t.Run("invalid options", func(t *testing.T) {
		out := filepath.Join(t.TempDir(), "x.plog")
		_, err := RunFilter(path, FilterOptions{Output: out, Layer: "wire"})
		assert.Error(t, err)
		_, err = RunFilter(path, FilterOptions{Output: out, TimeStart: "yesterday"})
		assert.Error(t, err)
	})
}

func TestRunExport(t *testing.T) {
	path := writeLog(t, sampleEvents())

	t.Run("jsonl", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, RunExport(path, "jsonl", &buf))
		lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
		require.Len(t, lines, 6)

		var first map[string]any
		require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
		assert.Equal(t, "aaaaaaaa-1111", first["ConnectionID"])
		assert.Equal(t, "alice", first["PeerName"])
	})

	t.Run("csv", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, RunExport(path, "csv", &buf))
		rows, err := csv.NewReader(&buf).ReadAll()
		require.NoError(t, err)
		require.Len(t, rows, 7)
		assert.Equal(t, "timestamp", rows[0][0])
		assert.Equal(t, "4", rows[2][8])
		assert.Equal(t, "REMOVAL", rows[4][7])
		assert.Equal(t, "Manually closing.", rows[4][9])
	})

	t.Run("unknown format", func(t *testing.T) {
		assert.Error(t, RunExport(path, "xml", &bytes.Buffer{}))
	})
}
