package crypto

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/zlib"
)

// Compression names accepted by NewCompressor.
const (
	CompressionZlib   = "zlib"
	CompressionSnappy = "snappy"
)

// ErrDecompressedTooLarge indicates decompression would exceed the caller's limit.
var ErrDecompressedTooLarge = errors.New("decompressed payload too large")

// Compressor transforms frame payloads before sealing.
type Compressor interface {
	// Name returns the compression name.
	Name() string

	// Compress compresses src.
	Compress(src []byte) ([]byte, error)

	// Decompress restores src, refusing output larger than limit bytes.
	Decompress(src []byte, limit int) ([]byte, error)
}

// NewCompressor returns the compressor for name. An empty name selects zlib.
func NewCompressor(name string) (Compressor, error) {
	switch name {
	case "", CompressionZlib:
		return Zlib{}, nil
	case CompressionSnappy:
		return Snappy{}, nil
	default:
		return nil, fmt.Errorf("unknown compression %q", name)
	}
}

// Zlib is RFC 1950 compression, compatible with the reference nodes.
type Zlib struct{}

// Name implements Compressor.
func (Zlib) Name() string { return CompressionZlib }

// Compress implements Compressor.
func (Zlib) Compress(src []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := zlib.NewWriter(&buf)
	if _, err := w.Write(src); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Decompress implements Compressor.
func (Zlib) Decompress(src []byte, limit int) ([]byte, error) {
	r, err := zlib.NewReader(bytes.NewReader(src))
	if err != nil {
		return nil, fmt.Errorf("zlib: %w", err)
	}
	defer r.Close()

	out, err := io.ReadAll(io.LimitReader(r, int64(limit)+1))
	if err != nil {
		return nil, fmt.Errorf("zlib: %w", err)
	}
	if len(out) > limit {
		return nil, fmt.Errorf("%w: limit %d", ErrDecompressedTooLarge, limit)
	}
	return out, nil
}

// Snappy is block-format snappy compression.
type Snappy struct{}

// Name implements Compressor.
func (Snappy) Name() string { return CompressionSnappy }

// Compress implements Compressor.
func (Snappy) Compress(src []byte) ([]byte, error) {
	return snappy.Encode(nil, src), nil
}

// Decompress implements Compressor.
func (Snappy) Decompress(src []byte, limit int) ([]byte, error) {
	n, err := snappy.DecodedLen(src)
	if err != nil {
		return nil, fmt.Errorf("snappy: %w", err)
	}
	if n > limit {
		return nil, fmt.Errorf("%w: %d > %d", ErrDecompressedTooLarge, n, limit)
	}
	out, err := snappy.Decode(nil, src)
	if err != nil {
		return nil, fmt.Errorf("snappy: %w", err)
	}
	return out, nil
}

// Compile-time interface satisfaction checks.
var (
	_ Compressor = Zlib{}
	_ Compressor = Snappy{}
)
