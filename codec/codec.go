// Package codec provides conditional zstd compression for cached
// payloads.
//
// Compression is a storage optimization, never a correctness
// requirement: every failure path degrades to passing the original
// bytes through untouched. Whether a stored payload is compressed is
// inferred from the zstd frame magic, so no metadata is kept separate
// from the bytes themselves.
package codec

import (
	"bytes"
	"io"
	"log/slog"
	"strings"

	"github.com/klauspost/compress/zstd"
)

// DefaultMinSize is the payload size below which compression is never
// attempted; codec overhead exceeds any saving.
const DefaultMinSize = 1024

// zstdMagic is the little-endian zstd frame magic number.
var zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}

// compressibleTypes lists content-type prefixes worth compressing.
// Image and generic binary formats are excluded because they are
// already entropy-dense.
var compressibleTypes = []string{
	"text/",
	"application/json",
	"application/javascript",
	"application/xml",
	"application/x-ndjson",
	"application/wasm",
	"application/vnd.geo+json",
}

// Codec compresses and decompresses payloads with zstd.
type Codec struct {
	enc     *zstd.Encoder
	dec     *zstd.Decoder
	minSize int
	logger  *slog.Logger
}

// Option configures a Codec.
type Option func(*Codec)

// WithMinSize sets the minimum payload size eligible for compression.
func WithMinSize(n int) Option {
	return func(c *Codec) {
		c.minSize = n
	}
}

// WithLogger sets the logger used for degraded-path reporting.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Codec) {
		c.logger = logger
	}
}

// New creates a Codec. If the zstd encoder or decoder cannot be
// constructed the codec still works as a pass-through.
func New(opts ...Option) *Codec {
	c := &Codec{minSize: DefaultMinSize}
	for _, opt := range opts {
		opt(c)
	}

	enc, err := zstd.NewWriter(nil, zstd.WithEncoderConcurrency(1), zstd.WithLowerEncoderMem(true))
	if err != nil {
		c.log().Warn("zstd encoder unavailable, compression disabled", "error", err)
	} else {
		c.enc = enc
	}
	dec, err := zstd.NewReader(nil, zstd.WithDecoderConcurrency(1))
	if err != nil {
		c.log().Warn("zstd decoder unavailable, decompression disabled", "error", err)
	} else {
		c.dec = dec
	}
	return c
}

func (c *Codec) log() *slog.Logger {
	if c.logger == nil {
		return slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return c.logger
}

// Available reports whether the compression facility can be used.
func (c *Codec) Available() bool {
	return c.enc != nil && c.dec != nil
}

// ShouldCompress reports whether a payload of the given size and
// content type is worth compressing.
func (c *Codec) ShouldCompress(size int, contentType string) bool {
	if !c.Available() || size < c.minSize {
		return false
	}
	ct := strings.ToLower(contentType)
	for _, prefix := range compressibleTypes {
		if strings.HasPrefix(ct, prefix) {
			return true
		}
	}
	return false
}

// Compress returns the zstd-compressed payload and true, or the
// original payload and false when compression is unavailable or does
// not make the payload strictly smaller. Callers must consult the flag
// rather than assume compression happened.
func (c *Codec) Compress(payload []byte) ([]byte, bool) {
	if c.enc == nil || len(payload) == 0 {
		return payload, false
	}
	compressed := c.enc.EncodeAll(payload, make([]byte, 0, len(payload)))
	if len(compressed) >= len(payload) {
		return payload, false
	}
	return compressed, true
}

// Decompress returns the original byte sequence for a payload produced
// by Compress. Payloads without the zstd magic pass through unchanged.
// A corrupt frame degrades to returning the stored bytes as-is.
func (c *Codec) Decompress(payload []byte) []byte {
	if !IsCompressed(payload) {
		return payload
	}
	if c.dec == nil {
		c.log().Warn("zstd decoder unavailable, returning stored bytes")
		return payload
	}
	original, err := c.dec.DecodeAll(payload, nil)
	if err != nil {
		c.log().Warn("decompression failed, returning stored bytes", "error", err)
		return payload
	}
	return original
}

// IsCompressed reports whether payload starts with a zstd frame.
func IsCompressed(payload []byte) bool {
	return bytes.HasPrefix(payload, zstdMagic)
}
