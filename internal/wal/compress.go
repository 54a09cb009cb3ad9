package wal

import (
	"sync"

	"github.com/klauspost/compress/zstd"
)

// DecodedValue returns rec's logical value, transparently decompressing
// it if rec.Compression is anything other than CompressionNone. Callers
// reading a record's Value directly get exactly the bytes stored on
// disk; DecodedValue is the accessor that honors the Compression flag.
func (rec *Record) DecodedValue() ([]byte, error) {
	return decompress(rec)
}

// decompress returns the logical value bytes for rec, transparently
// undoing whatever compression its Compression field declares. None is
// returned unchanged. The WAL itself never compresses on write — Encode
// always writes Compression as given by the caller — this is purely the
// read-side pass-through the format requires implementations to honor.
func decompress(rec *Record) ([]byte, error) {
	switch rec.Compression {
	case CompressionNone:
		return rec.Value, nil
	case CompressionZstd:
		return zstdDecoderPool().DecodeAll(rec.Value, nil)
	case CompressionLZ4:
		return nil, ErrCompressionUnsupported
	default:
		return nil, ErrCompressionUnsupported
	}
}

var (
	zstdDecoderOnce sync.Once
	zstdDecoderInst *zstd.Decoder
)

// zstdDecoderPool lazily builds a single shared zstd decoder; zstd
// decoders are safe for concurrent DecodeAll calls and expensive enough
// to build that one per process is the right amortization, matching how
// the pack's zstd-using repos construct theirs once at startup.
func zstdDecoderPool() *zstd.Decoder {
	zstdDecoderOnce.Do(func() {
		zstdDecoderInst, _ = zstd.NewReader(nil)
	})
	return zstdDecoderInst
}
