package wal

import "errors"

// Sentinel errors surfaced by the codec, segment, and recovery layers.
var (
	// ErrTruncatedFrame is returned when a decode cursor runs out of bytes
	// before a frame is complete. The bytes read so far are consumed from
	// the underlying reader; callers do not advance their own offset.
	ErrTruncatedFrame = errors.New("wal: truncated frame")

	// ErrBadLength is returned when the length prefix is inconsistent with
	// the key/value lengths that follow it.
	ErrBadLength = errors.New("wal: bad length field")

	// ErrBadCRC is returned when the trailing CRC32C does not match the
	// payload bytes.
	ErrBadCRC = errors.New("wal: crc mismatch")

	// ErrUnknownFlags is returned when reserved flag bits are set.
	ErrUnknownFlags = errors.New("wal: unknown flags set")

	// ErrFatalCorruption is returned by Open when a sealed (non-tail)
	// segment fails to decode as a valid prefix in its entirety.
	ErrFatalCorruption = errors.New("wal: fatal corruption in sealed segment")

	// ErrRecordTooLarge is returned before any I/O when an encoded frame
	// would exceed the implementation limit.
	ErrRecordTooLarge = errors.New("wal: record too large")

	// ErrInvalidConfig is returned from Open when configuration is invalid.
	ErrInvalidConfig = errors.New("wal: invalid config")

	// ErrClosed is returned by Append and AppendBatch when invoked after
	// Close. Sync, ReadFrom, GCBelow, StartGC and Position do not check
	// whether the WAL has been closed.
	ErrClosed = errors.New("wal: closed")

	// ErrCompressionUnsupported is returned on read when a record declares
	// a compression scheme the build cannot decode.
	ErrCompressionUnsupported = errors.New("wal: unsupported compression scheme")

	// ErrTombstoneHasValue is returned when encoding a record that sets
	// Tombstone but carries a non-empty Value.
	ErrTombstoneHasValue = errors.New("wal: tombstone record must have empty value")
)
