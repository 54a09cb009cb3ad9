package wal

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"hash/crc32"
	"io"
	"testing"
	"time"
)

func TestRecordEncodeDecodeRoundTrip(t *testing.T) {
	ttl := 5 * time.Second
	cases := []struct {
		name string
		rec  Record
	}{
		{"simple", Record{Key: []byte("k1"), Value: []byte("v1")}},
		{"empty value", Record{Key: []byte("k2"), Value: nil}},
		{"empty key and value", Record{Key: nil, Value: nil}},
		{"tombstone", Record{Key: []byte("k3"), Tombstone: true}},
		{"with ttl", Record{Key: []byte("k4"), Value: []byte("v4"), TTL: &ttl}},
		{"compressed", Record{Key: []byte("k5"), Value: []byte("v5"), Compression: CompressionZstd}},
		{"large value", Record{Key: []byte("k6"), Value: bytes.Repeat([]byte{0xAB}, 1 << 16)}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			buf, err := tc.rec.Encode()
			if err != nil {
				t.Fatalf("Encode: %v", err)
			}

			r := bufio.NewReader(bytes.NewReader(buf))
			got, n, err := DecodeRecord(r)
			if err != nil {
				t.Fatalf("DecodeRecord: %v", err)
			}
			if n != len(buf) {
				t.Fatalf("consumed %d bytes, want %d", n, len(buf))
			}
			if !bytes.Equal(got.Key, tc.rec.Key) {
				t.Errorf("key = %q, want %q", got.Key, tc.rec.Key)
			}
			if !bytes.Equal(got.Value, tc.rec.Value) {
				t.Errorf("value = %q, want %q", got.Value, tc.rec.Value)
			}
			if got.Tombstone != tc.rec.Tombstone {
				t.Errorf("tombstone = %v, want %v", got.Tombstone, tc.rec.Tombstone)
			}
			if got.Compression != tc.rec.Compression {
				t.Errorf("compression = %v, want %v", got.Compression, tc.rec.Compression)
			}
			if (got.TTL == nil) != (tc.rec.TTL == nil) {
				t.Fatalf("ttl presence mismatch: got %v want %v", got.TTL, tc.rec.TTL)
			}
			if got.TTL != nil && *got.TTL != *tc.rec.TTL {
				t.Errorf("ttl = %v, want %v", *got.TTL, *tc.rec.TTL)
			}
		})
	}
}

func TestRecordEncodeTombstoneWithValueRejected(t *testing.T) {
	rec := Record{Key: []byte("k"), Value: []byte("v"), Tombstone: true}
	if _, err := rec.Encode(); err != ErrTombstoneHasValue {
		t.Fatalf("Encode: got %v, want ErrTombstoneHasValue", err)
	}
}

func TestDecodeRecordCleanEOF(t *testing.T) {
	r := bufio.NewReader(bytes.NewReader(nil))
	_, _, err := DecodeRecord(r)
	if err != io.EOF {
		t.Fatalf("got %v, want io.EOF", err)
	}
}

func TestDecodeRecordTruncatedMidFrame(t *testing.T) {
	rec := Record{Key: []byte("hello"), Value: []byte("world")}
	buf, err := rec.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	for cut := 1; cut < len(buf); cut++ {
		r := bufio.NewReader(bytes.NewReader(buf[:cut]))
		_, _, err := DecodeRecord(r)
		if err != ErrTruncatedFrame && err != io.EOF {
			t.Fatalf("cut=%d: got %v, want ErrTruncatedFrame or io.EOF", cut, err)
		}
	}
}

func TestDecodeRecordBadCRC(t *testing.T) {
	rec := Record{Key: []byte("k"), Value: []byte("v")}
	buf, err := rec.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	buf[len(buf)-1] ^= 0xFF

	r := bufio.NewReader(bytes.NewReader(buf))
	_, _, err = DecodeRecord(r)
	if err != ErrBadCRC {
		t.Fatalf("got %v, want ErrBadCRC", err)
	}
}

func TestDecodeRecordUnknownFlags(t *testing.T) {
	rec := Record{Key: []byte("k"), Value: []byte("v")}
	buf, err := rec.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	// The flags byte immediately follows the single-byte length prefix
	// for this short record.
	flagsIdx := 1
	buf[flagsIdx] |= 0x80

	payload := buf[flagsIdx : len(buf)-4]
	crc := crc32.Checksum(payload, castagnoliTable)
	binary.LittleEndian.PutUint32(buf[len(buf)-4:], crc)

	r := bufio.NewReader(bytes.NewReader(buf))
	_, _, err = DecodeRecord(r)
	if err != ErrUnknownFlags {
		t.Fatalf("got %v, want ErrUnknownFlags", err)
	}
}

func TestDecodeRecordSequential(t *testing.T) {
	recs := []Record{
		{Key: []byte("a"), Value: []byte("1")},
		{Key: []byte("b"), Value: []byte("2")},
		{Key: []byte("c"), Value: []byte("3")},
	}

	var buf bytes.Buffer
	for _, rec := range recs {
		b, err := rec.Encode()
		if err != nil {
			t.Fatalf("Encode: %v", err)
		}
		buf.Write(b)
	}

	r := bufio.NewReader(&buf)
	for i, want := range recs {
		got, _, err := DecodeRecord(r)
		if err != nil {
			t.Fatalf("record %d: DecodeRecord: %v", i, err)
		}
		if !bytes.Equal(got.Key, want.Key) || !bytes.Equal(got.Value, want.Value) {
			t.Errorf("record %d = %+v, want %+v", i, got, want)
		}
	}
	if _, _, err := DecodeRecord(r); err != io.EOF {
		t.Fatalf("final read: got %v, want io.EOF", err)
	}
}
