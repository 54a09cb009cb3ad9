package wal

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// segmentFileMode is the permission mode for newly created segment files,
// matching the teacher's writer.go.
const segmentFileMode = 0644

// segmentFile wraps one on-disk segment and tracks the write and sync
// offsets independently, since a sync policy other than Always lets the
// two drift apart between fsync calls.
type segmentFile struct {
	path        string
	file        *os.File
	writeOffset int64
	syncOffset  int64
	sealed      bool
}

// createSegmentFile creates a brand new, empty segment file. It fails if
// the file already exists, since segment IDs are never reused.
func createSegmentFile(path string) (*segmentFile, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, segmentFileMode)
	if err != nil {
		return nil, fmt.Errorf("wal: create segment %s: %w", path, err)
	}
	return &segmentFile{path: path, file: f}, nil
}

// openSegmentForAppend opens an existing segment for appending, after
// scanning it for a valid record prefix. validOffset is the offset at
// the end of the last fully valid record; if it is less than the file's
// actual size, the tail is corrupt and the caller decides (via the
// recovery engine) whether to truncate it (tail segment) or treat it as
// fatal (sealed segment).
func openSegmentForAppend(path string) (seg *segmentFile, validOffset int64, fileSize int64, err error) {
	stat, err := os.Stat(path)
	if err != nil {
		return nil, 0, 0, fmt.Errorf("wal: stat segment %s: %w", path, err)
	}
	fileSize = stat.Size()

	validOffset, _, err = scanValidPrefix(path)
	if err != nil {
		return nil, 0, 0, fmt.Errorf("wal: scan segment %s: %w", path, err)
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, segmentFileMode)
	if err != nil {
		return nil, 0, 0, fmt.Errorf("wal: open segment %s: %w", path, err)
	}

	return &segmentFile{path: path, file: f}, validOffset, fileSize, nil
}

// scanValidPrefix reads path record by record and returns the offset
// immediately after the last fully valid, checksummed record, along with
// how many records decoded cleanly. It never returns an error for
// corruption; corruption simply stops the scan early. It returns an
// error only for I/O failures unrelated to the frame contents.
func scanValidPrefix(path string) (validOffset int64, recordCount int, err error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, 0, err
	}
	defer func() { _ = f.Close() }()

	r := bufio.NewReaderSize(f, 64*1024)
	var offset int64
	for {
		_, n, decErr := DecodeRecord(r)
		if decErr != nil {
			if decErr == io.EOF {
				break
			}
			// Any other decode error (truncated frame, bad crc, bad
			// length, unknown flags) marks the end of the valid prefix.
			break
		}
		offset += int64(n)
		recordCount++
	}
	return offset, recordCount, nil
}

// append writes data at the current write offset and returns the offset
// it was written at.
func (s *segmentFile) append(data []byte) (int64, error) {
	before := s.writeOffset
	n, err := s.file.Write(data)
	if err != nil {
		return before, fmt.Errorf("wal: write segment %s: %w", s.path, err)
	}
	if n != len(data) {
		return before, fmt.Errorf("wal: short write to segment %s: %d of %d bytes", s.path, n, len(data))
	}
	s.writeOffset += int64(n)
	return before, nil
}

// sync fsyncs the segment file and advances syncOffset to the current
// write offset.
func (s *segmentFile) sync() error {
	if s.syncOffset == s.writeOffset {
		return nil
	}
	if err := s.file.Sync(); err != nil {
		return fmt.Errorf("wal: fsync segment %s: %w", s.path, err)
	}
	s.syncOffset = s.writeOffset
	return nil
}

// truncate discards any bytes in the file past offset, used to drop a
// corrupt tail found on the active segment during recovery.
func (s *segmentFile) truncate(offset int64) error {
	if err := os.Truncate(s.path, offset); err != nil {
		return fmt.Errorf("wal: truncate segment %s: %w", s.path, err)
	}
	s.writeOffset = offset
	if s.syncOffset > offset {
		s.syncOffset = offset
	}
	if err := s.file.Sync(); err != nil {
		return fmt.Errorf("wal: fsync truncated segment %s: %w", s.path, err)
	}
	s.syncOffset = offset
	return nil
}

// close syncs and closes the underlying file.
func (s *segmentFile) close() error {
	if s.file == nil {
		return nil
	}
	syncErr := s.sync()
	closeErr := s.file.Close()
	if syncErr != nil {
		return syncErr
	}
	if closeErr != nil {
		return fmt.Errorf("wal: close segment %s: %w", s.path, closeErr)
	}
	return nil
}

// fsyncDir fsyncs a directory so that segment creation, rename, and
// deletion survive a crash; the data fsync on a file alone does not
// guarantee its directory entry is durable.
func fsyncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return fmt.Errorf("wal: open dir %s: %w", dir, err)
	}
	defer func() { _ = d.Close() }()
	if err := d.Sync(); err != nil {
		// Some platforms/filesystems do not support fsync on directories;
		// treat that as a non-fatal best effort, matching the teacher's
		// tolerance of partial-durability filesystems elsewhere.
		if errors.Is(err, os.ErrInvalid) {
			return nil
		}
		return fmt.Errorf("wal: fsync dir %s: %w", dir, err)
	}
	return nil
}

func segmentFilename(segmentID uint64) string {
	return fmt.Sprintf("%06d.wal", segmentID)
}

func segmentPath(dir string, segmentID uint64) string {
	return filepath.Join(dir, segmentFilename(segmentID))
}
