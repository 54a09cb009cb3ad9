package wal

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Reader decodes records starting at a Position, up to a write-offset
// snapshot taken when the reader was created. It never observes records
// appended after that snapshot, giving callers a stable view even while
// the WAL continues to accept writes concurrently.
type Reader struct {
	dir        string
	snapshot   map[uint64]int64 // segmentID -> valid byte length at snapshot time
	segmentIDs []uint64         // ascending, >= the starting segment

	cur        int // index into segmentIDs
	file       *os.File
	br         *bufio.Reader
	limit      int64
	offset     int64
	lastPos    Position
	exhausted  bool
}

// newReader builds a Reader starting at from, snapshotting the write
// offset of every segment from>=from.SegmentID that exists at call
// time. Building the snapshot fans out one stat per segment
// concurrently via golang.org/x/sync/errgroup, since a log directory
// with many sealed segments otherwise pays one syscall round trip each,
// serially, before the first record is ever returned.
func newReader(mgr *segmentManager, from Position) (*Reader, error) {
	mgr.mu.Lock()
	activeID := mgr.activeID
	activeWriteOffset := mgr.active.writeOffset
	dir := mgr.dir
	mgr.mu.Unlock()

	allIDs, err := listSegmentIDs(dir)
	if err != nil {
		return nil, err
	}

	var ids []uint64
	for _, id := range allIDs {
		if id >= from.SegmentID {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 || ids[len(ids)-1] != activeID {
		ids = append(ids, activeID)
	}

	snapshot := make(map[uint64]int64, len(ids))
	snapshot[activeID] = activeWriteOffset

	var g errgroup.Group
	var mu sync.Mutex
	for _, id := range ids {
		id := id
		if id == activeID {
			continue
		}
		g.Go(func() error {
			stat, err := os.Stat(segmentPath(dir, id))
			if err != nil {
				return fmt.Errorf("wal: stat segment %06d: %w", id, err)
			}
			mu.Lock()
			snapshot[id] = stat.Size()
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	r := &Reader{
		dir:        dir,
		snapshot:   snapshot,
		segmentIDs: ids,
		cur:        -1,
	}
	if err := r.seekTo(from); err != nil {
		return nil, err
	}
	return r, nil
}

// seekTo positions the reader at the start of from, opening its segment
// file and skipping to from.Offset.
func (r *Reader) seekTo(from Position) error {
	idx := -1
	for i, id := range r.segmentIDs {
		if id == from.SegmentID {
			idx = i
			break
		}
	}
	if idx == -1 {
		return fmt.Errorf("wal: position %v not within the reader's segment range", from)
	}

	if r.file != nil {
		_ = r.file.Close()
		r.file = nil
	}

	r.cur = idx
	r.lastPos = from
	return r.openCurrent(int64(from.Offset))
}

func (r *Reader) openCurrent(startOffset int64) error {
	id := r.segmentIDs[r.cur]
	path := segmentPath(r.dir, id)

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("wal: open segment %06d for read: %w", id, err)
	}
	if startOffset > 0 {
		if _, err := f.Seek(startOffset, io.SeekStart); err != nil {
			_ = f.Close()
			return fmt.Errorf("wal: seek segment %06d: %w", id, err)
		}
	}

	r.file = f
	r.br = bufio.NewReaderSize(f, 64*1024)
	r.limit = r.snapshot[id]
	r.offset = startOffset
	return nil
}

// Next decodes the next record. It returns io.EOF once the reader has
// consumed every record up to the write-offset snapshot taken at
// construction, across all segments in range.
func (r *Reader) Next() (*Record, error) {
	if r.exhausted {
		return nil, io.EOF
	}

	for {
		if r.offset >= r.limit {
			if !r.advanceSegment() {
				r.exhausted = true
				return nil, io.EOF
			}
			continue
		}

		rec, n, err := DecodeRecord(r.br)
		if err != nil {
			if err == io.EOF {
				if !r.advanceSegment() {
					r.exhausted = true
					return nil, io.EOF
				}
				continue
			}
			return nil, err
		}

		r.lastPos = Position{SegmentID: r.segmentIDs[r.cur], Offset: uint64(r.offset)}
		r.offset += int64(n)
		return rec, nil
	}
}

// advanceSegment moves to the next segment in range, if any. It returns
// false when there is no further segment to read.
func (r *Reader) advanceSegment() bool {
	if r.file != nil {
		_ = r.file.Close()
		r.file = nil
	}
	if r.cur+1 >= len(r.segmentIDs) {
		return false
	}
	r.cur++
	if err := r.openCurrent(0); err != nil {
		return false
	}
	return true
}

// Position returns the Position of the record most recently returned by
// Next. Before the first call to Next it returns the reader's starting
// position.
func (r *Reader) Position() Position {
	return r.lastPos
}

// Close releases the reader's open file handle, if any.
func (r *Reader) Close() error {
	if r.file != nil {
		err := r.file.Close()
		r.file = nil
		return err
	}
	return nil
}
