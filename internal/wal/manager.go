package wal

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
)

// DefaultMaxSegmentSize is the default byte threshold at which the active
// segment rotates to a fresh one.
const DefaultMaxSegmentSize int64 = 64 * 1024 * 1024

// MinMaxSegmentSize is the smallest MaxSegmentSize Open will accept.
const MinMaxSegmentSize int64 = 1024 * 1024

const segmentSuffix = ".wal"

// Position identifies a byte offset in a specific segment. Positions are
// ordered first by SegmentID, then by Offset.
type Position struct {
	SegmentID uint64
	Offset    uint64
}

// Less reports whether p sorts strictly before other.
func (p Position) Less(other Position) bool {
	if p.SegmentID != other.SegmentID {
		return p.SegmentID < other.SegmentID
	}
	return p.Offset < other.Offset
}

func (p Position) String() string {
	return fmt.Sprintf("%06d:%d", p.SegmentID, p.Offset)
}

// SegmentRollEvent describes a completed segment rotation, for metrics.
type SegmentRollEvent struct {
	SealedSegmentID uint64
	SealedBytes     int64
	NewSegmentID    uint64
}

// segmentManager owns the active segment file, rotates it once it
// crosses maxSegmentSize, and keeps the directory's segment ID sequence
// monotonic across the process's lifetime.
type segmentManager struct {
	mu             sync.Mutex
	dir            string
	maxSegmentSize int64
	active         *segmentFile
	activeID       uint64
	onRoll         func(SegmentRollEvent)
}

// listSegmentIDs returns every segment ID present in dir, ascending.
func listSegmentIDs(dir string) ([]uint64, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("wal: read dir %s: %w", dir, err)
	}

	var ids []uint64
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.HasSuffix(name, segmentSuffix) {
			continue
		}
		id, ok := parseSegmentID(name)
		if !ok {
			continue
		}
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func parseSegmentID(name string) (uint64, bool) {
	base := strings.TrimSuffix(name, segmentSuffix)
	if len(base) != 6 {
		return 0, false
	}
	var id uint64
	n, err := fmt.Sscanf(base, "%06d", &id)
	if err != nil || n != 1 {
		return 0, false
	}
	return id, true
}

// openSegmentManager opens (or creates) the active segment for dir. If
// existingIDs is non-empty, the highest ID is reopened as active; an
// empty directory starts at segment 0. It does not perform recovery
// scanning of sealed segments — that is the recovery engine's job; it
// does open the active segment via openSegmentForAppend so a corrupt
// tail on that one file is visible to the caller.
func openSegmentManager(dir string, maxSegmentSize int64, onRoll func(SegmentRollEvent)) (*segmentManager, int64, int64, error) {
	if maxSegmentSize <= 0 {
		maxSegmentSize = DefaultMaxSegmentSize
	}

	ids, err := listSegmentIDs(dir)
	if err != nil {
		return nil, 0, 0, err
	}

	var activeID uint64
	var seg *segmentFile
	var validOffset, fileSize int64

	if len(ids) == 0 {
		path := segmentPath(dir, 0)
		seg, err = createSegmentFile(path)
		if err != nil {
			return nil, 0, 0, err
		}
		activeID = 0
	} else {
		activeID = ids[len(ids)-1]
		path := segmentPath(dir, activeID)
		seg, validOffset, fileSize, err = openSegmentForAppend(path)
		if err != nil {
			return nil, 0, 0, err
		}
		seg.writeOffset = fileSize
		seg.syncOffset = fileSize
	}

	m := &segmentManager{
		dir:            dir,
		maxSegmentSize: maxSegmentSize,
		active:         seg,
		activeID:       activeID,
		onRoll:         onRoll,
	}
	return m, validOffset, fileSize, nil
}

// position returns the current write position: the next byte that will
// be written in the active segment.
func (m *segmentManager) position() Position {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Position{SegmentID: m.activeID, Offset: uint64(m.active.writeOffset)}
}

// append writes data to the active segment, rotating first if data would
// overflow maxSegmentSize and the segment already holds at least one
// record. A record larger than maxSegmentSize is still written alone to
// an otherwise-empty segment; the next append then rotates away from it.
func (m *segmentManager) append(data []byte) (Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.active.writeOffset > 0 && m.active.writeOffset+int64(len(data)) > m.maxSegmentSize {
		if err := m.rotateLocked(); err != nil {
			return Position{}, err
		}
	}

	before := Position{SegmentID: m.activeID, Offset: uint64(m.active.writeOffset)}
	if _, err := m.active.append(data); err != nil {
		return Position{}, err
	}

	return before, nil
}

// sync fsyncs the active segment.
func (m *segmentManager) sync() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active.sync()
}

// rotateLocked seals the active segment and opens the next one. Callers
// must hold m.mu.
func (m *segmentManager) rotateLocked() error {
	if err := m.active.sync(); err != nil {
		return err
	}
	sealedID := m.activeID
	sealedBytes := m.active.writeOffset
	if err := m.active.close(); err != nil {
		return err
	}
	m.active.sealed = true

	if err := fsyncDir(m.dir); err != nil {
		return err
	}

	nextID := sealedID + 1
	next, err := createSegmentFile(segmentPath(m.dir, nextID))
	if err != nil {
		return err
	}
	if err := fsyncDir(m.dir); err != nil {
		return err
	}

	m.active = next
	m.activeID = nextID

	if m.onRoll != nil {
		m.onRoll(SegmentRollEvent{SealedSegmentID: sealedID, SealedBytes: sealedBytes, NewSegmentID: nextID})
	}
	return nil
}

// close syncs and closes the active segment.
func (m *segmentManager) close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active.close()
}

// sealedSegmentIDs returns every segment ID strictly below the active
// one, ascending — the segments eligible for truncation checks during
// recovery or deletion during GC.
func (m *segmentManager) sealedSegmentIDs() ([]uint64, error) {
	ids, err := listSegmentIDs(m.dir)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	activeID := m.activeID
	m.mu.Unlock()

	var sealed []uint64
	for _, id := range ids {
		if id != activeID {
			sealed = append(sealed, id)
		}
	}
	return sealed, nil
}

// deleteSegment removes a sealed segment's file from disk. The caller is
// responsible for ensuring it is below the GC watermark and not active.
func (m *segmentManager) deleteSegment(id uint64) error {
	path := segmentPath(m.dir, id)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("wal: delete segment %s: %w", path, err)
	}
	return fsyncDir(m.dir)
}
