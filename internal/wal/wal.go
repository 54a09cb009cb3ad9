package wal

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/dsjohal14/ledgerwal/internal/libs/obs"
)

// Config configures a WAL instance. Dir is the only required field;
// everything else has a workable zero value.
type Config struct {
	Dir            string
	MaxSegmentSize int64
	FsyncPolicy    FsyncPolicy
	Manifest       ManifestStore
	Meter          Meter
	NodeID         string
}

func (c *Config) setDefaults() {
	if c.MaxSegmentSize <= 0 {
		c.MaxSegmentSize = DefaultMaxSegmentSize
	}
	if c.FsyncPolicy.Mode == 0 && c.FsyncPolicy.Window == 0 {
		c.FsyncPolicy = AlwaysPolicy()
	}
	if c.Manifest == nil {
		c.Manifest = NewInMemoryManifest()
	}
	if c.Meter == nil {
		c.Meter = NoopMeter{}
	}
	if c.NodeID == "" {
		c.NodeID = uuid.NewString()
	}
}

// WAL is the public handle on one segmented, checksummed log directory.
// A single process must not open the same Dir with two WAL instances
// concurrently; nothing in this package enforces that (see spec
// Non-goals on multi-writer coordination).
type WAL struct {
	cfg    Config
	log    zerolog.Logger
	mgr    *segmentManager
	sched  *syncScheduler
	gc     *GCWorker
	mu     sync.Mutex
	closed bool
}

// Open opens (or creates) the log directory at cfg.Dir, recovering it
// per spec.md's crash-recovery rules: any bytes past the valid prefix of
// the active segment are truncated, and corruption found inside a sealed
// segment is fatal. It returns the WAL handle together with a summary
// of what recovery found.
func Open(cfg Config) (*WAL, RecoveryInfo, error) {
	if cfg.Dir == "" {
		return nil, RecoveryInfo{}, fmt.Errorf("%w: Dir must be set", ErrInvalidConfig)
	}
	if cfg.MaxSegmentSize > 0 && cfg.MaxSegmentSize < MinMaxSegmentSize {
		return nil, RecoveryInfo{}, fmt.Errorf("%w: MaxSegmentSize %d is below the %d minimum", ErrInvalidConfig, cfg.MaxSegmentSize, MinMaxSegmentSize)
	}
	cfg.setDefaults()

	w := &WAL{cfg: cfg, log: obs.Logger("wal").With().Str("dir", cfg.Dir).Logger()}

	mgr, validOffset, fileSize, err := openSegmentManager(cfg.Dir, cfg.MaxSegmentSize, w.handleRoll)
	if err != nil {
		return nil, RecoveryInfo{}, err
	}
	w.mgr = mgr

	info, err := recoverSegments(cfg.Dir, mgr, validOffset, fileSize, w.handleCorruption)
	if err != nil {
		_ = mgr.close()
		return nil, RecoveryInfo{}, err
	}
	w.log.Info().Int("segments_scanned", info.SegmentsScanned).Int("valid_records", info.ValidRecords).Bool("corruption_detected", info.CorruptionDetected).Msg("wal recovered")

	w.sched = newSyncScheduler(cfg.FsyncPolicy, mgr, w.handleFsync)

	return w, info, nil
}

func (w *WAL) handleRoll(ev SegmentRollEvent) {
	w.log.Debug().Uint64("sealed_segment", ev.SealedSegmentID).Int64("bytes", ev.SealedBytes).Uint64("new_segment", ev.NewSegmentID).Msg("segment rolled")
	w.cfg.Meter.SegmentRoll(ev)
	go w.sealInManifest(ev)
}

func (w *WAL) sealInManifest(ev SegmentRollEvent) {
	// Best-effort: the manifest is bookkeeping, never load-bearing for
	// correctness, so failures here are not surfaced to the writer.
	path := segmentPath(w.cfg.Dir, ev.SealedSegmentID)
	_, recordCount, err := scanValidPrefix(path)
	if err != nil {
		return
	}
	_ = w.cfg.Manifest.SealSegment(context.Background(), ev.SealedSegmentID, ev.SealedBytes, recordCount, "")
}

func (w *WAL) handleFsync(ev FsyncEvent) {
	w.cfg.Meter.Fsync(ev)
}

func (w *WAL) handleCorruption(ev CorruptionTruncatedEvent) {
	w.log.Warn().Uint64("segment", ev.SegmentID).Int64("bytes_truncated", ev.BytesTruncated).Msg("truncated corrupt tail")
	w.cfg.Meter.CorruptionTruncated(ev)
}

// Append writes one record and returns the Position it was written at.
// Durability of the write depends on cfg.FsyncPolicy: Always blocks
// until fsync completes, Batch blocks until the next scheduled group
// commit, and Os returns as soon as the bytes reach the OS.
func (w *WAL) Append(rec Record) (Position, error) {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return Position{}, ErrClosed
	}
	w.mu.Unlock()

	buf, err := rec.Encode()
	if err != nil {
		return Position{}, err
	}

	pos, err := w.mgr.append(buf)
	if err != nil {
		return Position{}, err
	}

	if err := w.sched.afterAppend(); err != nil {
		return pos, err
	}
	return pos, nil
}

// AppendBatch writes every record in recs and then makes a single
// fsync-scheduler decision for all of them, matching spec.md's optional
// append_batch. The segment manager's lock is taken once per record, so
// records from concurrent Append calls can land between records of the
// batch. It is not atomic with respect to a crash mid
// batch: a subset of the records may be durable and the rest lost, the
// same as calling Append in a loop without syncing between calls.
func (w *WAL) AppendBatch(recs []Record) ([]Position, error) {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil, ErrClosed
	}
	w.mu.Unlock()

	positions := make([]Position, 0, len(recs))
	for i := range recs {
		buf, err := recs[i].Encode()
		if err != nil {
			return positions, fmt.Errorf("wal: encode record %d: %w", i, err)
		}
		pos, err := w.mgr.append(buf)
		if err != nil {
			return positions, err
		}
		positions = append(positions, pos)
	}

	if err := w.sched.afterAppend(); err != nil {
		return positions, err
	}
	return positions, nil
}

// Sync forces an immediate fsync of the active segment, regardless of
// the configured FsyncPolicy.
func (w *WAL) Sync() error {
	return w.mgr.sync()
}

// ReadFrom returns a Reader that yields every record from from up to a
// write-offset snapshot taken at call time.
func (w *WAL) ReadFrom(from Position) (*Reader, error) {
	return newReader(w.mgr, from)
}

// GCBelow deletes every sealed segment entirely below watermark and
// returns the segment IDs removed.
func (w *WAL) GCBelow(watermark Position) ([]uint64, error) {
	deleted, err := w.mgr.gcBelow(watermark)
	if err != nil {
		return deleted, err
	}
	if len(deleted) > 0 {
		w.log.Info().Uint64s("segments", deleted).Msg("gc reclaimed sealed segments")
	}
	for _, id := range deleted {
		_ = w.cfg.Manifest.DeleteSegment(context.Background(), id)
	}
	return deleted, nil
}

// StartGC launches a background worker that calls GCBelow(watermark())
// on a fixed interval, stopping it when Close is called.
func (w *WAL) StartGC(interval time.Duration, watermark func() Position) error {
	worker := NewGCWorker(interval, watermark, w.GCBelow, nil)
	if err := worker.Start(context.Background()); err != nil {
		return err
	}
	w.mu.Lock()
	w.gc = worker
	w.mu.Unlock()
	return nil
}

// Position returns the WAL's current write position: the offset the
// next Append will be written at.
func (w *WAL) Position() Position {
	return w.mgr.position()
}

// Close stops any background GC worker, stops the fsync scheduler, and
// syncs and closes the active segment.
func (w *WAL) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	gc := w.gc
	w.mu.Unlock()

	if gc != nil {
		gc.Stop()
	}
	w.sched.stop()
	return w.mgr.close()
}
