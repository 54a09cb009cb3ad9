package wal

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// DefaultGCInterval is how often the background GC worker checks for
// segments it can delete.
const DefaultGCInterval = 5 * time.Minute

// gcBelow deletes every sealed segment whose ID is strictly less than
// watermark.SegmentID. It never touches the segment watermark itself or
// the active segment, since both may still hold records a caller needs.
// It returns the IDs it deleted, so callers can update a manifest.
func (m *segmentManager) gcBelow(watermark Position) ([]uint64, error) {
	sealed, err := m.sealedSegmentIDs()
	if err != nil {
		return nil, err
	}

	var deleted []uint64
	for _, id := range sealed {
		if id >= watermark.SegmentID {
			continue
		}
		if err := m.deleteSegment(id); err != nil {
			return deleted, err
		}
		deleted = append(deleted, id)
	}
	return deleted, nil
}

// GCWorker periodically reclaims segments below a caller-supplied
// watermark. The watermark function is supplied by the caller because
// only the caller (e.g. the host application tracking its own durability
// checkpoint) knows which records are safe to discard; the WAL itself
// has no notion of "applied" or "acknowledged".
type GCWorker struct {
	interval  time.Duration
	watermark func() Position
	gcBelow   func(Position) ([]uint64, error)
	onDeleted func(deleted []uint64)

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewGCWorker builds a worker that calls gcBelow(watermark()) on every
// tick of interval (DefaultGCInterval if zero or negative).
func NewGCWorker(interval time.Duration, watermark func() Position, gcBelow func(Position) ([]uint64, error), onDeleted func([]uint64)) *GCWorker {
	if interval <= 0 {
		interval = DefaultGCInterval
	}
	return &GCWorker{
		interval:  interval,
		watermark: watermark,
		gcBelow:   gcBelow,
		onDeleted: onDeleted,
	}
}

// Start launches the background loop. It returns an error if already
// running.
func (w *GCWorker) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return fmt.Errorf("wal: gc worker already running")
	}
	w.running = true
	w.stopCh = make(chan struct{})
	w.doneCh = make(chan struct{})
	w.mu.Unlock()

	go w.runLoop(ctx)
	return nil
}

// Stop halts the background loop and waits for it to exit.
func (w *GCWorker) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	stopCh := w.stopCh
	doneCh := w.doneCh
	w.mu.Unlock()

	close(stopCh)
	<-doneCh
}

func (w *GCWorker) runLoop(ctx context.Context) {
	defer close(w.doneCh)
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			wm := w.watermark()
			deleted, err := w.gcBelow(wm)
			if err != nil {
				continue
			}
			if len(deleted) > 0 && w.onDeleted != nil {
				w.onDeleted(deleted)
			}
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		}
	}
}
