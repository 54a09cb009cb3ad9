package wal

import (
	"sync"
	"time"
)

// FsyncMode selects how the fsync scheduler decides when to flush the
// active segment to stable storage.
type FsyncMode int

const (
	// FsyncAlways fsyncs after every append before it returns.
	FsyncAlways FsyncMode = iota
	// FsyncBatch fsyncs on a timer, batching all appends accepted within
	// the window into a single fsync (group commit).
	FsyncBatch
	// FsyncOs never calls fsync after an append, relying on the OS page
	// cache to flush writes on its own schedule. The segment is still
	// fsynced on rotation, on Close, and on an explicit Sync.
	FsyncOs
)

func (m FsyncMode) String() string {
	switch m {
	case FsyncAlways:
		return "always"
	case FsyncBatch:
		return "batch"
	case FsyncOs:
		return "os"
	default:
		return "unknown"
	}
}

// FsyncPolicy configures the fsync scheduler. Window is only meaningful
// for FsyncBatch and defaults to 5ms if zero.
type FsyncPolicy struct {
	Mode   FsyncMode
	Window time.Duration
}

// AlwaysPolicy fsyncs after every append, the safest and slowest option.
func AlwaysPolicy() FsyncPolicy { return FsyncPolicy{Mode: FsyncAlways} }

// BatchPolicy fsyncs on a fixed window, amortizing fsync cost across all
// callers that appended during that window.
func BatchPolicy(window time.Duration) FsyncPolicy {
	if window <= 0 {
		window = defaultBatchWindow
	}
	return FsyncPolicy{Mode: FsyncBatch, Window: window}
}

// OsPolicy never calls fsync after an append; between rotations, Close
// and explicit Sync calls, durability is bounded only by the OS's own
// writeback schedule.
func OsPolicy() FsyncPolicy { return FsyncPolicy{Mode: FsyncOs} }

const defaultBatchWindow = 5 * time.Millisecond

// FsyncEvent reports a completed fsync, for metrics.
type FsyncEvent struct {
	DurationMillis float64
	Epoch          uint64
}

// syncScheduler serializes fsync calls against a segment manager and
// implements group commit for FsyncBatch: every waiter blocked on the
// same epoch is released by one underlying fsync call.
type syncScheduler struct {
	mu       sync.Mutex
	cond     *sync.Cond
	policy   FsyncPolicy
	manager  *segmentManager
	epoch    uint64
	pending  bool
	stopCh   chan struct{}
	doneCh   chan struct{}
	onFsync  func(FsyncEvent)
	stopOnce sync.Once
}

func newSyncScheduler(policy FsyncPolicy, manager *segmentManager, onFsync func(FsyncEvent)) *syncScheduler {
	s := &syncScheduler{
		policy:  policy,
		manager: manager,
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
		onFsync: onFsync,
	}
	if s.policy.Mode == FsyncBatch && s.policy.Window <= 0 {
		s.policy.Window = defaultBatchWindow
	}
	s.cond = sync.NewCond(&s.mu)

	if policy.Mode == FsyncBatch {
		go s.runBatchLoop()
	} else {
		close(s.doneCh)
	}
	return s
}

// afterAppend is called once per append (or once per append_batch call)
// while the segment manager's lock is not held, implementing the
// policy's durability contract before the call returns to the caller.
func (s *syncScheduler) afterAppend() error {
	switch s.policy.Mode {
	case FsyncAlways:
		return s.syncNow()
	case FsyncOs:
		return nil
	case FsyncBatch:
		return s.waitForNextEpoch()
	default:
		return s.syncNow()
	}
}

func (s *syncScheduler) syncNow() error {
	start := time.Now()
	err := s.manager.sync()
	if s.onFsync != nil {
		s.onFsync(FsyncEvent{DurationMillis: float64(time.Since(start).Microseconds()) / 1000.0})
	}
	return err
}

// waitForNextEpoch blocks the caller until the scheduler's batch loop
// performs the fsync that covers the epoch current at call time.
func (s *syncScheduler) waitForNextEpoch() error {
	s.mu.Lock()
	target := s.epoch + 1
	s.pending = true
	for s.epoch < target {
		s.cond.Wait()
	}
	s.mu.Unlock()
	return nil
}

func (s *syncScheduler) runBatchLoop() {
	defer close(s.doneCh)
	ticker := time.NewTicker(s.policy.Window)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			// s.mu is held across the fsync so that a waiter cannot
			// register between the pending check and the epoch advance
			// and be released by a round that did not sync its bytes.
			s.mu.Lock()
			if s.pending {
				s.pending = false
				start := time.Now()
				_ = s.manager.sync()
				if s.onFsync != nil {
					s.onFsync(FsyncEvent{DurationMillis: float64(time.Since(start).Microseconds()) / 1000.0, Epoch: s.epoch + 1})
				}
			}
			s.epoch++
			s.cond.Broadcast()
			s.mu.Unlock()
		case <-s.stopCh:
			return
		}
	}
}

// stop halts the background batch loop, if one is running, and releases
// any caller still waiting on an epoch. It issues no fsync of its own;
// Close calls it before syncing and closing the active segment.
func (s *syncScheduler) stop() {
	s.stopOnce.Do(func() {
		if s.policy.Mode == FsyncBatch {
			close(s.stopCh)
			<-s.doneCh
			// Release any caller still blocked in waitForNextEpoch: the
			// loop above is gone, so no further tick will ever advance
			// the epoch on its own.
			s.mu.Lock()
			s.epoch++
			s.cond.Broadcast()
			s.mu.Unlock()
		}
	})
}
