package wal

import (
	"sync"
	"testing"
	"time"
)

func TestFsyncPolicyConstructors(t *testing.T) {
	if p := AlwaysPolicy(); p.Mode != FsyncAlways {
		t.Errorf("AlwaysPolicy mode = %v", p.Mode)
	}
	if p := OsPolicy(); p.Mode != FsyncOs {
		t.Errorf("OsPolicy mode = %v", p.Mode)
	}
	p := BatchPolicy(0)
	if p.Mode != FsyncBatch || p.Window != defaultBatchWindow {
		t.Errorf("BatchPolicy(0) = %+v, want window %v", p, defaultBatchWindow)
	}
	p2 := BatchPolicy(20 * time.Millisecond)
	if p2.Window != 20*time.Millisecond {
		t.Errorf("BatchPolicy window = %v, want 20ms", p2.Window)
	}
}

func TestSyncSchedulerAlwaysSyncsSynchronously(t *testing.T) {
	dir := t.TempDir()
	m, _, _, err := openSegmentManager(dir, 0, nil)
	if err != nil {
		t.Fatalf("openSegmentManager: %v", err)
	}
	defer m.close()

	var events int
	sched := newSyncScheduler(AlwaysPolicy(), m, func(FsyncEvent) { events++ })
	defer sched.stop()

	if err := sched.afterAppend(); err != nil {
		t.Fatalf("afterAppend: %v", err)
	}
	if events != 1 {
		t.Fatalf("events = %d, want 1", events)
	}
}

func TestSyncSchedulerOsNeverSyncs(t *testing.T) {
	dir := t.TempDir()
	m, _, _, err := openSegmentManager(dir, 0, nil)
	if err != nil {
		t.Fatalf("openSegmentManager: %v", err)
	}
	defer m.close()

	var events int
	sched := newSyncScheduler(OsPolicy(), m, func(FsyncEvent) { events++ })
	defer sched.stop()

	if err := sched.afterAppend(); err != nil {
		t.Fatalf("afterAppend: %v", err)
	}
	if events != 0 {
		t.Fatalf("events = %d, want 0", events)
	}
}

func TestSyncSchedulerBatchGroupsWaiters(t *testing.T) {
	dir := t.TempDir()
	m, _, _, err := openSegmentManager(dir, 0, nil)
	if err != nil {
		t.Fatalf("openSegmentManager: %v", err)
	}
	defer m.close()

	var mu sync.Mutex
	var events int
	sched := newSyncScheduler(BatchPolicy(10*time.Millisecond), m, func(FsyncEvent) {
		mu.Lock()
		events++
		mu.Unlock()
	})
	defer sched.stop()

	var wg sync.WaitGroup
	const n = 5
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			if err := sched.afterAppend(); err != nil {
				t.Errorf("afterAppend: %v", err)
			}
		}()
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for batched fsync waiters")
	}

	mu.Lock()
	defer mu.Unlock()
	if events == 0 {
		t.Fatal("expected at least one fsync event for the batch")
	}
	if events > 2 {
		t.Fatalf("events = %d, want group commit to need very few fsyncs for %d concurrent waiters", events, n)
	}
}
