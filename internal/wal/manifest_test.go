package wal

import (
	"context"
	"testing"
)

func TestInMemoryManifestLifecycle(t *testing.T) {
	ctx := context.Background()
	m := NewInMemoryManifest()

	if err := m.CreateSegment(ctx, 0); err != nil {
		t.Fatalf("CreateSegment: %v", err)
	}
	if err := m.CreateSegment(ctx, 1); err != nil {
		t.Fatalf("CreateSegment: %v", err)
	}

	segs, err := m.ListSegments(ctx)
	if err != nil {
		t.Fatalf("ListSegments: %v", err)
	}
	if len(segs) != 2 {
		t.Fatalf("len(segs) = %d, want 2", len(segs))
	}
	if segs[0].Status != SegmentStatusActive {
		t.Errorf("segs[0].Status = %v, want active", segs[0].Status)
	}

	if err := m.SealSegment(ctx, 0, 4096, 10, "deadbeef"); err != nil {
		t.Fatalf("SealSegment: %v", err)
	}

	segs, err = m.ListSegments(ctx)
	if err != nil {
		t.Fatalf("ListSegments: %v", err)
	}
	if segs[0].Status != SegmentStatusSealed {
		t.Fatalf("segs[0].Status = %v, want sealed", segs[0].Status)
	}
	if segs[0].SizeBytes != 4096 || segs[0].RecordCount != 10 || segs[0].Checksum != "deadbeef" {
		t.Fatalf("sealed segment metadata = %+v", segs[0])
	}
	if segs[0].SealedAt == nil {
		t.Fatal("SealedAt not set after SealSegment")
	}

	if err := m.DeleteSegment(ctx, 0); err != nil {
		t.Fatalf("DeleteSegment: %v", err)
	}
	segs, err = m.ListSegments(ctx)
	if err != nil {
		t.Fatalf("ListSegments: %v", err)
	}
	if len(segs) != 1 || segs[0].SegmentID != 1 {
		t.Fatalf("segs after delete = %+v, want only segment 1", segs)
	}
}

func TestInMemoryManifestSealUnknownSegmentCreatesEntry(t *testing.T) {
	ctx := context.Background()
	m := NewInMemoryManifest()

	if err := m.SealSegment(ctx, 7, 128, 2, "abc"); err != nil {
		t.Fatalf("SealSegment: %v", err)
	}

	segs, err := m.ListSegments(ctx)
	if err != nil {
		t.Fatalf("ListSegments: %v", err)
	}
	if len(segs) != 1 || segs[0].SegmentID != 7 || segs[0].Status != SegmentStatusSealed {
		t.Fatalf("segs = %+v", segs)
	}
}
