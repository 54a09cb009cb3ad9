package wal

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// SegmentStatus is the lifecycle status of a segment as recorded in a
// ManifestStore. It is bookkeeping only: the WAL always trusts the
// on-disk segments over the manifest when the two disagree.
type SegmentStatus string

const (
	SegmentStatusActive SegmentStatus = "active"
	SegmentStatusSealed SegmentStatus = "sealed"
)

// SegmentInfo is a manifest's record of one segment's metadata.
type SegmentInfo struct {
	SegmentID   uint64
	SizeBytes   int64
	RecordCount int
	Status      SegmentStatus
	Checksum    string
	CreatedAt   time.Time
	SealedAt    *time.Time
}

// ManifestStore tracks segment lifecycle metadata outside the hot append
// path. It is optional: the WAL functions correctly with no manifest at
// all, using only the filesystem to discover segments on open.
type ManifestStore interface {
	CreateSegment(ctx context.Context, segmentID uint64) error
	SealSegment(ctx context.Context, segmentID uint64, sizeBytes int64, recordCount int, checksum string) error
	DeleteSegment(ctx context.Context, segmentID uint64) error
	ListSegments(ctx context.Context) ([]SegmentInfo, error)
}

// InMemoryManifest is the default ManifestStore: process-local, lost on
// restart. It exists so every WAL has a manifest to report through even
// when no durable catalog (e.g. Postgres) has been configured.
type InMemoryManifest struct {
	mu       sync.Mutex
	segments map[uint64]SegmentInfo
}

// NewInMemoryManifest returns an empty in-memory manifest.
func NewInMemoryManifest() *InMemoryManifest {
	return &InMemoryManifest{segments: make(map[uint64]SegmentInfo)}
}

func (m *InMemoryManifest) CreateSegment(_ context.Context, segmentID uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.segments[segmentID] = SegmentInfo{
		SegmentID: segmentID,
		Status:    SegmentStatusActive,
		CreatedAt: time.Now(),
	}
	return nil
}

func (m *InMemoryManifest) SealSegment(_ context.Context, segmentID uint64, sizeBytes int64, recordCount int, checksum string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	info, ok := m.segments[segmentID]
	if !ok {
		info = SegmentInfo{SegmentID: segmentID, CreatedAt: time.Now()}
	}
	now := time.Now()
	info.Status = SegmentStatusSealed
	info.SizeBytes = sizeBytes
	info.RecordCount = recordCount
	info.Checksum = checksum
	info.SealedAt = &now
	m.segments[segmentID] = info
	return nil
}

func (m *InMemoryManifest) DeleteSegment(_ context.Context, segmentID uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.segments, segmentID)
	return nil
}

func (m *InMemoryManifest) ListSegments(_ context.Context) ([]SegmentInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]SegmentInfo, 0, len(m.segments))
	for _, info := range m.segments {
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SegmentID < out[j].SegmentID })
	return out, nil
}

// PostgresManifest implements ManifestStore against a `wal_segments`
// table, for deployments that want segment lifecycle visible outside
// the process (e.g. an operator dashboard over several WAL instances).
type PostgresManifest struct {
	db *pgxpool.Pool
}

// NewPostgresManifest wraps an existing pgx pool. The caller owns the
// pool's lifecycle (creation and Close).
func NewPostgresManifest(db *pgxpool.Pool) *PostgresManifest {
	return &PostgresManifest{db: db}
}

func (m *PostgresManifest) CreateSegment(ctx context.Context, segmentID uint64) error {
	_, err := m.db.Exec(ctx, `
		INSERT INTO wal_segments (segment_id, status, created_at)
		VALUES ($1, 'active', NOW())
		ON CONFLICT (segment_id) DO NOTHING
	`, segmentID)
	if err != nil {
		return fmt.Errorf("wal: manifest create segment %d: %w", segmentID, err)
	}
	return nil
}

func (m *PostgresManifest) SealSegment(ctx context.Context, segmentID uint64, sizeBytes int64, recordCount int, checksum string) error {
	_, err := m.db.Exec(ctx, `
		INSERT INTO wal_segments (segment_id, status, size_bytes, record_count, checksum, created_at, sealed_at)
		VALUES ($1, 'sealed', $2, $3, $4, NOW(), NOW())
		ON CONFLICT (segment_id) DO UPDATE
		SET status = 'sealed', size_bytes = $2, record_count = $3, checksum = $4, sealed_at = NOW()
	`, segmentID, sizeBytes, recordCount, checksum)
	if err != nil {
		return fmt.Errorf("wal: manifest seal segment %d: %w", segmentID, err)
	}
	return nil
}

func (m *PostgresManifest) DeleteSegment(ctx context.Context, segmentID uint64) error {
	_, err := m.db.Exec(ctx, `DELETE FROM wal_segments WHERE segment_id = $1`, segmentID)
	if err != nil {
		return fmt.Errorf("wal: manifest delete segment %d: %w", segmentID, err)
	}
	return nil
}

func (m *PostgresManifest) ListSegments(ctx context.Context) ([]SegmentInfo, error) {
	rows, err := m.db.Query(ctx, `
		SELECT segment_id, size_bytes, record_count, status, checksum, created_at, sealed_at
		FROM wal_segments
		ORDER BY segment_id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("wal: manifest list segments: %w", err)
	}
	defer rows.Close()

	var out []SegmentInfo
	for rows.Next() {
		var info SegmentInfo
		var status string
		var checksum *string
		var sealedAt *time.Time
		if err := rows.Scan(&info.SegmentID, &info.SizeBytes, &info.RecordCount, &status, &checksum, &info.CreatedAt, &sealedAt); err != nil {
			return nil, fmt.Errorf("wal: manifest scan segment row: %w", err)
		}
		info.Status = SegmentStatus(status)
		if checksum != nil {
			info.Checksum = *checksum
		}
		info.SealedAt = sealedAt
		out = append(out, info)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("wal: manifest list segments: %w", err)
	}
	return out, nil
}
