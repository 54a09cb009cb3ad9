// Package main implements walctl, the operator CLI for a ledgerwal directory.
package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"golang.org/x/sync/errgroup"

	"github.com/dsjohal14/ledgerwal/internal/libs/config"
	"github.com/dsjohal14/ledgerwal/internal/libs/obs"
	"github.com/dsjohal14/ledgerwal/internal/wal"
)

var dirFlag string

func main() {
	root := &cobra.Command{Use: "walctl", Short: "Operate a ledgerwal directory"}
	root.PersistentFlags().StringVar(&dirFlag, "dir", "", "WAL directory (defaults to WAL_DIR env)")

	root.AddCommand(
		newOpenCmd(),
		newAppendCmd(),
		newReadCmd(),
		newSyncCmd(),
		newGCCmd(),
		newStatCmd(),
	)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// resolveDir lets --dir override WAL_DIR from the environment.
func resolveDir(cfg *config.Config) string {
	if dirFlag != "" {
		return dirFlag
	}
	return cfg.Dir
}

func fsyncPolicyFromConfig(cfg *config.Config) wal.FsyncPolicy {
	switch cfg.FsyncMode {
	case "batch":
		return wal.BatchPolicy(cfg.FsyncWindow)
	case "os":
		return wal.OsPolicy()
	default:
		return wal.AlwaysPolicy()
	}
}

// buildManifest returns the in-memory ManifestStore unless cfg carries a
// WAL_MANIFEST_DSN, in which case it connects a pgx pool and returns a
// PostgresManifest over it. The returned func closes whatever pool was
// opened; it is a no-op for the in-memory case.
func buildManifest(ctx context.Context, dsn string) (wal.ManifestStore, func(), error) {
	if dsn == "" {
		return wal.NewInMemoryManifest(), func() {}, nil
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("connect manifest database: %w", err)
	}
	return wal.NewPostgresManifest(pool), pool.Close, nil
}

func openWAL() (*wal.WAL, wal.RecoveryInfo, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, wal.RecoveryInfo{}, nil, fmt.Errorf("load config: %w", err)
	}
	obs.InitLogger(cfg.LogLevel)

	manifest, closeManifest, err := buildManifest(context.Background(), cfg.ManifestDSN)
	if err != nil {
		return nil, wal.RecoveryInfo{}, nil, err
	}

	w, info, err := wal.Open(wal.Config{
		Dir:         resolveDir(cfg),
		FsyncPolicy: fsyncPolicyFromConfig(cfg),
		NodeID:      cfg.NodeID,
		Manifest:    manifest,
	})
	if err != nil {
		closeManifest()
		return nil, wal.RecoveryInfo{}, nil, err
	}
	return w, info, closeManifest, nil
}

func newOpenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "open",
		Short: "Open (and recover) the WAL directory, then exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			w, info, closeManifest, err := openWAL()
			if err != nil {
				return err
			}
			defer closeManifest()
			defer w.Close()
			fmt.Printf("segments_scanned=%d valid_records=%d bytes_truncated=%d corruption_detected=%v duration=%s\n",
				info.SegmentsScanned, info.ValidRecords, info.BytesTruncated, info.CorruptionDetected, info.Duration)
			return nil
		},
	}
}

func newAppendCmd() *cobra.Command {
	var key, value string
	var tombstone bool
	var ttlMs int64

	cmd := &cobra.Command{
		Use:   "append",
		Short: "Append a single record and print the position it landed at",
		RunE: func(cmd *cobra.Command, args []string) error {
			if key == "" {
				return fmt.Errorf("--key is required")
			}
			w, _, closeManifest, err := openWAL()
			if err != nil {
				return err
			}
			defer closeManifest()
			defer w.Close()

			rec := wal.Record{Key: []byte(key), Tombstone: tombstone}
			if !tombstone {
				rec.Value = []byte(value)
			}
			if ttlMs > 0 {
				d := time.Duration(ttlMs) * time.Millisecond
				rec.TTL = &d
			}

			pos, err := w.Append(rec)
			if err != nil {
				return fmt.Errorf("append: %w", err)
			}
			fmt.Println(pos.String())
			return nil
		},
	}

	cmd.Flags().StringVar(&key, "key", "", "record key")
	cmd.Flags().StringVar(&value, "value", "", "record value")
	cmd.Flags().BoolVar(&tombstone, "tombstone", false, "write a tombstone instead of a value")
	cmd.Flags().Int64Var(&ttlMs, "ttl-ms", 0, "optional TTL in milliseconds")
	return cmd
}

func newReadCmd() *cobra.Command {
	var fromFlags []string

	cmd := &cobra.Command{
		Use:   "read",
		Short: "Read records from one or more starting positions",
		Long: "Reads forward from each --from position to the writer's current\n" +
			"offset at the time the reader was opened. Multiple --from values are\n" +
			"fanned out concurrently; once every reader has finished, the results\n" +
			"are printed in the order the --from values were given.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			obs.InitLogger(cfg.LogLevel)
			dir := resolveDir(cfg)

			starts := fromFlags
			if len(starts) == 0 {
				starts = []string{"0:0"}
			}

			positions := make([]wal.Position, len(starts))
			for i, s := range starts {
				pos, err := parsePosition(s)
				if err != nil {
					return fmt.Errorf("--from %q: %w", s, err)
				}
				positions[i] = pos
			}

			manifest, closeManifest, err := buildManifest(context.Background(), cfg.ManifestDSN)
			if err != nil {
				return err
			}
			defer closeManifest()

			w, _, err := wal.Open(wal.Config{Dir: dir, FsyncPolicy: fsyncPolicyFromConfig(cfg), NodeID: cfg.NodeID, Manifest: manifest})
			if err != nil {
				return err
			}
			defer w.Close()

			lines := make([][]string, len(positions))
			g, _ := errgroup.WithContext(context.Background())
			for i, pos := range positions {
				i, pos := i, pos
				g.Go(func() error {
					out, err := readAll(w, pos)
					if err != nil {
						return err
					}
					lines[i] = out
					return nil
				})
			}
			if err := g.Wait(); err != nil {
				return err
			}

			for i, out := range lines {
				fmt.Printf("# from %s\n", starts[i])
				for _, l := range out {
					fmt.Println(l)
				}
			}
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&fromFlags, "from", nil, "starting position as segment:offset (repeatable)")
	return cmd
}

func readAll(w *wal.WAL, from wal.Position) ([]string, error) {
	r, err := w.ReadFrom(from)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	var out []string
	for {
		rec, err := r.Next()
		if err != nil {
			if err == io.EOF {
				break
			}
			return out, err
		}
		out = append(out, formatRecord(rec))
	}
	return out, nil
}

func formatRecord(rec *wal.Record) string {
	if rec.Tombstone {
		return fmt.Sprintf("key=%s tombstone", hex.EncodeToString(rec.Key))
	}
	value, err := rec.DecodedValue()
	if err != nil {
		return fmt.Sprintf("key=%s value=<%v>", hex.EncodeToString(rec.Key), err)
	}
	return fmt.Sprintf("key=%s value=%s", hex.EncodeToString(rec.Key), hex.EncodeToString(value))
}

func parsePosition(s string) (wal.Position, error) {
	var segPart, offPart string
	for i := 0; i < len(s); i++ {
		if s[i] == ':' {
			segPart, offPart = s[:i], s[i+1:]
			break
		}
	}
	if segPart == "" && offPart == "" {
		return wal.Position{}, fmt.Errorf("expected format segment:offset")
	}
	seg, err := strconv.ParseUint(segPart, 10, 64)
	if err != nil {
		return wal.Position{}, err
	}
	off, err := strconv.ParseUint(offPart, 10, 64)
	if err != nil {
		return wal.Position{}, err
	}
	return wal.Position{SegmentID: seg, Offset: off}, nil
}

func newSyncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Force an fsync of the active segment",
		RunE: func(cmd *cobra.Command, args []string) error {
			w, _, closeManifest, err := openWAL()
			if err != nil {
				return err
			}
			defer closeManifest()
			defer w.Close()
			return w.Sync()
		},
	}
}

func newGCCmd() *cobra.Command {
	var belowSegment uint64

	cmd := &cobra.Command{
		Use:   "gc",
		Short: "Delete sealed segments strictly below a watermark segment",
		RunE: func(cmd *cobra.Command, args []string) error {
			w, _, closeManifest, err := openWAL()
			if err != nil {
				return err
			}
			defer closeManifest()
			defer w.Close()

			deleted, err := w.GCBelow(wal.Position{SegmentID: belowSegment})
			if err != nil {
				return err
			}
			fmt.Printf("deleted %d segment(s): %v\n", len(deleted), deleted)
			return nil
		},
	}

	cmd.Flags().Uint64Var(&belowSegment, "below-segment", 0, "watermark segment ID, exclusive")
	return cmd
}

// newStatCmd opens the WAL with an OtelMeter backed by an in-process
// manual reader, so stat can print both the write position and the
// counters the meter capability would otherwise only ship to a remote
// collector.
func newStatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stat",
		Short: "Print the WAL's current write position and meter counters",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			obs.InitLogger(cfg.LogLevel)

			provider, reader := wal.NewInProcessMeterProvider()
			meter := wal.NewOtelMeter(provider.Meter("ledgerwal"))

			manifest, closeManifest, err := buildManifest(context.Background(), cfg.ManifestDSN)
			if err != nil {
				return err
			}
			defer closeManifest()

			w, info, err := wal.Open(wal.Config{
				Dir:         resolveDir(cfg),
				FsyncPolicy: fsyncPolicyFromConfig(cfg),
				NodeID:      cfg.NodeID,
				Meter:       meter,
				Manifest:    manifest,
			})
			if err != nil {
				return err
			}
			defer w.Close()

			fmt.Printf("position=%s recovery=%+v\n", w.Position().String(), info)

			var rm metricdata.ResourceMetrics
			if err := reader.Collect(context.Background(), &rm); err != nil {
				return fmt.Errorf("collect metrics: %w", err)
			}
			for _, sm := range rm.ScopeMetrics {
				for _, m := range sm.Metrics {
					if sum, ok := m.Data.(metricdata.Sum[float64]); ok {
						for _, dp := range sum.DataPoints {
							fmt.Printf("metric %s = %g\n", m.Name, dp.Value)
						}
					}
				}
			}
			return nil
		},
	}
}
