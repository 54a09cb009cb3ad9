// Package main implements walretain, a background daemon that reclaims
// sealed WAL segments once they fall behind a retention watermark.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"github.com/dsjohal14/ledgerwal/internal/libs/config"
	"github.com/dsjohal14/ledgerwal/internal/libs/obs"
	"github.com/dsjohal14/ledgerwal/internal/wal"
)

// buildManifest returns the in-memory ManifestStore unless dsn is set, in
// which case it connects a pgx pool and returns a PostgresManifest over
// it. The returned func closes whatever pool was opened.
func buildManifest(ctx context.Context, dsn string) (wal.ManifestStore, func(), error) {
	if dsn == "" {
		return wal.NewInMemoryManifest(), func() {}, nil
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, nil, err
	}
	return wal.NewPostgresManifest(pool), pool.Close, nil
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}
	obs.InitLogger(cfg.LogLevel)
	logger := obs.Logger("walretain")

	fsyncPolicy := wal.OsPolicy()
	switch cfg.FsyncMode {
	case "always":
		fsyncPolicy = wal.AlwaysPolicy()
	case "batch":
		fsyncPolicy = wal.BatchPolicy(cfg.FsyncWindow)
	}

	manifest, closeManifest, err := buildManifest(context.Background(), cfg.ManifestDSN)
	if err != nil {
		logger.Fatal().Err(err).Msg("connect manifest database")
	}
	defer closeManifest()

	w, info, err := wal.Open(wal.Config{
		Dir:         cfg.Dir,
		FsyncPolicy: fsyncPolicy,
		NodeID:      cfg.NodeID,
		Manifest:    manifest,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("open wal")
	}
	defer w.Close()
	logger.Info().Int("valid_records", info.ValidRecords).Msg("walretain attached to wal directory")

	// The watermark trails the writer's current position: this daemon
	// owns no consumer-offset tracking of its own, so it reclaims every
	// sealed segment and retains only the segment currently being written.
	if err := w.StartGC(wal.DefaultGCInterval, w.Position); err != nil {
		logger.Fatal().Err(err).Msg("start gc worker")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()
	logger.Info().Msg("walretain shutting down")
}
