package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/marcus/offtask/internal/config"
	"github.com/marcus/offtask/internal/db"
	"github.com/marcus/offtask/internal/store"
	"github.com/marcus/offtask/internal/store/jsonfile"
)

const probeTimeout = 2 * time.Second

// Prober reports whether SQLite is usable in dir. Replaced in tests.
var Prober = func(ctx context.Context, dir string) error {
	_, err := db.Probe(ctx, dir)
	return err
}

// OpenStore picks the storage strategy once. "auto" tries SQLite and falls
// back to the JSON file store when the probe fails; the choice is final for
// the life of the process.
func OpenStore(ctx context.Context, cfg config.StorageConfig) (store.Store, error) {
	dir, err := filepath.Abs(cfg.Dir)
	if err != nil {
		return nil, fmt.Errorf("resolve data dir: %w", err)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	switch cfg.Backend {
	case config.BackendSQLite:
		return openSQLite(dir)
	case config.BackendJSONFile:
		return jsonfile.New(dir), nil
	case config.BackendAuto, "":
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}

	pctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()
	if err := Prober(pctx, dir); err != nil {
		slog.Warn("storage: sqlite unavailable, using json file", "dir", dir, "err", err)
		return jsonfile.New(dir), nil
	}
	s, err := openSQLite(dir)
	if err != nil {
		slog.Warn("storage: sqlite open failed, using json file", "dir", dir, "err", err)
		return jsonfile.New(dir), nil
	}
	return s, nil
}

func openSQLite(dir string) (store.Store, error) {
	d, err := db.Open(dir)
	if err != nil {
		return nil, fmt.Errorf("open sqlite store: %w", err)
	}
	return d, nil
}
