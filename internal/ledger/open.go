package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Backend names accepted by OpenBackend.
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendPebble   = "pebble"
	BackendBolt     = "bolt"
)

// BackendConfig selects and configures a backend.
type BackendConfig struct {
	Kind         string
	DatabaseURL  string
	DataDir      string
	MaxOpenConns int
	MaxIdleConns int
}

// OpenBackend opens the backend named by cfg.Kind.
func OpenBackend(ctx context.Context, cfg BackendConfig) (Backend, error) {
	switch cfg.Kind {
	case "", BackendMemory:
		return NewMemoryBackend(), nil
	case BackendPostgres:
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		if cfg.MaxOpenConns > 0 {
			db.SetMaxOpenConns(cfg.MaxOpenConns)
		}
		if cfg.MaxIdleConns > 0 {
			db.SetMaxIdleConns(cfg.MaxIdleConns)
		}
		db.SetConnMaxLifetime(5 * time.Minute)

		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := db.PingContext(pingCtx); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("ping postgres: %w", err)
		}
		return NewPostgresBackend(db), nil
	case BackendPebble:
		dir := filepath.Join(cfg.DataDir, "pebble")
		return OpenPebble(dir)
	case BackendBolt:
		if err := os.MkdirAll(cfg.DataDir, 0o750); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
		return OpenBolt(filepath.Join(cfg.DataDir, "ledger.db"))
	default:
		return nil, fmt.Errorf("unknown ledger backend %q", cfg.Kind)
	}
}
