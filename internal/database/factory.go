package database

import (
	"fmt"
	"path/filepath"

	"fedipost/internal/config"
	"fedipost/internal/pipeline"
)

// NewStoreFromConfig creates a Store implementation based on the database
// config type.
func NewStoreFromConfig(cfg config.DatabaseConfig) (pipeline.Store, error) {
	switch cfg.Type {
	case "sqlite":
		if cfg.DataDir == "" {
			return nil, fmt.Errorf("data_dir required for sqlite database")
		}
		return NewSQLiteStore(filepath.Join(cfg.DataDir, "fedipost.db"))
	case "memory":
		store, err := NewSQLiteStore(":memory:")
		if err != nil {
			return nil, err
		}
		if _, err := store.db.Exec(Schema); err != nil {
			store.Close()
			return nil, fmt.Errorf("applying schema: %w", err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown database type: %s", cfg.Type)
	}
}
