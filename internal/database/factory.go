package database

import (
	"fmt"
	"os"
	"path/filepath"

	"pd-go/internal/config"
)

// DatabaseFileName is the registry database inside RegistryConfig.DataDir.
const DatabaseFileName = "registry.db"

// NewRegistryStoreFromConfig creates a registry store based on the config type.
func NewRegistryStoreFromConfig(cfg config.RegistryConfig) (*SQLiteRegistryStore, error) {
	switch cfg.Type {
	case "sqlite", "":
		if cfg.DataDir == "" {
			return nil, fmt.Errorf("data_dir required for sqlite registry")
		}
		if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		return NewSQLiteRegistryStore(filepath.Join(cfg.DataDir, DatabaseFileName))
	case "memory":
		return NewSQLiteRegistryStore(":memory:")
	default:
		return nil, fmt.Errorf("unknown registry type: %s", cfg.Type)
	}
}
