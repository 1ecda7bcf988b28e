package database

import (
	"os"
	"path/filepath"
	"testing"

	"pd-go/internal/config"
)

func TestNewRegistryStoreFromConfig(t *testing.T) {
	t.Run("memory registry", func(t *testing.T) {
		got, err := NewRegistryStoreFromConfig(config.RegistryConfig{Type: "memory"})
		if err != nil {
			t.Fatalf("NewRegistryStoreFromConfig() unexpected error: %v", err)
		}
		got.Close()
	})

	t.Run("sqlite registry creates data dir", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "data")
		got, err := NewRegistryStoreFromConfig(config.RegistryConfig{Type: "sqlite", DataDir: dir})
		if err != nil {
			t.Fatalf("NewRegistryStoreFromConfig() unexpected error: %v", err)
		}
		defer got.Close()
		if _, err := os.Stat(filepath.Join(dir, DatabaseFileName)); err != nil {
			t.Errorf("database file not created: %v", err)
		}
	})

	t.Run("sqlite registry without data_dir", func(t *testing.T) {
		if _, err := NewRegistryStoreFromConfig(config.RegistryConfig{Type: "sqlite"}); err == nil {
			t.Error("NewRegistryStoreFromConfig() expected error, got nil")
		}
	})

	t.Run("unknown type", func(t *testing.T) {
		if _, err := NewRegistryStoreFromConfig(config.RegistryConfig{Type: "postgres"}); err == nil {
			t.Error("NewRegistryStoreFromConfig() expected error, got nil")
		}
	})
}
