package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Config represents the main configuration for pd.
type Config struct {
	BaseDir    string           `toml:"base_dir"`
	LogDir     string           `toml:"log_dir"`
	LogFormat  string           `toml:"log_format"` // "text" (default) or "json"
	Registry   RegistryConfig   `toml:"registry"`
	Cache      CacheConfig      `toml:"cache"`
	Filesystem FilesystemConfig `toml:"filesystem"`
	Encryption EncryptionConfig `toml:"encryption"`
	SFTP       SFTPConfig       `toml:"sftp"`
	S3         S3Config         `toml:"s3"`
}

// RegistryConfig represents configuration for the persisted library registry.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type RegistryConfig struct {
	Type    string `toml:"type"`               // "sqlite" or "memory"
	DataDir string `toml:"data_dir,omitempty"` // only used for type=sqlite
}

// CacheConfig holds the per-library cache and worker settings.
type CacheConfig struct {
	Dir             string `toml:"dir"`
	PreviewSize     int    `toml:"preview_size"`     // longest preview edge in pixels
	PrefetchWorkers int    `toml:"prefetch_workers"` // concurrent prefetch tasks per library
	ImportWorkers   int    `toml:"import_workers"`   // concurrent copies per import batch
}

// FilesystemConfig holds filesystem-related settings.
type FilesystemConfig struct {
	Ignore []string `toml:"ignore"`
	// Watch enables the change watcher for local libraries in long-running commands.
	Watch bool `toml:"watch"`
}

// EncryptionConfig holds paths to the age key pair used for encrypted S3 libraries.
type EncryptionConfig struct {
	Type           string `toml:"type"` // "age" (default) or "test"
	PublicKeyPath  string `toml:"public_key_path"`
	PrivateKeyPath string `toml:"private_key_path"`
}

// SFTPConfig holds the client credentials for SFTP libraries.
type SFTPConfig struct {
	KeyPath        string `toml:"key_path"`
	KnownHostsPath string `toml:"known_hosts"`
	TimeoutSeconds int    `toml:"timeout_seconds,omitempty"`
}

// Timeout returns the dial timeout, or zero for the default.
func (c SFTPConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// S3Config holds client settings for S3 libraries. Credentials default to
// the AWS environment when AccessKey is empty.
type S3Config struct {
	Endpoint     string `toml:"endpoint,omitempty"`
	AccessKey    string `toml:"access_key,omitempty"`
	SecretKey    string `toml:"secret_key,omitempty"`
	UsePathStyle bool   `toml:"use_path_style,omitempty"`
}

// Defaults applied by Normalize.
const (
	DefaultPreviewSize     = 1024
	DefaultPrefetchWorkers = 4
	DefaultImportWorkers   = 4
)

// NewConfig creates a new Config rooted at baseDir with default paths.
func NewConfig(baseDir string) *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		BaseDir:   baseDir,
		LogDir:    filepath.Join(baseDir, "log"),
		LogFormat: "text",
		Registry:  RegistryConfig{Type: "sqlite", DataDir: filepath.Join(baseDir, "db")},
		Cache: CacheConfig{
			Dir:             filepath.Join(baseDir, "cache"),
			PreviewSize:     DefaultPreviewSize,
			PrefetchWorkers: DefaultPrefetchWorkers,
			ImportWorkers:   DefaultImportWorkers,
		},
		Encryption: EncryptionConfig{
			Type:           "age",
			PublicKeyPath:  filepath.Join(baseDir, "keys", "pd.pub"),
			PrivateKeyPath: filepath.Join(baseDir, "keys", "pd.key"),
		},
		SFTP: SFTPConfig{
			KeyPath:        filepath.Join(home, ".ssh", "id_ed25519"),
			KnownHostsPath: filepath.Join(home, ".ssh", "known_hosts"),
		},
	}
}

// Normalize fills unset values with defaults derived from BaseDir.
func (c *Config) Normalize() {
	if c.LogDir == "" && c.BaseDir != "" {
		c.LogDir = filepath.Join(c.BaseDir, "log")
	}
	if c.LogFormat == "" {
		c.LogFormat = "text"
	}
	if c.Registry.Type == "" {
		c.Registry.Type = "sqlite"
	}
	if c.Registry.Type == "sqlite" && c.Registry.DataDir == "" && c.BaseDir != "" {
		c.Registry.DataDir = filepath.Join(c.BaseDir, "db")
	}
	if c.Cache.Dir == "" && c.BaseDir != "" {
		c.Cache.Dir = filepath.Join(c.BaseDir, "cache")
	}
	if c.Cache.PreviewSize <= 0 {
		c.Cache.PreviewSize = DefaultPreviewSize
	}
	if c.Cache.PrefetchWorkers <= 0 {
		c.Cache.PrefetchWorkers = DefaultPrefetchWorkers
	}
	if c.Cache.ImportWorkers <= 0 {
		c.Cache.ImportWorkers = DefaultImportWorkers
	}
}

// Validate checks the values that cannot be defaulted.
func (c *Config) Validate() error {
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("unknown log_format: %q", c.LogFormat)
	}
	switch c.Registry.Type {
	case "sqlite":
		if c.Registry.DataDir == "" {
			return fmt.Errorf("registry.data_dir required for sqlite registry")
		}
	case "memory":
	default:
		return fmt.Errorf("unknown registry type: %q", c.Registry.Type)
	}
	if c.Cache.Dir == "" {
		return fmt.Errorf("cache.dir must be set")
	}
	return nil
}

// Manager handles reading and writing configuration.
type Manager struct{}

// Read decodes a Config from the provided reader.
func (m *Manager) Read(r io.Reader) (*Config, error) {
	var cfg Config
	if _, err := toml.NewDecoder(r).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return &cfg, nil
}

// Write encodes a Config to the provided writer.
func (m *Manager) Write(w io.Writer, cfg *Config) error {
	if err := toml.NewEncoder(w).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// ReadFromFile reads a Config from the specified file path and applies defaults.
func ReadFromFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	cfg, err := m.Read(f)
	if err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

func writeToFile(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	if err := m.Write(f, cfg); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	return nil
}

// Init initializes a new config file at the specified path with the provided Config.
func Init(path string, cfg *Config) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}
	if err := writeToFile(path, cfg); err != nil {
		return fmt.Errorf("initializing config: %w", err)
	}
	return nil
}
