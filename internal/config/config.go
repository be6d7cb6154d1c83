package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config represents the main configuration for ips.
type Config struct {
	// DataDir is the root of the on-disk library layout: the asset pool plus
	// the album tree.
	DataDir  string         `toml:"data_dir"`
	LogDir   string         `toml:"log_dir"`
	Remote   RemoteConfig   `toml:"remote"`
	Download DownloadConfig `toml:"download"`
	Albums   AlbumsConfig   `toml:"albums"`
	Database DatabaseConfig `toml:"database"`
}

// RemoteConfig points at the photo service and the persisted session.
type RemoteConfig struct {
	BaseURL     string `toml:"base_url"`
	Username    string `toml:"username"`
	SessionPath string `toml:"session_path"`
}

// DownloadConfig bounds the asset download pool and the retry loop.
type DownloadConfig struct {
	// Threads is the download pool size.
	Threads int `toml:"threads"`
	// MaxRetries is the budget for recoverable transport failures;
	// -1 retries forever.
	MaxRetries int `toml:"max_retries"`
}

// AlbumsConfig tunes album handling.
type AlbumsConfig struct {
	// Ignore lists album labels excluded from the remote list before diffing.
	Ignore []string `toml:"ignore"`
}

// DatabaseConfig configures the sync-run history store.
// This uses a tagged union pattern - the Type field determines which other
// fields are relevant.
type DatabaseConfig struct {
	Type    string `toml:"type"`               // "sqlite" or "memory"
	DataDir string `toml:"data_dir,omitempty"` // only used for type=sqlite
}

// NewConfig creates a Config with defaults rooted at baseDir.
func NewConfig(baseDir string) *Config {
	return &Config{
		DataDir: filepath.Join(baseDir, "photos"),
		LogDir:  filepath.Join(baseDir, "log"),
		Remote: RemoteConfig{
			SessionPath: filepath.Join(baseDir, "session.json"),
		},
		Download: DownloadConfig{
			Threads:    4,
			MaxRetries: 3,
		},
		Database: DatabaseConfig{
			Type:    "sqlite",
			DataDir: baseDir,
		},
	}
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

// ReadFromFile reads a Config from the specified file path.
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
	return cfg, nil
}

// writeToFile writes a Config to the specified file path.
func writeToFile(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.Create(path)
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

// Init initializes a new config file at the specified path with the provided
// Config. Refuses to overwrite an existing file.
func Init(path string, cfg *Config) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := writeToFile(path, cfg); err != nil {
		return fmt.Errorf("initializing config: %w", err)
	}
	return nil
}
