package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config represents the main configuration for fedipost.
type Config struct {
	BaseDir    string           `toml:"base_dir"`
	LogDir     string           `toml:"log_dir"`
	Server     ServerConfig     `toml:"server"`
	Database   DatabaseConfig   `toml:"database"`
	Queue      QueueConfig      `toml:"queue"`
	Federation FederationConfig `toml:"federation"`
}

// ServerConfig holds the HTTP delivery settings.
type ServerConfig struct {
	Addr string `toml:"addr"` // listen address, e.g. "0.0.0.0:5000"
}

// DatabaseConfig represents configuration for the store.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type DatabaseConfig struct {
	Type    string `toml:"type"`               // "sqlite" or "memory"
	DataDir string `toml:"data_dir,omitempty"` // only used for type=sqlite
}

// QueueConfig represents configuration for the outbound distribution queue.
type QueueConfig struct {
	Type             string `toml:"type"`                   // "sqlite" or "memory"
	DataDir          string `toml:"data_dir,omitempty"`     // only used for type=sqlite
	MaxAttempts      int    `toml:"max_attempts"`           // delivery attempts before a job is parked; defaults to 3
	BackoffSeconds   int    `toml:"backoff_seconds"`        // first retry delay, doubled per attempt; defaults to 1
	FailureRetention string `toml:"failure_retention"`      // how long parked jobs are kept, e.g. "168h"
	SweepSchedule    string `toml:"sweep_schedule"`         // cron expression for the retention sweep
	PollInterval     string `toml:"poll_interval,omitempty"` // worker poll cadence, e.g. "1s"
}

// FederationConfig holds the instance identity and partner policy.
type FederationConfig struct {
	// ProfileURLBase is the public base URL local profile links are built
	// from, e.g. "https://social.example.org".
	ProfileURLBase string `toml:"profile_url_base"`

	// PartnerDomainSuffix identifies the opt-in federation partner network
	// by handle suffix. Empty disables the gate.
	PartnerDomainSuffix string `toml:"partner_domain_suffix"`

	// PartnerOptionName is the per-user option recording the opt-in.
	PartnerOptionName string `toml:"partner_option_name"`

	// PrivateKeyPath is the PEM key outbound fetches are signed with.
	PrivateKeyPath string `toml:"private_key_path"`

	// RelayInboxes are the inbox URLs outbound activities are delivered to.
	// Empty means deliveries succeed without leaving the instance.
	RelayInboxes []string `toml:"relay_inboxes,omitempty"`
}

// NewConfig creates a new Config with the provided base directory and
// sensible defaults.
func NewConfig(baseDir string) *Config {
	return &Config{
		BaseDir: baseDir,
		LogDir:  filepath.Join(baseDir, "log"),
		Server:  ServerConfig{Addr: "0.0.0.0:5000"},
		Database: DatabaseConfig{
			Type:    "sqlite",
			DataDir: filepath.Join(baseDir, "data"),
		},
		Queue: QueueConfig{
			Type:             "sqlite",
			DataDir:          filepath.Join(baseDir, "data"),
			MaxAttempts:      3,
			BackoffSeconds:   1,
			FailureRetention: "168h",
			SweepSchedule:    "@hourly",
		},
		Federation: FederationConfig{
			PartnerDomainSuffix: "threads.net",
			PartnerOptionName:   "fedipost.federateWithPartner",
			PrivateKeyPath:      filepath.Join(baseDir, "keys", "fedipost.key"),
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
