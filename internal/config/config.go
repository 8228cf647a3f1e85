package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config represents the main configuration for permafrost.
type Config struct {
	HostID     string           `toml:"host_id"`
	BaseDir    string           `toml:"base_dir"`
	LogDir     string           `toml:"log_dir"`
	Log        LogConfig        `toml:"log"`
	Repository RepositoryConfig `toml:"repository"`
	Engine     EngineConfig     `toml:"engine"`
	Database   DatabaseConfig   `toml:"database"`
	Disk       DiskConfig       `toml:"disk"`
	Filesystem FilesystemConfig `toml:"filesystem"`
	Server     ServerConfig     `toml:"server"`
	Mirrors    []MirrorConfig   `toml:"mirrors"`
	Encryption EncryptionConfig `toml:"encryption"`
}

// LogConfig controls rotation of the log file in LogDir.
type LogConfig struct {
	Level      string `toml:"level"` // "debug", "info", "warn" or "error"
	MaxSizeMB  int    `toml:"max_size_mb"`
	MaxBackups int    `toml:"max_backups"`
	Compress   bool   `toml:"compress"`
}

// RepositoryConfig describes the archive repository all snapshots go to.
type RepositoryConfig struct {
	Location    string `toml:"location"`    // local path or remote "user@host:path"
	Encryption  string `toml:"encryption"`  // engine encryption mode used by init
	Compression string `toml:"compression"` // engine compression spec used by create/update
}

// EngineConfig selects the archive engine.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type EngineConfig struct {
	Type string `toml:"type"` // "borg" or "memory"

	// Borg-specific fields (only used when Type == "borg")
	Binary        string `toml:"binary,omitempty"`
	PassphraseEnv string `toml:"passphrase_env,omitempty"` // environment variable holding the repository passphrase
}

// DatabaseConfig represents configuration for the catalog database.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type DatabaseConfig struct {
	Type    string `toml:"type"`               // "sqlite" or "memory"
	DataDir string `toml:"data_dir,omitempty"` // only used for type=sqlite
}

// DiskConfig selects how volume and directory sizes are measured.
type DiskConfig struct {
	Type string `toml:"type"` // "statfs" or "coreutils"
}

// FilesystemConfig holds filesystem-related settings.
type FilesystemConfig struct {
	Ignore []string `toml:"ignore"`
}

// ServerConfig configures the HTTP API started by `permafrost serve`.
type ServerConfig struct {
	Listen        string `toml:"listen"`
	MaxTasks      int64  `toml:"max_tasks"`      // lifecycle tasks running at once
	RetainedTasks int    `toml:"retained_tasks"` // finished tasks kept for polling
}

// MirrorConfig represents a destination for catalog snapshots.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type MirrorConfig struct {
	Type string `toml:"type"` // "memory", "s3", or "filesystem"
	Name string `toml:"name"`

	// S3-specific fields (only used when Type == "s3")
	S3Bucket string `toml:"s3_bucket,omitempty"`
	S3Prefix string `toml:"s3_prefix,omitempty"`
	S3Region string `toml:"s3_region,omitempty"`
	// S3Endpoint overrides the AWS endpoint, e.g. for MinIO.
	S3Endpoint string `toml:"s3_endpoint,omitempty"`
	// Names of environment variables holding static credentials. When
	// unset the default AWS credential chain is used.
	S3AccessKeyEnv string `toml:"s3_access_key_env,omitempty"`
	S3SecretKeyEnv string `toml:"s3_secret_key_env,omitempty"`

	// Filesystem-specific fields (only used when Type == "filesystem")
	FSRoot string `toml:"fs_root,omitempty"`
}

// EncryptionConfig holds paths to the age key pair used for catalog snapshots.
type EncryptionConfig struct {
	Type           string `toml:"type"` // "age" (default), "none" or "test"
	PublicKeyPath  string `toml:"public_key_path"`
	PrivateKeyPath string `toml:"private_key_path"`
}

// NewConfig creates a new Config with the provided values and defaults
// for everything else.
func NewConfig(hostID, baseDir string) *Config {
	return &Config{
		HostID:  hostID,
		BaseDir: baseDir,
		LogDir:  filepath.Join(baseDir, "log"),
		Log: LogConfig{
			Level:      "info",
			MaxSizeMB:  10,
			MaxBackups: 5,
			Compress:   true,
		},
		Repository: RepositoryConfig{
			Location:    filepath.Join(baseDir, "repository"),
			Encryption:  "repokey",
			Compression: "lz4",
		},
		Engine: EngineConfig{
			Type:          "borg",
			Binary:        "borg",
			PassphraseEnv: "BORG_PASSPHRASE",
		},
		Database: DatabaseConfig{
			Type:    "sqlite",
			DataDir: filepath.Join(baseDir, "db"),
		},
		Disk: DiskConfig{Type: "statfs"},
		Server: ServerConfig{
			Listen:        "127.0.0.1:8080",
			MaxTasks:      2,
			RetainedTasks: 500,
		},
		Encryption: EncryptionConfig{
			Type:           "none",
			PublicKeyPath:  filepath.Join(baseDir, "keys", "catalog.pub"),
			PrivateKeyPath: filepath.Join(baseDir, "keys", "catalog.key"),
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

func writeToFile(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
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

// Init writes cfg to a new config file at path. An existing file is never
// overwritten.
func Init(path string, cfg *Config) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := writeToFile(path, cfg); err != nil {
		return fmt.Errorf("initializing config: %w", err)
	}
	return nil
}
