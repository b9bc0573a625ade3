// internal/config/config.go
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/cespare/xxhash/v2"
	"gopkg.in/yaml.v3"
)

// Store backends.
const (
	BackendBadger = "badger"
	BackendSQLite = "sqlite"
)

// Config holds resolved paths and settings for one project.
type Config struct {
	HomeDir     string
	ZcuDir      string
	LogDir      string
	BackupDir   string
	StorePath   string
	ProjectPath string
	ShadowPath  string
	Settings    Settings
}

// Settings is the user-editable part of the configuration, read from
// <zcu dir>/config.yaml.
type Settings struct {
	AgentID            string         `yaml:"agent_id"`
	MaxSnapshots       int            `yaml:"max_snapshots"`
	MaxOperationChain  int            `yaml:"max_operation_chain"`
	EnableCompression  bool           `yaml:"enable_compression"`
	ExcludePatterns    []string       `yaml:"exclude_patterns"`
	StoreBackend       string         `yaml:"store_backend"`
	AllowSharedProject bool           `yaml:"allow_shared_project"`
	AutoCheckpoint     AutoCheckpoint `yaml:"auto_checkpoint"`
}

// AutoCheckpoint configures checkpoints taken by the watcher.
type AutoCheckpoint struct {
	Enabled     bool `yaml:"enabled"`
	QuietMillis int  `yaml:"quiet_ms"`
	MinChanges  int  `yaml:"min_changes"`
}

// DefaultSettings returns the built-in settings.
func DefaultSettings() Settings {
	return Settings{
		AgentID:           "default",
		MaxSnapshots:      20,
		MaxOperationChain: 100,
		EnableCompression: true,
		ExcludePatterns:   []string{".git", "node_modules", ".zcu", "*.log"},
		StoreBackend:      BackendBadger,
		AutoCheckpoint: AutoCheckpoint{
			QuietMillis: 2000,
			MinChanges:  1,
		},
	}
}

// Load resolves paths for projectPath and reads settings.
// ZCU_HOME overrides the data directory, ZCU_AGENT the agent id.
func Load(projectPath string) (*Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, err
	}

	zcuDir := os.Getenv("ZCU_HOME")
	if zcuDir == "" {
		zcuDir = filepath.Join(home, ".zcu")
	}

	if projectPath == "" {
		projectPath, err = os.Getwd()
		if err != nil {
			return nil, err
		}
	}
	projectPath, err = filepath.Abs(projectPath)
	if err != nil {
		return nil, err
	}

	logDir := filepath.Join(zcuDir, "logs")
	backupDir := filepath.Join(zcuDir, "backups")

	// Ensure directories exist
	for _, dir := range []string{zcuDir, logDir, backupDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, err
		}
	}

	settings, err := readSettings(filepath.Join(zcuDir, "config.yaml"))
	if err != nil {
		return nil, err
	}
	if agent := os.Getenv("ZCU_AGENT"); agent != "" {
		settings.AgentID = agent
	}

	return &Config{
		HomeDir:     home,
		ZcuDir:      zcuDir,
		LogDir:      logDir,
		BackupDir:   backupDir,
		StorePath:   filepath.Join(zcuDir, "store"),
		ProjectPath: projectPath,
		ShadowPath:  filepath.Join(zcuDir, "shadow", ProjectKey(projectPath)),
		Settings:    settings,
	}, nil
}

// ProjectKey returns a stable directory name for a project path.
func ProjectKey(projectPath string) string {
	return strconv.FormatUint(xxhash.Sum64String(projectPath), 16)
}

// SettingsPath returns the path of the settings file.
func (c *Config) SettingsPath() string {
	return filepath.Join(c.ZcuDir, "config.yaml")
}

// readSettings overlays the YAML file at path on the defaults. A missing
// file is not an error.
func readSettings(path string) (Settings, error) {
	settings := DefaultSettings()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return settings, nil
		}
		return settings, fmt.Errorf("read settings: %w", err)
	}

	if err := yaml.Unmarshal(data, &settings); err != nil {
		return settings, fmt.Errorf("parse settings %s: %w", path, err)
	}

	if settings.MaxSnapshots <= 0 {
		settings.MaxSnapshots = DefaultSettings().MaxSnapshots
	}
	if settings.MaxOperationChain <= 0 {
		settings.MaxOperationChain = DefaultSettings().MaxOperationChain
	}
	switch settings.StoreBackend {
	case BackendBadger, BackendSQLite:
	case "":
		settings.StoreBackend = BackendBadger
	default:
		return settings, fmt.Errorf("unknown store backend %q", settings.StoreBackend)
	}
	return settings, nil
}

// WriteSettings saves settings as YAML.
func (c *Config) WriteSettings(settings Settings) error {
	data, err := yaml.Marshal(settings)
	if err != nil {
		return err
	}
	return os.WriteFile(c.SettingsPath(), data, 0644)
}
