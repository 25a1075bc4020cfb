package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

// Environment overrides for the sync section.
const (
	EnvSyncWatch   = "MNEME_SYNC_WATCH"
	EnvSyncOnStart = "MNEME_SYNC_ON_START"
)

// Loader handles configuration loading
type Loader struct {
	configPath string
}

// NewLoader creates a new config loader
func NewLoader(configPath string) *Loader {
	return &Loader{
		configPath: configPath,
	}
}

// Load reads the config file (if any), validates it, and merges it over the
// defaults. A missing file yields the defaults.
func (l *Loader) Load() (*Config, error) {
	configPath := l.GetConfigPath()

	overrides := Overrides{}
	data, err := os.ReadFile(configPath)
	switch {
	case os.IsNotExist(err):
		data = []byte("{}")
	case err != nil:
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := ValidateDocument(data); err != nil {
		return nil, err
	}

	v := viper.New()
	v.SetConfigType("json")

	// Environment variables take precedence over the file.
	v.SetEnvPrefix("MNEME")
	v.AutomaticEnv()
	_ = v.BindEnv("embedding.api_key", "MNEME_EMBEDDING_API_KEY", "OPENAI_API_KEY")
	_ = v.BindEnv("embedding.provider", "MNEME_EMBEDDING_PROVIDER")
	_ = v.BindEnv("identity", "MNEME_IDENTITY")
	_ = v.BindEnv("workspace_path", "MNEME_WORKSPACE")
	_ = v.BindEnv("data_dir", "MNEME_DATA_DIR")
	// Set by a host for its worker processes when a command forces them.
	_ = v.BindEnv("sync.watch", EnvSyncWatch)
	_ = v.BindEnv("sync.on_start", EnvSyncOnStart)

	if err := v.ReadConfig(bytes.NewReader(data)); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := v.Unmarshal(&overrides); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg := Merge(DefaultConfig(), overrides)
	if err := l.applyPathDefaults(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (l *Loader) applyPathDefaults(cfg *Config) error {
	if cfg.DataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("failed to get home directory: %w", err)
		}
		cfg.DataDir = filepath.Join(home, ".mneme")
	}
	if cfg.WorkspacePath == "" {
		wd, err := os.Getwd()
		if err != nil {
			return fmt.Errorf("failed to get working directory: %w", err)
		}
		cfg.WorkspacePath = wd
	}
	if cfg.Logging.File == "" {
		cfg.Logging.File = filepath.Join(cfg.DataDir, "mneme.log")
	}
	return nil
}

// GetConfigPath returns the config file path
func (l *Loader) GetConfigPath() string {
	if l.configPath != "" {
		return l.configPath
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".mneme", "mneme.json")
}

// Load is a convenience function that creates a loader and loads the config
func Load(configPath string) (*Config, error) {
	loader := NewLoader(configPath)
	return loader.Load()
}
