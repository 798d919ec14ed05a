// Package config handles the global configuration file and the processing
// options derived from it.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// GlobalConfig represents configuration stored in ~/.config/oscapify/config.yml.
type GlobalConfig struct {
	NCBIAPIKey     string              `yaml:"ncbi_api_key,omitempty"`
	Email          string              `yaml:"email,omitempty"`
	Tool           string              `yaml:"tool,omitempty"`
	IDConvURL      string              `yaml:"idconv_url,omitempty"`
	CacheDir       string              `yaml:"cache_dir,omitempty"`
	CacheBackend   string              `yaml:"cache_backend,omitempty"`
	BatchName      string              `yaml:"batch_name,omitempty"`
	OutputSuffix   *string             `yaml:"output_suffix,omitempty"`
	HeaderMapping  map[string][]string `yaml:"header_mapping,omitempty"`
	PreserveFields []string            `yaml:"preserve_fields,omitempty"`
	ExcludeFields  []string            `yaml:"exclude_fields,omitempty"`
	FuzzyThreshold float64             `yaml:"fuzzy_threshold,omitempty"`
	BatchSize      int                 `yaml:"batch_size,omitempty"`
	MaxRetries     *int                `yaml:"max_retries,omitempty"`
	Backoff        string              `yaml:"backoff,omitempty"`
	Timeout        string              `yaml:"timeout,omitempty"`
	Jobs           int                 `yaml:"jobs,omitempty"`
	LogLevel       string              `yaml:"log_level,omitempty"`
	LogFormat      string              `yaml:"log_format,omitempty"`
}

const (
	// GlobalConfigDir is the directory name under XDG_CONFIG_HOME.
	GlobalConfigDir = "oscapify"
	// GlobalConfigFile is the config file name.
	GlobalConfigFile = "config.yml"
)

// Environment variables that override the config file.
const (
	EnvAPIKey = "NCBI_API_KEY"
	EnvEmail  = "NCBI_EMAIL"
)

// globalConfigCache caches the loaded global config.
var globalConfigCache *GlobalConfig

// GlobalConfigPath returns the path to the global config file.
// Respects XDG_CONFIG_HOME, defaults to ~/.config/oscapify/config.yml.
func GlobalConfigPath() string {
	configHome := os.Getenv("XDG_CONFIG_HOME")
	if configHome == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return ""
		}
		configHome = filepath.Join(home, ".config")
	}
	return filepath.Join(configHome, GlobalConfigDir, GlobalConfigFile)
}

// LoadGlobalConfig loads the global configuration file.
// Returns an empty config (not an error) if the file doesn't exist.
func LoadGlobalConfig() (*GlobalConfig, error) {
	if globalConfigCache != nil {
		return globalConfigCache, nil
	}

	path := GlobalConfigPath()
	if path == "" {
		return &GlobalConfig{}, nil
	}

	cfg, err := loadFile(path, true)
	if err != nil {
		return nil, err
	}
	globalConfigCache = cfg
	return cfg, nil
}

// LoadConfigFile loads configuration from an explicit path. Unlike
// LoadGlobalConfig, a missing file is an error.
func LoadConfigFile(path string) (*GlobalConfig, error) {
	return loadFile(ExpandPath(path), false)
}

func loadFile(path string, missingOK bool) (*GlobalConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if missingOK && os.IsNotExist(err) {
			return &GlobalConfig{}, nil
		}
		return nil, fmt.Errorf("reading config: %w", err)
	}

	var cfg GlobalConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	// Expand tilde in cache_dir
	if cfg.CacheDir != "" {
		cfg.CacheDir = ExpandPath(cfg.CacheDir)
	}
	return &cfg, nil
}

// ResetGlobalConfigCache clears the cached global config.
// Useful for testing.
func ResetGlobalConfigCache() {
	globalConfigCache = nil
}

// GetConfigValue returns the environment value for envKey if set, otherwise
// the config file value.
func GetConfigValue(envKey, configValue string) string {
	if v := os.Getenv(envKey); v != "" {
		return v
	}
	return configValue
}

// ExpandPath expands ~ to the user's home directory.
// Returns the original path unchanged if it doesn't start with ~.
func ExpandPath(path string) string {
	if len(path) == 0 || path[0] != '~' {
		return path
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return path // Return original if we can't get home directory
	}

	return filepath.Join(home, path[1:])
}
