// Package config loads cloudsync configuration from file, environment and defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/cloudsync/cloudsync/internal/model"
)

// EnvPrefix prefixes environment overrides, e.g. CLOUDSYNC_REMOTE_TYPE.
const EnvPrefix = "CLOUDSYNC"

// Config is the full cloudsync configuration.
type Config struct {
	// Passphrase keys names, metadata, content and the run journal.
	// Override: CLOUDSYNC_PASSPHRASE
	Passphrase string `mapstructure:"passphrase" yaml:"passphrase"`

	Cipher  CipherConfig  `mapstructure:"cipher" yaml:"cipher"`
	Remote  RemoteConfig  `mapstructure:"remote" yaml:"remote"`
	Cache   CacheConfig   `mapstructure:"cache" yaml:"cache"`
	Journal JournalConfig `mapstructure:"journal" yaml:"journal"`
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`
	Clean   CleanConfig   `mapstructure:"clean" yaml:"clean"`
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`
}

// CipherConfig selects the encryption backend.
type CipherConfig struct {
	// Backend is "gpg" (external binary) or "openpgp" (in-process).
	Backend string `mapstructure:"backend" yaml:"backend"`
	Binary  string `mapstructure:"binary" yaml:"binary"`
	HomeDir string `mapstructure:"homedir" yaml:"homedir,omitempty"`
}

// RemoteConfig selects and configures the remote store.
type RemoteConfig struct {
	Type       string        `mapstructure:"type" yaml:"type"`
	BasePath   string        `mapstructure:"base_path" yaml:"base_path"`
	PageSize   int           `mapstructure:"page_size" yaml:"page_size"`
	Retries    int           `mapstructure:"retries" yaml:"retries"`
	RetryDelay time.Duration `mapstructure:"retry_delay" yaml:"retry_delay"`

	// Backend settings, passed to the store factory of the selected type.
	S3  map[string]interface{} `mapstructure:"s3" yaml:"s3"`
	Dir map[string]interface{} `mapstructure:"dir" yaml:"dir"`
}

// Settings returns the backend settings of the selected type with page_size filled in.
func (r RemoteConfig) Settings() map[string]interface{} {
	var src map[string]interface{}
	switch r.Type {
	case "s3":
		src = r.S3
	case "dir":
		src = r.Dir
	}
	out := make(map[string]interface{}, len(src)+1)
	for k, v := range src {
		out[k] = v
	}
	if _, ok := out["page_size"]; !ok && r.PageSize > 0 {
		out["page_size"] = r.PageSize
	}
	return out
}

// CacheConfig locates the snapshot, pid and lock files.
type CacheConfig struct {
	Dir        string `mapstructure:"dir" yaml:"dir"`
	MaxAgeDays int    `mapstructure:"max_age_days" yaml:"max_age_days"`
}

// MaxAge returns the cache expiry as a duration. Zero never expires.
func (c CacheConfig) MaxAge() time.Duration {
	return time.Duration(c.MaxAgeDays) * 24 * time.Hour
}

// JournalConfig controls the encrypted run journal.
type JournalConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Path    string `mapstructure:"path" yaml:"path"`
}

// MetricsConfig controls the node-exporter textfile.
type MetricsConfig struct {
	// Textfile is written after each run when set.
	Textfile string `mapstructure:"textfile" yaml:"textfile"`
}

// CleanConfig controls the clean operation.
type CleanConfig struct {
	// RemoveRemote deletes restored duplicates from the remote store.
	// Default: false
	RemoveRemote bool `mapstructure:"remove_remote" yaml:"remove_remote"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
	Output string `mapstructure:"output" yaml:"output"`
}

// Load loads configuration from file, environment, and defaults.
//
// Configuration precedence (highest to lowest):
//  1. Environment variables (CLOUDSYNC_*)
//  2. Configuration file
//  3. Default values
//
// An empty configPath uses $HOME/.cloudsync/config.yaml. A missing file is not an error.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setupViper(v, configPath)

	if _, err := readConfigFile(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(configDecodeHooks())); err != nil {
		return nil, &model.ConfigError{Msg: "failed to unmarshal config", Err: err}
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// SaveConfig writes cfg as YAML to path with owner-only permissions.
func SaveConfig(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	// the file holds the passphrase
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Validate checks values that defaults cannot repair.
func Validate(cfg *Config) error {
	switch cfg.Cipher.Backend {
	case "gpg", "openpgp":
	default:
		return &model.ConfigError{Msg: fmt.Sprintf("cipher.backend must be gpg or openpgp, got %q", cfg.Cipher.Backend)}
	}
	switch cfg.Remote.Type {
	case "s3", "dir":
	default:
		return &model.ConfigError{Msg: fmt.Sprintf("remote.type must be s3 or dir, got %q", cfg.Remote.Type)}
	}
	if cfg.Remote.PageSize < 0 {
		return &model.ConfigError{Msg: "remote.page_size must not be negative"}
	}
	if cfg.Remote.Retries < 0 {
		return &model.ConfigError{Msg: "remote.retries must not be negative"}
	}
	if cfg.Cache.MaxAgeDays < 0 {
		return &model.ConfigError{Msg: "cache.max_age_days must not be negative"}
	}
	if cfg.Journal.Enabled && cfg.Journal.Path == "" {
		return &model.ConfigError{Msg: "journal.path is required when the journal is enabled"}
	}
	switch strings.ToLower(cfg.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		return &model.ConfigError{Msg: fmt.Sprintf("logging.level must be debug, info, warn or error, got %q", cfg.Logging.Level)}
	}
	return nil
}

// RequirePassphrase fails when no passphrase is configured.
func (c *Config) RequirePassphrase() error {
	if c.Passphrase == "" {
		return &model.ConfigError{Msg: "passphrase is required, set it in the config file or CLOUDSYNC_PASSPHRASE"}
	}
	return nil
}

func setupViper(v *viper.Viper, configPath string) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// keys must be bound for environment overrides to reach Unmarshal without a file
	for _, key := range envKeys {
		_ = v.BindEnv(key)
	}

	if configPath != "" {
		v.SetConfigFile(configPath)
		return
	}
	v.AddConfigPath(GetConfigDir())
	v.SetConfigName("config")
	v.SetConfigType("yaml")
}

var envKeys = []string{
	"passphrase",
	"cipher.backend", "cipher.binary", "cipher.homedir",
	"remote.type", "remote.base_path", "remote.page_size", "remote.retries", "remote.retry_delay",
	"remote.s3.bucket", "remote.s3.region", "remote.s3.endpoint", "remote.s3.prefix",
	"remote.s3.force_path_style", "remote.s3.access_key", "remote.s3.secret_key",
	"remote.dir.path",
	"cache.dir", "cache.max_age_days",
	"journal.enabled", "journal.path",
	"metrics.textfile",
	"clean.remove_remote",
	"logging.level", "logging.format", "logging.output",
}

// readConfigFile reports whether a configuration file was read.
func readConfigFile(v *viper.Viper) (bool, error) {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return false, nil
		}
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, &model.ConfigError{Msg: "failed to read config file", Err: err}
	}
	return true, nil
}

func configDecodeHooks() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		durationDecodeHook(),
		mapstructure.StringToSliceHookFunc(","),
	)
}

// durationDecodeHook accepts "30s", "5m" strings and raw nanosecond numbers.
func durationDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}
		switch v := data.(type) {
		case string:
			return time.ParseDuration(v)
		case int:
			return time.Duration(v), nil
		case int64:
			return time.Duration(v), nil
		case float64:
			return time.Duration(v), nil
		default:
			return data, nil
		}
	}
}

// GetConfigDir returns $HOME/.cloudsync, or "." when the home directory is unknown.
func GetConfigDir() string {
	home, err := homedir.Dir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".cloudsync")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(GetConfigDir(), "config.yaml")
}

// ExpandPath resolves a leading "~" to the home directory.
func ExpandPath(path string) string {
	expanded, err := homedir.Expand(path)
	if err != nil {
		return path
	}
	return expanded
}
