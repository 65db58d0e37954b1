package config

import (
	"path/filepath"
	"strings"
	"time"
)

// ApplyDefaults fills zero values with defaults. Explicit values are preserved.
func ApplyDefaults(cfg *Config) {
	applyCipherDefaults(&cfg.Cipher)
	applyRemoteDefaults(&cfg.Remote)
	applyCacheDefaults(&cfg.Cache)
	applyJournalDefaults(&cfg.Journal, cfg.Cache.Dir)
	applyLoggingDefaults(&cfg.Logging)
}

func applyCipherDefaults(cfg *CipherConfig) {
	if cfg.Backend == "" {
		cfg.Backend = "gpg"
	}
	cfg.Backend = strings.ToLower(cfg.Backend)
	if cfg.Binary == "" {
		cfg.Binary = "gpg"
	}
	if cfg.HomeDir != "" {
		cfg.HomeDir = ExpandPath(cfg.HomeDir)
	}
}

func applyRemoteDefaults(cfg *RemoteConfig) {
	if cfg.Type == "" {
		cfg.Type = "dir"
	}
	cfg.Type = strings.ToLower(cfg.Type)
	if cfg.BasePath == "" {
		cfg.BasePath = "cloudsync"
	}
	if cfg.PageSize == 0 {
		cfg.PageSize = 1000
	}
	if cfg.RetryDelay == 0 {
		cfg.RetryDelay = time.Second
	}
	if cfg.Dir == nil {
		cfg.Dir = map[string]interface{}{}
	}
	if p, ok := cfg.Dir["path"].(string); !ok || p == "" {
		cfg.Dir["path"] = filepath.Join(GetConfigDir(), "store")
	} else {
		cfg.Dir["path"] = ExpandPath(p)
	}
	if cfg.S3 == nil {
		cfg.S3 = map[string]interface{}{}
	}
}

func applyCacheDefaults(cfg *CacheConfig) {
	if cfg.Dir == "" {
		cfg.Dir = GetConfigDir()
	}
	cfg.Dir = ExpandPath(cfg.Dir)
}

func applyJournalDefaults(cfg *JournalConfig, cacheDir string) {
	if cfg.Path == "" {
		cfg.Path = filepath.Join(cacheDir, "journal.db")
	}
	cfg.Path = ExpandPath(cfg.Path)
}

func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "info"
	}
	cfg.Level = strings.ToLower(cfg.Level)
	if cfg.Format == "" {
		cfg.Format = "console"
	}
	if cfg.Output == "" {
		cfg.Output = "stderr"
	}
}

// GetDefaultConfig returns a Config with all defaults applied, used by init.
func GetDefaultConfig() *Config {
	cfg := &Config{
		Remote: RemoteConfig{
			S3: map[string]interface{}{
				"bucket":           "",
				"region":           "us-east-1",
				"endpoint":         "",
				"prefix":           "",
				"force_path_style": false,
			},
		},
		Cache: CacheConfig{
			MaxAgeDays: 1,
		},
	}
	ApplyDefaults(cfg)
	return cfg
}
