// Package config loads the YAML configuration recognized by spec.md §6
// (tmp_rec_dir, redis_url, ipfs_host, ipfs_port, gzip, dedup) plus the
// ambient additions this expansion carries (listen_addr, max_drain_bytes),
// via github.com/spf13/viper.
package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/viper"
)

// DefaultMaxDrainBytes bounds how much of an in-flight response body
// CaptureInterceptor will drain on an early Close before giving up and
// marking the Recorder incomplete (§ADD).
const DefaultMaxDrainBytes = 4 * 1024 * 1024

// Config is the process configuration.
type Config struct {
	TmpRecDir     string `mapstructure:"tmp_rec_dir"`
	RedisURL      string `mapstructure:"redis_url"`
	IPFSHost      string `mapstructure:"ipfs_host"`
	IPFSPort      int    `mapstructure:"ipfs_port"`
	Gzip          bool   `mapstructure:"gzip"`
	Dedup         bool   `mapstructure:"dedup"`
	ListenAddr    string `mapstructure:"listen_addr"`
	MaxDrainBytes int64  `mapstructure:"max_drain_bytes"`
}

func defaults(v *viper.Viper) {
	v.SetDefault("tmp_rec_dir", "/tmp/rec")
	v.SetDefault("redis_url", "redis://localhost:6379/0")
	v.SetDefault("ipfs_host", "localhost")
	v.SetDefault("ipfs_port", 5001)
	v.SetDefault("gzip", true)
	v.SetDefault("dedup", false)
	v.SetDefault("listen_addr", ":8090")
	v.SetDefault("max_drain_bytes", DefaultMaxDrainBytes)
}

// Load reads path (YAML) and returns a Config, applying the defaults above
// for any key path leaves unset. A missing file is not an error: the
// defaults alone form a usable Config for local/dev use.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	defaults(v)

	if path != "" {
		v.SetConfigFile(path)
		// SetConfigFile bypasses viper's search-path flow, so a missing
		// file surfaces as a raw *fs.PathError rather than
		// viper.ConfigFileNotFoundError; check existence ourselves so a
		// missing file falls through to defaults instead of erroring.
		if _, statErr := os.Stat(path); statErr == nil {
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("config: read %s: %w", path, err)
			}
		} else if !errors.Is(statErr, os.ErrNotExist) {
			return nil, fmt.Errorf("config: stat %s: %w", path, statErr)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	return &cfg, nil
}
