// Package config loads runtime preferences from the user config directory.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/viper"
)

const (
	configFile = "config"
	configType = "yaml"
)

// Config holds tunable runtime preferences.
type Config struct {
	// RowLimit caps how many rows a query result renders.
	RowLimit int `mapstructure:"row_limit" yaml:"row_limit"`

	// PreviewLimit is the default row count for table previews.
	PreviewLimit int `mapstructure:"preview_limit" yaml:"preview_limit"`

	// ConnectTimeout bounds connection attempts.
	ConnectTimeout time.Duration `mapstructure:"connect_timeout" yaml:"connect_timeout"`

	// KeepaliveInterval is how often idle connections are probed.
	KeepaliveInterval time.Duration `mapstructure:"keepalive_interval" yaml:"keepalive_interval"`

	// IncludeSystemSchemas also lists pg_catalog and friends in metadata.
	IncludeSystemSchemas bool `mapstructure:"include_system_schemas" yaml:"include_system_schemas"`
}

// Default returns the built-in preferences.
func Default() Config {
	return Config{
		RowLimit:          1000,
		PreviewLimit:      50,
		ConnectTimeout:    10 * time.Second,
		KeepaliveInterval: 30 * time.Second,
	}
}

// Load reads config.yaml from dir, falling back to defaults for missing
// keys and a missing file.
func Load(dir string) (Config, error) {
	v := viper.New()
	v.SetConfigName(configFile)
	v.SetConfigType(configType)
	v.AddConfigPath(dir)

	def := Default()
	v.SetDefault("row_limit", def.RowLimit)
	v.SetDefault("preview_limit", def.PreviewLimit)
	v.SetDefault("connect_timeout", def.ConnectTimeout)
	v.SetDefault("keepalive_interval", def.KeepaliveInterval)
	v.SetDefault("include_system_schemas", def.IncludeSystemSchemas)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return def, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return def, fmt.Errorf("unmarshal config: %w", err)
	}
	return cfg, nil
}
