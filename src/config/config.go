// Package config loads boot-time paging parameters from a YAML file,
// following the viper-based loader in tuannm99/novasql (internal/config.go):
// a typed struct with mapstructure tags, read through a fresh viper
// instance rather than the package-global viper singleton.
package config

import (
	"fmt"

	"github.com/spf13/viper"
)

// Config holds the tunables the boot sequence needs to size the frame
// pool and swap device and bound stack growth (spec §6).
type Config struct {
	Frames struct {
		Count int `mapstructure:"count"`
	} `mapstructure:"frames"`
	Swap struct {
		DevicePath string `mapstructure:"device_path"`
		Sectors    int    `mapstructure:"sectors"`
		DirectIO   bool   `mapstructure:"direct_io"`
	} `mapstructure:"swap"`
	Stack struct {
		MaxBytes int `mapstructure:"max_bytes"`
		Thresh   int `mapstructure:"thresh"`
	} `mapstructure:"stack"`
	Diag struct {
		Enabled bool `mapstructure:"enabled"`
	} `mapstructure:"diag"`
}

// Default returns the configuration used when no file is supplied.
func Default() *Config {
	var c Config
	c.Frames.Count = 256
	c.Swap.Sectors = 8192
	c.Swap.DirectIO = false
	c.Stack.MaxBytes = 8 * 1024 * 1024
	c.Stack.Thresh = 32
	c.Diag.Enabled = false
	return &c
}

// Load reads a YAML configuration file at path, overlaying it on the
// defaults from Default.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	cfg := Default()
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal %s: %w", path, err)
	}
	return cfg, nil
}
