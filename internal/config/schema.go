package config

import (
	"time"
)

// Config is the root configuration structure
type Config struct {
	Version        int                `yaml:"version" toml:"version"`
	Output         OutputConfig       `yaml:"output" toml:"output"`
	Compiler       string             `yaml:"compiler" toml:"compiler"`
	ServiceNetwork string             `yaml:"service_network" toml:"service_network"`
	Store          StoreConfig        `yaml:"store" toml:"store"`
	Log            LogConfig          `yaml:"log" toml:"log"`
	RemoteAccess   RemoteAccessConfig `yaml:"remote_access" toml:"remote_access"`
}

// OutputConfig controls where compiled artifacts go
type OutputConfig struct {
	Dir      string `yaml:"dir" toml:"dir"`
	Override bool   `yaml:"override" toml:"override"`
	// Timeout bounds a single compile, zero for none
	Timeout Duration `yaml:"timeout,omitempty" toml:"timeout,omitempty"`
}

// StoreConfig holds snapshot store settings
type StoreConfig struct {
	Path string `yaml:"path" toml:"path"`
}

// LogConfig selects the logger the CLI builds
type LogConfig struct {
	Level       string `yaml:"level" toml:"level"`
	Development bool   `yaml:"development" toml:"development"`
}

// RemoteAccessConfig selects the provider used for networks a topology
// marks as remotely accessible without naming one
type RemoteAccessConfig struct {
	Provider     string `yaml:"provider" toml:"provider"` // softether or wireguard
	Username     string `yaml:"username,omitempty" toml:"username,omitempty"`
	Seed         string `yaml:"seed,omitempty" toml:"seed,omitempty"`
	BridgeOffset int    `yaml:"bridge_offset,omitempty" toml:"bridge_offset,omitempty"`
}

// Duration wraps time.Duration for YAML and TOML
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// MarshalText implements encoding.TextMarshaler
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Duration returns the underlying time.Duration
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}
