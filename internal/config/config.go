// Package config provides configuration management for the seedemu driver.
//
// The config file selects where artifacts and snapshots go and how the
// driver logs. It never describes a topology; topologies are loaded
// separately.
//
// Config file locations (priority order):
//  1. $SEEDEMU_CONFIG
//  2. ./seedemu.yaml or ./seedemu.toml
//  3. $XDG_CONFIG_HOME/seedemu/config.yaml
//  4. ~/.config/seedemu/config.yaml
//  5. /etc/seedemu/config.yaml
package config

import (
	"bytes"
	"fmt"
	"net/netip"
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"
	"go.uber.org/multierr"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"seedemu/internal/raps"
	"seedemu/internal/topology"
)

// Remote access provider names
const (
	ProviderSoftEther = "softether"
	ProviderWireGuard = "wireguard"
)

// Load finds and loads the config file, or returns defaults if none found
func Load() (*Config, string, error) {
	path := FindConfigPath()

	if path == "" {
		return DefaultConfig(), "", nil
	}

	return LoadFromPath(path)
}

// LoadFromPath loads config from a specific path. Files ending in .toml are
// parsed as TOML, everything else as YAML.
func LoadFromPath(path string) (*Config, string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, path, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if isTOML(path) {
		err = toml.NewDecoder(bytes.NewReader(data)).DisallowUnknownFields().Decode(&cfg)
	} else {
		err = yaml.Unmarshal(data, &cfg)
	}
	if err != nil {
		return nil, path, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, path, err
	}

	return &cfg, path, nil
}

// Save writes config to the specified path in the format its extension
// selects
func (c *Config) Save(path string) error {
	if err := EnsureConfigDir(path); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	var data []byte
	var err error
	if isTOML(path) {
		data, err = toml.Marshal(c)
	} else {
		data, err = yaml.Marshal(c)
	}
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	return os.WriteFile(path, data, 0644)
}

// DefaultConfig returns sensible defaults for a new installation
func DefaultConfig() *Config {
	c := &Config{}
	c.applyDefaults()
	return c
}

// applyDefaults fills in missing values with defaults
func (c *Config) applyDefaults() {
	if c.Version == 0 {
		c.Version = 1
	}
	if c.Output.Dir == "" {
		c.Output.Dir = "./output"
	}
	if c.Compiler == "" {
		c.Compiler = "manifest"
	}
	if c.ServiceNetwork == "" {
		c.ServiceNetwork = "192.168.66.0/24"
	}
	if c.Store.Path == "" {
		c.Store.Path = "./seedemu.db"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.RemoteAccess.Provider == "" {
		c.RemoteAccess.Provider = ProviderSoftEther
	}
}

// Validate reports every invalid setting
func (c *Config) Validate() error {
	var errs error
	if _, err := netip.ParsePrefix(c.ServiceNetwork); err != nil {
		errs = multierr.Append(errs, fmt.Errorf("service_network: %w", err))
	}
	if _, err := zapcore.ParseLevel(c.Log.Level); err != nil {
		errs = multierr.Append(errs, fmt.Errorf("log.level: %w", err))
	}
	switch c.RemoteAccess.Provider {
	case ProviderSoftEther:
	case ProviderWireGuard:
		if c.RemoteAccess.Seed == "" {
			errs = multierr.Append(errs, fmt.Errorf("remote_access.seed is required for %s", ProviderWireGuard))
		}
	default:
		errs = multierr.Append(errs, fmt.Errorf("remote_access.provider: unknown provider %q", c.RemoteAccess.Provider))
	}
	if c.RemoteAccess.BridgeOffset < 0 {
		errs = multierr.Append(errs, fmt.Errorf("remote_access.bridge_offset: %d is negative", c.RemoteAccess.BridgeOffset))
	}
	if c.Output.Timeout < 0 {
		errs = multierr.Append(errs, fmt.Errorf("output.timeout: %s is negative", c.Output.Timeout.Duration()))
	}
	if errs != nil {
		return fmt.Errorf("invalid config: %w", errs)
	}
	return nil
}

// ServicePrefix returns the parsed service network prefix
func (c *Config) ServicePrefix() (netip.Prefix, error) {
	prefix, err := netip.ParsePrefix(c.ServiceNetwork)
	if err != nil {
		return netip.Prefix{}, fmt.Errorf("service_network: %w", err)
	}
	return prefix.Masked(), nil
}

// Provider builds the configured remote access provider. Every call returns
// a new provider, so networks sharing one must share the returned value.
func (c *Config) Provider() (topology.RemoteAccessProvider, error) {
	ra := c.RemoteAccess
	switch ra.Provider {
	case ProviderSoftEther:
		p := raps.NewSoftEther()
		if ra.Username != "" {
			p.Username = ra.Username
		}
		p.BridgeOffset = ra.BridgeOffset
		return p, nil
	case ProviderWireGuard:
		if ra.Seed == "" {
			return nil, fmt.Errorf("remote_access.seed is required for %s", ProviderWireGuard)
		}
		p := raps.NewWireGuard(ra.Seed)
		p.BridgeOffset = ra.BridgeOffset
		return p, nil
	}
	return nil, fmt.Errorf("remote_access.provider: unknown provider %q", ra.Provider)
}

// Summary returns a human-readable config summary
func (c *Config) Summary() string {
	summary := fmt.Sprintf("Compiler: %s, Output: %s (override %v)\n", c.Compiler, c.Output.Dir, c.Output.Override)
	summary += fmt.Sprintf("Service network: %s, Store: %s\n", c.ServiceNetwork, c.Store.Path)
	summary += fmt.Sprintf("Remote access: %s, Log: %s", c.RemoteAccess.Provider, c.Log.Level)
	if c.Log.Development {
		summary += " (development)"
	}
	return summary
}

func isTOML(path string) bool {
	return filepath.Ext(path) == ".toml"
}
