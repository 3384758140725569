package config

import (
	"os"
	"path/filepath"
)

const (
	// EnvConfigPath names an explicit config file
	EnvConfigPath = "SEEDEMU_CONFIG"
	// ConfigFileName is looked up in the working directory
	ConfigFileName = "seedemu.yaml"
	// TOMLConfigFileName is the TOML alternative to ConfigFileName
	TOMLConfigFileName = "seedemu.toml"
	// ConfigDirName is the directory under the user and system config roots
	ConfigDirName = "seedemu"

	dirConfigFile = "config.yaml"
	systemRoot    = "/etc"
)

// SearchPaths lists the config file candidates in priority order. Entries
// whose environment variable is unset are left out.
func SearchPaths() []string {
	var paths []string
	if p := os.Getenv(EnvConfigPath); p != "" {
		paths = append(paths, p)
	}
	for _, name := range []string{ConfigFileName, TOMLConfigFileName} {
		if abs, err := filepath.Abs(name); err == nil {
			name = abs
		}
		paths = append(paths, name)
	}
	return append(paths, userConfigPaths()...)
}

// FindConfigPath returns the first candidate of SearchPaths that is a
// regular file, or "" if there is none
func FindConfigPath() string {
	for _, p := range SearchPaths() {
		if isFile(p) {
			return p
		}
	}
	return ""
}

// DefaultConfigPath is where `config init` writes without an explicit path:
// the user config directory, or the working directory without one
func DefaultConfigPath() string {
	if user := userConfigPaths(); len(user) > 1 {
		return user[0]
	}
	return ConfigFileName
}

// EnsureConfigDir creates the directory that will hold configPath
func EnsureConfigDir(configPath string) error {
	return os.MkdirAll(filepath.Dir(configPath), 0o755)
}

// userConfigPaths returns the XDG and home candidates followed by the system
// one
func userConfigPaths() []string {
	var paths []string
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		paths = append(paths, filepath.Join(xdg, ConfigDirName, dirConfigFile))
	}
	if home := os.Getenv("HOME"); home != "" {
		paths = append(paths, filepath.Join(home, ".config", ConfigDirName, dirConfigFile))
	}
	return append(paths, filepath.Join(systemRoot, ConfigDirName, dirConfigFile))
}

func isFile(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
