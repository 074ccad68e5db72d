package config

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/ZebulonRouseFrantzich/portabin/internal/platform"
)

// Config file names searched in the config directory, in order.
const (
	LuaFileName  = "config.lua"
	TOMLFileName = "config.toml"
)

// DefaultRoot returns $XDG_DATA_HOME/portabin, or ~/.local/share/portabin.
func DefaultRoot() string {
	if dir := os.Getenv("XDG_DATA_HOME"); dir != "" {
		return filepath.Join(dir, "portabin")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "portabin")
	}
	return filepath.Join(home, ".local", "share", "portabin")
}

// DefaultDir returns $XDG_CONFIG_HOME/portabin, or ~/.config/portabin.
func DefaultDir() string {
	if dir := os.Getenv("XDG_CONFIG_HOME"); dir != "" {
		return filepath.Join(dir, "portabin")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "portabin-config")
	}
	return filepath.Join(home, ".config", "portabin")
}

// Default returns the configuration used when no config file exists: a
// single default profile and no repositories.
func Default() *Config {
	return &Config{
		Profiles: map[string]Profile{
			DefaultProfileName: {Root: DefaultRoot()},
		},
	}
}

// FindFile returns the config file in dir, preferring config.lua. It returns
// an empty string when neither exists.
func FindFile(dir string) string {
	for _, name := range []string{LuaFileName, TOMLFileName} {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// Load reads the config at path. An empty path searches DefaultDir; a missing
// file yields Default. The format is chosen by extension.
func Load(ctx context.Context, path string, detector platform.Detector) (*Config, error) {
	if path == "" {
		path = FindFile(DefaultDir())
		if path == "" {
			return Default(), nil
		}
	}

	data, err := os.ReadFile(ExpandPath(path))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Default(), nil
		}
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".lua":
		return NewParser(detector).ParseString(ctx, string(data))
	case ".toml":
		return ParseTOML(data)
	default:
		return nil, fmt.Errorf("unsupported config format %q (want .lua or .toml)", filepath.Ext(path))
	}
}
