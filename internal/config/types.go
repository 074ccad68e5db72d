// Package config loads portabin's configuration: profiles (where packages
// live and which provider is preferred), repositories, and engine settings.
//
// The primary format is a sandboxed Lua file (config.lua) evaluated with
// gopher-lua and a read-only platform table; config.toml is accepted as an
// alternative. Both produce the same Config value, which is passed explicitly
// to every component that needs it.
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
)

// Config is the complete portabin configuration.
type Config struct {
	// Profile names the profile used when the caller does not pick one.
	Profile string `toml:"profile"`

	// Concurrency bounds parallel downloads. Zero derives it from the CPU count.
	Concurrency int `toml:"concurrency"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `toml:"log_level"`

	Profiles     map[string]Profile `toml:"profiles"`
	Repositories []Repository       `toml:"repositories"`
}

// Profile describes one installation root.
type Profile struct {
	// Root holds the database, packages and caches. Supports ~ and $VARS.
	Root string `toml:"root"`

	// DefaultProvider is preferred by the resolver when a specifier does not
	// name a provider.
	DefaultProvider string `toml:"default_provider"`

	// BinDir overrides <root>/bin.
	BinDir string `toml:"bin_dir"`

	// CacheDir overrides <root>/cache.
	CacheDir string `toml:"cache_dir"`
}

// Repository is a remote package index.
type Repository struct {
	Name string `toml:"name"`

	// URL of the index document; "{arch}" is replaced with the host arch.
	URL string `toml:"url"`

	// PubKey is an optional path to an OpenPGP public key used to check the
	// index's detached signature.
	PubKey string `toml:"pubkey"`

	Enabled bool `toml:"enabled"`
}

// ResolvedURL returns the index URL for the given architecture.
func (r Repository) ResolvedURL(arch string) string {
	return strings.ReplaceAll(r.URL, ArchPlaceholder, arch)
}

// Paths are the filesystem locations derived from a profile.
type Paths struct {
	Root         string
	DB           string
	Packages     string
	Bin          string
	Cache        string
	Staging      string
	Repositories string
	Lock         string
}

// Paths derives the profile's directory layout.
func (p Profile) Paths() Paths {
	root := ExpandPath(p.Root)
	bin := filepath.Join(root, "bin")
	if p.BinDir != "" {
		bin = ExpandPath(p.BinDir)
	}
	cache := filepath.Join(root, "cache")
	if p.CacheDir != "" {
		cache = ExpandPath(p.CacheDir)
	}
	return Paths{
		Root:         root,
		DB:           filepath.Join(root, "db", "installed.db"),
		Packages:     filepath.Join(root, "packages"),
		Bin:          bin,
		Cache:        cache,
		Staging:      filepath.Join(cache, "staging"),
		Repositories: filepath.Join(root, "repositories"),
		Lock:         filepath.Join(root, "portabin.lock"),
	}
}

// SelectProfile returns the profile named by override, else by c.Profile,
// else DefaultProfileName.
func (c *Config) SelectProfile(override string) (string, Profile, error) {
	name := override
	if name == "" {
		name = c.Profile
	}
	if name == "" {
		name = DefaultProfileName
	}
	p, ok := c.Profiles[name]
	if !ok {
		return "", Profile{}, &ValidationError{
			Field:   "profile",
			Message: fmt.Sprintf("profile %q is not defined (available: %s)", name, strings.Join(c.ProfileNames(), ", ")),
		}
	}
	return name, p, nil
}

// ProfileNames returns the configured profile names in sorted order.
func (c *Config) ProfileNames() []string {
	names := make([]string, 0, len(c.Profiles))
	for name := range c.Profiles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// EnabledRepositories returns enabled repositories in configured order.
func (c *Config) EnabledRepositories() []Repository {
	var repos []Repository
	for _, r := range c.Repositories {
		if r.Enabled {
			repos = append(repos, r)
		}
	}
	return repos
}

// Validate checks the configuration for structural errors.
func (c *Config) Validate() error {
	if c.Concurrency < 0 || c.Concurrency > MaxConcurrency {
		return &ValidationError{
			Field:   "concurrency",
			Message: fmt.Sprintf("must be between 0 and %d, got %d", MaxConcurrency, c.Concurrency),
		}
	}

	switch c.LogLevel {
	case "", "debug", "info", "warn", "error":
	default:
		return &ValidationError{Field: "log_level", Message: fmt.Sprintf("unknown level %q", c.LogLevel)}
	}

	if len(c.Profiles) == 0 {
		return &ValidationError{Field: "profiles", Message: "at least one profile is required"}
	}
	for _, name := range c.ProfileNames() {
		if !identPattern.MatchString(name) {
			return &ValidationError{Field: "profiles", Message: fmt.Sprintf("invalid profile name %q", name)}
		}
		if strings.TrimSpace(c.Profiles[name].Root) == "" {
			return &ValidationError{Field: "profiles." + name + ".root", Message: "root cannot be empty"}
		}
	}
	if c.Profile != "" {
		if _, ok := c.Profiles[c.Profile]; !ok {
			return &ValidationError{Field: "profile", Message: fmt.Sprintf("profile %q is not defined", c.Profile)}
		}
	}

	if len(c.Repositories) > MaxRepositories {
		return &ValidationError{
			Field:   "repositories",
			Message: fmt.Sprintf("too many repositories (%d), maximum is %d", len(c.Repositories), MaxRepositories),
		}
	}
	seen := make(map[string]bool, len(c.Repositories))
	for i, r := range c.Repositories {
		field := fmt.Sprintf("repositories[%d]", i)
		if !identPattern.MatchString(r.Name) {
			return &ValidationError{Field: field + ".name", Message: fmt.Sprintf("invalid repository name %q", r.Name)}
		}
		if seen[r.Name] {
			return &ValidationError{Field: field + ".name", Message: fmt.Sprintf("duplicate repository %q", r.Name)}
		}
		seen[r.Name] = true
		if err := validateRepositoryURL(r.URL); err != nil {
			return &ValidationError{Field: field + ".url", Message: err.Error()}
		}
	}

	return nil
}

// ValidationError represents a config validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return "config validation failed for " + e.Field + ": " + e.Message
	}
	return "config validation failed: " + e.Message
}

var identPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,63}$`)

func validateRepositoryURL(raw string) error {
	if raw == "" {
		return fmt.Errorf("url cannot be empty")
	}
	u, err := url.Parse(strings.ReplaceAll(raw, ArchPlaceholder, "x86_64"))
	if err != nil {
		return fmt.Errorf("invalid url: %w", err)
	}
	switch u.Scheme {
	case "https", "http", "file":
		return nil
	default:
		return fmt.Errorf("url must use https://, http:// or file:// (got %q)", u.Scheme)
	}
}

// ExpandPath expands a leading ~ and environment variables.
func ExpandPath(path string) string {
	path = os.ExpandEnv(path)
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			path = filepath.Join(home, strings.TrimPrefix(path, "~"))
		}
	}
	return filepath.Clean(path)
}
