package config

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/ZebulonRouseFrantzich/portabin/internal/platform"
	lua "github.com/yuin/gopher-lua"
)

// Parser represents a Lua config parser with platform detection.
type Parser struct {
	detector platform.Detector
}

// NewParser creates a new config parser with the given platform detector.
func NewParser(detector platform.Detector) *Parser {
	return &Parser{detector: detector}
}

// ParseString parses a Lua config from a string.
func (p *Parser) ParseString(ctx context.Context, luaCode string) (*Config, error) {
	L := newSandboxedVM()
	defer L.Close()
	L.SetContext(ctx)

	if p.detector != nil {
		info, err := p.detector.Detect(ctx)
		if err != nil {
			return nil, fmt.Errorf("platform detection failed: %w", err)
		}
		if err := platform.InjectPlatformTable(L, info); err != nil {
			return nil, fmt.Errorf("inject platform table: %w", err)
		}
	}

	if err := L.DoString(luaCode); err != nil {
		return nil, &ParseError{
			Message: "Lua error",
			Detail:  err.Error(),
		}
	}

	cfg, err := extractConfig(L)
	if err != nil {
		return nil, err
	}
	if err := finalize(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ParseError represents a config parsing error with friendly message.
type ParseError struct {
	Message string // User-friendly message
	Detail  string // Technical details (raw Lua or TOML error)
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s: %s", e.Message, e.Detail)
}

// extractConfig reads the global "portabin" table.
func extractConfig(L *lua.LState) (*Config, error) {
	root := L.GetGlobal(luaGlobal)
	if root.Type() != lua.LTTable {
		return nil, &ParseError{
			Message: fmt.Sprintf("missing or invalid '%s' table", luaGlobal),
			Detail:  fmt.Sprintf("expected table, got %s", root.Type()),
		}
	}
	table := root.(*lua.LTable)

	cfg := &Config{}
	var err error
	if cfg.Profile, err = optString(table, luaFieldProfile, luaFieldProfile); err != nil {
		return nil, err
	}
	if cfg.LogLevel, err = optString(table, luaFieldLogLevel, luaFieldLogLevel); err != nil {
		return nil, err
	}
	if v := table.RawGetString(luaFieldConcurrency); v != lua.LNil {
		n, ok := v.(lua.LNumber)
		if !ok {
			return nil, typeError(luaFieldConcurrency, "number", v)
		}
		cfg.Concurrency = int(n)
	}

	if v := table.RawGetString(luaFieldProfiles); v != lua.LNil {
		t, ok := v.(*lua.LTable)
		if !ok {
			return nil, typeError(luaFieldProfiles, "table", v)
		}
		if cfg.Profiles, err = extractProfiles(t); err != nil {
			return nil, err
		}
	}

	if v := table.RawGetString(luaFieldRepos); v != lua.LNil {
		t, ok := v.(*lua.LTable)
		if !ok {
			return nil, typeError(luaFieldRepos, "table", v)
		}
		if cfg.Repositories, err = extractRepositories(t); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

// extractProfiles reads a name -> profile table.
func extractProfiles(table *lua.LTable) (map[string]Profile, error) {
	profiles := make(map[string]Profile)
	var firstErr error
	table.ForEach(func(key, value lua.LValue) {
		if firstErr != nil {
			return
		}
		name, ok := key.(lua.LString)
		if !ok {
			firstErr = &ParseError{Message: "invalid profiles table", Detail: "profile keys must be strings"}
			return
		}
		field := luaFieldProfiles + "." + string(name)
		t, ok := value.(*lua.LTable)
		if !ok {
			firstErr = typeError(field, "table", value)
			return
		}
		var p Profile
		var err error
		if p.Root, err = optString(t, luaFieldRoot, field+"."+luaFieldRoot); err != nil {
			firstErr = err
			return
		}
		if p.DefaultProvider, err = optString(t, luaFieldDefaultProv, field+"."+luaFieldDefaultProv); err != nil {
			firstErr = err
			return
		}
		if p.BinDir, err = optString(t, luaFieldBinDir, field+"."+luaFieldBinDir); err != nil {
			firstErr = err
			return
		}
		if p.CacheDir, err = optString(t, luaFieldCacheDir, field+"."+luaFieldCacheDir); err != nil {
			firstErr = err
			return
		}
		profiles[string(name)] = p
	})
	if firstErr != nil {
		return nil, firstErr
	}
	return profiles, nil
}

// extractRepositories reads the repositories array. Entries that evaluate to
// nil (platform conditionals) are skipped; configured order is preserved.
func extractRepositories(table *lua.LTable) ([]Repository, error) {
	// Holes left by nil entries may push later entries out of the array
	// part, so collect integer keys and sort them.
	var indexes []int
	table.ForEach(func(key, value lua.LValue) {
		if n, ok := key.(lua.LNumber); ok && value != lua.LNil {
			indexes = append(indexes, int(n))
		}
	})
	sort.Ints(indexes)

	var repos []Repository
	for _, i := range indexes {
		value := table.RawGetInt(i)
		field := fmt.Sprintf("%s[%d]", luaFieldRepos, i)
		t, ok := value.(*lua.LTable)
		if !ok {
			return nil, typeError(field, "table", value)
		}
		repo := Repository{Enabled: true}
		var err error
		if repo.Name, err = optString(t, luaFieldName, field+"."+luaFieldName); err != nil {
			return nil, err
		}
		if repo.URL, err = optString(t, luaFieldURL, field+"."+luaFieldURL); err != nil {
			return nil, err
		}
		if repo.PubKey, err = optString(t, luaFieldPubKey, field+"."+luaFieldPubKey); err != nil {
			return nil, err
		}
		if v := t.RawGetString(luaFieldEnabled); v != lua.LNil {
			b, ok := v.(lua.LBool)
			if !ok {
				return nil, typeError(field+"."+luaFieldEnabled, "boolean", v)
			}
			repo.Enabled = bool(b)
		}
		repos = append(repos, repo)
	}
	return repos, nil
}

func optString(t *lua.LTable, key, field string) (string, error) {
	v := t.RawGetString(key)
	if v == lua.LNil {
		return "", nil
	}
	s, ok := v.(lua.LString)
	if !ok {
		return "", typeError(field, "string", v)
	}
	return string(s), nil
}

func typeError(field, want string, got lua.LValue) error {
	return &ParseError{
		Message: fmt.Sprintf("invalid value for '%s'", field),
		Detail:  fmt.Sprintf("expected %s, got %s", want, got.Type()),
	}
}

// finalize fills omitted fields and validates.
func finalize(cfg *Config) error {
	if len(cfg.Profiles) == 0 {
		cfg.Profiles = map[string]Profile{DefaultProfileName: {Root: DefaultRoot()}}
	}
	if err := cfg.Validate(); err != nil {
		return &ParseError{
			Message: "config validation failed",
			Detail:  err.Error(),
		}
	}
	return nil
}

// FormatError formats a ParseError for user display.
// In verbose mode, show the raw error. Otherwise, show friendly message.
func FormatError(err error, verbose bool) string {
	var parseErr *ParseError
	if errors.As(err, &parseErr) {
		if verbose {
			return fmt.Sprintf("%s\n\nDetails:\n%s", parseErr.Message, parseErr.Detail)
		}
		detail := parseErr.Detail
		if idx := strings.Index(detail, "stack traceback"); idx > 0 {
			detail = strings.TrimSpace(detail[:idx])
		}
		return fmt.Sprintf("%s: %s", parseErr.Message, detail)
	}
	return err.Error()
}
