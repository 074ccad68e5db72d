package config

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/pelletier/go-toml/v2"
)

// tomlRepository mirrors Repository with an optional enabled flag so an
// omitted key keeps the repository enabled.
type tomlRepository struct {
	Name    string `toml:"name"`
	URL     string `toml:"url"`
	PubKey  string `toml:"pubkey"`
	Enabled *bool  `toml:"enabled"`
}

type tomlConfig struct {
	Profile      string             `toml:"profile"`
	Concurrency  int                `toml:"concurrency"`
	LogLevel     string             `toml:"log_level"`
	Profiles     map[string]Profile `toml:"profiles"`
	Repositories []tomlRepository   `toml:"repositories"`
}

// ParseTOML parses a config.toml document. Unknown keys are rejected.
func ParseTOML(data []byte) (*Config, error) {
	var raw tomlConfig
	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&raw); err != nil {
		var decErr *toml.DecodeError
		if errors.As(err, &decErr) {
			row, col := decErr.Position()
			return nil, &ParseError{
				Message: "TOML syntax error",
				Detail:  fmt.Sprintf("line %d, column %d: %s", row, col, decErr.Error()),
			}
		}
		return nil, &ParseError{Message: "invalid TOML config", Detail: err.Error()}
	}

	cfg := &Config{
		Profile:     raw.Profile,
		Concurrency: raw.Concurrency,
		LogLevel:    raw.LogLevel,
		Profiles:    raw.Profiles,
	}
	for _, r := range raw.Repositories {
		enabled := true
		if r.Enabled != nil {
			enabled = *r.Enabled
		}
		cfg.Repositories = append(cfg.Repositories, Repository{
			Name:    r.Name,
			URL:     r.URL,
			PubKey:  r.PubKey,
			Enabled: enabled,
		})
	}

	if err := finalize(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// MarshalTOML renders cfg as a TOML document.
func MarshalTOML(cfg *Config) ([]byte, error) {
	return toml.Marshal(cfg)
}
