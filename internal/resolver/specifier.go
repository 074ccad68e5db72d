package resolver

import (
	"fmt"
	"strings"
)

// Specifier is a parsed request of the form name[@version][#family][:provider].
// Empty fields are wildcards.
type Specifier struct {
	Name     string
	Version  string
	Family   string
	Provider string
}

// ParseSpecifier parses a user specifier. Qualifiers must appear in the
// order version, family, provider and may not be empty when their marker
// is present.
// Examples: "jq", "jq@1.7.1", "jq#jq:bincache", "jq:bincache"
func ParseSpecifier(s string) (Specifier, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Specifier{}, fmt.Errorf("empty package specifier")
	}

	var spec Specifier
	rest := s

	if before, after, ok := strings.Cut(rest, ":"); ok {
		if after == "" || strings.ContainsAny(after, "@#:") {
			return Specifier{}, fmt.Errorf("invalid provider in specifier %q", s)
		}
		spec.Provider = after
		rest = before
	}

	if before, after, ok := strings.Cut(rest, "#"); ok {
		if after == "" || strings.ContainsAny(after, "@#") {
			return Specifier{}, fmt.Errorf("invalid family in specifier %q", s)
		}
		spec.Family = after
		rest = before
	}

	if before, after, ok := strings.Cut(rest, "@"); ok {
		if after == "" || strings.Contains(after, "@") {
			return Specifier{}, fmt.Errorf("invalid version in specifier %q", s)
		}
		spec.Version = after
		rest = before
	}

	if rest == "" || strings.ContainsAny(rest, " /\t") {
		return Specifier{}, fmt.Errorf("invalid package name in specifier %q", s)
	}
	spec.Name = rest
	return spec, nil
}

// String formats the specifier back into its textual form.
func (s Specifier) String() string {
	var b strings.Builder
	b.WriteString(s.Name)
	if s.Version != "" {
		b.WriteString("@" + s.Version)
	}
	if s.Family != "" {
		b.WriteString("#" + s.Family)
	}
	if s.Provider != "" {
		b.WriteString(":" + s.Provider)
	}
	return b.String()
}

// Qualified reports whether any qualifier is set.
func (s Specifier) Qualified() bool {
	return s.Version != "" || s.Family != "" || s.Provider != ""
}
