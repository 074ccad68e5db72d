// Package index holds the read-only, in-memory view of repository catalogs.
//
// Each configured repository publishes a JSON index document. Sync stores a
// verified copy under the profile's repositories directory; Load turns those
// copies into an Index whose records never change for the life of the value.
package index

import (
	"fmt"
	"strings"

	digest "github.com/opencontainers/go-digest"
)

// ArtifactKind is the closed set of artifact types portabin can install.
type ArtifactKind int

const (
	KindRawBinary ArtifactKind = iota + 1
	KindAppImage
)

// String returns the index document spelling of the kind.
func (k ArtifactKind) String() string {
	switch k {
	case KindRawBinary:
		return "binary"
	case KindAppImage:
		return "appimage"
	default:
		return "unknown"
	}
}

// ParseKind parses the index document spelling of a kind.
func ParseKind(s string) (ArtifactKind, error) {
	switch strings.ToLower(s) {
	case "binary":
		return KindRawBinary, nil
	case "appimage":
		return KindAppImage, nil
	default:
		return 0, fmt.Errorf("unknown artifact kind %q", s)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (k ArtifactKind) MarshalText() ([]byte, error) {
	if k != KindRawBinary && k != KindAppImage {
		return nil, fmt.Errorf("unknown artifact kind %d", int(k))
	}
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *ArtifactKind) UnmarshalText(text []byte) error {
	parsed, err := ParseKind(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// PackageRecord is one installable artifact as published by a repository.
type PackageRecord struct {
	Name        string
	Provider    string
	Family      string
	Version     string
	Kind        ArtifactKind
	DownloadURL string
	Size        int64
	Checksum    digest.Digest

	// Bundled metadata, not used for resolution.
	Description string
	Icon        string

	// Repository is the configured name of the source repository and
	// RepoOrder its position in the configuration.
	Repository string
	RepoOrder  int
}

// PackageID returns the version-independent identity "name#family:provider".
func (r PackageRecord) PackageID() string {
	return MakePackageID(r.Name, r.Family, r.Provider)
}

// MakePackageID builds a package identifier from its parts.
func MakePackageID(name, family, provider string) string {
	return name + "#" + family + ":" + provider
}

// String formats the record as a fully qualified specifier.
func (r PackageRecord) String() string {
	return fmt.Sprintf("%s@%s#%s:%s", r.Name, r.Version, r.Family, r.Provider)
}

// SafePathComponent reports whether s can be joined under a directory as a
// single visible entry: not empty, not starting with a dot, and free of
// path separators.
func SafePathComponent(s string) bool {
	if s == "" || s[0] == '.' {
		return false
	}
	return !strings.ContainsAny(s, "/\\\x00")
}

// FileName is the on-disk name of the installed artifact.
func (r PackageRecord) FileName() string {
	return r.Name
}

type recordKey struct {
	name, provider, family, version string
}

func (r PackageRecord) key() recordKey {
	return recordKey{r.Name, r.Provider, r.Family, r.Version}
}
