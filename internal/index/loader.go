package index

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/ZebulonRouseFrantzich/portabin/internal/logging"
	digest "github.com/opencontainers/go-digest"
	"github.com/santhosh-tekuri/jsonschema/v6"
)

//go:embed schema/package.schema.json
var packageSchemaJSON []byte

const packageSchemaURL = "https://portabin.dev/schema/package.json"

var (
	schemaOnce sync.Once
	schema     *jsonschema.Schema
	schemaErr  error
)

// packageSchema compiles the embedded entry schema once.
func packageSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(packageSchemaJSON))
		if err != nil {
			schemaErr = fmt.Errorf("parse package schema: %w", err)
			return
		}
		c := jsonschema.NewCompiler()
		if err := c.AddResource(packageSchemaURL, doc); err != nil {
			schemaErr = fmt.Errorf("add package schema: %w", err)
			return
		}
		schema, schemaErr = c.Compile(packageSchemaURL)
	})
	return schema, schemaErr
}

// document is the wire form of a repository index.
type document struct {
	Repository string            `json:"repository"`
	Packages   []json.RawMessage `json:"packages"`
}

type entry struct {
	Name        string `json:"name"`
	Provider    string `json:"provider"`
	Family      string `json:"family"`
	Version     string `json:"version"`
	Kind        string `json:"kind"`
	DownloadURL string `json:"download_url"`
	Size        int64  `json:"size"`
	Checksum    string `json:"checksum"`
	Description string `json:"description,omitempty"`
	Icon        string `json:"icon,omitempty"`
}

// Snapshot is the parsed content of one repository index.
type Snapshot struct {
	// Repository is the configured repository name, which takes precedence
	// over the name embedded in the document.
	Repository string
	Records    []PackageRecord

	// Skipped counts entries dropped as malformed or duplicate.
	Skipped int
}

// Parse reads an index document for the repository named repo. The document
// must be well-formed JSON; individual entries that fail schema validation or
// duplicate an earlier (name, provider, family, version) are skipped with a
// warning. Records are returned sorted by name, provider, family, version.
func Parse(r io.Reader, repo string, logger logging.Logger) (*Snapshot, error) {
	logger = logging.OrNoop(logger)

	sch, err := packageSchema()
	if err != nil {
		return nil, err
	}

	var doc document
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode index for %s: %w", repo, err)
	}
	if repo == "" {
		repo = doc.Repository
	}

	snap := &Snapshot{Repository: repo}
	seen := make(map[recordKey]bool, len(doc.Packages))
	for i, raw := range doc.Packages {
		rec, err := parseEntry(sch, raw)
		if err != nil {
			logger.Warn("skipping malformed index entry", "repository", repo, "position", i, "error", err)
			snap.Skipped++
			continue
		}
		rec.Repository = repo
		if seen[rec.key()] {
			logger.Warn("skipping duplicate index entry", "repository", repo, "package", rec.String())
			snap.Skipped++
			continue
		}
		seen[rec.key()] = true
		snap.Records = append(snap.Records, rec)
	}

	sort.Slice(snap.Records, func(i, j int) bool {
		a, b := snap.Records[i].key(), snap.Records[j].key()
		if a.name != b.name {
			return a.name < b.name
		}
		if a.provider != b.provider {
			return a.provider < b.provider
		}
		if a.family != b.family {
			return a.family < b.family
		}
		return a.version < b.version
	})

	return snap, nil
}

func parseEntry(sch *jsonschema.Schema, raw json.RawMessage) (PackageRecord, error) {
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return PackageRecord{}, fmt.Errorf("decode entry: %w", err)
	}
	if err := sch.Validate(inst); err != nil {
		return PackageRecord{}, err
	}

	var e entry
	if err := json.Unmarshal(raw, &e); err != nil {
		return PackageRecord{}, fmt.Errorf("decode entry: %w", err)
	}
	for _, f := range [...]struct{ field, value string }{
		{"name", e.Name}, {"family", e.Family}, {"provider", e.Provider}, {"version", e.Version},
	} {
		if !SafePathComponent(f.value) {
			return PackageRecord{}, fmt.Errorf("%s %q is not a valid path component", f.field, f.value)
		}
	}
	kind, err := ParseKind(e.Kind)
	if err != nil {
		return PackageRecord{}, err
	}
	d, err := digest.Parse(e.Checksum)
	if err != nil {
		return PackageRecord{}, fmt.Errorf("checksum: %w", err)
	}

	return PackageRecord{
		Name:        e.Name,
		Provider:    e.Provider,
		Family:      e.Family,
		Version:     e.Version,
		Kind:        kind,
		DownloadURL: e.DownloadURL,
		Size:        e.Size,
		Checksum:    d,
		Description: e.Description,
		Icon:        e.Icon,
	}, nil
}

// Encode writes records as an index document. Used by tests and by tools
// that publish repositories.
func Encode(w io.Writer, repo string, records []PackageRecord) error {
	doc := struct {
		Repository string  `json:"repository"`
		Packages   []entry `json:"packages"`
	}{Repository: repo, Packages: make([]entry, 0, len(records))}
	for _, r := range records {
		doc.Packages = append(doc.Packages, entry{
			Name:        r.Name,
			Provider:    r.Provider,
			Family:      r.Family,
			Version:     r.Version,
			Kind:        r.Kind.String(),
			DownloadURL: r.DownloadURL,
			Size:        r.Size,
			Checksum:    r.Checksum.String(),
			Description: r.Description,
			Icon:        r.Icon,
		})
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(doc)
}
