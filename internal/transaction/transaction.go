// Package transaction executes install, upgrade and remove plans as atomic
// units spanning the filesystem, the state store and the bin links.
//
// A Transaction moves through Planned, Staging, Verified, Committing and
// Committed. Any failure before Committing aborts with nothing changed; a
// failure inside Committing is compensated before it is reported. The only
// file a transaction leaves behind after a crash is its staging manifest,
// which Reconcile uses to roll the interrupted commit forward or back.
package transaction

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ZebulonRouseFrantzich/portabin/internal/index"
	"github.com/ZebulonRouseFrantzich/portabin/internal/store"
	"github.com/google/uuid"
)

// State is the lifecycle position of a transaction.
type State string

const (
	StatePlanned    State = "planned"
	StateStaging    State = "staging"
	StateVerified   State = "verified"
	StateCommitting State = "committing"
	StateCommitted  State = "committed"
	StateAborted    State = "aborted"
)

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == StateCommitted || s == StateAborted
}

// ChangeKind is the closed set of changes a transaction can carry.
type ChangeKind string

const (
	ChangeInstall ChangeKind = "install"
	ChangeUpgrade ChangeKind = "upgrade"
	ChangeRemove  ChangeKind = "remove"
)

// Origin records who asked for a change. Pinned packages refuse changes
// that originate from a sync.
type Origin int

const (
	OriginExplicit Origin = iota
	OriginSync
)

// Change is one element of a plan.
type Change struct {
	Kind ChangeKind
	// Record is the new artifact for Install and Upgrade.
	Record *index.PackageRecord
	// Installed is the current store row for Upgrade and Remove.
	Installed *store.InstalledPackage
	Origin    Origin
	// Portable requests portable data directories for AppImages.
	Portable bool
}

// PackageID returns the identity the change applies to.
func (c Change) PackageID() string {
	if c.Record != nil {
		return c.Record.PackageID()
	}
	if c.Installed != nil {
		return c.Installed.PackageID
	}
	return ""
}

// String describes the change for humans.
func (c Change) String() string {
	switch c.Kind {
	case ChangeInstall:
		return fmt.Sprintf("install %s", c.Record)
	case ChangeUpgrade:
		return fmt.Sprintf("upgrade %s %s -> %s", c.Installed.PackageID, c.Installed.Version, c.Record.Version)
	case ChangeRemove:
		return fmt.Sprintf("remove %s@%s", c.Installed.PackageID, c.Installed.Version)
	default:
		return string(c.Kind)
	}
}

// Transaction is an in-memory plan and its progress.
type Transaction struct {
	ID        string
	State     State
	CreatedAt time.Time
	Changes   []Change
	// Skipped lists specifiers that planned as no-ops.
	Skipped []string
}

// New creates a Planned transaction over changes.
func New(changes ...Change) *Transaction {
	return &Transaction{
		ID:        uuid.New().String(),
		State:     StatePlanned,
		CreatedAt: time.Now().UTC(),
		Changes:   changes,
	}
}

// Add appends a change to a Planned transaction.
func (t *Transaction) Add(c Change) {
	t.Changes = append(t.Changes, c)
}

// Empty reports whether there is nothing to execute.
func (t *Transaction) Empty() bool {
	return len(t.Changes) == 0
}

// Validate checks that every change is well formed and that no package is
// changed twice.
func (t *Transaction) Validate() error {
	seen := make(map[string]bool, len(t.Changes))
	for i, c := range t.Changes {
		switch c.Kind {
		case ChangeInstall:
			if c.Record == nil {
				return fmt.Errorf("change %d: install without a record", i)
			}
		case ChangeUpgrade:
			if c.Record == nil || c.Installed == nil {
				return fmt.Errorf("change %d: upgrade needs old and new", i)
			}
			if c.Record.PackageID() != c.Installed.PackageID {
				return fmt.Errorf("change %d: upgrade crosses package ids", i)
			}
		case ChangeRemove:
			if c.Installed == nil {
				return fmt.Errorf("change %d: remove without an installed record", i)
			}
		default:
			return fmt.Errorf("change %d: unknown kind %q", i, c.Kind)
		}
		if c.Record != nil && !index.SafePathComponent(c.Record.Version) {
			return fmt.Errorf("change %d: version %q cannot name an install directory", i, c.Record.Version)
		}
		id := c.PackageID()
		if seen[id] {
			return fmt.Errorf("package %s appears twice in one transaction", id)
		}
		seen[id] = true
	}
	return nil
}

// ManifestFile is the name of the staging manifest inside a transaction's
// staging directory.
const ManifestFile = "txn.json"

// Manifest is the on-disk crash-recovery record of a transaction.
type Manifest struct {
	Version   int             `json:"version"`
	ID        string          `json:"id"`
	State     State           `json:"state"`
	Timestamp time.Time       `json:"timestamp"`
	Entries   []ManifestEntry `json:"entries"`
}

// ManifestEntry records what a commit does to one package.
type ManifestEntry struct {
	Kind      ChangeKind `json:"kind"`
	PackageID string     `json:"package_id"`
	// Package is the row an Install or Upgrade writes.
	Package *store.InstalledPackage `json:"package,omitempty"`
	// Retired lists version directories deleted once the commit lands.
	Retired []string `json:"retired,omitempty"`
}

// Save writes the manifest to dir atomically.
// Uses write-then-rename pattern for atomicity.
func (m *Manifest) Save(dir string) error {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create transaction directory: %w", err)
	}

	finalPath := filepath.Join(dir, ManifestFile)
	tmpPath := finalPath + ".tmp"

	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal transaction: %w", err)
	}

	f, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("write temporary transaction file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write temporary transaction file: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("sync temporary transaction file: %w", err)
	}
	f.Close()

	if err := os.Rename(tmpPath, finalPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename transaction file: %w", err)
	}

	return syncDir(dir)
}

// LoadManifest reads the manifest in dir.
func LoadManifest(dir string) (*Manifest, error) {
	data, err := os.ReadFile(filepath.Join(dir, ManifestFile))
	if err != nil {
		return nil, fmt.Errorf("read transaction file: %w", err)
	}

	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("unmarshal transaction: %w", err)
	}
	return &m, nil
}

// Installs returns the rows the manifest writes, keyed by package ID.
func (m *Manifest) Installs() map[string]*store.InstalledPackage {
	out := make(map[string]*store.InstalledPackage)
	for _, e := range m.Entries {
		if e.Package != nil {
			out[e.PackageID] = e.Package
		}
	}
	return out
}

// Removes returns the package IDs the manifest deletes.
func (m *Manifest) Removes() map[string]bool {
	out := make(map[string]bool)
	for _, e := range m.Entries {
		if e.Kind == ChangeRemove {
			out[e.PackageID] = true
		}
	}
	return out
}

// RetiredDirs returns every version directory the manifest retires.
func (m *Manifest) RetiredDirs() map[string]bool {
	out := make(map[string]bool)
	for _, e := range m.Entries {
		for _, dir := range e.Retired {
			out[filepath.Clean(dir)] = true
		}
	}
	return out
}

func syncDir(dir string) error {
	df, err := os.Open(dir)
	if err != nil {
		return nil
	}
	defer df.Close()
	if err := df.Sync(); err != nil {
		return fmt.Errorf("sync directory: %w", err)
	}
	return nil
}
