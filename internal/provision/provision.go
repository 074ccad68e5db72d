// Package provision exposes installed artifacts through stable symlinks in
// the profile's bin directory.
//
// Every provisioned binary gets exactly one link, bin/<name>, pointing at
// the artifact inside packages/<package_id>/<version>/. Links are replaced
// atomically, so a concurrent exec sees either the old or the new target.
package provision

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ZebulonRouseFrantzich/portabin/internal/index"
	"github.com/ZebulonRouseFrantzich/portabin/internal/logging"
	"github.com/ZebulonRouseFrantzich/portabin/internal/store"
	"golang.org/x/sys/unix"
)

var (
	// ErrForeignLink is returned when bin/<name> exists but is not owned by
	// the package being changed.
	ErrForeignLink = errors.New("link is not owned by this package")

	// ErrNotLink is returned when bin/<name> exists and is not a symlink.
	ErrNotLink = errors.New("bin entry is not a symlink")
)

// Target is an installed artifact that can be exposed in bin/.
type Target struct {
	Name      string
	PackageID string
	Kind      index.ArtifactKind
	// Path is the artifact inside packages/<package_id>/<version>/.
	Path     string
	Portable bool
}

// TargetFor builds the Target of an installed package.
func TargetFor(pkg *store.InstalledPackage) Target {
	return Target{
		Name:      pkg.Name,
		PackageID: pkg.PackageID,
		Kind:      pkg.Kind,
		Path:      pkg.InstallPath,
		Portable:  pkg.Portable,
	}
}

// Provisioner manages the links in one bin directory.
type Provisioner struct {
	binDir      string
	packagesDir string
	logger      logging.Logger
}

// New creates a Provisioner for binDir whose artifacts live under
// packagesDir.
func New(binDir, packagesDir string, logger logging.Logger) *Provisioner {
	return &Provisioner{
		binDir:      binDir,
		packagesDir: packagesDir,
		logger:      logging.OrNoop(logger),
	}
}

// BinDir returns the managed bin directory.
func (p *Provisioner) BinDir() string {
	return p.binDir
}

// LinkPath returns bin/<name>.
func (p *Provisioner) LinkPath(name string) string {
	return filepath.Join(p.binDir, name)
}

// PackageDir returns packages/<package_id>.
func (p *Provisioner) PackageDir(packageID string) string {
	return filepath.Join(p.packagesDir, packageID)
}

// Current returns the target of bin/<name>, or "" when no link exists.
func (p *Provisioner) Current(name string) (string, error) {
	dest, err := os.Readlink(p.LinkPath(name))
	if errors.Is(err, fs.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		if errors.Is(err, unix.EINVAL) {
			return "", fmt.Errorf("%w: %s", ErrNotLink, p.LinkPath(name))
		}
		return "", fmt.Errorf("read link %s: %w", name, err)
	}
	return dest, nil
}

// Provision runs the kind-specific preparation of t and points bin/<name>
// at it. It returns the previous link target ("" when there was none) so
// the caller can undo the change with Restore.
func (p *Provisioner) Provision(t Target) (string, error) {
	if err := Prepare(t); err != nil {
		return "", err
	}

	previous, err := p.Current(t.Name)
	if err != nil {
		return "", err
	}
	if previous == t.Path {
		return previous, nil
	}

	if err := p.link(t.Name, t.Path); err != nil {
		return "", err
	}
	p.logger.Debug("provisioned", "name", t.Name, "target", t.Path)
	return previous, nil
}

// Restore puts bin/<name> back to previous, removing the link when
// previous is empty.
func (p *Provisioner) Restore(name, previous string) error {
	if previous == "" {
		if err := os.Remove(p.LinkPath(name)); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("remove link %s: %w", name, err)
		}
		return nil
	}
	return p.link(name, previous)
}

// Deprovision removes bin/<name> when it points into the package directory
// of t. A missing link is not an error; a link owned by another package is
// left alone and reported as ErrForeignLink. It returns the removed target.
func (p *Provisioner) Deprovision(t Target) (string, error) {
	current, err := p.Current(t.Name)
	if err != nil {
		return "", err
	}
	if current == "" {
		return "", nil
	}
	if !within(current, p.PackageDir(t.PackageID)) {
		return "", fmt.Errorf("%w: %s -> %s", ErrForeignLink, p.LinkPath(t.Name), current)
	}
	if err := os.Remove(p.LinkPath(t.Name)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return "", fmt.Errorf("remove link %s: %w", t.Name, err)
	}
	p.logger.Debug("deprovisioned", "name", t.Name)
	return current, nil
}

// Use points bin/<name> at t, which must already be installed.
func (p *Provisioner) Use(t Target) error {
	if _, err := os.Stat(t.Path); err != nil {
		return fmt.Errorf("use %s: %w", t.PackageID, err)
	}
	_, err := p.Provision(t)
	return err
}

// Links returns every symlink in bin/ keyed by name.
func (p *Provisioner) Links() (map[string]string, error) {
	entries, err := os.ReadDir(p.binDir)
	if errors.Is(err, fs.ErrNotExist) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read bin dir: %w", err)
	}

	links := make(map[string]string, len(entries))
	for _, e := range entries {
		if e.Type()&fs.ModeSymlink == 0 || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		dest, err := os.Readlink(filepath.Join(p.binDir, e.Name()))
		if err != nil {
			continue
		}
		links[e.Name()] = dest
	}
	return links, nil
}

// BrokenLinks lists the names of links in bin/ whose target is missing.
func (p *Provisioner) BrokenLinks() ([]string, error) {
	links, err := p.Links()
	if err != nil {
		return nil, err
	}

	var broken []string
	for name, dest := range links {
		if !filepath.IsAbs(dest) {
			dest = filepath.Join(p.binDir, dest)
		}
		if _, err := os.Stat(dest); errors.Is(err, fs.ErrNotExist) {
			broken = append(broken, name)
		}
	}
	sort.Strings(broken)
	return broken, nil
}

// RemoveBrokenLinks deletes every dangling link and returns their names.
func (p *Provisioner) RemoveBrokenLinks() ([]string, error) {
	broken, err := p.BrokenLinks()
	if err != nil {
		return nil, err
	}
	for _, name := range broken {
		if err := os.Remove(p.LinkPath(name)); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("remove broken link %s: %w", name, err)
		}
		p.logger.Info("removed broken link", "name", name)
	}
	return broken, nil
}

// link atomically points bin/<name> at dest via a temporary sibling link.
func (p *Provisioner) link(name, dest string) error {
	if err := os.MkdirAll(p.binDir, 0o755); err != nil {
		return fmt.Errorf("create bin dir: %w", err)
	}

	final := p.LinkPath(name)
	if info, err := os.Lstat(final); err == nil && info.Mode()&fs.ModeSymlink == 0 {
		return fmt.Errorf("%w: %s", ErrNotLink, final)
	}

	suffix, err := randomSuffix()
	if err != nil {
		return err
	}
	tmp := filepath.Join(p.binDir, "."+name+"."+suffix)
	if err := os.Symlink(dest, tmp); err != nil {
		return fmt.Errorf("create symlink: %w", err)
	}
	if err := os.Rename(tmp, final); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replace symlink %s: %w", name, err)
	}
	return syncDir(p.binDir)
}

func randomSuffix() (string, error) {
	var b [6]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", fmt.Errorf("generate link suffix: %w", err)
	}
	return hex.EncodeToString(b[:]), nil
}

func within(path, dir string) bool {
	rel, err := filepath.Rel(filepath.Clean(dir), filepath.Clean(path))
	if err != nil {
		return false
	}
	return rel != "." && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
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
