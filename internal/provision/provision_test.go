package provision

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/ZebulonRouseFrantzich/portabin/internal/index"
	"github.com/ZebulonRouseFrantzich/portabin/internal/testutil"
)

func setup(t *testing.T) (*Provisioner, string) {
	t.Helper()
	root := t.TempDir()
	return New(filepath.Join(root, "bin"), filepath.Join(root, "packages"), nil), root
}

func installArtifact(t *testing.T, p *Provisioner, packageID, version, name string, content []byte) string {
	t.Helper()
	dir := filepath.Join(p.PackageDir(packageID), version)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestProvision_CreatesExecutableLink(t *testing.T) {
	p, _ := setup(t)
	path := installArtifact(t, p, "jq#jq:bincache", "1.7", "jq", testutil.FakeBinary("jq"))

	previous, err := p.Provision(Target{Name: "jq", PackageID: "jq#jq:bincache", Kind: index.KindRawBinary, Path: path})
	if err != nil {
		t.Fatalf("Provision() error = %v", err)
	}
	if previous != "" {
		t.Errorf("previous = %q, want empty", previous)
	}

	dest, err := os.Readlink(p.LinkPath("jq"))
	if err != nil {
		t.Fatalf("Readlink() error = %v", err)
	}
	if dest != path {
		t.Errorf("link -> %q, want %q", dest, path)
	}

	info, _ := os.Stat(path)
	if info.Mode().Perm() != 0o755 {
		t.Errorf("mode = %v, want 0755", info.Mode().Perm())
	}

	entries, _ := os.ReadDir(p.BinDir())
	if len(entries) != 1 {
		t.Errorf("bin dir has %d entries, want 1 (temporary link left behind?)", len(entries))
	}
}

func TestProvision_ReplaceAndRestore(t *testing.T) {
	p, _ := setup(t)
	id := "jq#jq:bincache"
	oldPath := installArtifact(t, p, id, "1.7", "jq", testutil.FakeBinary("jq"))
	newPath := installArtifact(t, p, id, "1.8", "jq", testutil.FakeBinary("jq"))

	if _, err := p.Provision(Target{Name: "jq", PackageID: id, Kind: index.KindRawBinary, Path: oldPath}); err != nil {
		t.Fatal(err)
	}
	previous, err := p.Provision(Target{Name: "jq", PackageID: id, Kind: index.KindRawBinary, Path: newPath})
	if err != nil {
		t.Fatalf("Provision() error = %v", err)
	}
	if previous != oldPath {
		t.Errorf("previous = %q, want %q", previous, oldPath)
	}

	if err := p.Restore("jq", previous); err != nil {
		t.Fatalf("Restore() error = %v", err)
	}
	if got, _ := p.Current("jq"); got != oldPath {
		t.Errorf("Current() after Restore = %q, want %q", got, oldPath)
	}

	if err := p.Restore("jq", ""); err != nil {
		t.Fatalf("Restore(\"\") error = %v", err)
	}
	if got, _ := p.Current("jq"); got != "" {
		t.Errorf("Current() after removing = %q, want empty", got)
	}
}

func TestProvision_RefusesToReplaceRegularFile(t *testing.T) {
	p, _ := setup(t)
	path := installArtifact(t, p, "jq#jq:bincache", "1.7", "jq", testutil.FakeBinary("jq"))

	os.MkdirAll(p.BinDir(), 0o755)
	if err := os.WriteFile(p.LinkPath("jq"), []byte("user file"), 0o755); err != nil {
		t.Fatal(err)
	}

	_, err := p.Provision(Target{Name: "jq", PackageID: "jq#jq:bincache", Kind: index.KindRawBinary, Path: path})
	if !errors.Is(err, ErrNotLink) {
		t.Fatalf("Provision() error = %v, want ErrNotLink", err)
	}
	data, _ := os.ReadFile(p.LinkPath("jq"))
	if string(data) != "user file" {
		t.Error("user file was modified")
	}
}

func TestDeprovision(t *testing.T) {
	p, _ := setup(t)
	mine := installArtifact(t, p, "tool#tool:bincache", "1", "tool", testutil.FakeBinary("tool"))
	theirs := installArtifact(t, p, "tool#tool:pkgforge", "1", "tool", testutil.FakeBinary("tool"))

	t.Run("link owned by another package is kept", func(t *testing.T) {
		if _, err := p.Provision(Target{Name: "tool", PackageID: "tool#tool:pkgforge", Kind: index.KindRawBinary, Path: theirs}); err != nil {
			t.Fatal(err)
		}
		_, err := p.Deprovision(Target{Name: "tool", PackageID: "tool#tool:bincache", Path: mine})
		if !errors.Is(err, ErrForeignLink) {
			t.Fatalf("Deprovision() error = %v, want ErrForeignLink", err)
		}
		if got, _ := p.Current("tool"); got != theirs {
			t.Errorf("link changed to %q", got)
		}
	})

	t.Run("own link is removed", func(t *testing.T) {
		removed, err := p.Deprovision(Target{Name: "tool", PackageID: "tool#tool:pkgforge", Path: theirs})
		if err != nil {
			t.Fatalf("Deprovision() error = %v", err)
		}
		if removed != theirs {
			t.Errorf("removed = %q, want %q", removed, theirs)
		}
		if _, err := os.Lstat(p.LinkPath("tool")); !os.IsNotExist(err) {
			t.Error("link still exists")
		}
	})

	t.Run("missing link is not an error", func(t *testing.T) {
		if _, err := p.Deprovision(Target{Name: "tool", PackageID: "tool#tool:pkgforge"}); err != nil {
			t.Errorf("Deprovision() error = %v", err)
		}
	})
}

func TestUse_SwitchesBetweenProviders(t *testing.T) {
	p, _ := setup(t)
	a := installArtifact(t, p, "tool#tool:bincache", "1", "tool", testutil.FakeBinary("tool"))
	b := installArtifact(t, p, "tool#tool:pkgforge", "2", "tool", testutil.FakeBinary("tool"))

	if err := p.Use(Target{Name: "tool", PackageID: "tool#tool:bincache", Kind: index.KindRawBinary, Path: a}); err != nil {
		t.Fatal(err)
	}
	if err := p.Use(Target{Name: "tool", PackageID: "tool#tool:pkgforge", Kind: index.KindRawBinary, Path: b}); err != nil {
		t.Fatalf("Use() error = %v", err)
	}
	if got, _ := p.Current("tool"); got != b {
		t.Errorf("Current() = %q, want %q", got, b)
	}

	err := p.Use(Target{Name: "tool", PackageID: "tool#tool:other", Kind: index.KindRawBinary, Path: filepath.Join(t.TempDir(), "missing")})
	if err == nil {
		t.Error("Use() of a missing artifact succeeded")
	}
}

func TestBrokenLinks(t *testing.T) {
	p, _ := setup(t)
	good := installArtifact(t, p, "good#good:x", "1", "good", testutil.FakeBinary("good"))
	bad := installArtifact(t, p, "bad#bad:x", "1", "bad", testutil.FakeBinary("bad"))

	for name, path := range map[string]string{"good": good, "bad": bad} {
		if _, err := p.Provision(Target{Name: name, PackageID: name + "#" + name + ":x", Kind: index.KindRawBinary, Path: path}); err != nil {
			t.Fatal(err)
		}
	}
	os.Remove(bad)

	broken, err := p.BrokenLinks()
	if err != nil {
		t.Fatalf("BrokenLinks() error = %v", err)
	}
	if len(broken) != 1 || broken[0] != "bad" {
		t.Errorf("BrokenLinks() = %v, want [bad]", broken)
	}

	removed, err := p.RemoveBrokenLinks()
	if err != nil {
		t.Fatalf("RemoveBrokenLinks() error = %v", err)
	}
	if len(removed) != 1 {
		t.Errorf("RemoveBrokenLinks() = %v", removed)
	}
	links, _ := p.Links()
	if _, ok := links["good"]; !ok || len(links) != 1 {
		t.Errorf("Links() = %v, want only good", links)
	}
}
