package resolver

import (
	"errors"
	"strings"
	"testing"

	"github.com/ZebulonRouseFrantzich/portabin/internal/index"
	digest "github.com/opencontainers/go-digest"
)

func rec(name, version, family, provider string) index.PackageRecord {
	return index.PackageRecord{
		Name:     name,
		Version:  version,
		Family:   family,
		Provider: provider,
		Kind:     index.KindRawBinary,
		Size:     10,
		Checksum: digest.FromString(name + version + family + provider),
	}
}

func snapshot(repo string, recs ...index.PackageRecord) *index.Snapshot {
	return &index.Snapshot{Repository: repo, Records: recs}
}

// fooIndex holds foo@1.2.0#alpha (provider alpha) and foo@1.3.0#beta
// (provider beta).
func fooIndex() *index.Index {
	return index.New(snapshot("main",
		rec("foo", "1.2.0", "alpha", "alpha"),
		rec("foo", "1.3.0", "beta", "beta"),
	))
}

func TestResolve_HigherVersionWins(t *testing.T) {
	got, err := New(fooIndex(), "").ResolveString("foo")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if got.Version != "1.3.0" || got.Family != "beta" {
		t.Errorf("Resolve(foo) = %s, want foo@1.3.0#beta", got)
	}
}

func TestResolve_ExplicitProviderWinsOverVersion(t *testing.T) {
	got, err := New(fooIndex(), "").ResolveString("foo:alpha")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if got.Version != "1.2.0" || got.Family != "alpha" {
		t.Errorf("Resolve(foo:alpha) = %s, want foo@1.2.0#alpha", got)
	}
}

func TestResolve_Precedence(t *testing.T) {
	idx := index.New(
		snapshot("first",
			rec("tool", "1.0.0", "glibc", "bincache"),
			rec("tool", "2.0.0", "musl", "pkgforge"),
			rec("tool", "2.0.0", "glibc", "pkgforge"),
			rec("tool", "v9", "glibc", "nightly"),
			rec("solo", "1", "x", "zeta"),
			rec("solo", "1", "x", "alpha"),
		),
		snapshot("second",
			rec("tool", "2.0.0", "glibc", "pkgforge"),
			rec("dup", "1.0", "d", "p"),
		),
	)

	tests := []struct {
		name            string
		spec            string
		defaultProvider string
		want            string
		wantRepo        string
	}{
		{"highest numeric version beats non-numeric", "tool", "", "tool@2.0.0#glibc:pkgforge", "first"},
		{"family tie-break", "tool@2.0.0", "", "tool@2.0.0#glibc:pkgforge", "first"},
		{"explicit family", "tool#musl", "", "tool@2.0.0#musl:pkgforge", "first"},
		{"explicit version", "tool@1.0.0", "", "tool@1.0.0#glibc:bincache", "first"},
		{"default provider beats version", "tool", "bincache", "tool@1.0.0#glibc:bincache", "first"},
		{"explicit provider beats default provider", "tool:nightly", "bincache", "tool@v9#glibc:nightly", "first"},
		{"unknown default provider ignored", "tool", "other", "tool@2.0.0#glibc:pkgforge", "first"},
		{"provider tie-break", "solo", "", "solo@1#x:alpha", "first"},
		{"all qualifiers", "tool@2.0.0#glibc:pkgforge", "", "tool@2.0.0#glibc:pkgforge", "first"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := New(idx, tt.defaultProvider).ResolveString(tt.spec)
			if err != nil {
				t.Fatalf("Resolve(%q) error = %v", tt.spec, err)
			}
			if got.String() != tt.want {
				t.Errorf("Resolve(%q) = %s, want %s", tt.spec, got, tt.want)
			}
			if got.Repository != tt.wantRepo {
				t.Errorf("Repository = %s, want %s", got.Repository, tt.wantRepo)
			}
		})
	}
}

func TestResolve_IdenticalAcrossRepositoriesUsesRepositoryOrder(t *testing.T) {
	same := rec("tool", "1.0", "f", "p")
	idx := index.New(snapshot("first", same), snapshot("second", same))

	got, err := New(idx, "").ResolveString("tool")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if got.Repository != "first" {
		t.Errorf("Repository = %s, want first", got.Repository)
	}
}

func TestResolve_Ambiguous(t *testing.T) {
	a := rec("tool", "1.0", "f", "p")
	b := a
	b.Checksum = digest.FromString("different bytes")
	idx := index.New(snapshot("first", a), snapshot("second", b))

	_, err := New(idx, "").ResolveString("tool")
	if !errors.Is(err, ErrAmbiguous) {
		t.Fatalf("Resolve() error = %v, want ErrAmbiguous", err)
	}
	var resErr *ResolutionError
	if !errors.As(err, &resErr) {
		t.Fatalf("error type = %T", err)
	}
	if len(resErr.Candidates) != 2 {
		t.Errorf("Candidates = %d, want 2", len(resErr.Candidates))
	}
	msg := err.Error()
	for _, want := range []string{"tool@1.0#f:p", "repository first", "repository second"} {
		if !strings.Contains(msg, want) {
			t.Errorf("message %q missing %q", msg, want)
		}
	}
}

func TestResolve_NotFound(t *testing.T) {
	r := New(fooIndex(), "")

	tests := []struct {
		spec          string
		wantAvailable bool
	}{
		{"bar", false},
		{"Foo", false},
		{"fo", false},
		{"foo@9.9", true},
		{"foo:gamma", true},
		{"foo#alpha:beta", true},
	}

	for _, tt := range tests {
		t.Run(tt.spec, func(t *testing.T) {
			_, err := r.ResolveString(tt.spec)
			if !errors.Is(err, ErrNotFound) {
				t.Fatalf("Resolve(%q) error = %v, want ErrNotFound", tt.spec, err)
			}
			if got := strings.Contains(err.Error(), "available"); got != tt.wantAvailable {
				t.Errorf("message %q lists available = %v, want %v", err.Error(), got, tt.wantAvailable)
			}
		})
	}
}

func TestResolve_Deterministic(t *testing.T) {
	idx := index.New(
		snapshot("a", rec("x", "1", "f2", "p"), rec("x", "1", "f1", "p"), rec("x", "1", "f1", "o")),
		snapshot("b", rec("x", "1", "f0", "o")),
	)
	r := New(idx, "")

	first, err := r.ResolveString("x")
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 50; i++ {
		got, err := r.ResolveString("x")
		if err != nil {
			t.Fatal(err)
		}
		if got.String() != first.String() || got.Repository != first.Repository {
			t.Fatalf("iteration %d resolved %s, first resolved %s", i, got, first)
		}
	}
	if first.String() != "x@1#f0:o" {
		t.Errorf("Resolve(x) = %s, want x@1#f0:o", first)
	}
}

func TestSearch(t *testing.T) {
	a := rec("ripgrep", "14.1.0", "rg", "bincache")
	a.Description = "Recursively search directories"
	b := rec("grep", "3.11", "grep", "bincache")
	c := rec("jq", "1.7", "jq", "bincache")
	c.Description = "JSON processor, like GREP for json"
	d := rec("ripgrep", "13.0.0", "rg", "bincache")

	r := New(index.New(snapshot("main", a, b, c, d)), "")

	got := r.Search("GREP", 0)
	var names []string
	for _, p := range got {
		names = append(names, p.Name+"@"+p.Version)
	}
	want := "grep@3.11 jq@1.7 ripgrep@14.1.0 ripgrep@13.0.0"
	if strings.Join(names, " ") != want {
		t.Errorf("Search(GREP) = %v, want %s", names, want)
	}

	if got := r.Search("grep", 2); len(got) != 2 {
		t.Errorf("Search with limit = %d results, want 2", len(got))
	}
	if got := r.Search("nothing-matches", 0); len(got) != 0 {
		t.Errorf("Search(nothing) = %v", got)
	}
}

func TestCandidates(t *testing.T) {
	r := New(fooIndex(), "")
	got := r.Candidates(Specifier{Name: "foo"})
	if len(got) != 2 || got[0].Version != "1.3.0" {
		t.Errorf("Candidates(foo) = %v, want highest version first", got)
	}
}
