// Package resolver maps package specifiers to exactly one repository record.
//
// Precedence when several records share the requested name:
//  1. explicit version, family and provider qualifiers filter the set;
//  2. otherwise records from the profile's default provider are preferred;
//  3. the highest version wins;
//  4. remaining ties go to the lexicographically smallest provider, then
//     family, then the earliest configured repository.
//
// Two repositories publishing the same name, provider, family and version
// with different checksums violate index uniqueness and resolve as
// Ambiguous.
package resolver

import (
	"sort"
	"strings"

	"github.com/ZebulonRouseFrantzich/portabin/internal/index"
	"github.com/ZebulonRouseFrantzich/portabin/internal/version"
)

// Resolver resolves specifiers against an index snapshot.
type Resolver struct {
	idx             *index.Index
	defaultProvider string
}

// New creates a resolver. defaultProvider is the active profile's preferred
// provider and may be empty.
func New(idx *index.Index, defaultProvider string) *Resolver {
	return &Resolver{idx: idx, defaultProvider: defaultProvider}
}

// ResolveString parses and resolves s.
func (r *Resolver) ResolveString(s string) (index.PackageRecord, error) {
	spec, err := ParseSpecifier(s)
	if err != nil {
		return index.PackageRecord{}, err
	}
	return r.Resolve(spec)
}

// Resolve returns the single record selected for spec.
func (r *Resolver) Resolve(spec Specifier) (index.PackageRecord, error) {
	named := r.idx.Lookup(spec.Name)
	if len(named) == 0 {
		return index.PackageRecord{}, notFound(spec, nil)
	}

	candidates := filter(named, func(p index.PackageRecord) bool {
		return (spec.Version == "" || p.Version == spec.Version) &&
			(spec.Family == "" || p.Family == spec.Family) &&
			(spec.Provider == "" || p.Provider == spec.Provider)
	})
	if len(candidates) == 0 {
		return index.PackageRecord{}, notFound(spec, named)
	}

	if spec.Provider == "" && r.defaultProvider != "" {
		preferred := filter(candidates, func(p index.PackageRecord) bool {
			return p.Provider == r.defaultProvider
		})
		if len(preferred) > 0 {
			candidates = preferred
		}
	}

	best := candidates[0].Version
	for _, c := range candidates[1:] {
		if version.Compare(c.Version, best) > 0 {
			best = c.Version
		}
	}
	candidates = filter(candidates, func(p index.PackageRecord) bool {
		return p.Version == best
	})

	sortByTieBreak(candidates)
	winner := candidates[0]

	// Same identity from several repositories: fine when they agree on
	// the artifact, ambiguous when they do not.
	var tied []index.PackageRecord
	for _, c := range candidates {
		if c.Provider == winner.Provider && c.Family == winner.Family {
			tied = append(tied, c)
		}
	}
	for _, c := range tied[1:] {
		if c.Checksum != winner.Checksum || c.Size != winner.Size {
			return index.PackageRecord{}, ambiguous(spec, tied)
		}
	}

	return winner, nil
}

// Candidates returns every record matching spec's name and qualifiers,
// highest version first, without applying any preference.
func (r *Resolver) Candidates(spec Specifier) []index.PackageRecord {
	out := filter(r.idx.Lookup(spec.Name), func(p index.PackageRecord) bool {
		return (spec.Version == "" || p.Version == spec.Version) &&
			(spec.Family == "" || p.Family == spec.Family) &&
			(spec.Provider == "" || p.Provider == spec.Provider)
	})
	sortForDisplay(out)
	return out
}

// Search returns records whose name or description contains query,
// case-insensitively. It is a browsing aid and is never consulted by
// Resolve.
func (r *Resolver) Search(query string, limit int) []index.PackageRecord {
	q := strings.ToLower(strings.TrimSpace(query))
	out := filter(r.idx.Records(), func(p index.PackageRecord) bool {
		return strings.Contains(strings.ToLower(p.Name), q) ||
			strings.Contains(strings.ToLower(p.Description), q)
	})
	sortForDisplay(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func filter(in []index.PackageRecord, keep func(index.PackageRecord) bool) []index.PackageRecord {
	var out []index.PackageRecord
	for _, p := range in {
		if keep(p) {
			out = append(out, p)
		}
	}
	return out
}

func sortByTieBreak(recs []index.PackageRecord) {
	sort.SliceStable(recs, func(i, j int) bool {
		a, b := recs[i], recs[j]
		if a.Provider != b.Provider {
			return a.Provider < b.Provider
		}
		if a.Family != b.Family {
			return a.Family < b.Family
		}
		return a.RepoOrder < b.RepoOrder
	})
}

// sortForDisplay orders by name, then version descending, then tie-break.
func sortForDisplay(recs []index.PackageRecord) {
	sort.SliceStable(recs, func(i, j int) bool {
		a, b := recs[i], recs[j]
		if a.Name != b.Name {
			return a.Name < b.Name
		}
		if c := version.Compare(a.Version, b.Version); c != 0 {
			return c > 0
		}
		if a.Provider != b.Provider {
			return a.Provider < b.Provider
		}
		if a.Family != b.Family {
			return a.Family < b.Family
		}
		return a.RepoOrder < b.RepoOrder
	})
}
