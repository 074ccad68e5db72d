package index

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/ZebulonRouseFrantzich/portabin/internal/config"
	"github.com/ZebulonRouseFrantzich/portabin/internal/logging"
)

// Index is an immutable view over one or more repository snapshots. Record
// order is repository order, then the snapshot's sorted order.
type Index struct {
	records []PackageRecord
	byName  map[string][]int
	repos   []string
}

// New builds an Index from snapshots given in repository order.
func New(snapshots ...*Snapshot) *Index {
	idx := &Index{byName: make(map[string][]int)}
	for order, snap := range snapshots {
		if snap == nil {
			continue
		}
		idx.repos = append(idx.repos, snap.Repository)
		for _, rec := range snap.Records {
			rec.Repository = snap.Repository
			rec.RepoOrder = order
			idx.byName[rec.Name] = append(idx.byName[rec.Name], len(idx.records))
			idx.records = append(idx.records, rec)
		}
	}
	return idx
}

// Lookup returns copies of every record whose name matches exactly.
func (x *Index) Lookup(name string) []PackageRecord {
	positions := x.byName[name]
	out := make([]PackageRecord, 0, len(positions))
	for _, i := range positions {
		out = append(out, x.records[i])
	}
	return out
}

// Records returns a copy of all records.
func (x *Index) Records() []PackageRecord {
	return append([]PackageRecord(nil), x.records...)
}

// Repositories returns the repository names in order.
func (x *Index) Repositories() []string {
	return append([]string(nil), x.repos...)
}

// Len returns the number of records.
func (x *Index) Len() int {
	return len(x.records)
}

// SnapshotPath returns where Sync stores a repository's index.
func SnapshotPath(dir, repo string) string {
	return filepath.Join(dir, repo+".json")
}

// LoadDir loads the synced snapshots of repos from dir. Repositories that
// have never been synced are skipped with a warning.
func LoadDir(dir string, repos []config.Repository, logger logging.Logger) (*Index, error) {
	logger = logging.OrNoop(logger)

	var snapshots []*Snapshot
	for _, repo := range repos {
		path := SnapshotPath(dir, repo.Name)
		f, err := os.Open(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				logger.Warn("repository not synced", "repository", repo.Name)
				snapshots = append(snapshots, &Snapshot{Repository: repo.Name})
				continue
			}
			return nil, fmt.Errorf("open index %s: %w", path, err)
		}
		snap, err := Parse(f, repo.Name, logger)
		f.Close()
		if err != nil {
			return nil, err
		}
		if snap.Skipped > 0 {
			logger.Warn("index entries skipped", "repository", repo.Name, "count", snap.Skipped)
		}
		snapshots = append(snapshots, snap)
	}
	return New(snapshots...), nil
}
