package store

import (
	"time"

	"github.com/ZebulonRouseFrantzich/portabin/internal/index"
	digest "github.com/opencontainers/go-digest"
)

// InstalledPackage is the durable record of one installed package. At most
// one exists per PackageID; an upgrade replaces it.
type InstalledPackage struct {
	PackageID   string             `json:"package_id"`
	Name        string             `json:"name"`
	Provider    string             `json:"provider"`
	Family      string             `json:"family"`
	Repository  string             `json:"repository"`
	Version     string             `json:"version"`
	Kind        index.ArtifactKind `json:"kind"`
	Checksum    digest.Digest      `json:"checksum"`
	Size        int64              `json:"size"`
	InstallPath string             `json:"install_path"`
	InstalledAt time.Time          `json:"installed_at"`
	Pinned      bool               `json:"pinned"`
	Portable    bool               `json:"portable"`
}

// FromRecord builds an InstalledPackage for rec installed at path.
func FromRecord(rec index.PackageRecord, path string, at time.Time) *InstalledPackage {
	return &InstalledPackage{
		PackageID:   rec.PackageID(),
		Name:        rec.Name,
		Provider:    rec.Provider,
		Family:      rec.Family,
		Repository:  rec.Repository,
		Version:     rec.Version,
		Kind:        rec.Kind,
		Checksum:    rec.Checksum,
		Size:        rec.Size,
		InstallPath: path,
		InstalledAt: at.UTC().Truncate(time.Second),
	}
}

// MutationOp is the kind of change a Mutation applies.
type MutationOp int

const (
	OpUpsert MutationOp = iota + 1
	OpDelete
)

// Mutation is one change applied by Store.Apply.
type Mutation struct {
	Op MutationOp
	// Package is required for OpUpsert.
	Package *InstalledPackage
	// PackageID is required for OpDelete.
	PackageID string
}

// Upsert returns a Mutation inserting or replacing pkg.
func Upsert(pkg *InstalledPackage) Mutation {
	return Mutation{Op: OpUpsert, Package: pkg}
}

// Delete returns a Mutation removing packageID.
func Delete(packageID string) Mutation {
	return Mutation{Op: OpDelete, PackageID: packageID}
}
