package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ZebulonRouseFrantzich/portabin/internal/index"
	digest "github.com/opencontainers/go-digest"
)

const selectColumns = `
	SELECT package_id, name, provider, family, repository, version, kind, checksum,
	       size_bytes, install_path, installed_at, pinned, portable
	FROM installed_packages
`

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

type scanner interface {
	Scan(dest ...any) error
}

// Get retrieves a record by package ID.
func (s *Store) Get(ctx context.Context, packageID string) (*InstalledPackage, error) {
	row := s.db.QueryRowContext(ctx, selectColumns+" WHERE package_id = ?", packageID)
	pkg, err := scanPackage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, packageID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get package %s: %w", packageID, err)
	}
	return pkg, nil
}

// Upsert inserts or replaces a record.
func (s *Store) Upsert(ctx context.Context, pkg *InstalledPackage) error {
	return s.Apply(ctx, []Mutation{Upsert(pkg)})
}

// Delete removes a record. Deleting a missing record is not an error.
func (s *Store) Delete(ctx context.Context, packageID string) error {
	return s.Apply(ctx, []Mutation{Delete(packageID)})
}

// ListAll returns every record ordered by package ID.
func (s *Store) ListAll(ctx context.Context) ([]*InstalledPackage, error) {
	return s.list(ctx, selectColumns+" ORDER BY package_id")
}

// ListByName returns the records sharing a name, ordered by package ID.
func (s *Store) ListByName(ctx context.Context, name string) ([]*InstalledPackage, error) {
	return s.list(ctx, selectColumns+" WHERE name = ? ORDER BY package_id", name)
}

// SetPinned updates the pinned flag of a record.
func (s *Store) SetPinned(ctx context.Context, packageID string, pinned bool) error {
	res, err := s.db.ExecContext(ctx, "UPDATE installed_packages SET pinned = ? WHERE package_id = ?", pinned, packageID)
	if err != nil {
		return fmt.Errorf("failed to update pin for %s: %w", packageID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update pin for %s: %w", packageID, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, packageID)
	}
	return nil
}

// Apply runs all mutations in one SQL transaction: either every mutation
// is visible afterwards or none is.
func (s *Store) Apply(ctx context.Context, muts []Mutation) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	for _, m := range muts {
		if err := applyMutation(ctx, tx, m); err != nil {
			tx.Rollback()
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func applyMutation(ctx context.Context, ex execer, m Mutation) error {
	switch m.Op {
	case OpUpsert:
		if m.Package == nil || m.Package.PackageID == "" {
			return fmt.Errorf("upsert requires a package with an ID")
		}
		p := m.Package
		_, err := ex.ExecContext(ctx, `
			INSERT OR REPLACE INTO installed_packages
			(package_id, name, provider, family, repository, version, kind, checksum,
			 size_bytes, install_path, installed_at, pinned, portable)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`,
			p.PackageID,
			p.Name,
			p.Provider,
			p.Family,
			p.Repository,
			p.Version,
			p.Kind.String(),
			p.Checksum.String(),
			p.Size,
			p.InstallPath,
			p.InstalledAt.UTC().Format(time.RFC3339),
			p.Pinned,
			p.Portable,
		)
		if err != nil {
			return fmt.Errorf("failed to upsert package %s: %w", p.PackageID, err)
		}
		return nil
	case OpDelete:
		if _, err := ex.ExecContext(ctx, "DELETE FROM installed_packages WHERE package_id = ?", m.PackageID); err != nil {
			return fmt.Errorf("failed to delete package %s: %w", m.PackageID, err)
		}
		return nil
	default:
		return fmt.Errorf("unknown mutation op %d", m.Op)
	}
}

func (s *Store) list(ctx context.Context, query string, args ...any) ([]*InstalledPackage, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list packages: %w", err)
	}
	defer rows.Close()

	var out []*InstalledPackage
	for rows.Next() {
		pkg, err := scanPackage(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan package: %w", err)
		}
		out = append(out, pkg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating packages: %w", err)
	}
	return out, nil
}

func scanPackage(row scanner) (*InstalledPackage, error) {
	var pkg InstalledPackage
	var kind, checksum, installedAt string
	err := row.Scan(
		&pkg.PackageID,
		&pkg.Name,
		&pkg.Provider,
		&pkg.Family,
		&pkg.Repository,
		&pkg.Version,
		&kind,
		&checksum,
		&pkg.Size,
		&pkg.InstallPath,
		&installedAt,
		&pkg.Pinned,
		&pkg.Portable,
	)
	if err != nil {
		return nil, err
	}

	if pkg.Kind, err = index.ParseKind(kind); err != nil {
		return nil, fmt.Errorf("package %s: %w", pkg.PackageID, err)
	}
	if pkg.Checksum, err = digest.Parse(checksum); err != nil {
		return nil, fmt.Errorf("package %s: invalid checksum: %w", pkg.PackageID, err)
	}
	if pkg.InstalledAt, err = time.Parse(time.RFC3339, installedAt); err != nil {
		return nil, fmt.Errorf("failed to parse installed_at for %s: %w", pkg.PackageID, err)
	}
	return &pkg, nil
}
