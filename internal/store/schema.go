package store

// migrations are applied in order; migrations[i] moves the schema from
// version i to i+1. Never edit a released migration, append a new one.
var migrations = []string{
	// 1: installed packages
	`
CREATE TABLE IF NOT EXISTS installed_packages (
    package_id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    provider TEXT NOT NULL,
    family TEXT NOT NULL,
    repository TEXT NOT NULL,
    version TEXT NOT NULL,
    kind TEXT NOT NULL,
    checksum TEXT NOT NULL,
    size_bytes INTEGER NOT NULL,
    install_path TEXT NOT NULL,
    installed_at TEXT NOT NULL,
    portable BOOLEAN NOT NULL DEFAULT 0
);
`,
	// 2: pinning and name lookups
	`
ALTER TABLE installed_packages ADD COLUMN pinned BOOLEAN NOT NULL DEFAULT 0;
CREATE INDEX IF NOT EXISTS idx_installed_name ON installed_packages(name);
`,
}

// SchemaVersion is the version this build writes.
var SchemaVersion = len(migrations)

const metaSchema = `
CREATE TABLE IF NOT EXISTS schema_meta (
    id INTEGER PRIMARY KEY CHECK (id = 1),
    version INTEGER NOT NULL
);
`
