package index

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/ZebulonRouseFrantzich/portabin/internal/config"
	"github.com/ZebulonRouseFrantzich/portabin/internal/download"
	"github.com/ZebulonRouseFrantzich/portabin/internal/logging"
)

// MaxIndexSize caps how much of an index document is read.
const MaxIndexSize = 64 << 20

// SyncResult summarizes one repository refresh.
type SyncResult struct {
	Repository string
	Packages   int
	Skipped    int
	Signed     bool
}

// Syncer refreshes the local copies of repository indices.
type Syncer struct {
	fetcher download.Fetcher
	dir     string
	arch    string
	logger  logging.Logger
}

// NewSyncer creates a Syncer writing snapshots into dir. arch is substituted
// into repository URLs.
func NewSyncer(fetcher download.Fetcher, dir, arch string, logger logging.Logger) *Syncer {
	return &Syncer{fetcher: fetcher, dir: dir, arch: arch, logger: logging.OrNoop(logger)}
}

// Sync downloads, verifies and stores the index of repo. The previous
// snapshot is replaced only after the new one parses and, when the
// repository has a public key, its detached signature verifies.
func (s *Syncer) Sync(ctx context.Context, repo config.Repository) (*SyncResult, error) {
	url := repo.ResolvedURL(s.arch)
	s.logger.Info("syncing repository", "repository", repo.Name, "url", url)

	data, err := s.get(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("fetch index for %s: %w", repo.Name, err)
	}

	result := &SyncResult{Repository: repo.Name}
	if repo.PubKey != "" {
		keyring, err := LoadKeyring(config.ExpandPath(repo.PubKey))
		if err != nil {
			return nil, fmt.Errorf("load key for %s: %w", repo.Name, err)
		}
		sig, err := s.get(ctx, url+".sig")
		if err != nil {
			return nil, fmt.Errorf("fetch signature for %s: %w", repo.Name, err)
		}
		if err := VerifySignature(keyring, data, sig); err != nil {
			return nil, fmt.Errorf("repository %s: %w", repo.Name, err)
		}
		result.Signed = true
	}

	snap, err := Parse(bytes.NewReader(data), repo.Name, s.logger)
	if err != nil {
		return nil, err
	}
	result.Packages = len(snap.Records)
	result.Skipped = snap.Skipped

	if err := writeFileAtomic(SnapshotPath(s.dir, repo.Name), data); err != nil {
		return nil, fmt.Errorf("store index for %s: %w", repo.Name, err)
	}
	return result, nil
}

func (s *Syncer) get(ctx context.Context, url string) ([]byte, error) {
	stream, err := s.fetcher.Fetch(ctx, url, download.ByteRange{})
	if err != nil {
		return nil, err
	}
	defer stream.Body.Close()

	data, err := io.ReadAll(io.LimitReader(stream.Body, MaxIndexSize+1))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", url, err)
	}
	if len(data) > MaxIndexSize {
		return nil, fmt.Errorf("%s exceeds %d bytes", url, MaxIndexSize)
	}
	return data, nil
}

// writeFileAtomic writes data via a temp file, rename and directory fsync.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return err
	}
	if d, err := os.Open(dir); err == nil {
		d.Sync()
		d.Close()
	}
	return nil
}
