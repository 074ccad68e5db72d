package transaction

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sys/unix"
)

var (
	// ErrLockHeld is returned when another process holds the writer lock.
	ErrLockHeld = errors.New("another portabin operation is in progress")

	// ErrLockCorrupt is returned when the lock file holds metadata that
	// cannot be parsed. The file is left as found.
	ErrLockCorrupt = errors.New("lock file metadata is unreadable")
)

// LockInfo is the metadata written into a held lock file.
type LockInfo struct {
	PID       int
	Timestamp time.Time
}

// Lock is the process-wide single-writer lock of a profile.
type Lock struct {
	path string
	file *os.File
}

// AcquireLock takes an exclusive, non-blocking flock on path. The kernel
// drops the lock when the process exits, so a crashed holder never leaves
// a stale lock behind.
func AcquireLock(ctx context.Context, path string) (*Lock, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("acquire lock: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create lock directory: %w", err)
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}

	if err := unix.Flock(int(file.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		file.Close()
		if errors.Is(err, unix.EWOULDBLOCK) {
			if info, readErr := ReadLockInfo(path); readErr == nil && info != nil {
				return nil, fmt.Errorf("%w (pid %d since %s)", ErrLockHeld, info.PID, info.Timestamp.Format(time.RFC3339))
			}
			return nil, ErrLockHeld
		}
		return nil, fmt.Errorf("lock %s: %w", path, err)
	}

	// Metadata left by a previous holder must still parse; otherwise the
	// file is not ours to rewrite.
	if _, err := ReadLockInfo(path); err != nil {
		unix.Flock(int(file.Fd()), unix.LOCK_UN)
		file.Close()
		return nil, err
	}

	lockData := fmt.Sprintf("pid=%d\ntimestamp=%s\n", os.Getpid(), time.Now().UTC().Format(time.RFC3339))
	if err := file.Truncate(0); err != nil {
		unix.Flock(int(file.Fd()), unix.LOCK_UN)
		file.Close()
		return nil, fmt.Errorf("truncate lock file: %w", err)
	}
	if _, err := file.WriteAt([]byte(lockData), 0); err != nil {
		unix.Flock(int(file.Fd()), unix.LOCK_UN)
		file.Close()
		return nil, fmt.Errorf("write lock data: %w", err)
	}
	if err := file.Sync(); err != nil {
		unix.Flock(int(file.Fd()), unix.LOCK_UN)
		file.Close()
		return nil, fmt.Errorf("sync lock file: %w", err)
	}

	return &Lock{
		path: path,
		file: file,
	}, nil
}

// Release clears the metadata and drops the lock. The file itself stays so
// that every process flocks the same inode.
func (l *Lock) Release() error {
	if l.file == nil {
		return nil
	}
	truncErr := l.file.Truncate(0)
	unlockErr := unix.Flock(int(l.file.Fd()), unix.LOCK_UN)
	closeErr := l.file.Close()
	l.file = nil

	if err := errors.Join(truncErr, unlockErr, closeErr); err != nil {
		return fmt.Errorf("release lock: %w", err)
	}
	return nil
}

// Path returns the lock file path.
func (l *Lock) Path() string {
	return l.path
}

// ReadLockInfo parses the lock file at path. An empty or missing file
// yields nil info and no error.
func ReadLockInfo(path string) (*LockInfo, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read lock file: %w", err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}

	var info LockInfo
	var havePID, haveTime bool
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			return nil, fmt.Errorf("%w: %s: malformed line %q", ErrLockCorrupt, path, line)
		}
		switch key {
		case "pid":
			pid, err := strconv.Atoi(value)
			if err != nil || pid <= 0 {
				return nil, fmt.Errorf("%w: %s: bad pid %q", ErrLockCorrupt, path, value)
			}
			info.PID = pid
			havePID = true
		case "timestamp":
			ts, err := time.Parse(time.RFC3339, value)
			if err != nil {
				return nil, fmt.Errorf("%w: %s: bad timestamp %q", ErrLockCorrupt, path, value)
			}
			info.Timestamp = ts
			haveTime = true
		default:
			return nil, fmt.Errorf("%w: %s: unknown key %q", ErrLockCorrupt, path, key)
		}
	}
	if !havePID || !haveTime {
		return nil, fmt.Errorf("%w: %s: incomplete metadata", ErrLockCorrupt, path)
	}
	return &info, nil
}
