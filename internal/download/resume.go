package download

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	digest "github.com/opencontainers/go-digest"
)

// ResumeState is the sidecar persisted next to a partial download.
type ResumeState struct {
	BytesWritten int64         `json:"bytes_written"`
	ExpectedSize int64         `json:"expected_size"`
	URL          string        `json:"url"`
	Digest       digest.Digest `json:"digest"`
}

// PartPath returns where partial data for dest is written.
func PartPath(dest string) string {
	return dest + ".part"
}

// SidecarPath returns where resume state for dest is persisted.
func SidecarPath(dest string) string {
	return dest + ".part.json"
}

// ResumeOffset returns the byte offset a transfer for req may continue from.
// state is the persisted sidecar (nil when absent) and partSize the current
// size of the partial file. State written for a different URL, digest or
// size is ignored, and the offset never exceeds the data actually on disk.
func ResumeOffset(state *ResumeState, partSize int64, req Request) int64 {
	if state == nil || partSize <= 0 {
		return 0
	}
	if state.URL != req.URL || state.Digest != req.Digest || state.ExpectedSize != req.Size {
		return 0
	}
	offset := min(state.BytesWritten, partSize)
	if offset < 0 || offset >= req.Size {
		return 0
	}
	return offset
}

// loadResume reads the sidecar for dest. A missing or corrupt sidecar
// yields nil.
func loadResume(dest string) *ResumeState {
	data, err := os.ReadFile(SidecarPath(dest))
	if err != nil {
		return nil
	}
	var st ResumeState
	if err := json.Unmarshal(data, &st); err != nil {
		return nil
	}
	return &st
}

// saveResume writes the sidecar with write-then-rename.
func saveResume(dest string, st *ResumeState) error {
	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("marshal resume state: %w", err)
	}
	path := SidecarPath(dest)
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create resume state: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write resume state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close resume state: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename resume state: %w", err)
	}
	return nil
}

// discardPartial removes partial data and its sidecar.
func discardPartial(dest string) error {
	var errs []error
	for _, p := range []string{PartPath(dest), SidecarPath(dest)} {
		if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func fileSize(path string) int64 {
	info, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return info.Size()
}
