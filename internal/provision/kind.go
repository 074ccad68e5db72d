package provision

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/ZebulonRouseFrantzich/portabin/internal/index"
)

// ErrKindMismatch is returned when an artifact's content does not match its
// declared kind.
var ErrKindMismatch = errors.New("artifact does not match its declared kind")

var (
	elfMagic      = []byte{0x7f, 'E', 'L', 'F'}
	shebang       = []byte("#!")
	appImageMagic = []byte{'A', 'I', 0x02}
)

// appImageMagicOffset is where a type-2 AppImage stores its magic, inside
// the ELF identification padding.
const appImageMagicOffset = 8

// Portable data directories created next to a portable AppImage.
const (
	PortableHomeSuffix   = ".home"
	PortableConfigSuffix = ".config"
)

// CheckKind verifies that the file at path looks like kind. Raw binaries must
// be ELF executables or scripts; AppImages must carry the type-2 magic.
func CheckKind(path string, kind index.ArtifactKind) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open artifact: %w", err)
	}
	defer f.Close()

	header := make([]byte, 16)
	n, err := io.ReadFull(f, header)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return fmt.Errorf("read artifact header: %w", err)
	}
	header = header[:n]

	switch kind {
	case index.KindRawBinary:
		if bytes.HasPrefix(header, elfMagic) || bytes.HasPrefix(header, shebang) {
			return nil
		}
		return fmt.Errorf("%w: %s is not an ELF executable or script", ErrKindMismatch, path)
	case index.KindAppImage:
		if !bytes.HasPrefix(header, elfMagic) ||
			len(header) < appImageMagicOffset+len(appImageMagic) ||
			!bytes.Equal(header[appImageMagicOffset:appImageMagicOffset+len(appImageMagic)], appImageMagic) {
			return fmt.Errorf("%w: %s is not a type-2 AppImage", ErrKindMismatch, path)
		}
		return nil
	default:
		return fmt.Errorf("%w: unknown kind %d", ErrKindMismatch, kind)
	}
}

// Prepare performs the kind-specific steps that make t runnable.
func Prepare(t Target) error {
	switch t.Kind {
	case index.KindRawBinary:
		return setExecutable(t.Path)
	case index.KindAppImage:
		if err := CheckKind(t.Path, t.Kind); err != nil {
			return err
		}
		if err := setExecutable(t.Path); err != nil {
			return err
		}
		if t.Portable {
			for _, suffix := range []string{PortableHomeSuffix, PortableConfigSuffix} {
				if err := os.MkdirAll(t.Path+suffix, 0o755); err != nil {
					return fmt.Errorf("create portable dir: %w", err)
				}
			}
		}
		return nil
	default:
		return fmt.Errorf("%w: unknown kind %d", ErrKindMismatch, t.Kind)
	}
}

func setExecutable(path string) error {
	if err := os.Chmod(path, 0o755); err != nil {
		return fmt.Errorf("set executable: %w", err)
	}
	return nil
}
