// Package platform detects the host OS, architecture, Linux distribution and
// CPU count, and exposes them to Lua configurations as a read-only table.
//
// portabin only installs Linux artifacts, so architecture names follow the
// uname convention used by repository URLs (x86_64, aarch64, riscv64)
// rather than GOARCH.
package platform

import "context"

// Linux distribution family constants.
const (
	FamilyDebian  = "debian"  // Debian, Ubuntu, Linux Mint
	FamilyRHEL    = "rhel"    // RHEL, CentOS, Rocky Linux, AlmaLinux
	FamilyFedora  = "fedora"  // Fedora
	FamilySUSE    = "suse"    // openSUSE, SLES
	FamilyArch    = "arch"    // Arch Linux, Manjaro
	FamilyAlpine  = "alpine"  // Alpine Linux
	FamilyGentoo  = "gentoo"  // Gentoo
	FamilyUnknown = "unknown" // Unrecognized distributions
)

// Info contains platform detection information.
type Info struct {
	OS       string // runtime.GOOS
	Arch     string // uname-style: "x86_64", "aarch64", "riscv64"
	ArchRaw  string // original GOARCH
	Platform string // distro ID, e.g. "ubuntu" (empty when undetected)
	Family   string // canonical family, e.g. "debian"
	Version  string // distro version, e.g. "22.04"
	CPUs     int    // logical CPU count, at least 1
}

// IsLinux returns true if the platform is Linux.
func (i *Info) IsLinux() bool {
	return i.OS == "linux"
}

// IsMusl returns true for distributions that ship musl instead of glibc.
func (i *Info) IsMusl() bool {
	return i.IsLinux() && i.Family == FamilyAlpine
}

// Detector is the interface for platform detection.
type Detector interface {
	Detect(ctx context.Context) (*Info, error)
}

// StaticDetector returns a fixed Info. Useful for tests and for callers that
// already know the platform.
type StaticDetector struct {
	Info *Info
}

// Detect returns the fixed info.
func (s StaticDetector) Detect(ctx context.Context) (*Info, error) {
	return s.Info, nil
}
