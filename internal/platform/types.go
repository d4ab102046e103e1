// Package platform detects the host a formula is installed on and exposes it
// to formula code as a read-only Lua table.
//
// OS and architecture come from the Go runtime; Linux distribution details and
// CPU feature flags come from gopsutil. Distro and flag detection degrade to
// empty values when the host does not expose them.
package platform

import (
	"context"
	"sort"
)

// Linux distribution family constants.
const (
	FamilyDebian  = "debian"  // Debian, Ubuntu, Linux Mint
	FamilyRHEL    = "rhel"    // RHEL, CentOS, Rocky Linux, AlmaLinux
	FamilyFedora  = "fedora"  // Fedora
	FamilySUSE    = "suse"    // openSUSE, SLES
	FamilyArch    = "arch"    // Arch Linux, Manjaro
	FamilyAlpine  = "alpine"  // Alpine Linux
	FamilyUnknown = "unknown" // Unrecognized distributions
)

// Info contains platform detection information.
type Info struct {
	OS       string   // "linux", "darwin"
	Arch     string   // "amd64", "arm64", "ppc64le", "s390x" (normalized)
	ArchRaw  string   // original GOARCH
	Platform string   // distro ID (Linux only, e.g., "ubuntu")
	Family   string   // canonical family (e.g., "debian")
	Version  string   // distro version (Linux only, e.g., "22.04")
	CPUFlags []string // sorted, deduplicated CPU feature flags (may be empty)
}

// IsLinux returns true if the platform is Linux.
func (i *Info) IsLinux() bool {
	return i.OS == "linux"
}

// IsMacOS returns true if the platform is macOS.
func (i *Info) IsMacOS() bool {
	return i.OS == "darwin"
}

// HasFlag reports whether the CPU advertises the given feature flag.
func (i *Info) HasFlag(flag string) bool {
	idx := sort.SearchStrings(i.CPUFlags, flag)
	return idx < len(i.CPUFlags) && i.CPUFlags[idx] == flag
}

// Detector is the interface for platform detection.
type Detector interface {
	Detect(ctx context.Context) (*Info, error)
}

// StaticDetector returns a fixed Info. Useful for tests and for callers that
// already detected the platform once.
type StaticDetector struct {
	Info *Info
}

// Detect returns the stored info.
func (s StaticDetector) Detect(ctx context.Context) (*Info, error) {
	return s.Info, nil
}
