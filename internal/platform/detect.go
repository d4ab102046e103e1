package platform

import (
	"context"
	"fmt"
	"runtime"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/host"
)

// RealDetector implements Detector using the running host.
type RealDetector struct{}

// NewDetector creates a new platform detector.
func NewDetector() Detector {
	return &RealDetector{}
}

// Detect returns OS, architecture, distro and CPU flags.
//
// Distro and CPU flag lookups fall back to empty values on failure; only an
// unsupported architecture or a cancelled context is an error.
func (d *RealDetector) Detect(ctx context.Context) (*Info, error) {
	info := &Info{
		OS:      runtime.GOOS,
		ArchRaw: runtime.GOARCH,
	}

	arch, err := normalizeArch(runtime.GOARCH)
	if err != nil {
		return nil, fmt.Errorf("platform detection failed: %w", err)
	}
	info.Arch = arch

	if runtime.GOOS == "linux" {
		platform, family, version, err := host.PlatformInformationWithContext(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("platform detection cancelled: %w", ctx.Err())
			}
		} else if platform = normalizePlatform(platform); platform != "" {
			info.Platform = platform
			info.Family = mapFamily(family)
			info.Version = normalizePlatform(version)
		}
	}

	flags, err := DetectCPUFlags(ctx)
	if err != nil && ctx.Err() != nil {
		return nil, fmt.Errorf("platform detection cancelled: %w", ctx.Err())
	}
	info.CPUFlags = flags

	return info, nil
}

// DetectCPUFlags returns the feature flags of the host CPU, sorted and
// deduplicated across all reported cores.
func DetectCPUFlags(ctx context.Context) ([]string, error) {
	stats, err := cpu.InfoWithContext(ctx)
	if err != nil {
		return []string{}, fmt.Errorf("read cpu info: %w", err)
	}

	var all []string
	for _, s := range stats {
		all = append(all, s.Flags...)
	}
	return normalizeFlags(all), nil
}
