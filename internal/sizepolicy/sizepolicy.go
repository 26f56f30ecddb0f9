// Package sizepolicy implements the SizePolicy spec of spec.md §4.3:
// a lazily-evaluated size specification attached to a snapshot source.
package sizepolicy

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/deploymenttheory/snapm/internal/apferr"
)

// Kind distinguishes the four SizePolicy variants.
type Kind int

const (
	Fixed Kind = iota
	PercentFree
	PercentUsed
	PercentSize
)

// SectorSize is the sector size snapshot sizes are rounded up to.
const SectorSize = 512

const (
	defaultPercentUsed = 200.0
	defaultPercentSize = 25.0
)

// Policy is a parsed, not-yet-evaluated size policy.
type Policy struct {
	Kind    Kind
	Bytes   uint64  // Fixed
	Percent float64 // PercentFree / PercentUsed / PercentSize
}

var sizeRe = regexp.MustCompile(`^(?i)([0-9]+)([KMGTPEZ]?I?B?)$`)

// suffixMultiplier omits 'Z' (zettabyte): 1<<70 overflows uint64, so the
// spec's grammar allows it but no value could ever parse successfully.
var suffixMultiplier = map[byte]uint64{
	'B': 1,
	'K': 1 << 10,
	'M': 1 << 20,
	'G': 1 << 30,
	'T': 1 << 40,
	'P': 1 << 50,
	'E': 1 << 60,
}

// Context carries the per-source facts needed to evaluate a Policy.
type Context struct {
	MountPoint string // "" if source is a bare block device
	FreeBytes  uint64
	UsedBytes  uint64
	DevSize    uint64
}

// Parse parses a size policy spec string against ctx, choosing the
// spec.md §4.3 defaults when spec is empty.
//
// Accepted forms: "<N><unit>" (Fixed) and "<N>%FREE|USED|SIZE" (percent
// variants). PercentUsed requires ctx.MountPoint to be non-empty.
// PercentFree and PercentSize percentages must be <= 100.
func Parse(spec string, ctx Context) (*Policy, error) {
	if spec == "" {
		if ctx.MountPoint != "" {
			return &Policy{Kind: PercentUsed, Percent: defaultPercentUsed}, nil
		}
		return &Policy{Kind: PercentSize, Percent: defaultPercentSize}, nil
	}

	if strings.HasSuffix(spec, "%FREE") || strings.HasSuffix(spec, "%USED") || strings.HasSuffix(spec, "%SIZE") {
		numStr := spec[:len(spec)-5]
		pct, err := strconv.ParseFloat(numStr, 64)
		if err != nil {
			return nil, apferr.Wrap(apferr.SizePolicy, fmt.Sprintf("invalid percentage in size policy %q", spec), err)
		}
		switch {
		case strings.HasSuffix(spec, "%USED"):
			if ctx.MountPoint == "" {
				return nil, apferr.Errorf(apferr.SizePolicy, "%%USED size policy requires a mount point: %q", spec)
			}
			return &Policy{Kind: PercentUsed, Percent: pct}, nil
		case strings.HasSuffix(spec, "%FREE"):
			if pct > 100 {
				return nil, apferr.Errorf(apferr.SizePolicy, "%%FREE percentage must be <= 100: %q", spec)
			}
			return &Policy{Kind: PercentFree, Percent: pct}, nil
		default: // %SIZE
			if pct > 100 {
				return nil, apferr.Errorf(apferr.SizePolicy, "%%SIZE percentage must be <= 100: %q", spec)
			}
			return &Policy{Kind: PercentSize, Percent: pct}, nil
		}
	}

	m := sizeRe.FindStringSubmatch(spec)
	if m == nil {
		return nil, apferr.Errorf(apferr.SizePolicy, "unrecognized size policy: %q", spec)
	}
	n, err := strconv.ParseUint(m[1], 10, 64)
	if err != nil {
		return nil, apferr.Wrap(apferr.SizePolicy, fmt.Sprintf("invalid size value in %q", spec), err)
	}
	unit := strings.ToUpper(m[2])
	var suffix byte = 'B'
	if len(unit) > 0 {
		suffix = unit[0]
	}
	mult, ok := suffixMultiplier[suffix]
	if !ok {
		return nil, apferr.Errorf(apferr.SizePolicy, "unknown size unit in %q", spec)
	}
	return &Policy{Kind: Fixed, Bytes: n * mult}, nil
}

// Evaluate computes the concrete byte size this Policy resolves to given
// ctx, rounded up to a SectorSize multiple.
func (p *Policy) Evaluate(ctx Context) (uint64, error) {
	var raw uint64
	switch p.Kind {
	case Fixed:
		raw = p.Bytes
	case PercentFree:
		raw = uint64(p.Percent / 100.0 * float64(ctx.FreeBytes))
	case PercentUsed:
		if ctx.MountPoint == "" {
			return 0, apferr.New(apferr.SizePolicy, "%USED size policy requires a mount point")
		}
		raw = uint64(p.Percent / 100.0 * float64(ctx.UsedBytes))
	case PercentSize:
		raw = uint64(p.Percent / 100.0 * float64(ctx.DevSize))
	default:
		return 0, apferr.Errorf(apferr.SizePolicy, "unknown size policy kind %d", p.Kind)
	}
	return roundUpSector(raw), nil
}

func roundUpSector(bytes uint64) uint64 {
	if bytes%SectorSize == 0 {
		return bytes
	}
	return (bytes/SectorSize + 1) * SectorSize
}

// RoundUpExtent rounds bytes up to a multiple of extentSize. extentSize
// of 0 is a no-op. No provider calls it: the LVM2-CoW provider raises
// sizes to its 512 MiB floor but does not round them to the VG extent
// size.
func RoundUpExtent(bytes, extentSize uint64) uint64 {
	if extentSize == 0 || bytes%extentSize == 0 {
		return bytes
	}
	return (bytes/extentSize + 1) * extentSize
}
