package mounts

import (
	"context"
	"os"
	"strconv"
	"strings"

	"github.com/deploymenttheory/snapm/internal/apferr"
	"github.com/deploymenttheory/snapm/internal/bootintegration"
	"github.com/deploymenttheory/snapm/internal/exec"
)

// resolveDevice resolves a fstab WHAT field to a concrete device path,
// handling UUID=/LABEL=/PARTUUID=/PARTLABEL= specifiers as well as plain
// device paths, grounded on snapm.manager._mounts._resolve_device.
func resolveDevice(devs bootintegration.DeviceResolver, spec string) (string, error) {
	switch {
	case strings.HasPrefix(spec, "UUID="):
		id := strings.TrimPrefix(spec, "UUID=")
		dev, err := devs.ResolveDevicePath(id, "uuid")
		if err != nil {
			return "", apferr.Wrap(apferr.NotFound, "resolve UUID="+id, err)
		}
		return dev, nil

	case strings.HasPrefix(spec, "LABEL="):
		id := strings.TrimPrefix(spec, "LABEL=")
		dev, err := devs.ResolveDevicePath(id, "label")
		if err != nil {
			return "", apferr.Wrap(apferr.NotFound, "resolve LABEL="+id, err)
		}
		return dev, nil

	case strings.HasPrefix(spec, "PARTUUID="):
		id := strings.TrimPrefix(spec, "PARTUUID=")
		path := "/dev/disk/by-partuuid/" + id
		if _, err := os.Stat(path); err != nil {
			return "", apferr.Errorf(apferr.NotFound, "no device for PARTUUID=%s", id)
		}
		return path, nil

	case strings.HasPrefix(spec, "PARTLABEL="):
		id := strings.TrimPrefix(spec, "PARTLABEL=")
		path := "/dev/disk/by-partlabel/" + id
		if _, err := os.Stat(path); err != nil {
			return "", apferr.Errorf(apferr.NotFound, "no device for PARTLABEL=%s", id)
		}
		return path, nil

	default:
		return spec, nil
	}
}

// xfsQuotaOptions queries xfs_db for the quota accounting/enforcement
// flags active on dev and translates them to the mount(8) option names
// mount would report, grounded on
// snapm.manager._mounts._get_xfs_quota_options.
func xfsQuotaOptions(runner exec.Runner, dev string) (string, error) {
	res, err := runner.Run(context.Background(), "xfs_db", "-r", "-c", "sb 0", "-c", "p qflags", dev)
	if err != nil {
		return "", apferr.Wrap(apferr.Callout, "xfs_db "+dev, err)
	}

	var flags int64
	found := false
	for _, line := range strings.Split(res.Stdout, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "qflags") {
			continue
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		value := strings.TrimSpace(parts[1])
		parsed, parseErr := strconv.ParseInt(strings.TrimPrefix(value, "0x"), 16, 64)
		if parseErr != nil {
			return "", apferr.Wrap(apferr.Callout, "malformed xfs_db qflags output", parseErr)
		}
		flags = parsed
		found = true
		break
	}
	if !found {
		return "", apferr.Errorf(apferr.Callout, "xfs_db produced no qflags line for %s", dev)
	}

	const (
		uquotaAcct = 0x0001
		uquotaEnfd = 0x0002
		gquotaAcct = 0x0040
		gquotaEnfd = 0x0080
		pquotaAcct = 0x0008
		pquotaEnfd = 0x0200
	)

	var opts []string
	switch {
	case flags&uquotaAcct != 0 && flags&uquotaEnfd != 0:
		opts = append(opts, "uquota")
	case flags&uquotaAcct != 0:
		opts = append(opts, "uqnoenforce")
	}
	switch {
	case flags&gquotaAcct != 0 && flags&gquotaEnfd != 0:
		opts = append(opts, "gquota")
	case flags&gquotaAcct != 0:
		opts = append(opts, "gqnoenforce")
	}
	switch {
	case flags&pquotaAcct != 0 && flags&pquotaEnfd != 0:
		opts = append(opts, "pquota")
	case flags&pquotaAcct != 0:
		opts = append(opts, "pqnoenforce")
	}

	return strings.Join(opts, ","), nil
}
