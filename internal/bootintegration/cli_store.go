package bootintegration

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/deploymenttheory/snapm/internal/apferr"
	"github.com/deploymenttheory/snapm/internal/exec"
)

// CLIStore drives the real boom boot-loader entry tool through
// internal/exec.Runner, the same command-runner seam the Provider
// adapters use, per spec.md §1's treatment of boom as an external
// entry repository.
type CLIStore struct {
	runner exec.Runner
}

// NewCLIStore constructs a CLIStore.
func NewCLIStore(runner exec.Runner) *CLIStore {
	return &CLIStore{runner: runner}
}

type bootEntryJSON struct {
	BootID  string `json:"boot_id"`
	Options string `json:"options"`
}

func (s *CLIStore) run(args ...string) (exec.Result, error) {
	res, err := s.runner.Run(context.Background(), "boom", args...)
	if err != nil {
		return res, apferr.Wrap(apferr.Callout, fmt.Sprintf("boom %s failed", strings.Join(args, " ")), err)
	}
	return res, nil
}

// CreateEntry creates a boot entry via "boom boot create", returning the
// new entry's boot_id as reported by boom's --json output.
func (s *CLIStore) CreateEntry(opts BootEntryOptions) (string, error) {
	args := []string{
		"boot", "create",
		"--json",
		"--title", opts.Title,
		"--version", opts.Version,
		"--root-device", opts.RootDevice,
		"--add-opts", opts.TagArg,
	}
	if len(opts.Mounts) > 0 {
		args = append(args, "--mounts", strings.Join(opts.Mounts, " "), "--no-fstab")
	}
	if len(opts.Swaps) > 0 {
		args = append(args, "--swaps", strings.Join(opts.Swaps, " "))
	}
	res, err := s.run(args...)
	if err != nil {
		return "", err
	}
	var entry bootEntryJSON
	if err := json.Unmarshal([]byte(res.Stdout), &entry); err != nil {
		return "", apferr.Wrap(apferr.Callout, "could not parse boom boot create output", err)
	}
	return entry.BootID, nil
}

// DeleteEntry deletes a boot entry by boot_id via "boom boot delete".
func (s *CLIStore) DeleteEntry(entryID string) error {
	_, err := s.run("boot", "delete", "--boot-id", entryID)
	return err
}

// FindEntries lists every existing boot entry via "boom boot list --json".
func (s *CLIStore) FindEntries() ([]BootEntryRecord, error) {
	res, err := s.run("boot", "list", "--json")
	if err != nil {
		return nil, err
	}
	var entries []bootEntryJSON
	if err := json.Unmarshal([]byte(res.Stdout), &entries); err != nil {
		return nil, apferr.Wrap(apferr.Callout, "could not parse boom boot list output", err)
	}
	out := make([]BootEntryRecord, 0, len(entries))
	for _, e := range entries {
		out = append(out, BootEntryRecord{ID: e.BootID, Options: e.Options})
	}
	return out, nil
}

var _ BootEntryStore = (*CLIStore)(nil)

// BlkidResolver resolves filesystem UUIDs/labels to device paths via the
// blkid command, grounded on get_device_path.
type BlkidResolver struct {
	runner exec.Runner
}

// NewBlkidResolver constructs a BlkidResolver.
func NewBlkidResolver(runner exec.Runner) *BlkidResolver {
	return &BlkidResolver{runner: runner}
}

func (r *BlkidResolver) ResolveDevicePath(identifier, byType string) (string, error) {
	var flag string
	switch byType {
	case "uuid":
		flag = "--uuid"
	case "label":
		flag = "--label"
	default:
		return "", apferr.Errorf(apferr.Argument, "invalid byType %q, must be uuid or label", byType)
	}
	res, err := r.runner.Run(context.Background(), "blkid", flag, identifier)
	if err != nil {
		return "", apferr.Wrap(apferr.NotFound, fmt.Sprintf("blkid could not resolve %s=%s", byType, identifier), err)
	}
	dev := strings.TrimSpace(res.Stdout)
	if dev == "" {
		return "", apferr.Errorf(apferr.NotFound, "blkid returned no device for %s=%s", byType, identifier)
	}
	return dev, nil
}

var _ DeviceResolver = (*BlkidResolver)(nil)
