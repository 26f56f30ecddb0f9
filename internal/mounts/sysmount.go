package mounts

import (
	"bytes"
	"context"
	"os/exec"

	"github.com/deploymenttheory/snapm/internal/apferr"
	"github.com/deploymenttheory/snapm/internal/entities"
)

// SysMount models the running system's own root file system as a Mount
// that is always mounted, cannot be mounted or unmounted, and runs
// commands directly rather than via chroot, grounded on
// snapm.manager._mounts.SysMount.
type SysMount struct{}

// NewSysMount constructs the always-present view of the running root.
func NewSysMount() *SysMount { return &SysMount{} }

// Snapset always returns nil: the running root is not a SnapshotSet.
func (s *SysMount) Snapset() *entities.SnapshotSet { return nil }

// Root is always "/".
func (s *SysMount) Root() string { return "/" }

// Mounted is always true.
func (s *SysMount) Mounted() bool { return true }

// Exec runs command directly on the host, without a chroot.
func (s *SysMount) Exec(ctx context.Context, command string) (Result, error) {
	argv, err := splitShellWords(command)
	if err != nil {
		return Result{}, err
	}
	if len(argv) == 0 {
		return Result{}, apferr.Errorf(apferr.Argument, "empty command")
	}

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	runErr := cmd.Run()

	res := Result{Stdout: stdout.String(), Stderr: stderr.String()}
	if exitErr, ok := runErr.(*exec.ExitError); ok {
		res.ExitCode = exitErr.ExitCode()
	}
	if runErr != nil {
		return res, apferr.Wrap(apferr.Callout, "exec "+command, runErr)
	}
	return res, nil
}
