package manager

import (
	"context"

	"github.com/deploymenttheory/snapm/internal/apferr"
	"github.com/deploymenttheory/snapm/internal/exec"
)

// suspendJournal flushes the systemd journal and relinquishes its
// write access to /var before a snapshot create, so the journal
// doesn't hold /var open across the device nodes momentarily
// disappearing and reappearing, per the original
// snapm.manager._manager._suspend_journal.
func suspendJournal(runner exec.Runner) error {
	if runner == nil {
		return nil
	}
	if _, err := runner.Run(context.Background(), "journalctl", "--flush"); err != nil {
		return apferr.Wrap(apferr.Callout, "journalctl --flush failed", err)
	}
	if _, err := runner.Run(context.Background(), "journalctl", "--relinquish-var"); err != nil {
		return apferr.Wrap(apferr.Callout, "journalctl --relinquish-var failed", err)
	}
	return nil
}

// resumeJournal reclaims /var journal writes after a snapshot create.
func resumeJournal(runner exec.Runner) error {
	if runner == nil {
		return nil
	}
	if _, err := runner.Run(context.Background(), "journalctl", "--flush"); err != nil {
		return apferr.Wrap(apferr.Callout, "journalctl --flush failed", err)
	}
	return nil
}
