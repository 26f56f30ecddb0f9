package mounts

import (
	"bytes"
	"context"
	"os/exec"
	"syscall"

	"github.com/deploymenttheory/snapm/internal/apferr"
)

// Exec runs command inside the mount's chroot, splitting it into argv
// with splitShellWords, grounded on snapm.manager._mounts.Mount.exec.
func (m *Mount) Exec(ctx context.Context, command string) (Result, error) {
	if !m.mounted {
		return Result{}, apferr.Errorf(apferr.Path, "snapshot set %s is not mounted", m.snapset.Name)
	}

	argv, err := splitShellWords(command)
	if err != nil {
		return Result{}, err
	}
	if len(argv) == 0 {
		return Result{}, apferr.Errorf(apferr.Argument, "empty command")
	}

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Chroot: m.root}
	cmd.Dir = "/"

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	runErr := cmd.Run()

	res := Result{Stdout: stdout.String(), Stderr: stderr.String()}
	if exitErr, ok := runErr.(*exec.ExitError); ok {
		res.ExitCode = exitErr.ExitCode()
	}
	if runErr != nil {
		return res, apferr.Wrap(apferr.Callout, "exec "+command+" in "+m.root, runErr)
	}
	return res, nil
}

// Result is the captured outcome of a chroot exec.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// splitShellWords performs a small, quote-aware split of a command line
// into argv, honoring single and double quotes and backslash escapes,
// grounded on the shlex.split() calls in snapm.manager._mounts.Mount.exec;
// no shlex-equivalent dependency appears anywhere in the retrieved
// pack, so this is hand-rolled (see DESIGN.md).
func splitShellWords(s string) ([]string, error) {
	var words []string
	var cur []rune
	inWord := false
	var quote rune

	flush := func() {
		if inWord {
			words = append(words, string(cur))
			cur = cur[:0]
			inWord = false
		}
	}

	runes := []rune(s)
	for i := 0; i < len(runes); i++ {
		c := runes[i]
		switch {
		case quote != 0:
			if c == quote {
				quote = 0
				continue
			}
			if quote == '"' && c == '\\' && i+1 < len(runes) {
				next := runes[i+1]
				if next == '"' || next == '\\' {
					cur = append(cur, next)
					i++
					continue
				}
			}
			cur = append(cur, c)
		case c == '\'' || c == '"':
			quote = c
			inWord = true
		case c == '\\' && i+1 < len(runes):
			cur = append(cur, runes[i+1])
			inWord = true
			i++
		case c == ' ' || c == '\t':
			flush()
		default:
			cur = append(cur, c)
			inWord = true
		}
	}
	if quote != 0 {
		return nil, apferr.Errorf(apferr.Argument, "unterminated quote in command")
	}
	flush()
	return words, nil
}
