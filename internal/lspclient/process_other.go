//go:build !unix

package lspclient

import (
	"os"
	"os/exec"
)

// setProcessGroup is a no-op on platforms without POSIX process groups;
// killProcessGroup below falls back to killing only the direct child.
func setProcessGroup(cmd *exec.Cmd) {}

// killProcessGroup kills only the direct process; non-Unix platforms don't
// get the process-group teardown guarantee.
func killProcessGroup(pid int) error {
	p, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	return p.Kill()
}
