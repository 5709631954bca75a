//go:build unix

package lspclient

import (
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"
)

// setProcessGroup puts the child in its own process group so killProcessGroup
// can terminate it and any children it spawned (e.g. a language server that
// forks a worker) in one signal, instead of leaving orphans behind.
func setProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// killProcessGroup sends SIGKILL to the process group led by pid.
func killProcessGroup(pid int) error {
	return unix.Kill(-pid, unix.SIGKILL)
}
