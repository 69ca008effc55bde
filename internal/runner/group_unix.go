//go:build unix

package runner

import (
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"
)

// killProcessGroup starts c in its own process group and kills the whole group on
// cancellation, so children of a shell do not outlive it.
func killProcessGroup(c *exec.Cmd) {
	c.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	c.Cancel = func() error {
		return unix.Kill(-c.Process.Pid, unix.SIGKILL)
	}
}
