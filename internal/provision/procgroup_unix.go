//go:build unix

package provision

import (
	"errors"
	"os"
	"os/exec"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// processGroupWaitDelay bounds how long Wait keeps reading pipes held open
// by descendants after the interpreter has been killed.
const processGroupWaitDelay = 2 * time.Second

// configureProcessGroup runs cmd in its own session so its descendants can
// be killed as a group. On cancellation either the whole group or only the
// leader is killed.
func configureProcessGroup(cmd *exec.Cmd, killGroup bool) {
	if cmd.SysProcAttr == nil {
		cmd.SysProcAttr = &syscall.SysProcAttr{}
	}
	cmd.SysProcAttr.Setsid = true

	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return os.ErrProcessDone
		}
		if !killGroup {
			return cmd.Process.Kill()
		}
		return killProcessGroup(cmd.Process.Pid)
	}
	cmd.WaitDelay = processGroupWaitDelay
}

// killGroupOf kills the process group led by proc. A leader that was already
// reaped no longer owns its pgid, so nothing is sent.
func killGroupOf(proc *os.Process) error {
	if err := proc.Signal(syscall.Signal(0)); errors.Is(err, os.ErrProcessDone) {
		return nil
	}
	return killProcessGroup(proc.Pid)
}

func killProcessGroup(pgid int) error {
	// kill(-1) and kill(0) would hit far more than the sandbox.
	if pgid <= 1 {
		return nil
	}
	if err := unix.Kill(-pgid, unix.SIGKILL); err != nil && !errors.Is(err, unix.ESRCH) {
		return err
	}
	return nil
}

// exitStatus reports 128+signal for a process killed by a signal, the way
// shells and container engines do, so it never collides with the negative
// codes synthesized for timeouts.
func exitStatus(exitErr *exec.ExitError) int {
	if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		return 128 + int(ws.Signal())
	}
	return exitErr.ExitCode()
}
