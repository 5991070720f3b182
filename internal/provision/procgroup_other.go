//go:build !unix

package provision

import (
	"errors"
	"os"
	"os/exec"
)

func configureProcessGroup(*exec.Cmd, bool) {}

func killGroupOf(proc *os.Process) error {
	if err := proc.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return err
	}
	return nil
}

func exitStatus(exitErr *exec.ExitError) int {
	return exitErr.ExitCode()
}
