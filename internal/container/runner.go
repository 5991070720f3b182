package container

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
)

// CommandRunner executes host commands and captures their output.
type CommandRunner interface {
	RunCommand(ctx context.Context, args []string) (stdout, stderr []byte, exitCode int, err error)
}

// ExecCommandRunner implements CommandRunner with os/exec.
type ExecCommandRunner struct{}

// RunCommand runs args[0] with the remaining arguments. A non-zero exit is
// reported through exitCode; err is set only when the command could not run
// or ctx ended first.
func (ExecCommandRunner) RunCommand(ctx context.Context, args []string) (stdout, stderr []byte, exitCode int, err error) {
	if len(args) < 1 {
		return nil, nil, 0, fmt.Errorf("no command provided")
	}

	cmd := exec.CommandContext(ctx, args[0], args[1:]...) //nolint:gosec // argv is built by the engine

	var stdoutBuf, stderrBuf bytes.Buffer
	cmd.Stdout = &stdoutBuf
	cmd.Stderr = &stderrBuf

	runErr := cmd.Run()
	if ctxErr := ctx.Err(); ctxErr != nil {
		return stdoutBuf.Bytes(), stderrBuf.Bytes(), -1, ctxErr
	}
	if runErr != nil {
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			return stdoutBuf.Bytes(), stderrBuf.Bytes(), exitErr.ExitCode(), nil
		}
		return nil, nil, 0, runErr
	}

	return stdoutBuf.Bytes(), stderrBuf.Bytes(), 0, nil
}
