package container

import (
	"context"
	"errors"
	"os/exec"
	"strings"
)

// transientMarkers are engine error fragments that usually clear on retry.
var transientMarkers = []string{
	"ping_group_range",
	"OCI runtime error",
	"Temporary failure resolving",
	"Could not resolve host",
	"connection timed out",
	"connection refused",
	"error creating overlay mount",
	"error mounting layer",
	"TLS handshake timeout",
}

// IsTransientError reports whether err is an engine failure that may succeed
// on retry. Context cancellation is never transient.
func IsTransientError(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	// 125 is the engine's own "something went wrong" exit code.
	var cmdErr *CommandError
	if errors.As(err, &cmdErr) && cmdErr.ExitCode == 125 && !isPermanentRunFailure(cmdErr.Stderr) {
		return true
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && exitErr.ExitCode() == 125 {
		return true
	}

	msg := err.Error()
	for _, marker := range transientMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

func isPermanentRunFailure(stderr string) bool {
	s := strings.ToLower(stderr)
	return strings.Contains(s, "manifest unknown") ||
		strings.Contains(s, "pull access denied") ||
		strings.Contains(s, "name already in use") ||
		strings.Contains(s, "is already in use")
}
