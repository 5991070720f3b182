// Command sessionbox runs Python for agents in per-session sandboxes.
//
// Each session gets an isolated environment (a container when an engine is
// available, a virtual environment otherwise) and a staging directory that
// persists between runs until the session is released.
package main

import (
	"os"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}
