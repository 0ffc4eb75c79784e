// Package exec provides an interface for running external commands.
package exec

import (
	"context"
)

// CommandRunner runs external commands on behalf of the git and agent layers.
type CommandRunner interface {
	// Run executes a command and returns combined stdout/stderr output.
	// The working directory is set to workDir if non-empty.
	Run(ctx context.Context, workDir string, name string, args ...string) (output []byte, err error)

	// Output executes a command and returns stdout only.
	// Stderr is attached to the returned error on failure.
	Output(ctx context.Context, workDir string, name string, args ...string) (stdout []byte, err error)

	// LookPath reports the resolved path of an executable on PATH.
	LookPath(name string) (string, error)
}
