package compose

import (
	"bytes"
	"context"
	"os/exec"

	"github.com/pkg/errors"
)

// CommandRunner abstracts subprocess execution so discovery and lifecycle
// commands can be exercised in tests without a Compose installation.
type CommandRunner interface {
	// LookPath reports whether the named binary can be located on PATH.
	LookPath(name string) error

	// Run executes the command in dir and returns captured stdout and
	// stderr. A non-zero exit is returned as an error alongside whatever
	// output was captured.
	Run(ctx context.Context, dir string, name string, args ...string) (stdout, stderr []byte, err error)
}

// ExecRunner runs commands with os/exec.
type ExecRunner struct{}

// LookPath reports whether name resolves on PATH.
func (ExecRunner) LookPath(name string) error {
	_, err := exec.LookPath(name)
	return err
}

// Run executes the command, capturing both output streams.
func (ExecRunner) Run(ctx context.Context, dir string, name string, args ...string) ([]byte, []byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return stdout.Bytes(), stderr.Bytes(), errors.Wrapf(err, "command %s failed", name)
	}
	return stdout.Bytes(), stderr.Bytes(), nil
}
