package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"time"
)

// Exec runs commands on the local host.
type Exec struct {
	// WaitDelay bounds how long Run waits for output pipes after the process
	// is killed on cancellation.
	WaitDelay time.Duration

	// Tools must be on PATH for Ready to pass.
	Tools []string
}

// NewExec creates a host runner.
func NewExec() *Exec {
	return &Exec{WaitDelay: 5 * time.Second, Tools: []string{"make", "helm"}}
}

// Ready reports whether every required tool is installed.
func (r *Exec) Ready(ctx context.Context) error {
	for _, tool := range r.Tools {
		if _, err := exec.LookPath(tool); err != nil {
			return fmt.Errorf("%s not found on PATH: %w", tool, err)
		}
	}
	return nil
}

// Run implements Runner.
func (r *Exec) Run(ctx context.Context, c Command) (Output, error) {
	cmd := exec.CommandContext(ctx, c.Name, c.Args...)
	cmd.Dir = c.Dir
	cmd.Env = append(os.Environ(), envList(c.Env)...)
	cmd.WaitDelay = r.WaitDelay

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	slog.Debug("Running command", "cmd", c.String(), "dir", c.Dir)
	err := cmd.Run()

	out := Output{Stdout: stdout.String(), Stderr: stderr.String()}
	if err == nil {
		return out, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		out.ExitCode = -1
		return out, ctxErr
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		out.ExitCode = exitErr.ExitCode()
		return out, &ExitError{Command: c.String(), ExitCode: out.ExitCode, Stderr: out.Stderr}
	}

	out.ExitCode = 127
	return out, err
}

var _ Runner = (*Exec)(nil)
