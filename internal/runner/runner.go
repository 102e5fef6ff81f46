// Package runner executes build tool commands, either on the host or inside
// a throwaway container.
package runner

import (
	"context"
	"fmt"
	"slices"
	"strings"
)

// Command is one tool invocation.
type Command struct {
	Name string
	Args []string
	Dir  string            // working directory, absolute
	Env  map[string]string // added to the inherited environment
}

// String renders the command line for logs.
func (c Command) String() string {
	return strings.TrimSpace(c.Name + " " + strings.Join(c.Args, " "))
}

// Output is what a finished command produced.
type Output struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Runner executes commands.
type Runner interface {
	// Run executes cmd and waits for it to finish. A non-zero exit yields an
	// *ExitError alongside the captured output. Cancelling ctx kills the command.
	Run(ctx context.Context, cmd Command) (Output, error)
}

// ExitError reports a command that ran but exited non-zero.
type ExitError struct {
	Command  string
	ExitCode int
	Stderr   string
}

func (e *ExitError) Error() string {
	msg := fmt.Sprintf("%s exited with code %d", e.Command, e.ExitCode)
	if tail := lastLine(e.Stderr); tail != "" {
		msg += ": " + tail
	}
	return msg
}

// lastLine returns the last non-empty line of s, which for make and helm is
// usually the one naming the failure.
func lastLine(s string) string {
	lines := strings.Split(strings.TrimRight(s, "\r\n"), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if l := strings.TrimSpace(lines[i]); l != "" {
			return l
		}
	}
	return ""
}

// envList flattens env in a stable order.
func envList(env map[string]string) []string {
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+env[k])
	}
	return out
}
