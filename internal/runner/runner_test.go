package runner

import (
	"context"
	"errors"
	"slices"
	"strings"
	"testing"
	"time"
)

func TestExecRun(t *testing.T) {
	t.Parallel()
	r := NewExec()
	dir := t.TempDir()

	tests := []struct {
		name       string
		cmd        Command
		wantStdout string
		wantCode   int
		wantExit   bool
	}{
		{
			name:       "success",
			cmd:        Command{Name: "sh", Args: []string{"-c", "echo hello"}, Dir: dir},
			wantStdout: "hello\n",
		},
		{
			name:       "env and dir",
			cmd:        Command{Name: "sh", Args: []string{"-c", "echo $REGION-$DT; pwd"}, Dir: dir, Env: map[string]string{"REGION": "eu-north-1", "DT": "svc-a"}},
			wantStdout: "eu-north-1-svc-a\n" + dir + "\n",
		},
		{
			name:     "non-zero exit",
			cmd:      Command{Name: "sh", Args: []string{"-c", "echo boom >&2; exit 3"}, Dir: dir},
			wantCode: 3,
			wantExit: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			out, err := r.Run(context.Background(), tt.cmd)

			if tt.wantExit {
				var exitErr *ExitError
				if !errors.As(err, &exitErr) {
					t.Fatalf("expected *ExitError, got %v", err)
				}
				if exitErr.ExitCode != tt.wantCode {
					t.Errorf("expected code %d, got %d", tt.wantCode, exitErr.ExitCode)
				}
				if !strings.HasSuffix(exitErr.Error(), ": boom") {
					t.Errorf("expected stderr tail in message, got %q", exitErr.Error())
				}
			} else if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			if out.ExitCode != tt.wantCode {
				t.Errorf("expected exit code %d, got %d", tt.wantCode, out.ExitCode)
			}
			if tt.wantStdout != "" && out.Stdout != tt.wantStdout {
				t.Errorf("expected stdout %q, got %q", tt.wantStdout, out.Stdout)
			}
		})
	}
}

func TestExecRunMissingBinary(t *testing.T) {
	t.Parallel()
	out, err := NewExec().Run(context.Background(), Command{Name: "definitely-not-a-real-binary-xyz"})
	if err == nil {
		t.Fatal("expected error")
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		t.Error("missing binary must not be reported as an exit error")
	}
	if out.ExitCode != 127 {
		t.Errorf("expected exit code 127, got %d", out.ExitCode)
	}
}

func TestExecRunCancelled(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := NewExec().Run(ctx, Command{Name: "sleep", Args: []string{"10"}})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
	if time.Since(start) > 5*time.Second {
		t.Error("command was not killed on cancellation")
	}
}

func TestExecReady(t *testing.T) {
	t.Parallel()

	if err := (&Exec{Tools: []string{"sh"}}).Ready(context.Background()); err != nil {
		t.Errorf("expected sh to be found: %v", err)
	}
	err := (&Exec{Tools: []string{"sh", "no-such-build-tool"}}).Ready(context.Background())
	if err == nil || !strings.Contains(err.Error(), "no-such-build-tool") {
		t.Errorf("expected missing tool error, got %v", err)
	}
}

func TestCommandString(t *testing.T) {
	t.Parallel()
	c := Command{Name: "make", Args: []string{"k8s_build", "DT=svc-a"}}
	if got := c.String(); got != "make k8s_build DT=svc-a" {
		t.Errorf("unexpected %q", got)
	}
}

func TestEnvListSorted(t *testing.T) {
	t.Parallel()
	got := envList(map[string]string{"B": "2", "A": "1", "C": ""})
	want := []string{"A=1", "B=2", "C="}
	if !slices.Equal(got, want) {
		t.Errorf("expected %v, got %v", want, got)
	}
}

func TestLiveSet(t *testing.T) {
	t.Parallel()
	s := newLiveSet()
	s.add("b")
	s.add("a")
	s.add("a")

	if s.count() != 2 {
		t.Errorf("expected 2 ids, got %d", s.count())
	}
	if got := s.list(); !slices.Equal(got, []string{"a", "b"}) {
		t.Errorf("unexpected list %v", got)
	}
	s.remove("a")
	if got := s.list(); !slices.Equal(got, []string{"b"}) {
		t.Errorf("unexpected list %v", got)
	}
}

func TestNewRejectsUnknownKind(t *testing.T) {
	t.Parallel()
	if _, err := New(Config{Kind: "podman"}, "/tmp"); err == nil {
		t.Error("expected error for unknown runner")
	}
	r, err := New(Config{}, "/tmp")
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := r.(*Exec); !ok {
		t.Errorf("expected exec runner by default, got %T", r)
	}
	if _, err := New(Config{Kind: KindDocker}, "/tmp"); err == nil {
		t.Error("expected error for docker runner without image")
	}
}

func TestLoadConfigFromEnv(t *testing.T) {
	t.Setenv("RUNNER", "docker")
	t.Setenv("RUNNER_IMAGE", "ghcr.io/acme/toolbox:1")
	t.Setenv("EXTRA_HOSTS", "a:host-gateway, b:10.0.0.1")

	cfg := LoadConfigFromEnv()
	if cfg.Kind != KindDocker || cfg.Image != "ghcr.io/acme/toolbox:1" {
		t.Errorf("unexpected config %+v", cfg)
	}
	if !slices.Equal(cfg.ExtraHosts, []string{"a:host-gateway", "b:10.0.0.1"}) {
		t.Errorf("unexpected extra hosts %v", cfg.ExtraHosts)
	}
}
