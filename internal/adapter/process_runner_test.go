package adapter

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"testing"
	"time"

	m "aflcov.dev/pkg/aflcov/internal/model"
)

func TestLocalProcessRunner_Run(t *testing.T) {
	t.Run("completed run", func(t *testing.T) {
		runner := NewLocalProcessRunner()

		res, err := runner.Run(context.Background(), RunSpec{
			Argv: []string{"sh", "-c", "exit 0"},
		})
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}

		if res.Outcome() != m.Completed {
			t.Fatalf("Outcome() = %v, want Completed", res.Outcome())
		}

		if res.ExitCode != 0 {
			t.Fatalf("ExitCode = %d, want 0", res.ExitCode)
		}
	})

	t.Run("nonzero exit is still completed", func(t *testing.T) {
		runner := NewLocalProcessRunner()

		res, err := runner.Run(context.Background(), RunSpec{
			Argv: []string{"sh", "-c", "exit 3"},
		})
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}

		if res.Outcome() != m.Completed {
			t.Fatalf("Outcome() = %v, want Completed", res.Outcome())
		}

		if res.ExitCode != 3 {
			t.Fatalf("ExitCode = %d, want 3", res.ExitCode)
		}
	})

	t.Run("stdin is piped", func(t *testing.T) {
		runner := NewLocalProcessRunner()
		out := filepath.Join(t.TempDir(), "out")

		res, err := runner.Run(context.Background(), RunSpec{
			Argv:       []string{"cat"},
			Stdin:      []byte("corpus bytes"),
			StdoutFile: m.Path(out),
		})
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}

		if res.ExitCode != 0 {
			t.Fatalf("ExitCode = %d, want 0", res.ExitCode)
		}

		data, err := os.ReadFile(out)
		if err != nil {
			t.Fatalf("ReadFile() error = %v", err)
		}

		if string(data) != "corpus bytes" {
			t.Fatalf("stdout file = %q, want %q", data, "corpus bytes")
		}
	})

	t.Run("extra env reaches the child", func(t *testing.T) {
		runner := NewLocalProcessRunner()
		out := filepath.Join(t.TempDir(), "out")

		_, err := runner.Run(context.Background(), RunSpec{
			Argv:       []string{"sh", "-c", "printf %s \"$REPLAY_MARK\""},
			Env:        []string{"REPLAY_MARK=hit"},
			StdoutFile: m.Path(out),
		})
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}

		data, _ := os.ReadFile(out)
		if strings.TrimSpace(string(data)) != "hit" {
			t.Fatalf("child env = %q, want hit", data)
		}
	})

	t.Run("timeout kills the run", func(t *testing.T) {
		runner := NewLocalProcessRunner()

		start := time.Now()

		res, err := runner.Run(context.Background(), RunSpec{
			Argv:    []string{"sleep", "10"},
			Timeout: 100 * time.Millisecond,
		})
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}

		if res.Outcome() != m.TimedOut {
			t.Fatalf("Outcome() = %v, want TimedOut", res.Outcome())
		}

		if res.Success() {
			t.Fatal("Success() = true for a timed-out run")
		}

		if elapsed := time.Since(start); elapsed > 5*time.Second {
			t.Fatalf("timed-out run took %v, kill did not work", elapsed)
		}
	})

	t.Run("cancellation kills the run and marks it skipped", func(t *testing.T) {
		runner := NewLocalProcessRunner()

		ctx, cancel := context.WithCancel(context.Background())
		time.AfterFunc(100*time.Millisecond, cancel)

		start := time.Now()

		res, err := runner.Run(ctx, RunSpec{
			Argv: []string{"sleep", "10"},
		})
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}

		if res.Outcome() != m.Skipped {
			t.Fatalf("Outcome() = %v, want Skipped", res.Outcome())
		}

		// A killed child must never look like a clean tool exit.
		if res.Success() {
			t.Fatal("Success() = true for a cancelled run")
		}

		if res.ExitCode == 0 {
			t.Fatal("ExitCode = 0 for a cancelled run")
		}

		if elapsed := time.Since(start); elapsed > 5*time.Second {
			t.Fatalf("cancelled run took %v, kill did not work", elapsed)
		}
	})

	t.Run("signal exit is a crash", func(t *testing.T) {
		runner := NewLocalProcessRunner()

		res, err := runner.Run(context.Background(), RunSpec{
			Argv: []string{"sh", "-c", "kill -SEGV $$"},
		})
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}

		if res.Outcome() != m.Crashed {
			t.Fatalf("Outcome() = %v, want Crashed", res.Outcome())
		}

		if res.Signal != int(syscall.SIGSEGV) {
			t.Fatalf("Signal = %d, want SIGSEGV", res.Signal)
		}
	})

	t.Run("empty argv is rejected", func(t *testing.T) {
		runner := NewLocalProcessRunner()

		if _, err := runner.Run(context.Background(), RunSpec{}); err == nil {
			t.Fatal("Run() expected error for empty argv")
		}
	})

	t.Run("missing binary is a runner error", func(t *testing.T) {
		runner := NewLocalProcessRunner()

		if _, err := runner.Run(context.Background(), RunSpec{Argv: []string{"definitely-not-a-binary-xyz"}}); err == nil {
			t.Fatal("Run() expected error for missing binary")
		}
	})
}
