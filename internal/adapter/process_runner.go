package adapter

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	m "aflcov.dev/pkg/aflcov/internal/model"
)

// RunSpec describes one child process invocation.
type RunSpec struct {
	// Argv is the command and its arguments. Must not be empty.
	Argv []string

	// Env holds extra KEY=VALUE entries appended to the inherited
	// environment.
	Env []string

	// Stdin, when non-nil, is written to the child's standard input.
	Stdin []byte

	// Timeout bounds the child's wall-clock runtime. Zero means no limit.
	Timeout time.Duration

	// StdoutFile, when set, receives the child's standard output instead of
	// the in-memory buffer.
	StdoutFile m.Path
}

// ProcResult records how a child process ended.
type ProcResult struct {
	ExitCode  int
	Signal    int
	TimedOut  bool
	Cancelled bool
	Stderr    []byte
	Duration  time.Duration
}

// Outcome maps the process result onto the run outcome taxonomy. A
// signal-terminated child is a crash, not a runner error: crashing inputs are
// expected during corpus replay. A child killed because the campaign was
// cancelled is skipped, not crashed.
func (r ProcResult) Outcome() m.Outcome {
	switch {
	case r.Cancelled:
		return m.Skipped
	case r.TimedOut:
		return m.TimedOut
	case r.Signal != 0:
		return m.Crashed
	default:
		return m.Completed
	}
}

// Success reports whether the child ran to completion and exited with status
// zero. External tool invocations must gate on this rather than ExitCode
// alone: a child killed by timeout or cancellation never produced a trustworthy
// exit status.
func (r ProcResult) Success() bool {
	return !r.TimedOut && !r.Cancelled && r.Signal == 0 && r.ExitCode == 0
}

// ProcessRunner abstracts child process execution so backends and the
// scheduler can be tested without spawning real targets.
type ProcessRunner interface {
	// Run spawns one child process and waits for it to exit or time out.
	// Timeouts and signal exits are reported through ProcResult, never as an
	// error; the error return covers spawn failures and I/O trouble only.
	Run(ctx context.Context, spec RunSpec) (ProcResult, error)
}

// LocalProcessRunner runs children in their own process group so that a
// timeout or cancellation kills the whole tree, including anything the
// instrumentation harness forked.
type LocalProcessRunner struct{}

// NewLocalProcessRunner constructs a LocalProcessRunner.
func NewLocalProcessRunner() *LocalProcessRunner {
	return &LocalProcessRunner{}
}

// maxStderr caps how much child stderr is retained for logging.
const maxStderr = 64 << 10

// Run implements ProcessRunner.
func (r *LocalProcessRunner) Run(ctx context.Context, spec RunSpec) (ProcResult, error) {
	if len(spec.Argv) == 0 {
		return ProcResult{}, errors.New("empty command")
	}

	runCtx := ctx
	cancel := context.CancelFunc(func() {})

	if spec.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, spec.Timeout)
	}
	defer cancel()

	cmd := exec.Command(spec.Argv[0], spec.Argv[1:]...)
	cmd.Env = append(os.Environ(), spec.Env...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if spec.Stdin != nil {
		cmd.Stdin = bytes.NewReader(spec.Stdin)
	}

	var stdout, stderr bytes.Buffer

	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	var stdoutFile *os.File

	if spec.StdoutFile != "" {
		f, err := os.Create(string(spec.StdoutFile))
		if err != nil {
			return ProcResult{}, fmt.Errorf("create stdout file: %w", err)
		}

		stdoutFile = f
		cmd.Stdout = f
	}

	start := time.Now()

	if err := cmd.Start(); err != nil {
		if stdoutFile != nil {
			_ = stdoutFile.Close()
		}

		return ProcResult{}, fmt.Errorf("start %s: %w", spec.Argv[0], err)
	}

	slog.Debug("started child", "argv", spec.Argv, "pid", cmd.Process.Pid, "timeout", spec.Timeout)

	waitErr := make(chan error, 1)
	go func() {
		waitErr <- cmd.Wait()
	}()

	res := ProcResult{}

	select {
	case err := <-waitErr:
		res.Duration = time.Since(start)
		res.ExitCode, res.Signal = decodeExit(cmd, err)

	case <-runCtx.Done():
		// Kill the whole group, not just the parent, so forked children and
		// instrumentation wrappers do not linger.
		killProcessGroup(cmd.Process.Pid)
		<-waitErr

		res.Duration = time.Since(start)

		if runCtx.Err() == context.DeadlineExceeded {
			res.TimedOut = true
		} else {
			// Cancelled from outside: mark the run as never finished so
			// nothing mistakes the killed child for a clean exit.
			res.Cancelled = true
			res.ExitCode = -1
			res.Signal = int(unix.SIGKILL)
		}
	}

	if stdoutFile != nil {
		if err := stdoutFile.Close(); err != nil {
			return res, fmt.Errorf("close stdout file: %w", err)
		}
	}

	if stderr.Len() > maxStderr {
		stderr.Truncate(maxStderr)
	}

	res.Stderr = stderr.Bytes()

	if res.ExitCode != 0 && len(res.Stderr) > 0 {
		slog.Warn("child exited abnormally", "argv", spec.Argv, "exit", res.ExitCode, "stderr", string(res.Stderr))
	}

	return res, nil
}

// decodeExit extracts the exit code and terminating signal from a finished
// command.
func decodeExit(cmd *exec.Cmd, err error) (exitCode, signal int) {
	state := cmd.ProcessState
	if state == nil {
		return -1, 0
	}

	if status, ok := state.Sys().(syscall.WaitStatus); ok && status.Signaled() {
		return state.ExitCode(), int(status.Signal())
	}

	var exitErr *exec.ExitError
	if err != nil && !errors.As(err, &exitErr) {
		return -1, 0
	}

	return state.ExitCode(), 0
}

// killProcessGroup sends SIGKILL to the child's process group.
func killProcessGroup(pid int) {
	pgid, err := unix.Getpgid(pid)
	if err != nil {
		// Process already reaped; nothing to kill.
		return
	}

	if err := unix.Kill(-pgid, unix.SIGKILL); err != nil && !errors.Is(err, unix.ESRCH) {
		slog.Warn("failed to kill process group", "pgid", pgid, "error", err)
	}
}
