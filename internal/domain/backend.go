package domain

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"aflcov.dev/pkg/aflcov/internal/adapter"
	m "aflcov.dev/pkg/aflcov/internal/model"
)

// SetupError marks a fatal misconfiguration detected before any run starts:
// missing toolchain, missing code directory, unusable output directory. Setup
// errors abort the whole pipeline; everything else is isolated per run.
type SetupError struct {
	Backend string
	Reason  string
	Err     error
}

func (e *SetupError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s setup: %s: %v", e.Backend, e.Reason, e.Err)
	}

	return fmt.Sprintf("%s setup: %s", e.Backend, e.Reason)
}

func (e *SetupError) Unwrap() error { return e.Err }

// Options carries the campaign parameters shared by every backend.
type Options struct {
	Command    CoverageCommand
	FuzzingDir m.Path
	OutputDir  m.Path

	// ExtraEnv is appended to every target invocation (the --env flag).
	ExtraEnv []string

	Timeout          time.Duration
	Overwrite        bool
	KeepIntermediate bool

	// NoEnvCheck disables toolchain availability checks and the
	// did-coverage-actually-appear validation after the first run.
	NoEnvCheck bool

	// MergeBatch is how many raw artifacts are handed to an external merge
	// tool per invocation (llvm-profdata, drcov-merge).
	MergeBatch int
}

// Backend hides one instrumentation technology behind the engine's
// prepare/run/merge/finalize contract. Implementations are flat strategy
// objects holding only the state their technology needs.
//
// RunOne is called concurrently from pool workers. Merge and Finalize are
// only ever called from the accumulator's single merge goroutine, so
// implementations keep their cumulative state unsynchronized.
type Backend interface {
	// Name returns the mode name ("gcc", "llvm", "qemu", "frida").
	Name() string

	// Prepare validates the environment and creates the output hierarchy.
	// Any error it returns is fatal.
	Prepare(ctx context.Context) error

	// RunOne replays one test case and returns its RunResult. Crashes and
	// timeouts are outcomes, not errors; the error return is reserved for
	// infrastructure failures worth logging, which still must not stop the
	// campaign.
	RunOne(ctx context.Context, tc m.TestCase) (m.RunResult, error)

	// Merge folds one run's raw artifact into the cumulative state and
	// records the run's incremental gain on the result. It never
	// deduplicates: calling it twice with the same artifact double-counts.
	Merge(ctx context.Context, res *m.RunResult) error

	// Finalize flushes the cumulative state and derives the zero-coverage
	// report.
	Finalize(ctx context.Context, summary m.RunSummary) (*m.ZeroCoverageReport, error)
}

// targetSpec assembles the child process invocation for one test case:
// placeholder substitution or stdin piping, the user's extra environment, and
// AFL_PRELOAD forwarded as LD_PRELOAD the way AFL itself launches targets.
func targetSpec(fs adapter.CorpusFSAdapter, opts Options, tc m.TestCase) (adapter.RunSpec, error) {
	argv, err := opts.Command.Build(tc.Path)
	if err != nil {
		return adapter.RunSpec{}, err
	}

	spec := adapter.RunSpec{
		Argv:    argv,
		Timeout: opts.Timeout,
	}

	spec.Env = append(spec.Env, opts.ExtraEnv...)

	if preload := os.Getenv("AFL_PRELOAD"); preload != "" {
		spec.Env = append(spec.Env, "LD_PRELOAD="+preload)
	}

	if opts.Command.UsesStdin() {
		data, err := fs.ReadFile(tc.Path)
		if err != nil {
			return adapter.RunSpec{}, fmt.Errorf("read test case %s: %w", tc.Path, err)
		}

		spec.Stdin = data
	}

	return spec, nil
}

// artifactStem derives a filesystem-safe artifact name from the test case
// identity, so every raw artifact can be traced back to the input that
// produced it.
func artifactStem(tc m.TestCase) string {
	return strings.NewReplacer("/", "_", ":", "_", ",", "_").Replace(tc.ID)
}
