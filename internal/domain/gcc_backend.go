package domain

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/google/uuid"

	"aflcov.dev/pkg/aflcov/internal/adapter"
	m "aflcov.dev/pkg/aflcov/internal/model"
)

// GCCBackend collects coverage from gcov-instrumented targets. Each run
// writes fresh .gcda counters into a private GCOV_PREFIX directory, which is
// captured into a per-run lcov tracefile and folded into the in-memory
// cumulative state. The counter directory is deleted after capture so a later
// run can never re-read a previous run's counters.
type GCCBackend struct {
	fs     adapter.CorpusFSAdapter
	runner adapter.ProcessRunner
	opts   Options

	codeDir     m.Path
	lcovPath    string
	genhtmlPath string

	cumulative m.Coverage

	// checked flips after the first run proves counters are being emitted.
	checked atomic.Bool
}

// NewGCCBackend constructs the gcc-mode backend.
func NewGCCBackend(fs adapter.CorpusFSAdapter, runner adapter.ProcessRunner, opts Options, codeDir m.Path, lcovPath, genhtmlPath string) *GCCBackend {
	if lcovPath == "" {
		lcovPath = "lcov"
	}

	if genhtmlPath == "" {
		genhtmlPath = "genhtml"
	}

	return &GCCBackend{
		fs:          fs,
		runner:      runner,
		opts:        opts,
		codeDir:     codeDir,
		lcovPath:    lcovPath,
		genhtmlPath: genhtmlPath,
		cumulative:  m.Coverage{},
	}
}

// Name implements Backend.
func (b *GCCBackend) Name() string { return "gcc" }

func (b *GCCBackend) gcovDir() m.Path { return m.Path(filepath.Join(string(b.opts.OutputDir), "gcov")) }
func (b *GCCBackend) lcovDir() m.Path { return m.Path(filepath.Join(string(b.opts.OutputDir), "lcov")) }

// Prepare implements Backend: toolchain check, output hierarchy, counter
// reset and the baseline capture that seeds the static inventory.
func (b *GCCBackend) Prepare(ctx context.Context) error {
	if !b.opts.NoEnvCheck {
		if err := b.fs.LookPath(b.lcovPath); err != nil {
			return &SetupError{Backend: b.Name(), Reason: fmt.Sprintf("%s command not found", b.lcovPath), Err: err}
		}
	}

	if !b.fs.DirExists(b.codeDir) {
		return &SetupError{Backend: b.Name(), Reason: fmt.Sprintf("code directory %s not found", b.codeDir)}
	}

	if err := b.fs.InitOutputDir(b.opts.OutputDir, b.opts.Overwrite); err != nil {
		return &SetupError{Backend: b.Name(), Reason: "init output directory", Err: err}
	}

	for _, sub := range []string{"gcov", "lcov", "web"} {
		if err := b.fs.MkdirAll(m.Path(filepath.Join(string(b.opts.OutputDir), sub))); err != nil {
			return &SetupError{Backend: b.Name(), Reason: "create output hierarchy", Err: err}
		}
	}

	// Reset stale counters left over from compilation or earlier campaigns.
	if err := b.lcov(ctx, "--no-checksum", "--zerocounters", "--directory", string(b.codeDir)); err != nil {
		return &SetupError{Backend: b.Name(), Reason: "zero coverage counters", Err: err}
	}

	// The baseline capture records every instrumentable line and function
	// with a zero count: that is the static inventory the reducer diffs
	// against.
	basePath := filepath.Join(string(b.lcovDir()), "trace.lcov_base")

	err := b.lcov(ctx,
		"--no-checksum", "--capture", "--rc", "lcov_branch_coverage=1",
		"--initial", "--directory", string(b.codeDir), "--follow",
		"--output-file", basePath,
	)
	if err != nil {
		return &SetupError{Backend: b.Name(), Reason: "capture baseline coverage", Err: err}
	}

	baseline, err := b.fs.ReadFile(m.Path(basePath))
	if err != nil {
		return &SetupError{Backend: b.Name(), Reason: "read baseline tracefile", Err: err}
	}

	inventory, err := ParseTracefile(baseline)
	if err != nil {
		return &SetupError{Backend: b.Name(), Reason: "parse baseline tracefile", Err: err}
	}

	b.cumulative.Merge(inventory)

	return nil
}

// RunOne implements Backend.
func (b *GCCBackend) RunOne(ctx context.Context, tc m.TestCase) (m.RunResult, error) {
	res := m.RunResult{TestCaseID: tc.ID}

	runDir := m.Path(filepath.Join(string(b.gcovDir()), uuid.NewString()))
	if err := b.fs.MkdirAll(runDir); err != nil {
		return res, fmt.Errorf("create run dir: %w", err)
	}

	defer func() {
		if !b.opts.KeepIntermediate {
			_ = b.fs.RemoveAll(runDir)
		}
	}()

	spec, err := targetSpec(b.fs, b.opts, tc)
	if err != nil {
		return res, err
	}

	// GCOV_PREFIX redirects this run's .gcda files into the private dir so
	// parallel runs cannot clobber each other's counters.
	spec.Env = append(spec.Env, "GCOV_PREFIX="+string(runDir))

	proc, err := b.runner.Run(ctx, spec)
	if err != nil {
		return res, err
	}

	res.Outcome = proc.Outcome()
	res.Duration = proc.Duration
	res.ExitCode = proc.ExitCode
	res.Signal = proc.Signal

	// Even a crashed run may have flushed partial counters; capture whatever
	// exists.
	gcdaFiles, err := b.fs.WalkSuffix(runDir, ".gcda")
	if err != nil {
		return res, fmt.Errorf("scan counters: %w", err)
	}

	if len(gcdaFiles) == 0 {
		if !b.opts.NoEnvCheck && !b.checked.Load() && res.Outcome == m.Completed {
			return res, &SetupError{
				Backend: b.Name(),
				Reason:  "no coverage information generated during run, did you compile with `--coverage`?",
			}
		}

		return res, nil
	}

	b.checked.Store(true)

	// lcov needs the compile-time .gcno graph next to each fresh .gcda; the
	// gcda lives at <runDir>/<abs build path>.gcda, so the matching graph is
	// at the same absolute path outside the prefix. Symlink instead of copy.
	for _, gcda := range gcdaFiles {
		rel, err := filepath.Rel(string(runDir), string(gcda))
		if err != nil {
			return res, fmt.Errorf("relativize counter path: %w", err)
		}

		gcno := strings.TrimSuffix(rel, ".gcda") + ".gcno"

		if err := b.fs.Symlink(m.Path("/"+gcno), m.Path(strings.TrimSuffix(string(gcda), ".gcda")+".gcno")); err != nil {
			slog.Warn("failed to link graph file", "gcda", gcda, "error", err)
		}
	}

	artifact := m.Path(filepath.Join(string(b.lcovDir()), artifactStem(tc)+".lcov"))

	err = b.lcov(ctx,
		"--no-checksum", "--capture", "--rc", "lcov_branch_coverage=1",
		"--directory", string(runDir), "--follow",
		"--output-file", string(artifact),
	)
	if err != nil {
		return res, fmt.Errorf("capture run coverage: %w", err)
	}

	res.Artifact = artifact

	return res, nil
}

// Merge implements Backend. Called only from the accumulator goroutine.
func (b *GCCBackend) Merge(_ context.Context, res *m.RunResult) error {
	if res.Artifact == "" {
		return nil
	}

	data, err := b.fs.ReadFile(res.Artifact)
	if err != nil {
		return fmt.Errorf("read artifact %s: %w", res.Artifact, err)
	}

	cov, err := ParseTracefile(data)
	if err != nil {
		return fmt.Errorf("parse artifact %s: %w", res.Artifact, err)
	}

	res.Gain = b.cumulative.Merge(cov)

	if !b.opts.KeepIntermediate {
		_ = b.fs.Remove(res.Artifact)
	}

	return nil
}

// Finalize implements Backend.
func (b *GCCBackend) Finalize(ctx context.Context, summary m.RunSummary) (*m.ZeroCoverageReport, error) {
	total := m.Path(filepath.Join(string(b.lcovDir()), "trace.lcov_total"))

	if err := b.fs.WriteFile(total, WriteTracefile(b.cumulative), 0o640); err != nil {
		return nil, fmt.Errorf("write merged tracefile: %w", err)
	}

	slog.Info("wrote merged tracefile", "path", total, "files", len(b.cumulative))

	// The HTML report is a convenience; a missing genhtml never fails the
	// campaign.
	if err := b.fs.LookPath(b.genhtmlPath); err == nil {
		webDir := filepath.Join(string(b.opts.OutputDir), "web")

		proc, err := b.runner.Run(ctx, adapter.RunSpec{
			Argv: []string{b.genhtmlPath, "--output-directory", webDir, string(total)},
		})
		if err != nil || !proc.Success() {
			slog.Warn("failed to generate HTML report", "error", err, "exit_code", proc.ExitCode)
		} else {
			slog.Info("wrote HTML report", "path", webDir)
		}
	}

	return ReduceZeroCoverage(b.Name(), b.cumulative, total, summary), nil
}

// lcov runs the lcov binary and fails on a nonzero exit.
func (b *GCCBackend) lcov(ctx context.Context, args ...string) error {
	proc, err := b.runner.Run(ctx, adapter.RunSpec{Argv: append([]string{b.lcovPath}, args...)})
	if err != nil {
		return err
	}

	if !proc.Success() {
		return fmt.Errorf("lcov failed (exit %d, signal %d): %s", proc.ExitCode, proc.Signal, strings.TrimSpace(string(proc.Stderr)))
	}

	return nil
}
