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

// LLVMBackend collects coverage from clang-instrumented targets. Each run
// writes raw profiles under a run-private directory named through
// LLVM_PROFILE_FILE; the accumulator folds completed profile directories into
// one cumulative .profdata in batches through llvm-profdata.
type LLVMBackend struct {
	fs     adapter.CorpusFSAdapter
	runner adapter.ProcessRunner
	opts   Options

	codeDir    m.Path
	binaryPath m.Path
	llvmPath   m.Path

	// pending holds profile directories awaiting the next batch merge.
	// Touched only by the accumulator goroutine.
	pending []m.Path
	merged  bool

	checked atomic.Bool
}

// NewLLVMBackend constructs the llvm-mode backend.
func NewLLVMBackend(fs adapter.CorpusFSAdapter, runner adapter.ProcessRunner, opts Options, codeDir, binaryPath, llvmPath m.Path) *LLVMBackend {
	return &LLVMBackend{
		fs:         fs,
		runner:     runner,
		opts:       opts,
		codeDir:    codeDir,
		binaryPath: binaryPath,
		llvmPath:   llvmPath,
	}
}

// Name implements Backend.
func (b *LLVMBackend) Name() string { return "llvm" }

func (b *LLVMBackend) profrawDir() m.Path {
	return m.Path(filepath.Join(string(b.opts.OutputDir), "profraw"))
}

func (b *LLVMBackend) lcovDir() m.Path {
	return m.Path(filepath.Join(string(b.opts.OutputDir), "lcov"))
}

func (b *LLVMBackend) profdataFile() m.Path {
	return m.Path(filepath.Join(string(b.lcovDir()), "default.profdata"))
}

func (b *LLVMBackend) tool(name string) string {
	if b.llvmPath == "" {
		return name
	}

	return filepath.Join(string(b.llvmPath), name)
}

// Prepare implements Backend.
func (b *LLVMBackend) Prepare(_ context.Context) error {
	if !b.opts.NoEnvCheck {
		if b.llvmPath != "" {
			if !b.fs.DirExists(b.llvmPath) {
				return &SetupError{Backend: b.Name(), Reason: fmt.Sprintf("%s directory not found", b.llvmPath)}
			}

			for _, name := range []string{"llvm-profdata", "llvm-cov"} {
				if !b.fs.FileExists(m.Path(b.tool(name))) {
					return &SetupError{Backend: b.Name(), Reason: fmt.Sprintf("%s file not found", b.tool(name))}
				}
			}
		} else {
			for _, name := range []string{"llvm-profdata", "llvm-cov"} {
				if err := b.fs.LookPath(name); err != nil {
					return &SetupError{
						Backend: b.Name(),
						Reason:  fmt.Sprintf("%s command not found, try specifying `--llvm-path`", name),
						Err:     err,
					}
				}
			}
		}
	}

	if !b.fs.FileExists(b.binaryPath) {
		return &SetupError{Backend: b.Name(), Reason: fmt.Sprintf("target binary %s not found", b.binaryPath)}
	}

	if err := b.fs.InitOutputDir(b.opts.OutputDir, b.opts.Overwrite); err != nil {
		return &SetupError{Backend: b.Name(), Reason: "init output directory", Err: err}
	}

	for _, sub := range []string{"profraw", "lcov", "web"} {
		if err := b.fs.MkdirAll(m.Path(filepath.Join(string(b.opts.OutputDir), sub))); err != nil {
			return &SetupError{Backend: b.Name(), Reason: "create output hierarchy", Err: err}
		}
	}

	return nil
}

// RunOne implements Backend.
func (b *LLVMBackend) RunOne(ctx context.Context, tc m.TestCase) (m.RunResult, error) {
	res := m.RunResult{TestCaseID: tc.ID}

	// A uuid per run keeps concurrent profiles collision-free; %p separates
	// the processes of a forking target inside the run's own directory.
	runDir := m.Path(filepath.Join(string(b.profrawDir()), artifactStem(tc)+"-"+uuid.NewString()[:8]))
	if err := b.fs.MkdirAll(runDir); err != nil {
		return res, fmt.Errorf("create profile dir: %w", err)
	}

	spec, err := targetSpec(b.fs, b.opts, tc)
	if err != nil {
		return res, err
	}

	spec.Env = append(spec.Env, "LLVM_PROFILE_FILE="+filepath.Join(string(runDir), "default-%p.profraw"))

	proc, err := b.runner.Run(ctx, spec)
	if err != nil {
		return res, err
	}

	res.Outcome = proc.Outcome()
	res.Duration = proc.Duration
	res.ExitCode = proc.ExitCode
	res.Signal = proc.Signal

	profiles, err := b.fs.Glob(filepath.Join(string(runDir), "*.profraw"))
	if err != nil {
		return res, fmt.Errorf("scan profiles: %w", err)
	}

	if len(profiles) == 0 {
		if !b.opts.NoEnvCheck && !b.checked.Load() && res.Outcome == m.Completed {
			return res, &SetupError{
				Backend: b.Name(),
				Reason:  "no coverage information generated during run, did you compile with `-fprofile-instr-generate -fcoverage-mapping`?",
			}
		}

		_ = b.fs.RemoveAll(runDir)

		return res, nil
	}

	b.checked.Store(true)
	res.Artifact = runDir

	return res, nil
}

// Merge implements Backend: queue the run's profile directory and fold a
// batch into the cumulative profdata once enough piled up. Batching amortizes
// llvm-profdata process spawns across many runs. Called only from the
// accumulator goroutine.
func (b *LLVMBackend) Merge(ctx context.Context, res *m.RunResult) error {
	if res.Artifact == "" {
		return nil
	}

	b.pending = append(b.pending, res.Artifact)

	if len(b.pending) >= b.opts.MergeBatch {
		return b.flush(ctx)
	}

	return nil
}

// flush merges pending profile directories into the cumulative profdata. On
// failure the pending queue is left intact for the next attempt and the
// cumulative profdata is untouched.
func (b *LLVMBackend) flush(ctx context.Context) error {
	if len(b.pending) == 0 {
		return nil
	}

	argv := []string{b.tool("llvm-profdata"), "merge", "-sparse"}

	if b.merged {
		// Previous batches fold in through the existing profdata.
		argv = append(argv, string(b.profdataFile()))
	}

	for _, dir := range b.pending {
		argv = append(argv, string(dir))
	}

	// Merge into a scratch file first: the cumulative profdata is one of the
	// inputs, so writing it in place would corrupt it if the tool dies
	// mid-write.
	scratch := m.Path(string(b.profdataFile()) + ".tmp")
	argv = append(argv, "-o", string(scratch))

	proc, err := b.runner.Run(ctx, adapter.RunSpec{Argv: argv})
	if err != nil {
		return err
	}

	if !proc.Success() {
		_ = b.fs.Remove(scratch)

		return fmt.Errorf("llvm-profdata failed (exit %d, signal %d): %s", proc.ExitCode, proc.Signal, strings.TrimSpace(string(proc.Stderr)))
	}

	if err := b.fs.Rename(scratch, b.profdataFile()); err != nil {
		return fmt.Errorf("replace merged profdata: %w", err)
	}

	slog.Debug("merged profile batch", "dirs", len(b.pending))

	if !b.opts.KeepIntermediate {
		for _, dir := range b.pending {
			_ = b.fs.RemoveAll(dir)
		}
	}

	b.pending = b.pending[:0]
	b.merged = true

	return nil
}

// Finalize implements Backend: flush the last batch, export the merged
// profile as an lcov document and reduce it. The export includes zero-count
// entries for everything instrumented, so it doubles as the static inventory.
func (b *LLVMBackend) Finalize(ctx context.Context, summary m.RunSummary) (*m.ZeroCoverageReport, error) {
	if err := b.flush(ctx); err != nil {
		return nil, err
	}

	total := m.Path(filepath.Join(string(b.lcovDir()), "trace.lcov_total"))

	if !b.merged {
		// Nothing produced a profile; degrade to an empty report rather than
		// failing the campaign.
		slog.Warn("no profiles merged, skipping coverage export")

		return &m.ZeroCoverageReport{Mode: b.Name(), Summary: summary}, nil
	}

	argv := []string{
		b.tool("llvm-cov"), "export",
		"--instr-profile", string(b.profdataFile()),
		"--format", "lcov",
		string(b.binaryPath),
	}

	if b.codeDir != "" {
		// Positional sources restrict the export to the project tree, keeping
		// system headers and vendored code out of the report.
		argv = append(argv, string(b.codeDir))
	}

	proc, err := b.runner.Run(ctx, adapter.RunSpec{Argv: argv, StdoutFile: total})
	if err != nil {
		return nil, err
	}

	if !proc.Success() {
		return nil, fmt.Errorf("llvm-cov failed (exit %d, signal %d): %s", proc.ExitCode, proc.Signal, strings.TrimSpace(string(proc.Stderr)))
	}

	data, err := b.fs.ReadFile(total)
	if err != nil {
		return nil, fmt.Errorf("read merged tracefile: %w", err)
	}

	cov, err := ParseTracefile(data)
	if err != nil {
		return nil, fmt.Errorf("parse merged tracefile: %w", err)
	}

	return ReduceZeroCoverage(b.Name(), cov, total, summary), nil
}
