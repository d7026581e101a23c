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

// qemuDrcovPlugin is where AFL++ builds the QEMU TCG drcov plugin.
const qemuDrcovPlugin = "qemu_mode/qemuafl/build/contrib/plugins/libdrcov.so"

// fridaTraceShim is the frida_mode preload shim that can emit drcov traces.
const fridaTraceShim = "frida_mode/afl-frida-trace.so"

// drcovVariant captures what differs between the two dynamic-instrumentation
// modes: how the environment is validated and how one run is launched.
type drcovVariant struct {
	name  string
	check func(b *DrcovBackend) error
	wrap  func(b *DrcovBackend, spec adapter.RunSpec, trace m.Path) adapter.RunSpec
}

// DrcovBackend collects basic-block traces from uninstrumented binaries run
// under QEMU or Frida. No source is needed; per-run drcov traces are handed
// to the external drcov-merge utility in batches and only the merged trace is
// tracked.
type DrcovBackend struct {
	fs     adapter.CorpusFSAdapter
	runner adapter.ProcessRunner
	opts   Options

	aflPath        m.Path
	drcovMergePath string
	variant        drcovVariant

	// pending holds trace files awaiting the next batch merge. Touched only
	// by the accumulator goroutine.
	pending []m.Path
	merged  bool

	checked atomic.Bool
}

// NewQEMUBackend constructs the qemu-mode backend: the target runs under
// afl-qemu-trace with the TCG drcov plugin loaded.
func NewQEMUBackend(fs adapter.CorpusFSAdapter, runner adapter.ProcessRunner, opts Options, aflPath m.Path, drcovMergePath string) *DrcovBackend {
	return newDrcovBackend(fs, runner, opts, aflPath, drcovMergePath, drcovVariant{
		name: "qemu",
		check: func(b *DrcovBackend) error {
			tracer := filepath.Join(string(b.aflPath), "afl-qemu-trace")
			if !b.fs.FileExists(m.Path(tracer)) {
				return &SetupError{Backend: "qemu", Reason: fmt.Sprintf("%s file not found, did you compile AFL-QEMU?", tracer)}
			}

			plugin := filepath.Join(string(b.aflPath), qemuDrcovPlugin)
			if !b.fs.FileExists(m.Path(plugin)) {
				return &SetupError{Backend: "qemu", Reason: fmt.Sprintf("%s file not found, did you compile QEMU plugins?", plugin)}
			}

			return nil
		},
		wrap: func(b *DrcovBackend, spec adapter.RunSpec, trace m.Path) adapter.RunSpec {
			plugin := filepath.Join(string(b.aflPath), qemuDrcovPlugin)

			// afl-qemu-trace accepts AFL_* and QEMU_* tuning through the
			// inherited environment, so only the plugin line is added.
			spec.Argv = append([]string{filepath.Join(string(b.aflPath), "afl-qemu-trace"), "--"}, spec.Argv...)
			spec.Env = append(spec.Env, fmt.Sprintf("QEMU_PLUGIN=%s,arg=filename=%s", plugin, trace))

			return spec
		},
	})
}

// NewFridaBackend constructs the frida-mode backend: the trace shim is
// preloaded into the target and told where to write the drcov output.
func NewFridaBackend(fs adapter.CorpusFSAdapter, runner adapter.ProcessRunner, opts Options, aflPath m.Path, drcovMergePath string) *DrcovBackend {
	return newDrcovBackend(fs, runner, opts, aflPath, drcovMergePath, drcovVariant{
		name: "frida",
		check: func(b *DrcovBackend) error {
			shim := filepath.Join(string(b.aflPath), fridaTraceShim)
			if !b.fs.FileExists(m.Path(shim)) {
				return &SetupError{Backend: "frida", Reason: fmt.Sprintf("%s file not found, did you compile frida_mode?", shim)}
			}

			return nil
		},
		wrap: func(b *DrcovBackend, spec adapter.RunSpec, trace m.Path) adapter.RunSpec {
			shim := filepath.Join(string(b.aflPath), fridaTraceShim)

			spec.Env = append(spec.Env,
				"LD_PRELOAD="+shim,
				"AFL_FRIDA_INST_COVERAGE_FILE="+string(trace),
			)

			return spec
		},
	})
}

func newDrcovBackend(fs adapter.CorpusFSAdapter, runner adapter.ProcessRunner, opts Options, aflPath m.Path, drcovMergePath string, variant drcovVariant) *DrcovBackend {
	if drcovMergePath == "" {
		drcovMergePath = "drcov-merge"
	}

	return &DrcovBackend{
		fs:             fs,
		runner:         runner,
		opts:           opts,
		aflPath:        aflPath,
		drcovMergePath: drcovMergePath,
		variant:        variant,
	}
}

// Name implements Backend.
func (b *DrcovBackend) Name() string { return b.variant.name }

func (b *DrcovBackend) drcovDir() m.Path {
	return m.Path(filepath.Join(string(b.opts.OutputDir), "drcov"))
}

func (b *DrcovBackend) mergedTrace() m.Path {
	return m.Path(filepath.Join(string(b.drcovDir()), "full.drcov.trace"))
}

// Prepare implements Backend.
func (b *DrcovBackend) Prepare(_ context.Context) error {
	if !b.opts.NoEnvCheck {
		if err := b.variant.check(b); err != nil {
			return err
		}

		if err := b.fs.LookPath(b.drcovMergePath); err != nil {
			return &SetupError{
				Backend: b.Name(),
				Reason:  fmt.Sprintf("%s command not found, try specifying `--drcov-merge-path`", b.drcovMergePath),
				Err:     err,
			}
		}
	}

	if err := b.fs.InitOutputDir(b.opts.OutputDir, b.opts.Overwrite); err != nil {
		return &SetupError{Backend: b.Name(), Reason: "init output directory", Err: err}
	}

	if err := b.fs.MkdirAll(b.drcovDir()); err != nil {
		return &SetupError{Backend: b.Name(), Reason: "create output hierarchy", Err: err}
	}

	return nil
}

// RunOne implements Backend.
func (b *DrcovBackend) RunOne(ctx context.Context, tc m.TestCase) (m.RunResult, error) {
	res := m.RunResult{TestCaseID: tc.ID}

	trace := m.Path(filepath.Join(string(b.drcovDir()), artifactStem(tc)+"-"+uuid.NewString()[:8]+".drcov.trace"))

	spec, err := targetSpec(b.fs, b.opts, tc)
	if err != nil {
		return res, err
	}

	spec = b.variant.wrap(b, spec, trace)

	proc, err := b.runner.Run(ctx, spec)
	if err != nil {
		return res, err
	}

	res.Outcome = proc.Outcome()
	res.Duration = proc.Duration
	res.ExitCode = proc.ExitCode
	res.Signal = proc.Signal

	if !b.fs.FileExists(trace) {
		if !b.opts.NoEnvCheck && !b.checked.Load() && res.Outcome == m.Completed {
			return res, &SetupError{Backend: b.Name(), Reason: "no coverage information generated during run"}
		}

		return res, nil
	}

	b.checked.Store(true)
	res.Artifact = trace

	return res, nil
}

// Merge implements Backend: traces queue up and reach the external merge
// utility in batches, never one at a time, so its process-spawn cost is
// amortized across the corpus. Called only from the accumulator goroutine.
func (b *DrcovBackend) Merge(ctx context.Context, res *m.RunResult) error {
	if res.Artifact == "" {
		return nil
	}

	b.pending = append(b.pending, res.Artifact)

	if len(b.pending) >= b.opts.MergeBatch {
		return b.flush(ctx)
	}

	return nil
}

// flush hands the pending traces (plus the previous merged trace, if any) to
// drcov-merge and keeps only the returned merged file. On failure the pending
// queue is left intact for the next attempt and the previous merged trace is
// untouched.
func (b *DrcovBackend) flush(ctx context.Context) error {
	if len(b.pending) == 0 {
		return nil
	}

	// Merge into a scratch file first: the previous merged trace is one of
	// the inputs, so writing it in place would corrupt it if the tool dies
	// mid-write.
	scratch := m.Path(string(b.mergedTrace()) + ".tmp")
	argv := []string{b.drcovMergePath, "-o", string(scratch)}

	if b.merged {
		argv = append(argv, string(b.mergedTrace()))
	}

	for _, trace := range b.pending {
		argv = append(argv, string(trace))
	}

	proc, err := b.runner.Run(ctx, adapter.RunSpec{Argv: argv})
	if err != nil {
		return err
	}

	if !proc.Success() {
		_ = b.fs.Remove(scratch)

		return fmt.Errorf("%s failed (exit %d, signal %d): %s", b.drcovMergePath, proc.ExitCode, proc.Signal, strings.TrimSpace(string(proc.Stderr)))
	}

	if err := b.fs.Rename(scratch, b.mergedTrace()); err != nil {
		return fmt.Errorf("replace merged trace: %w", err)
	}

	slog.Debug("merged trace batch", "traces", len(b.pending))

	if !b.opts.KeepIntermediate {
		for _, trace := range b.pending {
			_ = b.fs.Remove(trace)
		}
	}

	b.pending = b.pending[:0]
	b.merged = true

	return nil
}

// Finalize implements Backend. Without a static inventory the report is the
// merged trace itself plus whatever block counts its header yields; the
// never-covered set is computed downstream by a disassembly-aware viewer.
func (b *DrcovBackend) Finalize(ctx context.Context, summary m.RunSummary) (*m.ZeroCoverageReport, error) {
	if err := b.flush(ctx); err != nil {
		return nil, err
	}

	report := &m.ZeroCoverageReport{Mode: b.Name(), Summary: summary}

	if !b.merged {
		slog.Warn("no traces merged, skipping trace summary")
		return report, nil
	}

	report.MergedTracefile = b.mergedTrace()

	stats, err := ReadDrcovStats(b.mergedTrace())
	if err != nil {
		// The merged trace is still usable by external viewers; only the
		// summary counts are lost.
		slog.Warn("failed to read merged trace stats", "error", err)
		return report, nil
	}

	report.BlocksHit = stats.Blocks
	report.Modules = stats.Modules

	return report, nil
}
