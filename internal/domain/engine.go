package domain

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"aflcov.dev/pkg/aflcov/internal/adapter"
	"aflcov.dev/pkg/aflcov/internal/controller"
	m "aflcov.dev/pkg/aflcov/internal/model"
	"aflcov.dev/pkg/aflcov/pkg"
)

const (
	reportFileName  = "zero_coverage.yaml"
	journalFileName = "runs.gob"
)

// Engine orchestrates a whole coverage campaign: enumerate the corpus, run
// every test case through the backend, merge the results and reduce them to
// a zero-coverage report.
type Engine interface {
	Collect(ctx context.Context, backend Backend, opts Options, jobs int) (*m.ZeroCoverageReport, error)
}

type engine struct {
	fs    adapter.CorpusFSAdapter
	store adapter.ReportStore
	ui    controller.UI
}

func NewEngine(fs adapter.CorpusFSAdapter, store adapter.ReportStore, ui controller.UI) Engine {
	return &engine{fs: fs, store: store, ui: ui}
}

func (e *engine) Collect(ctx context.Context, backend Backend, opts Options, jobs int) (*m.ZeroCoverageReport, error) {
	cases, err := e.fs.ListQueue(opts.FuzzingDir)
	if err != nil {
		return nil, err
	}

	slog.Info("corpus enumerated", "mode", backend.Name(), "cases", len(cases), "jobs", jobs)

	if err := backend.Prepare(ctx); err != nil {
		return nil, err
	}

	if err := e.ui.Start(ctx, backend.Name(), len(cases)); err != nil {
		return nil, err
	}
	defer e.ui.Close(ctx)

	journal, err := pkg.NewRunJournal(string(joinPath(opts.OutputDir, journalFileName)))
	if err != nil {
		return nil, fmt.Errorf("failed to create run journal: %w", err)
	}
	defer journal.Close()

	summary, runErr := runAll(ctx, backend, cases, jobs, e.ui, func(res m.RunResult) {
		if err := journal.Append(res); err != nil {
			slog.Warn("failed to journal run result", "testcase", res.TestCaseID, "error", err)
		}
	})

	if runErr != nil && summary.Total() == 0 {
		// Nothing merged, nothing to report.
		return nil, runErr
	}

	// Finalization outlives cancellation: when the campaign is interrupted,
	// the last batch merge and the report for everything collected so far
	// must still go through.
	finCtx := context.WithoutCancel(ctx)

	report, err := backend.Finalize(finCtx, summary)
	if err != nil {
		return nil, err
	}

	reportPath := joinPath(opts.OutputDir, reportFileName)
	if err := e.store.SaveReport(reportPath, report); err != nil {
		return nil, err
	}

	slog.Info("campaign finished",
		"completed", summary.Completed,
		"crashed", summary.Crashed,
		"timed_out", summary.TimedOut,
		"skipped", summary.Skipped,
		"report", reportPath)

	if err := e.ui.DisplayReport(finCtx, report); err != nil {
		return nil, err
	}

	return report, runErr
}

func joinPath(base m.Path, elems ...string) m.Path {
	parts := append([]string{string(base)}, elems...)
	return m.Path(filepath.Join(parts...))
}
