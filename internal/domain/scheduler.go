package domain

import (
	"context"
	"errors"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"aflcov.dev/pkg/aflcov/internal/controller"
	m "aflcov.dev/pkg/aflcov/internal/model"
)

// mergeSink receives completed results in the accumulator goroutine, after
// the backend merge has been applied.
type mergeSink func(res m.RunResult)

// runAll drives the corpus through a bounded pool of workers and serializes
// every Merge call through a single accumulator goroutine, so the cumulative
// state only ever has one writer. Completion order is arbitrary; the merge is
// commutative so it does not matter.
//
// Per-run failures never stop the campaign. The only errors that abort the
// pool are *SetupError (the backend proved the environment is unusable) and
// context cancellation; on cancellation the remaining undispatched test cases
// are counted as skipped and whatever merged so far stays valid.
func runAll(ctx context.Context, backend Backend, cases []m.TestCase, jobs int, ui controller.UI, sink mergeSink) (m.RunSummary, error) {
	if jobs < 1 {
		jobs = 1
	}

	results := make(chan m.RunResult, jobs)

	var summary m.RunSummary

	// Single-writer accumulator: the only goroutine that calls Merge.
	accumDone := make(chan struct{})

	go func() {
		defer close(accumDone)

		completed := 0

		for res := range results {
			if err := backend.Merge(ctx, &res); err != nil {
				// A corrupt artifact is skipped, not fatal.
				slog.Warn("failed to merge artifact", "testcase", res.TestCaseID, "artifact", res.Artifact, "error", err)
			}

			summary.Record(res.Outcome)

			if sink != nil {
				sink(res)
			}

			completed++
			ui.Progress(ctx, completed)
		}
	}()

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(jobs)

	skipped := 0

	for _, tc := range cases {
		if groupCtx.Err() != nil {
			// Stop dispatching; in-flight workers are being torn down by the
			// process runner.
			skipped++
			continue
		}

		currentCase := tc

		group.Go(func() error {
			res, err := backend.RunOne(groupCtx, currentCase)
			res.TestCaseID = currentCase.ID

			var setupErr *SetupError
			if errors.As(err, &setupErr) {
				return setupErr
			}

			if err != nil {
				res.Outcome = m.Skipped

				slog.Warn("run failed", "testcase", currentCase.ID, "error", err)
			} else {
				slog.Debug("run finished", "testcase", currentCase.ID, "outcome", res.Outcome, "duration", res.Duration)
			}

			results <- res

			return nil
		})
	}

	err := group.Wait()

	close(results)
	<-accumDone

	summary.Skipped += skipped

	return summary, err
}
