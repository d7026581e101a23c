package domain

import (
	"sort"

	m "aflcov.dev/pkg/aflcov/internal/model"
)

// ReduceZeroCoverage derives the never-covered delta from the cumulative
// coverage state. The inventory of instrumentable lines and functions is the
// coverage map itself: every key it holds was placed there by the compiler's
// instrumentation (the gcc baseline capture, or llvm-cov's export), so
// zero-count entries are exactly the never-executed set and no source parsing
// happens here.
func ReduceZeroCoverage(mode string, cov m.Coverage, tracefile m.Path, summary m.RunSummary) *m.ZeroCoverageReport {
	report := &m.ZeroCoverageReport{
		Mode:            mode,
		MergedTracefile: tracefile,
		Summary:         summary,
	}

	report.TotalLines, report.CoveredLines = cov.LineTotals()
	report.TotalFunctions, report.CoveredFunctions = cov.FunctionTotals()

	paths := make([]m.Path, 0, len(cov))
	for path := range cov {
		paths = append(paths, path)
	}

	sort.Slice(paths, func(i, j int) bool { return paths[i] < paths[j] })

	for _, path := range paths {
		fc := cov[path]

		entry := m.FileZeroCoverage{
			File:           path,
			UncoveredLines: uncoveredRanges(fc.Lines),
		}

		for fn, count := range fc.Functions {
			if count == 0 {
				entry.UncoveredFunctions = append(entry.UncoveredFunctions, fn)
			}
		}

		sort.Strings(entry.UncoveredFunctions)

		if len(entry.UncoveredLines) > 0 || len(entry.UncoveredFunctions) > 0 {
			report.Files = append(report.Files, entry)
		}
	}

	return report
}

// uncoveredRanges collects the zero-count lines of one file as ordered,
// coalesced inclusive ranges. Only instrumentable lines appear in the input
// map, so a gap between two uncovered lines may simply be a non-executable
// line; ranges are still split there because renderers expect ranges over
// instrumented lines.
func uncoveredRanges(lines map[int]uint64) []m.LineRange {
	uncovered := make([]int, 0, len(lines))

	for ln, count := range lines {
		if count == 0 {
			uncovered = append(uncovered, ln)
		}
	}

	if len(uncovered) == 0 {
		return nil
	}

	sort.Ints(uncovered)

	ranges := []m.LineRange{{Start: uncovered[0], End: uncovered[0]}}

	for _, ln := range uncovered[1:] {
		last := &ranges[len(ranges)-1]
		if ln == last.End+1 {
			last.End = ln
			continue
		}

		ranges = append(ranges, m.LineRange{Start: ln, End: ln})
	}

	return ranges
}
