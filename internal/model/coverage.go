package model

// FileCoverage holds cumulative per-line and per-function hit counts for one
// source file.
type FileCoverage struct {
	// Lines maps a line number to its cumulative execution count. A zero
	// count means the line is instrumentable but was never executed.
	Lines map[int]uint64

	// Functions maps a function symbol to its cumulative invocation count.
	Functions map[string]uint64

	// FunctionLine records the first line of each known function so merged
	// tracefiles can be written back out with FN: records.
	FunctionLine map[string]int
}

// NewFileCoverage returns an empty FileCoverage ready to be merged into.
func NewFileCoverage() *FileCoverage {
	return &FileCoverage{
		Lines:        map[int]uint64{},
		Functions:    map[string]uint64{},
		FunctionLine: map[string]int{},
	}
}

// Coverage is the cumulative campaign-wide coverage state for text backends,
// keyed by source file path. Mutated only by the accumulator's single merge
// path.
type Coverage map[Path]*FileCoverage

// File returns the coverage entry for path, creating it when absent.
func (c Coverage) File(path Path) *FileCoverage {
	fc, ok := c[path]
	if !ok {
		fc = NewFileCoverage()
		c[path] = fc
	}

	return fc
}

// Merge folds other into c and returns the number of lines that went from
// unseen-or-zero to a nonzero count. The fold visits each entry of other
// exactly once, so merge cost is proportional to the artifact, not to the
// number of artifacts merged so far. Merging the same artifact twice doubles
// its counts: deduplication is the caller's responsibility.
func (c Coverage) Merge(other Coverage) int {
	gain := 0

	for path, src := range other {
		dst := c.File(path)

		for line, count := range src.Lines {
			if count > 0 && dst.Lines[line] == 0 {
				gain++
			}

			dst.Lines[line] += count
		}

		for fn, count := range src.Functions {
			dst.Functions[fn] += count
		}

		for fn, line := range src.FunctionLine {
			if _, ok := dst.FunctionLine[fn]; !ok {
				dst.FunctionLine[fn] = line
			}
		}
	}

	return gain
}

// LineTotals returns the number of instrumentable and covered lines.
func (c Coverage) LineTotals() (total, covered int) {
	for _, fc := range c {
		for _, count := range fc.Lines {
			total++
			if count > 0 {
				covered++
			}
		}
	}

	return total, covered
}

// FunctionTotals returns the number of known and invoked functions.
func (c Coverage) FunctionTotals() (total, covered int) {
	for _, fc := range c {
		for _, count := range fc.Functions {
			total++
			if count > 0 {
				covered++
			}
		}
	}

	return total, covered
}
