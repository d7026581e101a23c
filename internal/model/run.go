package model

import "time"

// Outcome classifies the result of replaying one test case.
type Outcome int

// Available Outcome values.
const (
	// Completed indicates the target exited normally.
	Completed Outcome = iota
	// TimedOut indicates the run hit the wall-clock timeout and the process
	// group was killed.
	TimedOut
	// Crashed indicates the target was terminated by a signal.
	Crashed
	// Skipped indicates the run produced no usable result: never dispatched,
	// killed by cancellation, or failed before capture.
	Skipped
)

func (o Outcome) String() string {
	switch o {
	case Completed:
		return "completed"
	case TimedOut:
		return "timed out"
	case Crashed:
		return "crashed"
	case Skipped:
		return "skipped"
	}

	return "unknown"
}

// RunResult is the terminal record for one test case replay. Immutable once
// recorded.
type RunResult struct {
	TestCaseID string
	Outcome    Outcome

	// Artifact is the raw coverage output this run produced, empty when the
	// run left nothing behind. The artifact name embeds TestCaseID-derived
	// identity so a crashing input can be traced back from its trace file.
	Artifact Path

	Duration time.Duration
	ExitCode int
	Signal   int

	// Gain is the number of previously-unseen lines (or basic blocks) this
	// run contributed to the cumulative coverage. Filled in by the
	// accumulator at merge time.
	Gain int
}

// RunSummary aggregates per-run outcomes for the final report.
type RunSummary struct {
	Completed int `yaml:"completed"`
	Crashed   int `yaml:"crashed"`
	TimedOut  int `yaml:"timed_out"`
	Skipped   int `yaml:"skipped"`
}

// Total returns the number of test cases accounted for.
func (s RunSummary) Total() int {
	return s.Completed + s.Crashed + s.TimedOut + s.Skipped
}

// Record folds one run outcome into the summary.
func (s *RunSummary) Record(o Outcome) {
	switch o {
	case Completed:
		s.Completed++
	case TimedOut:
		s.TimedOut++
	case Crashed:
		s.Crashed++
	case Skipped:
		s.Skipped++
	}
}
