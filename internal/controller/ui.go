// Package controller provides output frontends for campaign progress and the
// final coverage summary.
package controller

import (
	"context"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	m "aflcov.dev/pkg/aflcov/internal/model"
)

// UI is the presentation surface of the engine. Progress reporting is
// presentation only: the engine works the same with every implementation.
type UI interface {
	// Start announces a campaign of total test cases.
	Start(ctx context.Context, mode string, total int) error

	// Progress reports the monotonically increasing completed count.
	Progress(ctx context.Context, completed int)

	// Info prints a one-line status message.
	Info(ctx context.Context, msg string)

	// DisplayCorpus renders the enumerated corpus (the `list` command).
	DisplayCorpus(ctx context.Context, cases []m.TestCase) error

	// DisplayReport renders the final summary and zero-coverage breakdown.
	DisplayReport(ctx context.Context, report *m.ZeroCoverageReport) error

	// Close tears the UI down; safe to call once after Start.
	Close(ctx context.Context)
}

// IsTTY reports whether f is attached to a terminal.
func IsTTY(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}

// NewUI picks the progress frontend: the animated one on a terminal, plain
// line output otherwise or when progress is disabled.
func NewUI(cmd *cobra.Command, tty, noProgress bool) UI {
	if tty && !noProgress {
		return NewProgressUI(cmd)
	}

	return NewSimpleUI(cmd, noProgress)
}
