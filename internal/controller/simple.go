package controller

import (
	"bytes"
	"context"
	"fmt"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	m "aflcov.dev/pkg/aflcov/internal/model"
)

// SimpleUI implements UI with plain line output through the cobra command.
type SimpleUI struct {
	cmd        *cobra.Command
	noProgress bool
	total      int
	lastShown  int
}

// NewSimpleUI creates a SimpleUI.
func NewSimpleUI(cmd *cobra.Command, noProgress bool) *SimpleUI {
	return &SimpleUI{cmd: cmd, noProgress: noProgress}
}

// Start implements UI.
func (s *SimpleUI) Start(ctx context.Context, mode string, total int) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.total = total
	s.printf("Generating %s coverage for %d test cases\n", mode, total)

	return nil
}

// Progress implements UI. Without a terminal, a line per completion would
// drown logs, so only every tenth of the corpus is announced.
func (s *SimpleUI) Progress(ctx context.Context, completed int) {
	if err := ctx.Err(); err != nil {
		return
	}

	if s.noProgress || s.total == 0 {
		return
	}

	step := s.total / 10
	if step == 0 {
		step = 1
	}

	if completed >= s.lastShown+step || completed == s.total {
		s.lastShown = completed
		s.printf("progress: %d/%d\n", completed, s.total)
	}
}

// Info implements UI.
func (s *SimpleUI) Info(ctx context.Context, msg string) {
	if err := ctx.Err(); err != nil {
		return
	}

	s.printf("%s\n", msg)
}

// DisplayCorpus implements UI: per-instance counts as a table.
func (s *SimpleUI) DisplayCorpus(ctx context.Context, cases []m.TestCase) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.printf("%s", renderCorpusTable(cases))

	return nil
}

// DisplayReport implements UI.
func (s *SimpleUI) DisplayReport(ctx context.Context, report *m.ZeroCoverageReport) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.printf("%s", RenderReport(report))

	return nil
}

// Close implements UI (no-op, SimpleUI holds no state worth tearing down).
func (s *SimpleUI) Close(ctx context.Context) {
	if err := ctx.Err(); err != nil {
		return
	}
}

func (s *SimpleUI) printf(format string, args ...interface{}) {
	_, _ = fmt.Fprintf(s.cmd.OutOrStdout(), format, args...)
}

// renderCorpusTable renders per-instance test case counts.
func renderCorpusTable(cases []m.TestCase) string {
	perInstance := map[string]int{}
	order := []string{}

	for _, tc := range cases {
		if _, ok := perInstance[tc.Instance]; !ok {
			order = append(order, tc.Instance)
		}

		perInstance[tc.Instance]++
	}

	var buf bytes.Buffer

	table := tablewriter.NewWriter(&buf)
	table.SetHeader([]string{"Instance", "Test Cases"})
	table.SetBorder(false)
	table.SetCenterSeparator("")
	table.SetColumnAlignment([]int{tablewriter.ALIGN_LEFT, tablewriter.ALIGN_CENTER})

	for _, instance := range order {
		table.Append([]string{instance, fmt.Sprintf("%d", perInstance[instance])})
	}

	table.SetFooter([]string{"Total", fmt.Sprintf("%d", len(cases))})
	table.Render()

	return buf.String()
}

// RenderReport renders the run summary and, for text backends, the files with
// never-executed code. Shared by both UI implementations and the view
// command.
func RenderReport(report *m.ZeroCoverageReport) string {
	var buf bytes.Buffer

	fmt.Fprintf(&buf, "\nRun summary (%s mode): %d completed, %d crashed, %d timed out, %d skipped\n",
		report.Mode,
		report.Summary.Completed, report.Summary.Crashed,
		report.Summary.TimedOut, report.Summary.Skipped,
	)

	if report.TotalLines > 0 {
		fmt.Fprintf(&buf, "Line coverage: %d/%d (%.1f%%), functions: %d/%d\n",
			report.CoveredLines, report.TotalLines,
			float64(report.CoveredLines)/float64(report.TotalLines)*100,
			report.CoveredFunctions, report.TotalFunctions,
		)
	}

	if report.BlocksHit > 0 {
		fmt.Fprintf(&buf, "Distinct basic blocks hit: %d across %d modules\n", report.BlocksHit, report.Modules)
	}

	if len(report.Files) > 0 {
		table := tablewriter.NewWriter(&buf)
		table.SetHeader([]string{"File", "Uncovered Lines", "Uncovered Functions"})
		table.SetBorder(false)
		table.SetCenterSeparator("")
		table.SetColumnAlignment([]int{tablewriter.ALIGN_LEFT, tablewriter.ALIGN_CENTER, tablewriter.ALIGN_CENTER})

		for _, f := range report.Files {
			lines := 0
			for _, lr := range f.UncoveredLines {
				lines += lr.End - lr.Start + 1
			}

			table.Append([]string{string(f.File), fmt.Sprintf("%d", lines), fmt.Sprintf("%d", len(f.UncoveredFunctions))})
		}

		table.Render()
	}

	if report.MergedTracefile != "" {
		fmt.Fprintf(&buf, "Merged coverage written to %s\n", report.MergedTracefile)
	}

	return buf.String()
}
