package controller

import (
	"context"
	"fmt"

	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	m "aflcov.dev/pkg/aflcov/internal/model"
)

// ProgressUI implements UI with an animated progress bar on a terminal.
type ProgressUI struct {
	cmd  *cobra.Command
	prog *tea.Program
	done chan struct{}
}

// NewProgressUI creates a ProgressUI.
func NewProgressUI(cmd *cobra.Command) *ProgressUI {
	return &ProgressUI{cmd: cmd}
}

type progressMsg int

type infoMsg string

// Start implements UI: launch the bubbletea program in the background so the
// engine never blocks on rendering.
func (p *ProgressUI) Start(ctx context.Context, mode string, total int) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	p.prog = tea.NewProgram(newProgressModel(mode, total), tea.WithOutput(p.cmd.OutOrStdout()))
	p.done = make(chan struct{})

	go func() {
		defer close(p.done)
		_, _ = p.prog.Run()
	}()

	return nil
}

// Progress implements UI.
func (p *ProgressUI) Progress(ctx context.Context, completed int) {
	if ctx.Err() != nil || p.prog == nil {
		return
	}

	p.prog.Send(progressMsg(completed))
}

// Info implements UI.
func (p *ProgressUI) Info(ctx context.Context, msg string) {
	if ctx.Err() != nil {
		return
	}

	if p.prog == nil {
		p.printf("%s\n", msg)
		return
	}

	p.prog.Send(infoMsg(msg))
}

// DisplayCorpus implements UI; the table is static, no TUI involved.
func (p *ProgressUI) DisplayCorpus(ctx context.Context, cases []m.TestCase) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	p.printf("%s", renderCorpusTable(cases))

	return nil
}

// DisplayReport implements UI: stop the bar first so the summary is not
// overwritten by a final repaint.
func (p *ProgressUI) DisplayReport(ctx context.Context, report *m.ZeroCoverageReport) error {
	p.stop()

	if err := ctx.Err(); err != nil {
		return err
	}

	p.printf("%s", RenderReport(report))

	return nil
}

// Close implements UI.
func (p *ProgressUI) Close(_ context.Context) {
	p.stop()
}

func (p *ProgressUI) stop() {
	if p.prog == nil {
		return
	}

	p.prog.Quit()
	<-p.done
	p.prog = nil
}

func (p *ProgressUI) printf(format string, args ...interface{}) {
	_, _ = fmt.Fprintf(p.cmd.OutOrStdout(), format, args...)
}

var progressTitleStyle = lipgloss.NewStyle().Bold(true)

// progressModel is the bubbletea model behind the campaign progress bar.
type progressModel struct {
	mode      string
	total     int
	completed int
	info      string
	bar       progress.Model
}

func newProgressModel(mode string, total int) progressModel {
	return progressModel{
		mode:  mode,
		total: total,
		bar:   progress.New(progress.WithDefaultGradient()),
	}
}

// Init implements tea.Model.
func (pm progressModel) Init() tea.Cmd {
	return nil
}

// Update implements tea.Model.
func (pm progressModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		width := msg.Width - 4
		if width > 0 {
			pm.bar.Width = width
		}

		return pm, nil

	case progressMsg:
		pm.completed = int(msg)
		return pm, nil

	case infoMsg:
		pm.info = string(msg)
		return pm, nil

	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlC {
			return pm, tea.Quit
		}
	}

	return pm, nil
}

// View implements tea.Model.
func (pm progressModel) View() string {
	percent := 0.0
	if pm.total > 0 {
		percent = float64(pm.completed) / float64(pm.total)
	}

	view := progressTitleStyle.Render(fmt.Sprintf("Generating %s coverage", pm.mode)) + "\n"
	view += pm.bar.ViewAs(percent) + "\n"
	view += fmt.Sprintf("%d/%d test cases", pm.completed, pm.total)

	if pm.info != "" {
		view += "  " + pm.info
	}

	return view + "\n"
}
