package cli

import (
	"context"
	"fmt"
	"io"
	"os"

	"charm.land/bubbles/v2/progress"
	tea "charm.land/bubbletea/v2"
	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"

	"github.com/raphaelgruber/labelflow/internal/batch"
	"github.com/raphaelgruber/labelflow/internal/models"
	"github.com/raphaelgruber/labelflow/internal/service"
)

// Theme holds the color scheme for the progress display.
type Theme struct {
	Status     lipgloss.Color
	Success    lipgloss.Color
	Error      lipgloss.Color
	Hint       lipgloss.Color
	ProgressBg lipgloss.Color
}

// defaultTheme provides default colors.
var defaultTheme = Theme{
	Status:     lipgloss.Color("#5FAFD7"), // light blue
	Success:    lipgloss.Color("#00D787"), // green
	Error:      lipgloss.Color("#FF005F"), // red
	Hint:       lipgloss.Color("#6C6C6C"), // dim gray
	ProgressBg: lipgloss.Color("#3A3A3A"), // dark gray
}

func (t Theme) statusStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Status)
}

func (t Theme) completedStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Success).Bold(true)
}

func (t Theme) errorStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Error).Bold(true)
}

func (t Theme) hintStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Hint).Italic(true)
}

// runFunc executes a batch and reports item progress.
type runFunc func(ctx context.Context, progress func(batch.Event)) (*service.Report, error)

// eventMsg carries one item reaching a terminal state.
type eventMsg batch.Event

// doneMsg signals that the batch returned.
type doneMsg struct {
	report *service.Report
	err    error
}

// progressModel is the bubbletea model for batch progress.
type progressModel struct {
	title     string
	total     int
	completed int
	failed    int
	last      string
	progress  progress.Model
	theme     Theme

	// cancel stops the batch on Ctrl+C; in-flight renders still finish.
	cancel func()
	// detach quits on Ctrl+C and leaves a server job running.
	detach bool
	jobID  string

	interrupted bool
	done        bool
	report      *service.Report
	err         error
}

func newProgressModel(title string, total int, cancel func()) progressModel {
	return progressModel{
		title:    title,
		total:    total,
		progress: progress.New(progress.WithDefaultBlend(), progress.WithWidth(40)),
		theme:    defaultTheme,
		cancel:   cancel,
	}
}

// Init returns the initial command.
func (m progressModel) Init() tea.Cmd {
	return m.progress.Init()
}

// Update handles messages and returns the updated model.
func (m progressModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyPressMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			if m.detach {
				m.interrupted = true
				return m, tea.Quit
			}
			if !m.interrupted {
				m.interrupted = true
				m.cancel()
			}
			return m, nil
		}

	case eventMsg:
		if msg.Total > 0 {
			m.total = msg.Total
		}
		m.completed = msg.Completed
		if msg.Status == models.StatusFailed {
			m.failed++
		}
		m.last = msg.Pallet
		return m, nil

	case doneMsg:
		m.done = true
		m.report = msg.report
		m.err = msg.err
		return m, tea.Quit

	case progress.FrameMsg:
		var cmd tea.Cmd
		m.progress, cmd = m.progress.Update(msg)
		return m, cmd
	}

	return m, nil
}

// View renders the progress display.
func (m progressModel) View() tea.View {
	return tea.NewView(m.renderContent())
}

func (m progressModel) renderContent() string {
	if m.done || (m.detach && m.interrupted) {
		return m.finalView()
	}

	var pct float64
	if m.total > 0 {
		pct = float64(m.completed) / float64(m.total)
	}

	status := m.theme.statusStyle().Render(fmt.Sprintf("[%s]", m.title))
	counts := fmt.Sprintf("%d/%d labels", m.completed, m.total)
	if m.failed > 0 {
		counts += m.theme.errorStyle().Render(fmt.Sprintf(" (%d failed)", m.failed))
	}
	line := fmt.Sprintf("%s %s %s", status, m.progress.ViewAs(pct), counts)
	if m.last != "" {
		line += "  " + m.last
	}

	hint := "Press Ctrl+C to cancel remaining labels"
	switch {
	case m.detach:
		hint = "Press Ctrl+C to continue in background"
	case m.interrupted:
		hint = "Cancelling, waiting for labels in progress..."
	}
	return line + "\n" + m.theme.hintStyle().Render(hint) + "\n"
}

func (m progressModel) finalView() string {
	if m.detach && m.interrupted {
		return m.theme.hintStyle().Render(fmt.Sprintf(
			"\nJob %s continues in background.\nUse 'labelflow jobs %s' to check status.\n", m.jobID, m.jobID))
	}
	if m.err != nil {
		return m.theme.errorStyle().Render(fmt.Sprintf("✗ %s\n", m.err))
	}
	if r := m.report; r != nil {
		return m.theme.completedStyle().Render(fmt.Sprintf("✓ Rendered %d/%d labels", r.Successful, r.Total)) + "\n"
	}
	return m.theme.completedStyle().Render("✓ Completed") + "\n"
}

// isTerminal reports whether stdout is an interactive terminal.
func isTerminal() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}

// runWithProgress runs fn with a progress bar on terminals and plain
// progress lines on w otherwise. Ctrl+C cancels the batch.
func runWithProgress(ctx context.Context, w io.Writer, title string, total int, fn runFunc) (*service.Report, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if !isTerminal() {
		return fn(ctx, func(ev batch.Event) {
			printEventLine(w, ev)
		})
	}

	p := tea.NewProgram(newProgressModel(title, total, cancel))
	results := make(chan doneMsg, 1)
	go func() {
		report, err := fn(ctx, func(ev batch.Event) { p.Send(eventMsg(ev)) })
		results <- doneMsg{report: report, err: err}
		p.Send(doneMsg{report: report, err: err})
	}()

	if _, err := p.Run(); err != nil {
		cancel()
		res := <-results
		return res.report, fmt.Errorf("progress UI error: %w", err)
	}
	res := <-results
	return res.report, res.err
}

// followJob streams a server job with a progress bar. Ctrl+C detaches and
// leaves the job running; the returned job is nil in that case.
func followJob(ctx context.Context, w io.Writer, job *service.Job, stream func(ctx context.Context, onEvent func(batch.Event)) (*service.Job, error)) (*service.Job, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if !isTerminal() {
		return stream(ctx, func(ev batch.Event) { printEventLine(w, ev) })
	}

	model := newProgressModel(string(job.Kind)+" "+job.ID, job.Total, cancel)
	model.detach = true
	model.jobID = job.ID
	p := tea.NewProgram(model)

	type result struct {
		job *service.Job
		err error
	}
	results := make(chan result, 1)
	go func() {
		final, err := stream(ctx, func(ev batch.Event) { p.Send(eventMsg(ev)) })
		results <- result{job: final, err: err}
		msg := doneMsg{err: err}
		if final != nil {
			msg.report = final.Report
			if final.Error != "" {
				msg.err = fmt.Errorf("job %s: %s", final.Status, final.Error)
			}
		}
		p.Send(msg)
	}()

	finalModel, err := p.Run()
	if err != nil {
		cancel()
		<-results
		return nil, fmt.Errorf("progress UI error: %w", err)
	}
	if m, ok := finalModel.(progressModel); ok && m.interrupted {
		cancel()
		<-results
		return nil, nil
	}
	res := <-results
	return res.job, res.err
}

func printEventLine(w io.Writer, ev batch.Event) {
	line := fmt.Sprintf("[%d/%d] %s %s", ev.Completed, ev.Total, ev.Pallet, ev.Status)
	if ev.Error != "" {
		line += ": " + ev.Error
	}
	fmt.Fprintln(w, line)
}
