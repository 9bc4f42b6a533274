// Package tui is the optional, read-only progress view for a driver run: it
// observes driver.Driver's per-iteration events and renders them, but never
// authors prompts or drives the child agent itself. Headless callers get the
// same events as plain Fprintf lines via driver's own verbose logging; this
// package is purely a visual surface on top of it.
package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/reflow/wordwrap"

	"github.com/atomloop/atomloop/internal/driver"
)

// Messages
type (
	iterationMsg driver.IterationEvent
	retryMsg     driver.RetryEvent
	doneMsg      struct{ result driver.Result }
	errMsg       struct{ err error }
)

type iterRow struct {
	iteration int
	exitCode  int
	retried   int
}

// Model renders the progress of one driver run.
type Model struct {
	config driver.RuntimeConfig
	task   driver.Task
	ctx    context.Context
	cancel context.CancelFunc

	program *tea.Program

	iterations []iterRow
	waitClass  string
	waitFor    time.Duration

	output  viewport.Model
	spinner spinner.Model

	width, height int
	ready         bool
	done          bool
	result        driver.Result
	err           error
}

// New builds a Model that will drive config/task itself once started.
func New(config driver.RuntimeConfig, task driver.Task) Model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = SpinnerStyle

	ctx, cancel := context.WithCancel(context.Background())

	return Model{
		config:  config,
		task:    task,
		ctx:     ctx,
		cancel:  cancel,
		spinner: s,
	}
}

// SetProgram wires the tea.Program so the driver run, which happens in a
// blocking goroutine, can deliver events back as messages.
func (m *Model) SetProgram(p *tea.Program) {
	m.program = p
}

// Result returns the driver's outcome once the run has finished. Call after
// tea.Program.Run returns.
func (m Model) Result() (driver.Result, error) {
	return m.result, m.err
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.runDriver())
}

func (m Model) runDriver() tea.Cmd {
	ctx := m.ctx
	program := m.program

	config := m.config
	config.OnIteration = func(ev driver.IterationEvent) {
		if program != nil {
			program.Send(iterationMsg(ev))
		}
	}
	config.OnRetry = func(ev driver.RetryEvent) {
		if program != nil {
			program.Send(retryMsg(ev))
		}
	}

	task := m.task

	return func() tea.Msg {
		d, err := driver.New(config)
		if err != nil {
			return errMsg{err}
		}
		cancelToken := cancelFunc(func() bool {
			select {
			case <-ctx.Done():
				return true
			default:
				return false
			}
		})
		result := d.Run(ctx, task, cancelToken)
		return doneMsg{result}
	}
}

type cancelFunc func() bool

func (f cancelFunc) Cancelled() bool { return f() }

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			if m.cancel != nil {
				m.cancel()
			}
			if m.done {
				return m, tea.Quit
			}
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		if !m.ready {
			m.output = viewport.New(msg.Width-20, msg.Height-12)
			m.output.Style = OutputTextStyle
			m.ready = true
		} else {
			m.output.Width = msg.Width - 20
			m.output.Height = msg.Height - 12
		}

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		cmds = append(cmds, cmd)

	case iterationMsg:
		m.iterations = append(m.iterations, iterRow{iteration: msg.Iteration, exitCode: msg.ExitCode, retried: msg.Retried})
		m.waitClass = ""
		if m.ready {
			wrapped := wordwrap.String(msg.Stdout, max(20, m.output.Width))
			content := m.output.View() + wrapped + "\n"
			m.output.SetContent(content)
			m.output.GotoBottom()
		}

	case retryMsg:
		m.waitClass = string(msg.Class)
		m.waitFor = msg.Wait

	case doneMsg:
		// Intentionally does not return tea.Quit: the view stays up so the
		// final iteration trail and output stay readable until the user
		// presses q.
		m.done = true
		m.result = msg.result

	case errMsg:
		m.done = true
		m.err = msg.err
	}

	return m, tea.Batch(cmds...)
}

func (m Model) View() string {
	if !m.ready {
		return "Loading..."
	}

	var b strings.Builder

	maxIter := m.config.MaxIterations
	if maxIter <= 0 {
		maxIter = 25
	}
	header := lipgloss.JoinHorizontal(
		lipgloss.Left,
		Logo(),
		strings.Repeat(" ", max(0, m.width-40)),
		IterCountStyle.Render(fmt.Sprintf("iter %d/%d", len(m.iterations), maxIter)),
	)
	b.WriteString(HeaderStyle.Width(m.width).Render(header))
	b.WriteString("\n")

	mainContent := lipgloss.JoinHorizontal(
		lipgloss.Top,
		m.renderIterations(),
		m.renderOutput(),
	)
	b.WriteString(mainContent)
	b.WriteString("\n")

	if m.waitClass != "" && !m.done {
		line := fmt.Sprintf("waiting: classified %s, retrying in %s", m.waitClass, m.waitFor)
		b.WriteString(StatusBarStyle.Foreground(Warning).Width(m.width - 4).Render(line))
		b.WriteString("\n")
	}

	status := "Press q to quit"
	if m.done {
		switch {
		case m.err != nil:
			status = StatusBarStyle.Foreground(Error).Render(fmt.Sprintf("Error: %v", m.err))
		case m.result.Success:
			status = StatusBarStyle.Foreground(Primary).Render(fmt.Sprintf("Done after %d iteration(s)", m.result.Iterations))
		default:
			status = StatusBarStyle.Foreground(Error).Render(fmt.Sprintf("Failed: %s %s", m.result.Reason, m.result.ErrorDetail))
		}
	}
	b.WriteString(StatusBarStyle.Render(status))

	return b.String()
}

func (m Model) renderIterations() string {
	var lines []string
	lines = append(lines, TitleStyle.Render("ITERATIONS"))
	lines = append(lines, "")

	for _, row := range m.iterations {
		symbol := SymbolDone
		style := IterDoneStyle
		if row.exitCode != 0 {
			symbol = SymbolFailed
			style = IterFailedStyle
		}
		extra := ""
		if row.retried > 0 {
			extra = fmt.Sprintf(" (retried %d)", row.retried)
		}
		lines = append(lines, fmt.Sprintf("%s %s", symbol, style.Render(fmt.Sprintf("iter %d%s", row.iteration, extra))))
	}

	if !m.done {
		lines = append(lines, fmt.Sprintf("%s %s", m.spinner.View(), IterActiveStyle.Render("running")))
	}

	return IterPanelStyle.Render(strings.Join(lines, "\n"))
}

func (m Model) renderOutput() string {
	title := TitleStyle.Render("OUTPUT")
	content := m.output.View()

	return OutputPanelStyle.
		Width(m.width - 22).
		Height(m.height - 10).
		Render(title + "\n\n" + content)
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
