package output

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"agentstudio/internal/taskstate"
	"agentstudio/internal/tasktemplate"
)

const maxWatchedSteps = 8

type stateMsg struct {
	state taskstate.State
	ok    bool
}

// WatchModel is a bubbletea model that follows task state snapshots until
// the task is finished and summarised.
type WatchModel struct {
	states   <-chan taskstate.State
	app      tasktemplate.AppInfo
	spinner  spinner.Model
	markdown MarkdownRenderer
	now      func() time.Time

	state    taskstate.State
	width    int
	done     bool
	detached bool
}

// NewWatchModel follows states, starting from initial.
func NewWatchModel(states <-chan taskstate.State, initial taskstate.State, app tasktemplate.AppInfo, md MarkdownRenderer) WatchModel {
	sp := spinner.New(
		spinner.WithSpinner(spinner.Dot),
		spinner.WithStyle(progressStyle),
	)
	if md == nil {
		md = PlainMarkdown()
	}
	return WatchModel{
		states:   states,
		app:      app,
		spinner:  sp,
		markdown: md,
		now:      time.Now,
		state:    initial,
		done:     finished(initial),
	}
}

// State returns the last snapshot seen.
func (m WatchModel) State() taskstate.State { return m.state }

// Detached reports whether the user left before the task finished.
func (m WatchModel) Detached() bool { return m.detached }

func (m WatchModel) Init() tea.Cmd {
	if m.done {
		return tea.Quit
	}
	return tea.Batch(m.spinner.Tick, waitForState(m.states))
}

func waitForState(ch <-chan taskstate.State) tea.Cmd {
	return func() tea.Msg {
		st, ok := <-ch
		return stateMsg{state: st, ok: ok}
	}
}

func finished(st taskstate.State) bool {
	return st.Phase == taskstate.PhaseTerminal && st.Summary != ""
}

func (m WatchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "esc", "ctrl+c":
			m.detached = !m.done
			return m, tea.Quit
		}
	case tea.WindowSizeMsg:
		m.width = msg.Width
	case stateMsg:
		if !msg.ok {
			m.done = true
			return m, tea.Quit
		}
		m.state = msg.state
		if finished(m.state) {
			m.done = true
			return m, tea.Quit
		}
		return m, waitForState(m.states)
	case spinner.TickMsg:
		if m.done {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m WatchModel) View() string {
	var b strings.Builder
	b.WriteString(headerStyle.Render(m.app.Name))
	if m.app.Tagline != "" {
		b.WriteString(" ")
		b.WriteString(taglineStyle.Render(m.app.Tagline))
	}
	b.WriteString("\n\n")

	st := m.state
	label := st.StatusLabel()
	if st.TaskID != "" {
		b.WriteString(mutedStyle.Render("task " + st.TaskID))
		b.WriteString("  ")
	}
	b.WriteString(statusStyle(label).Render(label))
	b.WriteString(mutedStyle.Render("  " + FormatDuration(st.Duration(m.now()))))
	b.WriteString("\n")

	if !m.done {
		progress := st.ProgressMessage()
		if progress == "" {
			progress = "Initializing automation..."
		}
		fmt.Fprintf(&b, "%s %s\n", m.spinner.View(), progressStyle.Render(progress))
	}

	if len(st.Steps) > 0 {
		var lines []string
		start := 0
		if len(st.Steps) > maxWatchedSteps {
			start = len(st.Steps) - maxWatchedSteps
			lines = append(lines, mutedStyle.Render(fmt.Sprintf("… %d earlier steps", start)))
		}
		for i, step := range st.Steps[start:] {
			number := step.Number
			if number <= 0 {
				number = start + i + 1
			}
			line := fmt.Sprintf("%2d. %s", number, step.Message())
			if u := step.DisplayURL(); u != "" {
				line += " " + mutedStyle.Render(u)
			}
			lines = append(lines, line)
		}
		b.WriteString(panelStyle.Render(strings.Join(lines, "\n")))
		b.WriteString("\n")
	}

	if len(st.Files) > 0 {
		b.WriteString("\n")
		for _, f := range st.Files {
			fmt.Fprintf(&b, "  %s %s\n", f.Name, mutedStyle.Render("("+f.Size+")"))
		}
	}

	if st.LastError != "" {
		b.WriteString("\n")
		b.WriteString(errorStyle.Render(st.LastError))
		b.WriteString("\n")
	}

	if m.done && st.Summary != "" {
		b.WriteString("\n")
		b.WriteString(renderMarkdown(m.markdown, st.Summary))
		b.WriteString("\n")
	} else if !m.done {
		b.WriteString(mutedStyle.Render("\nAutomation is running... press q to detach.\n"))
	}

	return ConstrainWidth(b.String(), m.width)
}
