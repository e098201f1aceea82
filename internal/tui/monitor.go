// Package tui renders a live run monitor: progress bar, current step,
// countdown, device state, and pause/skip/stop key handling.
package tui

import (
	"fmt"

	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/JcJet/jds6600-controller/internal/models"
	"github.com/JcJet/jds6600-controller/internal/runner"
)

const (
	eventBuffer = 256
	maxLogLines = 8
)

type statusMsg string

type progressMsg struct {
	index     int
	total     int
	remaining float64
	step      models.Step
}

type deviceStateMsg string

type checkpointMsg struct {
	cp *models.Checkpoint
}

// DoneMsg ends the monitor. Err is set when the run aborted on a device
// error.
type DoneMsg struct {
	Result runner.Result
	Err    error
}

// Monitor is the bubbletea model for one run. The engine goroutine feeds it
// through the Observer adapter; keys drive the shared runner state.
type Monitor struct {
	state     *runner.State
	interrupt func()
	events    chan tea.Msg

	bar       progress.Model
	total     int
	index     int
	stepText  string
	remaining float64
	countdown string
	devState  string
	log       []string
	paused    bool
	done      bool
	result    runner.Result
	err       error

	width int
}

func NewMonitor(state *runner.State, totalSteps int) *Monitor {
	return &Monitor{
		state:  state,
		events: make(chan tea.Msg, eventBuffer),
		bar:    progress.New(progress.WithDefaultGradient()),
		total:  totalSteps,
		width:  80,
	}
}

// Observer returns the engine callback surface wired to this monitor.
// Events are dropped when the UI falls behind; the terminal Done message is
// delivered separately and never dropped.
func (m *Monitor) Observer() runner.Observer {
	return runner.Observer{
		OnStatus: func(text string) {
			m.send(statusMsg(text))
		},
		OnProgress: func(index, total int, remaining float64, step models.Step) {
			m.send(progressMsg{index: index, total: total, remaining: remaining, step: step})
		},
		OnDeviceState: func(text string) {
			m.send(deviceStateMsg(text))
		},
		OnCheckpoint: func(cp *models.Checkpoint) {
			m.send(checkpointMsg{cp: cp})
		},
	}
}

func (m *Monitor) send(msg tea.Msg) {
	select {
	case m.events <- msg:
	default:
	}
}

// Finish delivers the terminal result. Blocks until the monitor takes it.
func (m *Monitor) Finish(result runner.Result, err error) {
	m.events <- DoneMsg{Result: result, Err: err}
}

func (m *Monitor) Init() tea.Cmd {
	return m.waitForEvent()
}

func (m *Monitor) waitForEvent() tea.Cmd {
	return func() tea.Msg {
		return <-m.events
	}
}

func (m *Monitor) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.bar.Width = msg.Width - 10
		return m, nil

	case statusMsg:
		m.appendLog(string(msg))
		return m, m.waitForEvent()

	case progressMsg:
		m.index = msg.index
		m.total = msg.total
		m.remaining = msg.remaining
		m.stepText = describeStep(msg.step)
		return m, m.waitForEvent()

	case deviceStateMsg:
		m.devState = string(msg)
		return m, m.waitForEvent()

	case checkpointMsg:
		m.countdown = describeWithin(msg.cp)
		return m, m.waitForEvent()

	case DoneMsg:
		m.done = true
		m.result = msg.Result
		m.err = msg.Err
		return m, tea.Quit
	}

	return m, nil
}

func (m *Monitor) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case " ", "p":
		m.paused = m.state.TogglePause()

	case "n":
		m.state.RequestSkip()

	case "s":
		m.state.Stop()
		m.state.Resume() // unblock a paused engine so it can observe the stop

	case "q", "ctrl+c":
		// Quit without stopping: the engine keeps its checkpoint and the
		// run can be resumed later.
		m.state.Resume()
		if m.interrupt != nil {
			m.interrupt()
		}
	}

	return m, nil
}

// SetInterrupt installs the ctrl-c handler, typically a context cancel.
func (m *Monitor) SetInterrupt(f func()) {
	m.interrupt = f
}

func (m *Monitor) appendLog(line string) {
	m.log = append(m.log, line)
	if len(m.log) > maxLogLines {
		m.log = m.log[len(m.log)-maxLogLines:]
	}
}

// Result reports the terminal outcome once the program has exited.
func (m *Monitor) Result() (runner.Result, error) {
	return m.result, m.err
}

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("205"))

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("243"))

	pausedStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("220"))

	stateStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("45"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241"))
)

func (m *Monitor) View() string {
	if m.done {
		return ""
	}

	s := titleStyle.Render("JDS6600") + "\n\n"

	pct := 0.0
	if m.total > 0 {
		pct = float64(m.index) / float64(m.total)
	}
	s += m.bar.ViewAs(pct) + "\n"
	s += fmt.Sprintf("Step %d/%d", m.index+1, m.total)
	if m.stepText != "" {
		s += "  " + m.stepText
	}
	s += dimStyle.Render(fmt.Sprintf("  (est. remaining %s)", runner.FormatSeconds(m.remaining)))
	s += "\n"

	if m.countdown != "" {
		s += m.countdown + "\n"
	}
	if m.devState != "" {
		s += stateStyle.Render(m.devState) + "\n"
	}
	if m.paused {
		s += pausedStyle.Render("PAUSED") + "\n"
	}

	if len(m.log) > 0 {
		s += "\n"
		for _, line := range m.log {
			s += dimStyle.Render(line) + "\n"
		}
	}

	s += "\n" + helpStyle.Render("space: pause  n: skip  s: stop  q: quit (resumable)")
	return s
}

func describeStep(step models.Step) string {
	switch s := step.(type) {
	case models.FreqStep:
		return fmt.Sprintf("freq %g Hz", s.Hz)
	case models.WaitStep:
		return fmt.Sprintf("wait %gs", s.Seconds)
	case models.StopStep:
		return "stop"
	case models.CycleStep:
		return "cycle"
	case models.ModStep:
		return fmt.Sprintf("sweep %g..%g Hz", s.StartHz, s.EndHz)
	}
	return ""
}

func describeWithin(cp *models.Checkpoint) string {
	if cp == nil || cp.Within == nil {
		return ""
	}
	w := cp.Within
	switch w.Kind {
	case models.WithinWait:
		return fmt.Sprintf("waiting... %s left", runner.FormatSeconds(w.Remaining))
	case models.WithinCycle:
		return fmt.Sprintf("cycle point %d/%d (%g Hz)", w.SubK+1, w.SubN, w.FreqHz)
	case models.WithinCycleWait:
		return fmt.Sprintf("cycle point %d/%d, %s hold, %s left",
			w.SubK+1, w.SubN, w.Phase, runner.FormatSeconds(w.Remaining))
	case models.WithinMod:
		return fmt.Sprintf("sweep %s %d/%d (%g..%g Hz)", w.Leg, w.K, w.Updates, w.FromHz, w.ToHz)
	}
	return ""
}
