// Package ui is the terminal status view of the host player.
package ui

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
)

const (
	logLines     = 6
	tickInterval = 100 * time.Millisecond
)

// Controller is what the view may ask of the player.
type Controller interface {
	Cancel()
}

// StatusMsg is a snapshot of the device.
type StatusMsg struct {
	State      string
	SampleRate uint32
	Channel    uint32
	Range      uint32
	Chunk      int

	Interrupts uint64
	Refills    uint64
	Words      uint64
	Errors     uint64
	Dropped    uint32

	// Events are log lines produced since the previous snapshot.
	Events []string
	// Done ends the program.
	Done bool
}

type tickMsg time.Time

// Model is the bubbletea model.
type Model struct {
	poll func() StatusMsg
	ctrl Controller

	status    StatusMsg
	log       []string
	cancelled bool

	width  int
	height int
}

// NewModel polls the player through poll on every tick.
func NewModel(poll func() StatusMsg, ctrl Controller) Model {
	return Model{poll: poll, ctrl: ctrl, status: StatusMsg{State: "idle"}}
}

func tick() tea.Cmd {
	return tea.Tick(tickInterval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m Model) Init() tea.Cmd {
	return tick()
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
	case StatusMsg:
		m.applyStatus(msg)
		if msg.Done {
			return m, tea.Quit
		}
	case tickMsg:
		if m.poll == nil {
			return m, tick()
		}
		st := m.poll()
		m.applyStatus(st)
		if st.Done {
			return m, tea.Quit
		}
		return m, tick()
	}
	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		m.cancel()
		return m, tea.Quit
	case "c", " ":
		m.cancel()
	}
	return m, nil
}

func (m *Model) cancel() {
	if m.ctrl != nil && !m.cancelled {
		m.ctrl.Cancel()
		m.cancelled = true
	}
}

func (m *Model) applyStatus(msg StatusMsg) {
	events := msg.Events
	msg.Events = nil
	m.status = msg
	m.log = append(m.log, events...)
	if len(m.log) > logLines {
		m.log = m.log[len(m.log)-logLines:]
	}
}

// Played returns the playback time covered by the words sent so far.
func (m Model) Played() time.Duration {
	if m.status.SampleRate == 0 {
		return 0
	}
	frames := m.status.Words / 2
	return time.Duration(frames) * time.Second / time.Duration(m.status.SampleRate)
}

func (m Model) View() string {
	var b strings.Builder
	b.WriteString("┌─ sndpwm ─────────────────────────────────────────────┐\n")
	fmt.Fprintf(&b, "│ State:  %-45s │\n", m.status.State)
	fmt.Fprintf(&b, "│ Output: %-45s │\n", fmt.Sprintf("%d Hz  dma%d  range %d  chunk %d",
		m.status.SampleRate, m.status.Channel, m.status.Range, m.status.Chunk))
	fmt.Fprintf(&b, "│ Played: %-45s │\n", m.Played().Truncate(10*time.Millisecond))
	b.WriteString("├──────────────────────────────────────────────────────┤\n")
	fmt.Fprintf(&b, "│ %-52s │\n", fmt.Sprintf("IRQ: %d  Refills: %d  Errors: %d  Dropped: %d",
		m.status.Interrupts, m.status.Refills, m.status.Errors, m.status.Dropped))
	b.WriteString("├──────────────────────────────────────────────────────┤\n")
	for i := 0; i < logLines; i++ {
		line := ""
		if i < len(m.log) {
			line = truncate(m.log[i], 52)
		}
		fmt.Fprintf(&b, "│ %-52s │\n", line)
	}
	b.WriteString("│ c:Cancel  q:Quit                                     │\n")
	b.WriteString("└──────────────────────────────────────────────────────┘\n")
	return b.String()
}

func truncate(s string, length int) string {
	if len(s) <= length {
		return s
	}
	return s[:length-3] + "..."
}

// Run shows the view until the player reports Done or the user quits.
func Run(poll func() StatusMsg, ctrl Controller) error {
	_, err := tea.NewProgram(NewModel(poll, ctrl)).Run()
	return err
}
