// Package tui implements a live terminal viewer over the in-process
// broker.Broker: every decoded event the proxy or sniffer publishes scrolls
// in as it happens, in capture order, with no connection to a remote
// server — unlike the gRPC-streamed viewer this replaces, it only ever
// watches its own process.
package tui

import (
	"context"
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/mongotap/mongotap/broker"
	"github.com/mongotap/mongotap/clipboard"
	"github.com/mongotap/mongotap/highlight"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("6"))
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
	dimStyle    = lipgloss.NewStyle().Faint(true)
	selStyle    = lipgloss.NewStyle().Reverse(true)
)

// Model is the Bubble Tea model for the live event viewer.
type Model struct {
	subscribeFn subscribeFn
	sub         chan broker.Event
	unsub       func()

	events []broker.Event
	cursor int
	follow bool

	width, height int
	copied        string
}

// New creates a Model subscribed to b. Subscribe happens lazily in Init so
// the model stays a cheap value until the program actually runs.
func New(b *broker.Broker) Model {
	return Model{follow: true, subscribeFn: func() (chan broker.Event, func()) { return b.Subscribe() }}
}

type subscribeFn = func() (chan broker.Event, func())

type eventMsg struct{ Event broker.Event }

type subscribedMsg struct {
	ch    chan broker.Event
	unsub func()
}

func (m Model) Init() tea.Cmd {
	return func() tea.Msg {
		ch, unsub := m.subscribeFn()
		return subscribedMsg{ch: ch, unsub: unsub}
	}
}

func waitForEvent(ch chan broker.Event) tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-ch
		if !ok {
			return nil
		}
		return eventMsg{Event: ev}
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case subscribedMsg:
		m.sub = msg.ch
		m.unsub = msg.unsub
		return m, waitForEvent(m.sub)

	case eventMsg:
		m.events = append(m.events, msg.Event)
		if m.follow {
			m.cursor = len(m.events) - 1
		}
		return m, waitForEvent(m.sub)

	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			if m.unsub != nil {
				m.unsub()
			}
			return m, tea.Quit
		case "j", "down":
			if m.cursor < len(m.events)-1 {
				m.cursor++
			}
			m.follow = m.cursor == len(m.events)-1
			return m, nil
		case "k", "up":
			if m.cursor > 0 {
				m.cursor--
			}
			m.follow = false
			return m, nil
		case "g":
			m.cursor = 0
			m.follow = false
			return m, nil
		case "G":
			m.cursor = max(len(m.events)-1, 0)
			m.follow = true
			return m, nil
		case "c":
			if ev, ok := m.current(); ok {
				text := fmt.Sprintf("%s %s %s", ev.Op, ev.Namespace, ev.Selector)
				if err := clipboard.Copy(context.Background(), text); err == nil {
					m.copied = "copied"
				} else {
					m.copied = "copy failed: " + err.Error()
				}
			}
			return m, nil
		}
	}
	return m, nil
}

func (m Model) current() (broker.Event, bool) {
	if m.cursor < 0 || m.cursor >= len(m.events) {
		return broker.Event{}, false
	}
	return m.events[m.cursor], true
}

func (m Model) View() string {
	if m.width == 0 {
		return ""
	}
	if len(m.events) == 0 {
		return "waiting for traffic..."
	}

	listHeight := max(m.height-4, 3)
	start := max(len(m.events)-listHeight, 0)
	if !m.follow {
		start = max(m.cursor-listHeight/2, 0)
	}
	end := min(start+listHeight, len(m.events))

	var b strings.Builder
	b.WriteString(headerStyle.Render(fmt.Sprintf("mongotap — %d events", len(m.events))))
	b.WriteString("\n")

	for i := start; i < end; i++ {
		ev := m.events[i]
		line := fmt.Sprintf("%-24s %-10s %-24s %6.2fms %s", ev.At, ev.Op, ev.Namespace, ev.DurationMs, ev.Selector)
		if ev.Error != "" {
			line = errorStyle.Render(line + "  ERROR: " + ev.Error)
		}
		if i == m.cursor {
			line = selStyle.Render(line)
		}
		b.WriteString(line)
		b.WriteString("\n")
	}

	if ev, ok := m.current(); ok {
		b.WriteString(dimStyle.Render(strings.Repeat("-", min(m.width, 80))))
		b.WriteString("\n")
		b.WriteString(highlight.Document(ev.Selector))
		b.WriteString("\n")
	}

	footer := "q: quit  j/k: navigate  g/G: top/bottom  c: copy"
	if m.copied != "" {
		footer += "  [" + m.copied + "]"
	}
	b.WriteString(dimStyle.Render(footer))

	return b.String()
}
