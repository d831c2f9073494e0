package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/dkeye/callrelay/internal/client"
	"github.com/dkeye/callrelay/internal/domain"
)

const actionTimeout = 10 * time.Second

// Controller is the part of the call driver the terminal front end needs.
type Controller interface {
	Call(ctx context.Context, recipient domain.Identity) error
	Accept(ctx context.Context) error
	Reject(ctx context.Context) error
	Hangup(ctx context.Context) error
}

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("12"))

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("8"))

	onlineStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("10"))

	offlineStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("9"))

	stateStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("11"))

	messageStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("14"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("9"))

	keyStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("14"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("8"))
)

type notificationMsg client.Notification

// actionDoneMsg carries the outcome of a driver request.
type actionDoneMsg struct {
	action string
	err    error
}

type model struct {
	ctl Controller
	id  domain.Identity

	online  bool
	state   client.State
	peer    domain.Identity
	message string
	err     string

	dialing bool
	input   string
}

func newModel(ctl Controller, id domain.Identity) model {
	return model{ctl: ctl, id: id, message: "Connecting to relay..."}
}

func (m model) Init() tea.Cmd { return nil }

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if m.dialing {
			return m.handleDialKey(msg)
		}
		return m.handleKey(msg)

	case notificationMsg:
		n := client.Notification(msg)
		m.state = n.State
		switch n.Kind {
		case client.KindConnection:
			m.online = n.Online
		case client.KindState:
			if n.State == client.StateIdle {
				m.peer = ""
			} else if n.Peer != "" {
				m.peer = n.Peer
			}
			return m, nil
		case client.KindIncomingCall:
			m.peer = n.Peer
		}
		if n.Kind == client.KindError {
			m.err = n.Message
		} else {
			m.err = ""
			m.message = n.Message
		}
		return m, nil

	case actionDoneMsg:
		if msg.err != nil {
			m.err = fmt.Sprintf("%s: %v", msg.action, msg.err)
		}
		return m, nil
	}
	return m, nil
}

func (m model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c", "q":
		return m, tea.Quit
	case "c":
		m.dialing = true
		m.input = ""
		m.err = ""
		return m, nil
	case "a":
		return m, m.do("accept", m.ctl.Accept)
	case "r":
		return m, m.do("reject", m.ctl.Reject)
	case "h":
		return m, m.do("hangup", m.ctl.Hangup)
	}
	return m, nil
}

func (m model) handleDialKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyCtrlC:
		return m, tea.Quit
	case tea.KeyEsc:
		m.dialing = false
		m.input = ""
		return m, nil
	case tea.KeyEnter:
		recipient := domain.Identity(strings.TrimSpace(m.input))
		m.dialing = false
		m.input = ""
		return m, m.do("call", func(ctx context.Context) error { return m.ctl.Call(ctx, recipient) })
	case tea.KeyBackspace:
		if len(m.input) > 0 {
			r := []rune(m.input)
			m.input = string(r[:len(r)-1])
		}
		return m, nil
	case tea.KeyRunes, tea.KeySpace:
		m.input += string(msg.Runes)
		return m, nil
	}
	return m, nil
}

func (m model) do(action string, fn func(context.Context) error) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), actionTimeout)
		defer cancel()
		return actionDoneMsg{action: action, err: fn(ctx)}
	}
}

func (m model) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("callrelay"))
	b.WriteString(dimStyle.Render(" - " + string(m.id)))
	b.WriteString("\n\n")

	if m.online {
		b.WriteString(onlineStyle.Render("● online"))
	} else {
		b.WriteString(offlineStyle.Render("○ offline"))
	}
	b.WriteString("  ")
	b.WriteString(stateStyle.Render(m.state.String()))
	if m.peer != "" {
		b.WriteString(dimStyle.Render("  peer: "))
		b.WriteString(string(m.peer))
	}
	b.WriteString("\n\n")

	if m.message != "" {
		b.WriteString(messageStyle.Render(m.message))
		b.WriteString("\n")
	}
	if m.err != "" {
		b.WriteString(errorStyle.Render("Error: " + m.err))
		b.WriteString("\n")
	}

	b.WriteString("\n")
	if m.dialing {
		b.WriteString("Call: " + m.input + "█\n")
		b.WriteString(keyStyle.Render("enter") + helpStyle.Render(" dial  ") + keyStyle.Render("esc") + helpStyle.Render(" cancel"))
		return b.String()
	}
	b.WriteString(m.renderHelp())
	return b.String()
}

func (m model) renderHelp() string {
	var actions []string
	switch m.state {
	case client.StateRingingReceived:
		actions = append(actions, keyStyle.Render("a")+helpStyle.Render(" accept"))
		actions = append(actions, keyStyle.Render("r")+helpStyle.Render(" reject"))
	case client.StateCalling, client.StateNegotiating, client.StateEstablished:
		actions = append(actions, keyStyle.Render("h")+helpStyle.Render(" hang up"))
	default:
		actions = append(actions, keyStyle.Render("c")+helpStyle.Render(" call"))
	}
	actions = append(actions, keyStyle.Render("q")+helpStyle.Render(" quit"))
	return strings.Join(actions, "  ")
}

// UI is the terminal front end of one endpoint.
type UI struct {
	program *tea.Program
}

func New(ctl Controller, id domain.Identity, opts ...tea.ProgramOption) *UI {
	return &UI{program: tea.NewProgram(newModel(ctl, id), opts...)}
}

// Notify forwards a driver notification to the screen. It blocks until the
// program picks it up or has exited.
func (u *UI) Notify(n client.Notification) {
	u.program.Send(notificationMsg(n))
}

func (u *UI) Run() error {
	_, err := u.program.Run()
	return err
}
