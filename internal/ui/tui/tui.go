// Package tui is the interactive terminal chat.
package tui

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/felixgeelhaar/recall/internal/ui"
)

// TUI forwards agent progress into a running program.
type TUI struct {
	program *tea.Program
}

func NewTUI(p *tea.Program) *TUI {
	return &TUI{program: p}
}

func (t *TUI) UpdateStatus(status string) {
	t.program.Send(StatusMsg(status))
}

func (t *TUI) Log(msg string) {
	t.program.Send(LogMsg(msg))
}

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	infoStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#04B575"))

	userStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("12"))
	botStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	noteStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("8")).Italic(true)
)

type LogMsg string
type StatusMsg string

// ReplyMsg carries the answer to the pending message.
type ReplyMsg string

const chromeHeight = 5

type Model struct {
	Title     string
	Status    string
	Owner     string
	Lines     []string
	Pending   bool
	Quitting  bool
	Ready     bool
	Width     int
	Height    int
	Input     textinput.Model
	Viewport  viewport.Model
	Spinner   spinner.Model
	responder ui.Responder
	ctx       context.Context
}

func NewModel(ctx context.Context, title, owner string, r ui.Responder) Model {
	in := textinput.New()
	in.Placeholder = `Say something, or "exit"`
	in.Prompt = "You: "
	in.CharLimit = 8000
	in.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.Dot

	return Model{
		Title:     title,
		Status:    "Ready",
		Owner:     owner,
		Lines:     []string{noteStyle.Render(ui.Greeting)},
		Input:     in,
		Spinner:   sp,
		responder: r,
		ctx:       ctx,
	}
}

func (m Model) Init() tea.Cmd {
	return textinput.Blink
}

func (m Model) ask(text string) tea.Cmd {
	return func() tea.Msg {
		return ReplyMsg(m.responder.HandleTurn(m.ctx, m.Owner, text))
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			m.Quitting = true
			return m, tea.Quit
		case tea.KeyEnter:
			text := strings.TrimSpace(m.Input.Value())
			if text == "" || m.Pending {
				return m, nil
			}
			if strings.EqualFold(text, "exit") {
				m.Quitting = true
				m.append(noteStyle.Render(ui.Farewell))
				return m, tea.Quit
			}
			m.Input.Reset()
			m.append(userStyle.Render("You: " + text))
			m.Pending = true
			m.Status = "Thinking..."
			return m, tea.Batch(m.ask(text), m.Spinner.Tick)
		}

	case tea.WindowSizeMsg:
		m.Width = msg.Width
		m.Height = msg.Height
		m.Input.Width = msg.Width - len(m.Input.Prompt) - 1
		if !m.Ready {
			m.Viewport = viewport.New(msg.Width, msg.Height-chromeHeight)
			m.Ready = true
		} else {
			m.Viewport.Width = msg.Width
			m.Viewport.Height = msg.Height - chromeHeight
		}
		m.refresh()

	case ReplyMsg:
		m.Pending = false
		m.Status = "Ready"
		m.append(botStyle.Render("Bot: " + string(msg)))

	case LogMsg:
		m.append(noteStyle.Render(string(msg)))

	case StatusMsg:
		m.Status = string(msg)

	case spinner.TickMsg:
		if m.Pending {
			var cmd tea.Cmd
			m.Spinner, cmd = m.Spinner.Update(msg)
			cmds = append(cmds, cmd)
		}
		return m, tea.Batch(cmds...)
	}

	var cmd tea.Cmd
	m.Input, cmd = m.Input.Update(msg)
	cmds = append(cmds, cmd)
	m.Viewport, cmd = m.Viewport.Update(msg)
	cmds = append(cmds, cmd)

	return m, tea.Batch(cmds...)
}

func (m *Model) append(line string) {
	m.Lines = append(m.Lines, line)
	m.refresh()
}

func (m *Model) refresh() {
	if !m.Ready {
		return
	}
	m.Viewport.SetContent(strings.Join(m.Lines, "\n"))
	m.Viewport.GotoBottom()
}

func (m Model) View() string {
	if !m.Ready {
		return "\n  Initializing..."
	}

	header := titleStyle.Render(" " + m.Title + " ")
	status := m.Status
	if m.Pending {
		status = m.Spinner.View() + " " + status
	}
	view := fmt.Sprintf("%s%s\n\n%s\n\n%s",
		header, infoStyle.Render(fmt.Sprintf(" %s ", status)),
		m.Viewport.View(),
		m.Input.View())

	if m.Quitting {
		return view + "\n  Quitting...\n"
	}
	return view
}
