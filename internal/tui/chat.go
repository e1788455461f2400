package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/parley-im/parley/internal/client"
	"github.com/parley-im/parley/pkg/protocol"
)

const (
	maxChatLines      = 1000
	typingNoticeTTL   = 3 * time.Second
	typingSendEvery   = 1 * time.Second
	usersPollInterval = 2 * time.Second
)

// Model is the root chat TUI model.
type Model struct {
	client *client.Client

	vp    viewport.Model
	input textinput.Model

	lines     []string
	users     []client.UserInfo
	recipient string
	typing    map[string]time.Time

	lastTypingSent time.Time
	errText        string
	width          int
	height         int
	ready          bool
	quitting       bool
}

// NewModel creates the chat model. The client must be logged in and its
// Connect loop already running.
func NewModel(c *client.Client) Model {
	ti := textinput.New()
	ti.Placeholder = "type a message, or /to <nickname>"
	ti.CharLimit = 4096
	ti.Focus()

	return Model{
		client: c,
		input:  ti,
		vp:     viewport.New(80, 20),
		typing: make(map[string]time.Time),
	}
}

// Run starts the chat TUI and blocks until the user quits.
func Run(c *client.Client) error {
	p := tea.NewProgram(NewModel(c), tea.WithAltScreen())
	_, err := p.Run()
	return err
}

// --- Messages ---

type frameMsg protocol.Frame

type usersMsg []client.UserInfo

type tickMsg time.Time

func waitForFrame(c *client.Client) tea.Cmd {
	return func() tea.Msg {
		f, ok := <-c.Frames()
		if !ok {
			return nil
		}
		return frameMsg(f)
	}
}

func pollUsers(c *client.Client) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		users, err := c.ListUsers(ctx)
		if err != nil {
			return nil
		}
		return usersMsg(users)
	}
}

func tick() tea.Cmd {
	return tea.Tick(usersPollInterval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(waitForFrame(m.client), pollUsers(m.client), tick(), textinput.Blink)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.vp.Width = msg.Width - 24
		m.vp.Height = msg.Height - 6
		m.input.Width = msg.Width - 8
		m.ready = true
		m.refreshViewport()
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "esc":
			m.quitting = true
			return m, tea.Quit
		case "enter":
			return m.submit()
		}

		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		return m, tea.Batch(cmd, m.maybeSendTyping())

	case frameMsg:
		m.handleFrame(protocol.Frame(msg))
		return m, waitForFrame(m.client)

	case usersMsg:
		m.users = msg
		return m, nil

	case tickMsg:
		// Expire stale typing notices.
		now := time.Now()
		for peer, at := range m.typing {
			if now.Sub(at) > typingNoticeTTL {
				delete(m.typing, peer)
			}
		}
		return m, tea.Batch(pollUsers(m.client), tick())
	}

	var cmd tea.Cmd
	m.vp, cmd = m.vp.Update(msg)
	return m, cmd
}

func (m Model) submit() (tea.Model, tea.Cmd) {
	text := strings.TrimSpace(m.input.Value())
	if text == "" {
		return m, nil
	}
	m.input.Reset()
	m.errText = ""

	if peer, ok := strings.CutPrefix(text, "/to "); ok {
		m.recipient = strings.TrimSpace(peer)
		m.addLine(dimmedStyle.Render(fmt.Sprintf("— chatting with %s —", m.recipient)))
		return m, nil
	}
	if text == "/quit" {
		m.quitting = true
		return m, tea.Quit
	}
	if m.recipient == "" {
		m.errText = "pick a recipient first: /to <nickname>"
		return m, nil
	}

	if err := m.client.SendChat(m.recipient, text); err != nil {
		m.errText = err.Error()
		return m, nil
	}
	ts := time.Now().Format("15:04")
	m.addLine(fmt.Sprintf("%s %s %s", dimmedStyle.Render(ts), selfStyle.Render(m.client.Nickname()+":"), text))
	return m, nil
}

// maybeSendTyping notifies the current recipient at most once per second
// while the user is typing.
func (m *Model) maybeSendTyping() tea.Cmd {
	if m.recipient == "" || m.input.Value() == "" {
		return nil
	}
	if time.Since(m.lastTypingSent) < typingSendEvery {
		return nil
	}
	m.lastTypingSent = time.Now()
	_ = m.client.SendTyping(m.recipient)
	return nil
}

func (m *Model) handleFrame(f protocol.Frame) {
	switch f.Type {
	case protocol.TypeChat:
		delete(m.typing, f.From)
		ts := time.Now().Format("15:04")
		m.addLine(fmt.Sprintf("%s %s %s", dimmedStyle.Render(ts), peerStyle.Render(f.From+":"), f.Text))
	case protocol.TypeTyping:
		m.typing[f.From] = time.Now()
	case protocol.TypeError:
		if f.Code == protocol.CodeUnknownRecipient {
			m.errText = fmt.Sprintf("no such user: %s", f.To)
		} else {
			m.errText = f.Message
		}
	}
}

func (m *Model) addLine(line string) {
	m.lines = append(m.lines, line)
	if len(m.lines) > maxChatLines {
		m.lines = m.lines[len(m.lines)-maxChatLines:]
	}
	m.refreshViewport()
}

func (m *Model) refreshViewport() {
	m.vp.SetContent(strings.Join(m.lines, "\n"))
	m.vp.GotoBottom()
}

func (m Model) View() string {
	if m.quitting {
		return ""
	}
	if !m.ready {
		return "connecting..."
	}

	header := titleStyle.Render(" parley ") + dimmedStyle.Render(" "+m.client.Nickname())
	if m.recipient != "" {
		header += subtleStyle.Render("  → " + m.recipient)
	}

	chat := panelStyle.Width(m.vp.Width).Render(m.vp.View())
	sidebar := panelStyle.Width(18).Render(m.usersView())
	body := lipgloss.JoinHorizontal(lipgloss.Top, chat, sidebar)

	status := m.statusLine()

	return lipgloss.JoinVertical(lipgloss.Left,
		header,
		body,
		m.input.View(),
		status,
	)
}

func (m Model) usersView() string {
	var b strings.Builder
	b.WriteString(subtleStyle.Render("users") + "\n")
	for _, u := range m.users {
		if u.Nickname == m.client.Nickname() {
			continue
		}
		dot := offlineDot
		if u.Online {
			dot = onlineDot
		}
		b.WriteString(fmt.Sprintf("%s %s\n", dot, u.Nickname))
	}
	return b.String()
}

func (m Model) statusLine() string {
	if m.errText != "" {
		return errorStyle.Render(" " + m.errText)
	}
	var typing []string
	for peer := range m.typing {
		typing = append(typing, peer)
	}
	if len(typing) > 0 {
		return dimmedStyle.Render(" " + strings.Join(typing, ", ") + " is typing…")
	}
	return dimmedStyle.Render(" enter send • /to <nickname> • esc quit")
}
