package client

import (
	"context"
	"fmt"
	"html"
	"strings"
	"time"

	"realtime-board/pkg/board"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
)

const (
	dialTimeout = 5 * time.Second
	maxLines    = 500
)

type (
	connectedMsg     struct{ client *WSClient }
	connectFailedMsg struct{ err error }
)

type Model struct {
	url                string
	isEnteringUsername bool
	username           string
	color              string
	messages           []string
	input              textinput.Model
	ws                 *WSClient
	connected          bool
	msgChan            chan tea.Msg
}

func NewModel(url string) Model {
	ti := textinput.New()
	ti.Placeholder = "Pick a display name"
	ti.Focus()
	ti.CharLimit = 256
	ti.Width = 50

	return Model{
		url:                url,
		input:              ti,
		isEnteringUsername: true,
		msgChan:            make(chan tea.Msg, 64),
	}
}

func (m Model) Init() tea.Cmd {
	return textinput.Blink
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			if m.ws != nil {
				_ = m.ws.Close()
			}
			return m, tea.Quit
		case tea.KeyEnter:
			text := strings.TrimSpace(m.input.Value())
			if text == "" {
				return m, nil
			}
			m.input.Reset()

			if m.isEnteringUsername {
				m.username = text
				m.isEnteringUsername = false
				m.input.Placeholder = "Type your message here"
				return m, connect(m.url, text, m.msgChan)
			}
			if !m.connected {
				m.addLine("not connected")
				return m, nil
			}
			if err := m.ws.SendChat(text); err != nil {
				m.addLine("send failed: " + err.Error())
			}
			return m, nil
		default:
			m.input, cmd = m.input.Update(msg)
		}

	case connectedMsg:
		m.ws = msg.client
		m.connected = true
		return m, waitForMsg(m.msgChan)

	case connectFailedMsg:
		m.addLine("connection failed: " + msg.err.Error())
		m.isEnteringUsername = true
		m.input.Placeholder = "Pick a display name"
		return m, nil

	case colorMsg:
		m.color = string(msg)
		m.addLine(fmt.Sprintf("joined as %s (%s)", m.username, m.color))
		return m, waitForMsg(m.msgChan)

	case historyMsg:
		for _, env := range msg {
			m.addLine(formatEnvelope(env))
		}
		return m, waitForMsg(m.msgChan)

	case envelopeMsg:
		m.addLine(formatEnvelope(board.Envelope(msg)))
		return m, waitForMsg(m.msgChan)

	case serverErrorMsg:
		m.addLine("error: " + string(msg))
		if string(msg) == board.ErrTextNoColor {
			m.addLine("the board is full, press Enter with your name again to retry")
			m.input.SetValue(m.username)
		}
		return m, waitForMsg(m.msgChan)

	case canvasMsg:
		m.addLine(fmt.Sprintf("canvas received (%d bytes)", len(msg)))
		return m, waitForMsg(m.msgChan)

	case canvasUnavailableMsg:
		m.addLine("no canvas available, starting blank")
		return m, waitForMsg(m.msgChan)

	case disconnectedMsg:
		m.connected = false
		m.addLine("disconnected: " + msg.err.Error())
		return m, nil
	}

	return m, cmd
}

func (m *Model) addLine(line string) {
	m.messages = append(m.messages, line)
	if len(m.messages) > maxLines {
		m.messages = m.messages[len(m.messages)-maxLines:]
	}
}

func (m Model) View() string {
	var b strings.Builder

	for _, msg := range m.messages {
		b.WriteString(msg + "\n")
	}

	if m.isEnteringUsername {
		b.WriteString(fmt.Sprintf("Enter your username: %s\n", m.input.View()))
		return b.String()
	}

	b.WriteString("\n" + m.input.View())
	b.WriteString("\n[Enter] to send, [Esc] to quit")
	return b.String()
}

// formatEnvelope renders an envelope for the terminal. The relay escapes
// text for HTML, so it is unescaped here.
func formatEnvelope(env board.Envelope) string {
	stamp := time.UnixMilli(env.Time).Format("15:04:05")
	author := html.UnescapeString(env.Author)
	text := html.UnescapeString(env.Text)
	if env.Type != board.TypeChat {
		return fmt.Sprintf("%s <%s> %s: %s", stamp, env.Type, author, text)
	}
	if env.Author == board.SystemAuthor {
		return fmt.Sprintf("%s * %s", stamp, text)
	}
	return fmt.Sprintf("%s [%s]: %s", stamp, author, text)
}

func connect(url, name string, ch chan tea.Msg) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
		defer cancel()

		c, err := Dial(ctx, url, ch)
		if err != nil {
			return connectFailedMsg{err: err}
		}
		c.Start()
		if err := c.Join(name); err != nil {
			_ = c.Close()
			return connectFailedMsg{err: err}
		}
		return connectedMsg{client: c}
	}
}

func waitForMsg(ch chan tea.Msg) tea.Cmd {
	return func() tea.Msg {
		return <-ch
	}
}
