// Command taskwire-tui is a terminal client for a task agent. It keeps a chat
// transcript and the task list in sync over the live connection, falling back
// to REST when the connection is down.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/aravindsiva13/taskwire"
)

var (
	userStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("12")).Bold(true)
	agentStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Bold(true)
	systemStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("8")).Italic(true)
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	overdueStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
	doneStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("8")).Strikethrough(true)
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("14"))
	barStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("0")).Background(lipgloss.Color("7")).Padding(0, 1)
	paneStyle    = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
)

// event messages delivered through the model's event channel.
type (
	statusMsg  taskwire.Status
	refreshMsg struct{}
	sentMsg    struct{ err error }
	tickMsg    time.Time
)

type model struct {
	conn *taskwire.Conn
	conv *taskwire.Conversation
	rec  *taskwire.Reconciler

	events chan tea.Msg
	status taskwire.Status

	input      textinput.Model
	transcript viewport.Model
	width      int
	height     int
	ready      bool
}

func newModel(conn *taskwire.Conn, conv *taskwire.Conversation, rec *taskwire.Reconciler, events chan tea.Msg) model {
	input := textinput.New()
	input.Placeholder = "Message the agent, or /toggle N, /delete N, /help"
	input.Focus()
	input.CharLimit = 500

	return model{
		conn:   conn,
		conv:   conv,
		rec:    rec,
		events: events,
		status: conn.Status(),
		input:  input,
	}
}

// waitEvent hands the next pushed event to the update loop.
func waitEvent(events chan tea.Msg) tea.Cmd {
	return func() tea.Msg { return <-events }
}

func tick() tea.Cmd {
	return tea.Tick(500*time.Millisecond, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m model) Init() tea.Cmd {
	return tea.Batch(waitEvent(m.events), tick(), textinput.Blink)
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		chatWidth := m.width * 2 / 3
		vpHeight := m.height - 5
		if vpHeight < 3 {
			vpHeight = 3
		}
		if !m.ready {
			m.transcript = viewport.New(chatWidth-4, vpHeight)
			m.ready = true
		} else {
			m.transcript.Width = chatWidth - 4
			m.transcript.Height = vpHeight
		}
		m.refreshTranscript()
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "esc":
			return m, tea.Quit
		case "ctrl+r":
			return m, m.reconnectCmd()
		case "ctrl+l":
			m.conv.ClearMessages()
			m.refreshTranscript()
			return m, nil
		case "enter":
			text := strings.TrimSpace(m.input.Value())
			if text == "" {
				return m, nil
			}
			m.input.Reset()
			if cmd, handled := m.runSlashCommand(text); handled {
				return m, cmd
			}
			m.refreshTranscript()
			return m, m.sendCmd(text)
		}

	case statusMsg:
		m.status = taskwire.Status(msg)
		return m, waitEvent(m.events)

	case refreshMsg:
		m.refreshTranscript()
		return m, waitEvent(m.events)

	case sentMsg:
		m.refreshTranscript()
		return m, nil

	case tickMsg:
		m.refreshTranscript()
		return m, tick()
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// runSlashCommand handles local commands that act on the task cache directly
// instead of going through the agent.
func (m *model) runSlashCommand(text string) (tea.Cmd, bool) {
	if !strings.HasPrefix(text, "/") {
		return nil, false
	}
	fields := strings.Fields(text)
	switch fields[0] {
	case "/toggle", "/delete":
		if len(fields) < 2 {
			return nil, true
		}
		id, err := strconv.ParseInt(strings.TrimPrefix(fields[1], "#"), 10, 64)
		if err != nil {
			return nil, true
		}
		verb := fields[0]
		rec := m.rec
		return func() tea.Msg {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if verb == "/toggle" {
				return sentMsg{err: rec.Toggle(ctx, id)}
			}
			return sentMsg{err: rec.Delete(ctx, id)}
		}, true
	case "/refresh":
		rec := m.rec
		return func() tea.Msg {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			return sentMsg{err: rec.Load(ctx)}
		}, true
	case "/help":
		return nil, true
	}
	return nil, false
}

func (m *model) sendCmd(text string) tea.Cmd {
	conv := m.conv
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()
		return sentMsg{err: conv.SendUserMessage(ctx, text)}
	}
}

func (m *model) reconnectCmd() tea.Cmd {
	conv := m.conv
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		conv.Reconnect(ctx)
		return refreshMsg{}
	}
}

func (m *model) refreshTranscript() {
	if !m.ready {
		return
	}
	var b strings.Builder
	for _, msg := range m.conv.Messages() {
		switch msg.Origin {
		case taskwire.OriginUser:
			b.WriteString(userStyle.Render("you") + "  " + msg.Body)
		case taskwire.OriginAgent:
			b.WriteString(agentStyle.Render("agent") + "  " + msg.Body)
		default:
			b.WriteString(systemStyle.Render(msg.Body))
		}
		b.WriteString("\n\n")
	}
	atBottom := m.transcript.AtBottom()
	m.transcript.SetContent(lipgloss.NewStyle().Width(m.transcript.Width).Render(b.String()))
	if atBottom {
		m.transcript.GotoBottom()
	}
}

func (m model) View() string {
	if !m.ready {
		return "starting..."
	}

	chatWidth := m.width * 2 / 3
	taskWidth := m.width - chatWidth - 2

	chat := paneStyle.Width(chatWidth - 2).Render(m.transcript.View())
	tasks := paneStyle.Width(taskWidth).Height(m.transcript.Height).Render(m.taskPane(taskWidth - 4))
	body := lipgloss.JoinHorizontal(lipgloss.Top, chat, tasks)

	prompt := "> "
	if m.conv.Processing() {
		prompt = "… "
	}
	inputLine := prompt + m.input.View()

	return lipgloss.JoinVertical(lipgloss.Left, body, inputLine, m.statusBar())
}

func (m model) taskPane(width int) string {
	st := m.rec.Stats()
	var b strings.Builder
	b.WriteString(titleStyle.Render("Tasks"))
	b.WriteString(fmt.Sprintf("\n%d total · %d active · %d done", st.Total, st.Active, st.Completed))
	if st.Overdue > 0 {
		b.WriteString(" · " + overdueStyle.Render(fmt.Sprintf("%d overdue", st.Overdue)))
	}
	b.WriteString("\n\n")

	today := taskwire.DateOf(time.Now())
	for _, t := range m.rec.Tasks() {
		line := fmt.Sprintf("#%d %s", t.ID, t.Title)
		switch {
		case t.Status == taskwire.TaskStatusCompleted:
			line = doneStyle.Render("✓ " + line)
		case t.DueDate != nil && t.DueDate.Before(today):
			line = overdueStyle.Render("! " + line + " (due " + t.DueDate.String() + ")")
		default:
			line = "· " + line
			if t.DueDate != nil {
				line += systemStyle.Render(" (due " + t.DueDate.String() + ")")
			}
		}
		b.WriteString(lipgloss.NewStyle().Width(width).Render(line))
		b.WriteString("\n")
	}
	return b.String()
}

func (m model) statusBar() string {
	status := string(m.status)
	switch m.status {
	case taskwire.StatusConnected:
		status = agentStyle.Render("● " + status)
	case taskwire.StatusConnecting:
		status = systemStyle.Render("◌ " + status)
	default:
		status = errorStyle.Render("○ " + status)
	}

	parts := []string{status}
	if errText := m.conv.LastError(); errText != "" {
		parts = append(parts, errorStyle.Render(errText))
	} else if errText := m.rec.LastError(); errText != "" {
		parts = append(parts, errorStyle.Render(errText))
	}
	parts = append(parts, "enter send · ^R reconnect · ^L clear · esc quit")
	return barStyle.Width(m.width).Render(strings.Join(parts, "  │  "))
}

func main() {
	cfg, err := taskwire.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "taskwire-tui: %v\n", err)
		os.Exit(1)
	}

	logFile, err := os.OpenFile("taskwire-tui.log", os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		fmt.Fprintf(os.Stderr, "taskwire-tui: %v\n", err)
		os.Exit(1)
	}
	defer logFile.Close()
	log := slog.New(slog.NewTextHandler(logFile, &slog.HandlerOptions{Level: cfg.SlogLevel()}))

	httpClient := &http.Client{Timeout: cfg.RequestTimeout}
	agent := taskwire.NewAgentClient(cfg.APIBaseURL, httpClient)
	tasks := taskwire.NewTaskClient(cfg.APIBaseURL, httpClient)

	connOpts := cfg.ConnOptions()
	connOpts.Logger = log
	conn := taskwire.NewConn(connOpts)

	conv := taskwire.NewConversation(taskwire.ConversationOptions{
		Conn:         conn,
		Agent:        agent,
		ReplyTimeout: cfg.ReplyTimeout,
		Logger:       log,
	})
	defer conv.Close()

	rec := taskwire.NewReconciler(taskwire.ReconcilerOptions{API: tasks, Logger: log})

	// Events flow into a buffered channel the update loop drains. The
	// subscriptions must not block or call back into the connection.
	events := make(chan tea.Msg, 64)
	push := func(msg tea.Msg) {
		select {
		case events <- msg:
		default:
		}
	}
	conn.OnStatus(func(s taskwire.Status) { push(statusMsg(s)) })
	conv.OnMutation(func(intent taskwire.MutationIntent) {
		rec.ApplyMutation(intent)
		push(refreshMsg{})
	})

	ctx, cancel := context.WithTimeout(context.Background(), cfg.RequestTimeout)
	if err := rec.Load(ctx); err != nil {
		log.Warn("initial task load failed", "error", err)
	}
	cancel()
	conn.Connect()

	p := tea.NewProgram(newModel(conn, conv, rec, events), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "taskwire-tui: %v\n", err)
		os.Exit(1)
	}
	conn.Disconnect()
}
