package console

import (
	"context"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/loqalabs/loqa-voice/internal/protocol"
)

const (
	maxEntries     = 50
	errorDisplayed = 5 * time.Second
)

// entry is one line in the conversation log.
type entry struct {
	At      time.Time
	Speaker string // you, assistant
	Text    string
	Extra   string
}

// Model is the root bubbletea model for the voice console.
type Model struct {
	link Link

	state     string
	sessionID string
	final     string
	interim   string
	supported bool

	entries  []entry
	errorMsg string

	width  int
	height int
}

func New(link Link) Model {
	return Model{link: link, state: "idle", supported: true}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(m.waitForEvent(), m.controlCmd(protocol.SubjectVoiceControlStatus))
}

func (m Model) waitForEvent() tea.Cmd {
	link := m.link
	return func() tea.Msg { return link.Next() }
}

func (m Model) controlCmd(subject string) tea.Cmd {
	link := m.link
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), controlTimeout)
		defer cancel()
		reply, err := link.Control(ctx, subject)
		if err != nil {
			return LinkErrorMsg{Err: err}
		}
		return ControlReplyMsg{Reply: reply}
	}
}

func clearErrorCmd() tea.Cmd {
	return tea.Tick(errorDisplayed, func(time.Time) tea.Msg { return ClearErrorMsg{} })
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case StatusMsg:
		m.applyStatus(msg.Status)
		return m, m.waitForEvent()

	case UtteranceMsg:
		m.addEntry(entry{At: msg.Utterance.Timestamp, Speaker: "you", Text: msg.Utterance.Text})
		return m, m.waitForEvent()

	case ReplyMsg:
		r := msg.Reply
		e := entry{At: r.Timestamp, Speaker: "assistant", Text: r.Response}
		if r.Error != "" {
			e.Text = "(no answer: " + r.Error + ")"
		}
		if n := len(r.Products); n > 0 {
			names := make([]string, 0, 3)
			for i := 0; i < n && i < 3; i++ {
				names = append(names, r.Products[i].Name)
			}
			e.Extra = fmt.Sprintf("%d products: %s", n, strings.Join(names, ", "))
		}
		m.addEntry(e)
		return m, m.waitForEvent()

	case VoiceErrorMsg:
		m.errorMsg = msg.Error.Message
		return m, tea.Batch(m.waitForEvent(), clearErrorCmd())

	case ControlReplyMsg:
		if !msg.Reply.OK && msg.Reply.Error != "" {
			m.errorMsg = msg.Reply.Error
			return m, clearErrorCmd()
		}
		m.applyStatus(msg.Reply.Status)
		return m, nil

	case LinkErrorMsg:
		m.errorMsg = msg.Err.Error()
		return m, clearErrorCmd()

	case ClearErrorMsg:
		m.errorMsg = ""
		return m, nil
	}
	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c", "q":
		return m, tea.Quit
	case " ", "enter":
		if m.Listening() {
			return m, m.controlCmd(protocol.SubjectVoiceControlStop)
		}
		return m, m.controlCmd(protocol.SubjectVoiceControlStart)
	case "s":
		return m, m.controlCmd(protocol.SubjectVoiceControlStop)
	case "c":
		m.entries = nil
		return m, nil
	}
	return m, nil
}

// Listening reports whether a capture is in progress.
func (m Model) Listening() bool {
	return m.state == "listening" || m.state == "processing"
}

func (m *Model) applyStatus(st protocol.VoiceStatus) {
	if st.State == "" {
		return
	}
	m.state = st.State
	m.sessionID = st.SessionID
	m.final = st.Final
	m.interim = st.Interim
	m.supported = st.Supported
	if st.Error != nil && st.State != "listening" {
		m.errorMsg = st.Error.Message
	}
}

func (m *Model) addEntry(e entry) {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	m.entries = append(m.entries, e)
	if len(m.entries) > maxEntries {
		m.entries = m.entries[len(m.entries)-maxEntries:]
	}
}

func (m Model) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("loqa voice"))
	b.WriteString("  ")
	b.WriteString(m.stateBadge())
	if m.sessionID != "" {
		b.WriteString(dimStyle.Render("  session " + shortID(m.sessionID)))
	}
	b.WriteString("\n\n")

	live := finalStyle.Render(m.final)
	if m.interim != "" {
		if m.final != "" {
			live += " "
		}
		live += interimStyle.Render(m.interim)
	}
	if m.final == "" && m.interim == "" {
		live = dimStyle.Render("...")
	}
	width := m.width - 4
	if width < 20 {
		width = 60
	}
	b.WriteString(panelStyle.Width(width).Render(live))
	b.WriteString("\n\n")

	if m.errorMsg != "" {
		b.WriteString(errorStyle.Render("! " + m.errorMsg))
		b.WriteString("\n\n")
	}

	for _, e := range m.visibleEntries() {
		stamp := dimStyle.Render(e.At.Local().Format("15:04:05"))
		switch e.Speaker {
		case "assistant":
			b.WriteString(fmt.Sprintf("%s %s\n", stamp, replyStyle.Render(e.Text)))
			if e.Extra != "" {
				b.WriteString("         " + dimStyle.Render(e.Extra) + "\n")
			}
		default:
			b.WriteString(fmt.Sprintf("%s %s\n", stamp, finalStyle.Render("> "+e.Text)))
		}
	}

	b.WriteString("\n")
	b.WriteString(dimStyle.Render("space start/stop · s stop · c clear · q quit"))
	return b.String()
}

func (m Model) stateBadge() string {
	if !m.supported {
		return errorStyle.Render("● unsupported")
	}
	switch m.state {
	case "listening":
		return listeningStyle.Render("● listening")
	case "processing":
		return processingStyle.Render("● processing")
	case "error":
		return errorStyle.Render("● error")
	default:
		return idleStyle.Render("○ idle")
	}
}

func (m Model) visibleEntries() []entry {
	limit := m.height - 10
	if limit <= 0 || limit > len(m.entries) {
		return m.entries
	}
	return m.entries[len(m.entries)-limit:]
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
