// Package ui provides the interactive terminal UI.
package ui

import (
	"context"
	"errors"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/glamour/styles"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/log"
	"github.com/muesli/reflow/truncate"
	te "github.com/muesli/termenv"

	"github.com/dgnsrekt/orpheus-tts/internal/app"
	"github.com/dgnsrekt/orpheus-tts/internal/tts"
)

const (
	maxLogEntries = 200
	ellipsis      = "…"
)

// Session is what the UI drives.
type Session interface {
	Submit(ctx context.Context, input string) error
	StopAll()
	Title() string
	Busy() bool
}

// NewProgram returns a new Tea program.
func NewProgram(cfg Config, s Session, events <-chan tts.Event) *tea.Program {
	log.Debug("Starting orpheus UI", "style", cfg.GlamourStyle, "log_lines", cfg.LogLines)

	var opts []tea.ProgramOption
	if cfg.AltScreen {
		opts = append(opts, tea.WithAltScreen())
	}
	if cfg.EnableMouse {
		opts = append(opts, tea.WithMouseCellMotion())
	}
	return tea.NewProgram(newModel(cfg, s, events), opts...)
}

type (
	eventMsg     struct{ event tts.Event }
	submitErrMsg struct{ err error }
)

type logEntry struct {
	level log.Level
	text  string
}

type model struct {
	cfg     Config
	session Session
	events  <-chan tts.Event
	ctx     context.Context
	cancel  context.CancelFunc

	width  int
	height int
	ready  bool

	viewport   viewport.Model
	input      textinput.Model
	spinner    spinner.Model
	transcript transcript

	status        tts.GenStatus
	bufferSeconds float64
	logs          []logEntry
	title         string
}

func newModel(cfg Config, s Session, events <-chan tts.Event) model {
	if cfg.GlamourStyle == styles.AutoStyle || cfg.GlamourStyle == "" {
		if te.HasDarkBackground() {
			cfg.GlamourStyle = styles.DarkStyle
		} else {
			cfg.GlamourStyle = styles.LightStyle
		}
	}
	if cfg.LogLines < 0 {
		cfg.LogLines = 0
	}

	in := textinput.New()
	in.Placeholder = "Enter text, or !help"
	in.Prompt = "> "
	in.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.Dot

	ctx, cancel := context.WithCancel(context.Background())
	m := model{
		cfg:      cfg,
		session:  s,
		events:   events,
		ctx:      ctx,
		cancel:   cancel,
		viewport: viewport.New(0, 0),
		input:    in,
		spinner:  sp,
		title:    s.Title(),
	}
	style := cfg.GlamourStyle
	m.transcript.renderMarkdown = func(md string, width int) (string, error) {
		return glamourRender(style, md, width)
	}
	return m
}

func glamourRender(style, md string, width int) (string, error) {
	r, err := glamour.NewTermRenderer(
		glamour.WithStandardStyle(style),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return "", err
	}
	return r.Render(md)
}

func waitForEvent(ch <-chan tts.Event) tea.Cmd {
	return func() tea.Msg {
		e, ok := <-ch
		if !ok {
			return nil
		}
		return eventMsg{e}
	}
}

func (m model) submit(input string) tea.Cmd {
	ctx, s := m.ctx, m.session
	return func() tea.Msg {
		return submitErrMsg{s.Submit(ctx, input)}
	}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.spinner.Tick, waitForEvent(m.events))
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c":
			m.cancel()
			return m, tea.Quit
		case "ctrl+z":
			return m, tea.Suspend
		case "esc":
			m.session.StopAll()
			return m, nil
		case "enter":
			input := m.input.Value()
			m.input.Reset()
			if strings.TrimSpace(input) == "" {
				return m, nil
			}
			m.viewport.GotoBottom()
			return m, m.submit(input)
		case "pgup", "pgdown", "ctrl+u", "ctrl+d":
			var cmd tea.Cmd
			m.viewport, cmd = m.viewport.Update(msg)
			return m, cmd
		}

	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.ready = true
		m.layout()
		m.refresh(false)

	case submitErrMsg:
		m.title = m.session.Title()
		if errors.Is(msg.err, app.ErrQuit) {
			m.cancel()
			return m, tea.Quit
		}
		if msg.err != nil {
			m.addLog(log.ErrorLevel, msg.err.Error())
		}

	case eventMsg:
		m.handleEvent(msg.event)
		m.title = m.session.Title()
		cmds = append(cmds, waitForEvent(m.events))

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		cmds = append(cmds, cmd)
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	cmds = append(cmds, cmd)

	if _, ok := msg.(tea.MouseMsg); ok {
		m.viewport, cmd = m.viewport.Update(msg)
		cmds = append(cmds, cmd)
	}

	return m, tea.Batch(cmds...)
}

func (m *model) handleEvent(e tts.Event) {
	switch e := e.(type) {
	case tts.ContentEvent:
		m.transcript.add(e)
		m.refresh(true)
	case tts.SyncedTextEvent:
		m.transcript.setHighlight(e.Text)
		m.refresh(false)
	case tts.BufferEvent:
		m.bufferSeconds = e.Seconds
		if e.Depleted && !m.session.Busy() {
			m.transcript.clearHighlight()
			m.refresh(false)
		}
	case tts.StatusEvent:
		if e.Status.Finished {
			m.addLog(log.InfoLevel, finishedLog(e.Status))
			m.status = tts.GenStatus{}
		} else {
			m.status = e.Status
		}
		m.layout()
	case tts.LogEvent:
		m.addLog(e.Level, e.Text)
	}
}

func (m *model) addLog(level log.Level, text string) {
	for _, line := range strings.Split(text, "\n") {
		m.logs = append(m.logs, logEntry{level: level, text: line})
	}
	if len(m.logs) > maxLogEntries {
		m.logs = m.logs[len(m.logs)-maxLogEntries:]
	}
}

func (m model) contentWidth() int {
	w := m.width
	if m.cfg.MaxWidth > 0 && w > m.cfg.MaxWidth {
		w = m.cfg.MaxWidth
	}
	return max(w, 10)
}

// layout sizes the viewport to whatever the other panes leave.
func (m *model) layout() {
	if !m.ready {
		return
	}
	fixed := 1 + 1 + m.cfg.LogLines + 1 // title, input, logs, separator
	if !m.status.Idle() {
		fixed += 3
	}
	m.viewport.Width = m.width
	m.viewport.Height = max(m.height-fixed, 1)
	m.input.Width = max(m.width-lipgloss.Width(m.input.Prompt)-24, 10)
}

// refresh re-renders the transcript, following the bottom when asked or
// when the view was already there.
func (m *model) refresh(follow bool) {
	if !m.ready {
		return
	}
	atBottom := m.viewport.AtBottom()
	m.viewport.SetContent(m.transcript.render(m.contentWidth()))
	if follow || atBottom {
		m.viewport.GotoBottom()
	}
}

func (m model) View() string {
	if !m.ready {
		return "\n  Initializing..."
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render(truncate.StringWithTail(m.title, uint(max(m.width-2, 1)), ellipsis)))
	b.WriteString("\n")
	b.WriteString(m.viewport.View())
	b.WriteString("\n")

	if s := statusView(m.status, m.spinner.View()); s != "" {
		b.WriteString(s)
		b.WriteString("\n")
	}

	b.WriteString(strokeStyle.Render(strings.Repeat("─", max(m.width, 1))))
	b.WriteString("\n")
	b.WriteString(m.logView())

	b.WriteString(m.input.View())
	b.WriteString("  ")
	b.WriteString(bufferView(m.bufferSeconds))
	return b.String()
}

func (m model) logView() string {
	if m.cfg.LogLines == 0 {
		return ""
	}
	start := max(len(m.logs)-m.cfg.LogLines, 0)
	var b strings.Builder
	for _, e := range m.logs[start:] {
		style := logInfoStyle
		switch e.level {
		case log.WarnLevel:
			style = logWarnStyle
		case log.ErrorLevel, log.FatalLevel:
			style = logErrorStyle
		}
		b.WriteString(style.Render(truncate.StringWithTail(e.text, uint(max(m.width, 1)), ellipsis)))
		b.WriteString("\n")
	}
	for i := len(m.logs) - start; i < m.cfg.LogLines; i++ {
		b.WriteString("\n")
	}
	return b.String()
}
