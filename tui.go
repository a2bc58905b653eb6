package main

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"livenotes/capture"
	"livenotes/clipboard"
	"livenotes/transcript"
)

// TUI message types
type stateMsg struct{ state capture.State }
type transcriptMsg struct {
	topics []transcript.Topic
	live   string
}
type audioLevelMsg struct{ level float64 }
type warningMsg struct{ text string }
type chunkFailedMsg struct {
	seq uint64
	err error
}
type stoppedMsg struct{ cause error }
type startErrMsg struct{ err error }
type copiedMsg struct{ err error }
type tickMsg time.Time

type tuiModel struct {
	ctx      context.Context
	ctrl     *capture.Controller
	modeLine string // "[batch | gemini]"

	state      capture.State
	frame      int
	startedAt  time.Time
	audioLevel float64
	topics     []transcript.Topic
	live       string
	warning    string
	status     string // last start error or stop cause
	lastFail   string
	failed     int
	copied     bool

	width, height int
}

var (
	eyeColorsLive = []string{"", "226", "220", "214", "208", "196", "160", "124", "88", "52", "236"}
	eyeColorsIdle = []string{"", "231", "224", "217", "210", "160", "124", "88", "52", "236", "236"}
	eyeStylesLive [11]lipgloss.Style
	eyeStylesIdle [11]lipgloss.Style
	eyeBgLive     [11][11]lipgloss.Style
	eyeBgIdle     [11][11]lipgloss.Style

	titleStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("4")).Bold(true)
	noteStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("252"))
	liveStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("243")).Italic(true)
	dimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	warnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("208"))
	helpStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("239"))
	helpKeyStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("239")).Bold(true)
)

func init() {
	fill := func(colors []string, fg *[11]lipgloss.Style, bg *[11][11]lipgloss.Style) {
		for i, c := range colors {
			if c == "" {
				continue
			}
			fg[i] = lipgloss.NewStyle().Foreground(lipgloss.Color(c))
			for j, b := range colors {
				if b != "" {
					bg[i][j] = lipgloss.NewStyle().Foreground(lipgloss.Color(c)).Background(lipgloss.Color(b))
				}
			}
		}
	}
	fill(eyeColorsLive, &eyeStylesLive, &eyeBgLive)
	fill(eyeColorsIdle, &eyeStylesIdle, &eyeBgIdle)
}

func newTUIProgram(ctx context.Context, ctrl *capture.Controller, modeLine string) *tea.Program {
	m := tuiModel{ctx: ctx, ctrl: ctrl, modeLine: modeLine}
	return tea.NewProgram(m, tea.WithAltScreen())
}

func tuiTick() tea.Cmd {
	return tea.Tick(60*time.Millisecond, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// Controller calls run off the event loop: Stop waits for teardown, which
// sends messages back to the program.
func (m tuiModel) startCmd() tea.Cmd {
	return func() tea.Msg {
		if err := m.ctrl.Start(m.ctx); err != nil {
			return startErrMsg{err}
		}
		return nil
	}
}

func (m tuiModel) stopCmd() tea.Cmd {
	return func() tea.Msg {
		m.ctrl.Stop()
		return nil
	}
}

func (m tuiModel) copyCmd() tea.Cmd {
	notes := transcript.Markdown(m.topics, m.live)
	return func() tea.Msg {
		return copiedMsg{clipboard.Copy(notes)}
	}
}

func (m tuiModel) Init() tea.Cmd {
	return tea.Batch(tuiTick(), m.startCmd())
}

func (m tuiModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			return m, tea.Quit
		case "s", " ":
			if m.state == capture.StateIdle {
				m.status = ""
				return m, m.startCmd()
			}
			return m, m.stopCmd()
		case "c":
			if len(m.topics) > 0 || m.live != "" {
				return m, m.copyCmd()
			}
		}

	case tickMsg:
		m.frame++
		return m, tuiTick()

	case stateMsg:
		m.state = msg.state
		switch msg.state {
		case capture.StateCapturing:
			m.startedAt = time.Now()
			m.failed = 0
			m.lastFail = ""
			m.copied = false
		case capture.StateIdle:
			m.audioLevel = 0
			m.warning = ""
		}

	case transcriptMsg:
		m.topics = msg.topics
		m.live = msg.live
		m.copied = false

	case audioLevelMsg:
		m.audioLevel = m.audioLevel*0.6 + msg.level*0.4

	case warningMsg:
		m.warning = msg.text

	case chunkFailedMsg:
		m.failed++
		m.lastFail = fmt.Sprintf("chunk %d: %v", msg.seq, msg.err)

	case stoppedMsg:
		m.status = capture.StatusText(msg.cause)

	case startErrMsg:
		m.status = capture.StatusText(msg.err)

	case copiedMsg:
		if msg.err != nil {
			m.status = "Copy failed: " + msg.err.Error()
		} else {
			m.copied = true
		}
	}
	return m, nil
}

func (m tuiModel) View() string {
	if m.width == 0 || m.height == 0 {
		return "Loading..."
	}

	const eyeWidth = 45
	live := m.state == capture.StateCapturing
	level := m.audioLevel
	if !live {
		level = 0
	}

	eye := renderEye(m.frame, level, live)

	var infoLines []string
	switch m.state {
	case capture.StateCapturing:
		elapsed := time.Since(m.startedAt).Truncate(time.Second)
		infoLines = append(infoLines, lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")).
			Bold(true).
			Render(fmt.Sprintf("● LIVE %s", elapsed)))
	case capture.StateRequesting:
		infoLines = append(infoLines, warnStyle.Render("◌ CONNECTING"))
	default:
		infoLines = append(infoLines, dimStyle.Render("○ STANDBY"))
	}
	if m.warning != "" {
		infoLines = append(infoLines, warnStyle.Render("  ⚠ "+m.warning))
	}
	infoLines = append(infoLines, lipgloss.NewStyle().Foreground(lipgloss.Color("245")).Render(m.modeLine))
	if m.failed > 0 {
		infoLines = append(infoLines, warnStyle.Render(fmt.Sprintf("%d failed, last %s", m.failed, m.lastFail)))
	}
	if m.status != "" {
		infoLines = append(infoLines, dimStyle.Render(m.status))
	}

	infoLines = append(infoLines, "")
	infoLines = append(infoLines,
		helpKeyStyle.Render("s")+helpStyle.Render(" start/stop  ")+
			helpKeyStyle.Render("c")+helpStyle.Render(" copy  ")+
			helpKeyStyle.Render("q")+helpStyle.Render(" quit"))
	infoLines = append(infoLines, helpStyle.Render("livenotes "+version))

	for _, line := range infoLines {
		eye += line + "\n"
	}
	eyeLines := strings.Split(eye, "\n")

	notesWidth := max(m.width-eyeWidth-1, 20)
	wrapWidth := max(notesWidth-4, 10)
	notes := m.noteLines(wrapWidth)
	// Keep the newest notes in view.
	if len(notes) > m.height {
		notes = notes[len(notes)-m.height:]
	}

	notesPanel := lipgloss.NewStyle().
		Width(notesWidth).
		Height(m.height).
		PaddingLeft(1).
		Render(strings.Join(notes, "\n"))

	eyePadded := make([]string, m.height)
	for i := range eyePadded {
		if i < len(eyeLines) {
			eyePadded[i] = eyeLines[i]
		} else {
			eyePadded[i] = strings.Repeat(" ", eyeWidth-1)
		}
	}
	eyePanel := lipgloss.NewStyle().
		Width(eyeWidth - 1).
		Height(m.height).
		Render(strings.Join(eyePadded, "\n"))

	return lipgloss.JoinHorizontal(lipgloss.Top, eyePanel, notesPanel)
}

func (m tuiModel) noteLines(width int) []string {
	if len(m.topics) == 0 && m.live == "" {
		return []string{dimStyle.Render("No notes yet")}
	}
	var lines []string
	for i, t := range m.topics {
		if i > 0 {
			lines = append(lines, "")
		}
		title := t.Title
		if i == len(m.topics)-1 && m.copied {
			title += " " + lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Render("[✓ copied]")
		}
		lines = append(lines, titleStyle.Render(title))
		for _, c := range t.Commentaries {
			for j, l := range wrapText(c, width) {
				prefix := "  "
				if j == 0 {
					prefix = "• "
				}
				lines = append(lines, noteStyle.Render(prefix+l))
			}
		}
	}
	if live := strings.TrimSpace(m.live); live != "" {
		lines = append(lines, "")
		for _, l := range wrapText(live, width) {
			lines = append(lines, liveStyle.Render(l))
		}
	}
	return lines
}

// renderEye draws the pulsing eye with half-block characters. It breathes
// slowly when idle and swells with the audio level while capturing.
func renderEye(frame int, level float64, live bool) string {
	const charsW = 44
	const charsH = 15
	const pixH = charsH * 2

	centerX := float64(charsW) / 2
	centerY := float64(pixH) / 2

	var breathe float64
	if live {
		breathe = math.Sin(float64(frame)*0.10)*0.03 + level*10.0 - 0.05
	} else {
		breathe = math.Sin(float64(frame)*0.08)*0.02 - 0.05
	}

	rings := []struct {
		radius, react float64
	}{
		{0.6, 0.10}, {1.3, 0.12}, {2.0, 0.15}, {2.8, 0.35}, {3.5, 0.40},
		{4.2, 0.38}, {5.0, 0.30}, {5.8, 0.15}, {6.5, 0.03}, {9.0, 0},
	}

	pixel := func(x, y int) int {
		dx := float64(x) - centerX
		dy := float64(y) - centerY
		dist := math.Sqrt(dx*dx + dy*dy)
		for i, r := range rings {
			radius := min(r.radius+breathe*r.react*20, 10.0)
			if dist < radius {
				return i + 1
			}
		}
		return 0
	}

	styles, bgStyles := &eyeStylesIdle, &eyeBgIdle
	if live {
		styles, bgStyles = &eyeStylesLive, &eyeBgLive
	}

	var b strings.Builder
	for cy := range charsH {
		for cx := range charsW {
			top, bot := pixel(cx, cy*2), pixel(cx, cy*2+1)
			switch {
			case top == 0 && bot == 0:
				b.WriteString(" ")
			case top == bot:
				b.WriteString(styles[top].Render("█"))
			case bot == 0:
				b.WriteString(styles[top].Render("▀"))
			case top == 0:
				b.WriteString(styles[bot].Render("▄"))
			default:
				b.WriteString(bgStyles[top][bot].Render("▀"))
			}
		}
		b.WriteString("\n")
	}
	return b.String()
}

// wrapText breaks text at spaces so no line is wider than width runes.
func wrapText(text string, width int) []string {
	if text == "" {
		return []string{""}
	}
	if width <= 0 {
		width = 1
	}

	var lines []string
	runes := []rune(text)
	for len(runes) > width {
		splitAt := width
		for i := width; i > 0; i-- {
			if runes[i] == ' ' {
				splitAt = i
				break
			}
		}
		lines = append(lines, string(runes[:splitAt]))
		runes = []rune(strings.TrimLeft(string(runes[splitAt:]), " "))
	}
	if len(runes) > 0 {
		lines = append(lines, string(runes))
	}
	return lines
}
