package main

import (
	"fmt"
	"math"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"jobm8/clipboard"
	"jobm8/playback"
	"jobm8/session"
	"jobm8/transcript"
)

// TUI message types
type StatusMsg struct{ Status session.Status }
type TranscriptMsg struct{ Lines []transcript.Line }
type CaptionsMsg struct{ User, Agent string }
type NoticeMsg struct{ Text string } // transient warning, "" clears
type SessionDoneMsg struct{ Result session.Result }
type tickMsg time.Time

// sessionControl is what the TUI may do to the running interview.
type sessionControl interface {
	Stop()
	SetMuted(bool)
	Muted() bool
	Monitor() playback.Monitor
}

type tuiModel struct {
	ctl       sessionControl
	frame     int
	status    session.Status
	startedAt time.Time
	elapsed   time.Duration
	level     float64 // smoothed output level
	muted     bool

	width, height int
	deviceLine    string
	notice        string
	userCaption   string
	agentCaption  string
	lines         []transcript.Line
	copied        string
	result        *session.Result
	quitting      bool
}

type orbPalette struct {
	colors []string
	fg     [16]lipgloss.Style
	bg     [16][16]lipgloss.Style
}

func newPalette(colors []string) *orbPalette {
	p := &orbPalette{colors: colors}
	for i, c := range colors {
		if c != "" {
			p.fg[i] = lipgloss.NewStyle().Foreground(lipgloss.Color(c))
		}
	}
	for i, fg := range colors {
		for j, bg := range colors {
			if fg != "" && bg != "" {
				p.bg[i][j] = lipgloss.NewStyle().Foreground(lipgloss.Color(fg)).Background(lipgloss.Color(bg))
			}
		}
	}
	return p
}

// Pre-computed orb styles per mood, to avoid allocations in the render loop.
var (
	paletteSpeaking  = newPalette([]string{"", "231", "195", "159", "123", "87", "45", "38", "31", "24", "236", "236", "236", "236", "255", "249"})
	paletteListening = newPalette([]string{"", "252", "250", "248", "246", "244", "242", "240", "238", "237", "236", "236", "236", "236", "255", "249"})
	paletteAlert     = newPalette([]string{"", "226", "220", "214", "208", "196", "160", "124", "88", "52", "236", "236", "236", "236", "255", "249"})
)

var statusColors = map[session.Status]string{
	session.StatusConnecting: "241",
	session.StatusListening:  "42",
	session.StatusProcessing: "220",
	session.StatusSpeaking:   "45",
	session.StatusModerating: "208",
	session.StatusEnded:      "245",
	session.StatusError:      "196",
}

var statusLabels = map[session.Status]string{
	session.StatusConnecting: "○ CONNECTING",
	session.StatusListening:  "● YOUR TURN",
	session.StatusProcessing: "◐ THINKING",
	session.StatusSpeaking:   "◉ INTERVIEWER",
	session.StatusModerating: "▲ FLAGGED",
	session.StatusEnded:      "■ ENDED",
	session.StatusError:      "✕ ERROR",
}

func NewTUIProgram(ctl sessionControl, deviceLine string) *tea.Program {
	m := tuiModel{ctl: ctl, deviceLine: deviceLine, startedAt: time.Now()}
	return tea.NewProgram(m, tea.WithAltScreen())
}

func tuiTick() tea.Cmd {
	return tea.Tick(60*time.Millisecond, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m tuiModel) Init() tea.Cmd {
	return tuiTick()
}

func (m tuiModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case tea.KeyMsg:
		return m.handleKey(msg)

	case tickMsg:
		m.frame++
		if m.result == nil {
			m.elapsed = time.Since(m.startedAt)
			if m.ctl != nil {
				m.level = m.level*0.6 + m.ctl.Monitor().Level()*0.4
			}
		} else {
			m.level *= 0.6
		}
		return m, tuiTick()

	case StatusMsg:
		m.status = msg.Status

	case TranscriptMsg:
		m.lines = msg.Lines

	case CaptionsMsg:
		m.userCaption = msg.User
		m.agentCaption = msg.Agent

	case NoticeMsg:
		m.notice = msg.Text

	case SessionDoneMsg:
		r := msg.Result
		m.result = &r
		m.status = r.Status
		m.lines = r.Lines
		m.elapsed = r.Duration
		m.userCaption, m.agentCaption = "", ""
		if m.quitting {
			return m, tea.Quit
		}
	}
	return m, nil
}

func (m tuiModel) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c", "q":
		if m.result != nil || m.ctl == nil {
			return m, tea.Quit
		}
		// Wait for the session to report before leaving the alt screen.
		m.quitting = true
		m.ctl.Stop()
	case "s", "esc":
		if m.result == nil && m.ctl != nil {
			m.ctl.Stop()
		}
	case "m":
		if m.result == nil && m.ctl != nil {
			m.muted = !m.ctl.Muted()
			m.ctl.SetMuted(m.muted)
		}
	case "ctrl+y":
		if len(m.lines) == 0 {
			m.copied = "nothing to copy yet"
		} else if clipboard.Unsupported() {
			m.copied = "no clipboard utility found"
		} else if err := clipboard.CopyTranscript(m.lines); err != nil {
			m.copied = "copy failed: " + err.Error()
		} else {
			m.copied = fmt.Sprintf("✓ copied %d lines", len(m.lines))
		}
	}
	return m, nil
}

func (m tuiModel) View() string {
	if m.width == 0 || m.height == 0 {
		return "Loading..."
	}

	const orbWidth = 45
	orb := renderOrb(m.frame, m.level, m.status)

	var infoLines []string

	statusStyle := lipgloss.NewStyle().Foreground(lipgloss.Color(statusColors[m.status])).Bold(true)
	infoLines = append(infoLines, statusStyle.Render(statusLabels[m.status])+
		lipgloss.NewStyle().Foreground(lipgloss.Color("245")).Render(fmt.Sprintf("  %s", formatElapsed(m.elapsed))))

	if m.muted {
		infoLines = append(infoLines, lipgloss.NewStyle().Foreground(lipgloss.Color("208")).Render("  🔇 interviewer muted"))
	}
	if m.notice != "" {
		infoLines = append(infoLines, lipgloss.NewStyle().Foreground(lipgloss.Color("208")).Render("  ⚠ "+m.notice))
	}
	if m.deviceLine != "" {
		infoLines = append(infoLines, lipgloss.NewStyle().Foreground(lipgloss.Color("241")).Render(m.deviceLine))
	}
	if m.result != nil {
		infoLines = append(infoLines, "")
		for _, l := range resultSummary(*m.result) {
			infoLines = append(infoLines, lipgloss.NewStyle().Foreground(lipgloss.Color("245")).Render(l))
		}
	}

	infoLines = append(infoLines, "")

	helpStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("239"))
	boldStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("239")).Bold(true)
	if m.result == nil {
		infoLines = append(infoLines,
			boldStyle.Render("m")+helpStyle.Render(" mute  ")+
				boldStyle.Render("s")+helpStyle.Render(" stop  ")+
				boldStyle.Render("ctrl+y")+helpStyle.Render(" copy"))
	} else {
		infoLines = append(infoLines,
			boldStyle.Render("ctrl+y")+helpStyle.Render(" copy  ")+
				boldStyle.Render("q")+helpStyle.Render(" quit"))
	}
	if m.copied != "" {
		infoLines = append(infoLines, lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Render(m.copied))
	}
	infoLines = append(infoLines, helpStyle.Render("jobm8 "+version))

	for _, line := range infoLines {
		orb += line + "\n"
	}
	orbLines := strings.Split(orb, "\n")

	logWidth := max(m.width-orbWidth-1, 20)
	wrapWidth := max(logWidth-2, 10)

	panel := renderTranscript(m.lines, m.userCaption, m.agentCaption, wrapWidth, m.height)

	logPanel := lipgloss.NewStyle().
		Width(logWidth).
		Height(m.height).
		PaddingLeft(1).
		Render(panel)

	orbPadded := make([]string, m.height)
	for i := range orbPadded {
		if i < len(orbLines) {
			orbPadded[i] = orbLines[i]
		} else {
			orbPadded[i] = strings.Repeat(" ", orbWidth-1)
		}
	}

	orbPanel := lipgloss.NewStyle().
		Width(orbWidth - 1).
		Height(m.height).
		Render(strings.Join(orbPadded, "\n"))

	return lipgloss.JoinHorizontal(lipgloss.Top, orbPanel, logPanel)
}

var (
	speakerStyles = map[transcript.Speaker]lipgloss.Style{
		transcript.User:  lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true),
		transcript.Agent: lipgloss.NewStyle().Foreground(lipgloss.Color("45")).Bold(true),
	}
	lineStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("252"))
	captionStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("243")).Italic(true)
)

// renderTranscript shows the tail of the conversation that fits in height,
// followed by the in-progress captions.
func renderTranscript(lines []transcript.Line, user, agent string, width, height int) string {
	var rows []string
	for _, l := range lines {
		rows = append(rows, speakerStyles[l.Speaker].Render(l.Speaker.Label()))
		for _, w := range wrapText(l.Text, width) {
			rows = append(rows, lineStyle.Render(w))
		}
		rows = append(rows, "")
	}
	for _, c := range []struct {
		speaker transcript.Speaker
		text    string
	}{{transcript.User, user}, {transcript.Agent, agent}} {
		text := strings.TrimSpace(c.text)
		if text == "" {
			continue
		}
		rows = append(rows, speakerStyles[c.speaker].Render(c.speaker.Label()+" …"))
		for _, w := range wrapText(text, width) {
			rows = append(rows, captionStyle.Render(w))
		}
		rows = append(rows, "")
	}
	if len(rows) == 0 {
		return lipgloss.NewStyle().Foreground(lipgloss.Color("241")).Render("Waiting for the interviewer…")
	}
	if height > 0 && len(rows) > height {
		rows = rows[len(rows)-height:]
	}
	return strings.Join(rows, "\n")
}

func formatElapsed(d time.Duration) string {
	d = d.Round(time.Second)
	return fmt.Sprintf("%02d:%02d", int(d.Minutes()), int(d.Seconds())%60)
}

// renderOrb draws the interviewer as concentric rings that swell with the
// output level. Color follows the session status.
func renderOrb(frame int, level float64, status session.Status) string {
	const charsW = 44
	const charsH = 15
	const pixW = charsW
	const pixH = charsH * 2

	centerX := float64(pixW) / 2
	centerY := float64(pixH) / 2

	palette := paletteListening
	var breathe float64
	switch status {
	case session.StatusSpeaking:
		palette = paletteSpeaking
		breathe = math.Sin(float64(frame)*0.10)*0.03 + level*10.0 - 0.05
	case session.StatusModerating, session.StatusError:
		palette = paletteAlert
		breathe = math.Sin(float64(frame)*0.20)*0.04 - 0.05
	case session.StatusProcessing:
		breathe = math.Sin(float64(frame)*0.25)*0.03 - 0.05
	default:
		breathe = math.Sin(float64(frame)*0.08)*0.02 - 0.05
	}

	pixels := make([][]int, pixH)
	for i := range pixels {
		pixels[i] = make([]int, pixW)
	}

	rings := []struct {
		radius     float64
		breatheAmt float64
		colorIdx   int
	}{
		{0.6, 0.10, 1},
		{1.3, 0.12, 2},
		{2.0, 0.15, 3},
		{2.8, 0.35, 4},
		{3.5, 0.40, 5},
		{4.2, 0.38, 6},
		{5.0, 0.30, 7},
		{5.8, 0.15, 8},
		{6.5, 0.03, 9},
		{7.2, 0.0, 10},
		{8.0, 0.0, 11},
		{10.0, 0.0, 12},
		{12.0, 0.0, 13},
	}

	for y := 0; y < pixH; y++ {
		for x := 0; x < pixW; x++ {
			dx := float64(x) - centerX
			dy := float64(y) - centerY
			dist := math.Sqrt(dx*dx + dy*dy)
			for _, r := range rings {
				radius := min(r.radius+breathe*r.breatheAmt*20, 10.0)
				if dist < radius {
					pixels[y][x] = r.colorIdx
					break
				}
			}
		}
	}

	// Glass highlights along the upper rim.
	highlights := []struct {
		ox, oy float64
		radius float64
		color  int
	}{
		{-9 * 0.707, -9 * 0.707, 0.7, 14},
		{-7.2 * 0.707, -7.2 * 0.707, 0.4, 15},
		{0, -10, 0.8, 14},
		{0, -8.2, 0.6, 15},
		{9 * 0.707, -9 * 0.707, 0.7, 14},
		{7.2 * 0.707, -7.2 * 0.707, 0.4, 15},
		{0, -2.0, 0.6, 14},
	}
	for y := 0; y < pixH; y++ {
		for x := 0; x < pixW; x++ {
			px := float64(x) - centerX
			py := float64(y) - centerY
			for _, s := range highlights {
				dx := px - s.ox
				dy := py - s.oy
				rLen := math.Sqrt(s.ox*s.ox + s.oy*s.oy)
				if rLen < 0.001 {
					rLen = 1
				}
				tx, ty := -s.oy/rLen, s.ox/rLen
				dt := dx*tx + dy*ty
				dn := dx*(-ty) + dy*tx
				if (dt*dt)/9.0+dn*dn < s.radius*s.radius {
					pixels[y][x] = s.color
				}
			}
		}
	}

	// Two pixel rows per character cell using half blocks.
	var out strings.Builder
	for cy := 0; cy < charsH; cy++ {
		for cx := 0; cx < charsW; cx++ {
			top := pixels[cy*2][cx]
			bot := pixels[cy*2+1][cx]
			switch {
			case top == 0 && bot == 0:
				out.WriteString(" ")
			case top == bot:
				out.WriteString(palette.fg[top].Render("█"))
			case bot == 0:
				out.WriteString(palette.fg[top].Render("▀"))
			case top == 0:
				out.WriteString(palette.fg[bot].Render("▄"))
			default:
				out.WriteString(palette.bg[top][bot].Render("▀"))
			}
		}
		out.WriteString("\n")
	}
	return out.String()
}

func wrapText(text string, width int) []string {
	if len(text) == 0 {
		return []string{""}
	}
	if width <= 0 {
		width = 1
	}

	var lines []string
	for len(text) > width {
		// Find last space within width
		splitAt := width
		for i := width; i > 0; i-- {
			if text[i] == ' ' {
				splitAt = i
				break
			}
		}
		lines = append(lines, text[:splitAt])
		text = strings.TrimLeft(text[splitAt:], " ")
	}
	if len(text) > 0 {
		lines = append(lines, text)
	}
	return lines
}
