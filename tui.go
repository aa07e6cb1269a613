package main

import (
	"fmt"
	"strings"
	"time"

	"dictate/bus"
	"dictate/hotkey"
	"dictate/phase"
	"dictate/telemetry"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

const (
	drainInterval = 50 * time.Millisecond
	blinkFrames   = 10 // cursor toggles every 500ms
)

// engine is the part of the coordinator the display needs.
type engine interface {
	Bus() *bus.Bus
	Do(hotkey.Action)
	Done() <-chan struct{}
}

type tickMsg time.Time

type tuiModel struct {
	eng engine

	width, height int
	frame         int

	sessionID int
	phase     phase.Phase
	clipboard bool
	status    string
	history   []string
	chunks    int
	draft     string
	stats     telemetry.Stats
	hasStats  bool
}

var (
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	keyStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("6"))
	titleStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("15")).Bold(true)
	statusStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("6"))
	clipStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("3")).Bold(true)
	finalStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("255"))
	draftStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("46"))
	appStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("6"))
	systemStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("3"))
	noCUDAStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("1")).Faint(true)
	panelStyle  = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("239")).PaddingLeft(1)
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
)

// phaseLabels are padded so the header does not shift between states.
var phaseLabels = map[phase.Phase]struct {
	text  string
	color string
}{
	phase.Off:       {"OFF      ", "250"},
	phase.Loading:   {"LOADING  ", "3"},
	phase.Listening: {"LISTENING", "6"},
	phase.Speaking:  {"SPEAKING ", "46"},
	phase.Thinking:  {"THINKING ", "45"},
	phase.Error:     {"ERROR    ", "196"},
}

var levelColors = map[telemetry.Level]string{
	telemetry.LevelNormal:   "42",
	telemetry.LevelWarning:  "3",
	telemetry.LevelDanger:   "208",
	telemetry.LevelCritical: "196",
}

func newTUIModel(eng engine) tuiModel {
	return tuiModel{eng: eng, phase: phase.Loading, status: "INIT"}
}

func NewTUIProgram(eng engine) *tea.Program {
	return tea.NewProgram(newTUIModel(eng), tea.WithAltScreen())
}

func tuiTick() tea.Cmd {
	return tea.Tick(drainInterval, func(t time.Time) tea.Msg {
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
		// Quit goes through the engine so the open recording is saved.
		if msg.String() == "ctrl+c" {
			m.eng.Do(hotkey.ActionQuit)
		}

	case tickMsg:
		m.frame++
		for _, ev := range m.eng.Bus().Drain(bus.DefaultBatch) {
			m = m.apply(ev)
		}
		select {
		case <-m.eng.Done():
			// best-effort final drain
			for evs := m.eng.Bus().Drain(bus.DefaultBatch); len(evs) > 0; evs = m.eng.Bus().Drain(bus.DefaultBatch) {
				for _, ev := range evs {
					m = m.apply(ev)
				}
			}
			return m, tea.Quit
		default:
		}
		return m, tuiTick()
	}
	return m, nil
}

func (m tuiModel) apply(ev bus.Event) tuiModel {
	switch ev := ev.(type) {
	case bus.Status:
		m.status = ev.Text
	case bus.PhaseChanged:
		m.phase = ev.Phase
	case bus.Draft:
		m.draft = ev.Text
	case bus.Final:
		if txt := strings.TrimSpace(ev.Text); txt != "" {
			m.history = append(m.history, txt)
			m.chunks++
		}
		m.draft = ""
	case bus.Telemetry:
		m.stats = ev.Stats
		m.hasStats = true
	case bus.Clear:
		m.history = nil
		m.draft = ""
		m.chunks = 0
	case bus.ModeChanged:
		m.clipboard = ev.Clipboard
	case bus.SessionOpened:
		m.sessionID = ev.ID
	}
	return m
}

func (m tuiModel) View() string {
	if m.width == 0 || m.height == 0 {
		return "Loading..."
	}

	header := m.renderHeader()
	footer := m.renderFooter()

	// border takes two rows and two columns
	panelHeight := m.height - lipgloss.Height(header) - lipgloss.Height(footer) - 2
	if panelHeight < 1 {
		panelHeight = 1
	}
	innerWidth := m.width - 3
	if innerWidth < 10 {
		innerWidth = 10
	}

	body := m.renderDictation(innerWidth-1, panelHeight)
	panel := panelStyle.
		Width(innerWidth).
		Height(panelHeight).
		Render(body)

	return lipgloss.JoinVertical(lipgloss.Left, header, panel, footer)
}

func (m tuiModel) renderHeader() string {
	var top strings.Builder
	top.WriteString(titleStyle.Render(fmt.Sprintf("Session %03d", m.sessionID)))
	top.WriteString(dimStyle.Render("  |  "))
	top.WriteString(titleStyle.Render("dictate " + version))
	top.WriteString(dimStyle.Render("  |  "))
	for i, k := range []struct{ key, what string }{
		{"Ctrl+Alt+D", "toggle"},
		{"Ctrl+Alt+C", "clipboard"},
		{"Ctrl+Alt+Q", "quit"},
	} {
		if i > 0 {
			top.WriteString(dimStyle.Render("  |  "))
		}
		top.WriteString(keyStyle.Render(k.key+" ") + dimStyle.Render(k.what))
	}

	label, ok := phaseLabels[m.phase]
	if !ok {
		label.text, label.color = m.phase.String(), "250"
	}
	var state strings.Builder
	state.WriteString(dimStyle.Render("State: "))
	state.WriteString(lipgloss.NewStyle().Foreground(lipgloss.Color(label.color)).Bold(true).Render(label.text))
	state.WriteString(dimStyle.Render(" | "))
	if m.clipboard {
		state.WriteString(clipStyle.Render("Clipboard Mode"))
	} else {
		state.WriteString(dimStyle.Render("Direct Typing "))
	}
	state.WriteString(dimStyle.Render(" | "))
	if strings.HasPrefix(m.status, "ERR") {
		state.WriteString(errorStyle.Render(m.status))
	} else {
		state.WriteString(statusStyle.Render(m.status))
	}

	return top.String() + "\n" + state.String()
}

// renderDictation shows the panel title, the newest history lines that
// fit, and the draft line while listening.
func (m tuiModel) renderDictation(width, height int) string {
	title := dimStyle.Render(fmt.Sprintf("Dictation (%d)", m.chunks))

	var lines []string
	for _, h := range m.history {
		for i, l := range wrapText(h, width-2) {
			if i == 0 {
				lines = append(lines, finalStyle.Render("- "+l))
			} else {
				lines = append(lines, finalStyle.Render("  "+l))
			}
		}
	}

	if m.phase.Active() {
		cursor := "█"
		if (m.frame/blinkFrames)%2 == 1 {
			cursor = " "
		}
		draft := m.draft
		if draft != "" {
			draft += " "
		}
		for _, l := range wrapText(draft+cursor, width) {
			lines = append(lines, draftStyle.Render(l))
		}
	}

	room := height - 1
	if room < 0 {
		room = 0
	}
	if len(lines) > room {
		lines = lines[len(lines)-room:]
	}
	return title + "\n" + strings.Join(lines, "\n")
}

func (m tuiModel) renderFooter() string {
	if !m.hasStats {
		return dimStyle.Render("GPU: ...")
	}
	st := m.stats
	if !st.Available {
		return noCUDAStyle.Render("GPU: (no CUDA)")
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render(st.Device))
	b.WriteString(dimStyle.Render("  |  App: "))
	b.WriteString(appStyle.Render(fmt.Sprintf("%.1f GB", st.AppGB)))
	b.WriteString(dimStyle.Render("  |  System: "))
	b.WriteString(systemStyle.Render(fmt.Sprintf("%.1f GB", st.SystemGB)))
	b.WriteString(dimStyle.Render("  |  Free: "))
	b.WriteString(titleStyle.Render(fmt.Sprintf("%.1f / %.1f GB", st.FreeGB, st.TotalGB)))

	barWidth := m.width - 2
	if barWidth > 60 {
		barWidth = 60
	}
	return b.String() + "\n" + renderBar(st, barWidth)
}

// renderBar draws memory in use as a fraction of total, coloured by the
// pressure level.
func renderBar(st telemetry.Stats, width int) string {
	if width < 4 || st.TotalGB <= 0 {
		return ""
	}
	used := (st.TotalGB - st.FreeGB) / st.TotalGB
	filled := int(used*float64(width) + 0.5)
	filled = max(0, min(width, filled))

	color, ok := levelColors[st.Level]
	if !ok {
		color = "42"
	}
	bar := lipgloss.NewStyle().Foreground(lipgloss.Color(color)).Render(strings.Repeat("█", filled))
	rest := dimStyle.Render(strings.Repeat("░", width-filled))
	return bar + rest + dimStyle.Render(fmt.Sprintf(" %3.0f%% %s", used*100, st.Level))
}

func wrapText(text string, width int) []string {
	if len(text) == 0 {
		return []string{""}
	}
	if width <= 0 {
		width = 1
	}

	r := []rune(text)
	var lines []string
	for len(r) > width {
		// Find last space within width
		splitAt := width
		for i := width; i > 0; i-- {
			if r[i] == ' ' {
				splitAt = i
				break
			}
		}
		lines = append(lines, string(r[:splitAt]))
		r = []rune(strings.TrimLeft(string(r[splitAt:]), " "))
	}
	if len(r) > 0 {
		lines = append(lines, string(r))
	}
	return lines
}
