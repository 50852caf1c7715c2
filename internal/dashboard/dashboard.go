// Package dashboard is a bubbletea live view over a running fuzzer's
// *stats.Chart, replacing a console Chart.String() dump with a
// refreshing terminal screen — the same screen-model shape the
// teacher's wizard TUI uses, narrowed to a single always-on screen
// instead of a navigable stack.
package dashboard

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/cispa/ampfuzz/internal/stats"
)

var (
	colorPrimary = lipgloss.Color("63")
	colorDim     = lipgloss.Color("240")
	colorSuccess = lipgloss.Color("42")
	colorWarning = lipgloss.Color("178")

	titleStyle = lipgloss.NewStyle().Foreground(colorPrimary).Bold(true)
	dimStyle   = lipgloss.NewStyle().Foreground(colorDim)
	warnStyle  = lipgloss.NewStyle().Foreground(colorWarning)
	okStyle    = lipgloss.NewStyle().Foreground(colorSuccess)
)

// refreshInterval is how often the dashboard re-renders from Chart.
const refreshInterval = 500 * time.Millisecond

type tickMsg time.Time

// Model is the dashboard's bubbletea model: a read-only window onto a
// *stats.Chart another goroutine (the orchestrator's sync loop) is
// concurrently writing to. Chart's own mutex makes that safe.
type Model struct {
	chart  *stats.Chart
	width  int
	height int
	quit   bool
}

// New returns a dashboard model over chart, ready for tea.NewProgram.
func New(chart *stats.Chart) Model {
	return Model{chart: chart}
}

func (m Model) Init() tea.Cmd {
	return tick()
}

func tick() tea.Cmd {
	return tea.Tick(refreshInterval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case tickMsg:
		return m, tick()

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quit = true
			return m, tea.Quit
		}
	}
	return m, nil
}

func (m Model) View() string {
	if m.quit {
		return ""
	}

	snap := m.chart.Snapshot()

	var b strings.Builder
	b.WriteString(titleStyle.Render("AmpFuzz") + dimStyle.Render("  live dashboard") + "\n\n")

	b.WriteString(fmt.Sprintf("  %s  %s\n",
		labeled("uptime", (time.Duration(snap.UptimeSeconds)*time.Second).String()),
		labeled("type", snap.CurrentType),
	))
	b.WriteString(fmt.Sprintf("  %s  %s  %s\n",
		labeled("execs", fmt.Sprintf("%d", snap.NumExec)),
		labeled("rounds", fmt.Sprintf("%d", snap.NumRounds)),
		labeled("speed", fmt.Sprintf("%.1f/s", snap.Speed)),
	))
	b.WriteString(fmt.Sprintf("  %s  %s  %s  %s\n",
		labeled("inputs", fmt.Sprintf("%d", snap.NumInputs)),
		labeled("hangs", fmt.Sprintf("%d", snap.NumHangs)),
		labeled("crashes", fmt.Sprintf("%d", snap.NumCrashes)),
		labeled("amps", fmt.Sprintf("%d", snap.NumAmps)),
	))
	b.WriteString(fmt.Sprintf("  %s  %s\n\n",
		labeled("best amp", fmt.Sprintf("%.2fx", snap.BestAmpFactor)),
		labeled("density", fmt.Sprintf("%.2f%%", snap.Density)),
	))

	warnings := m.chart.Diagnose()
	if len(warnings) == 0 {
		b.WriteString(okStyle.Render("  no diagnostics") + "\n")
	} else {
		for _, w := range warnings {
			b.WriteString(warnStyle.Render("  ! "+w) + "\n")
		}
	}

	b.WriteString("\n" + dimStyle.Render("  q quit"))
	return b.String()
}

func labeled(name, value string) string {
	return dimStyle.Render(name+":") + " " + value
}
