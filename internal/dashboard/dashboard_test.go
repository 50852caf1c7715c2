package dashboard

import (
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"

	"github.com/cispa/ampfuzz/internal/stats"
)

func TestDashboardViewRendersCoreStats(t *testing.T) {
	chart := stats.NewChart()
	chart.NumExec.Add(42)

	m := New(chart)
	out := m.View()

	assert.Contains(t, out, "AmpFuzz")
	assert.Contains(t, out, "42")
}

func TestDashboardQuitsOnQ(t *testing.T) {
	m := New(stats.NewChart())

	updated, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	mm := updated.(Model)

	assert.True(t, mm.quit)
	assert.NotNil(t, cmd)
	assert.Equal(t, "", mm.View())
}
