package tui

import (
	"context"
	"log/slog"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mobility-feed/internal/adapters"
	"mobility-feed/internal/adapters/adaptertest"
	"mobility-feed/internal/config"
	"mobility-feed/internal/conn"
	"mobility-feed/internal/session"
)

func mounted(t *testing.T) (*session.Session, *adaptertest.Dialer) {
	t.Helper()
	cfg := config.Defaults()
	cfg.Source.Reconnect.Enabled = false
	d := &adaptertest.Dialer{}
	s, err := session.Mount(session.Options{Config: cfg, Dialer: d.Dial, Logger: slog.New(slog.DiscardHandler)})
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s, d
}

func key(s string) tea.KeyMsg {
	if s == " " {
		return tea.KeyMsg{Type: tea.KeySpace, Runes: []rune(" ")}
	}
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func TestModel_RendersSnapshots(t *testing.T) {
	s, d := mounted(t)
	require.NoError(t, s.Start())
	tr := d.Last()
	tr.Connect()

	m, err := New(context.Background(), s, Options{})
	require.NoError(t, err)
	assert.Contains(t, m.View(), "waiting for records")

	tr.Deliver("taxi_data", map[string]any{"data": []any{
		map[string]any{"fare_amount": "17.5", "trip_distance": 3.2},
	}})
	tr.Deliver("analytics_data", map[string]any{"data": map[string]any{"total_trips": 120, "avg_fare": 14.25, "avg_distance": 2.9}})

	cmd := m.wait()
	next, _ := m.Update(cmd())
	view := next.View()
	assert.Contains(t, view, "CONNECTED")
	assert.Contains(t, view, "17.50")
	assert.Contains(t, view, "3.20")
	assert.Contains(t, view, "total_trips 120.00")
	assert.Contains(t, view, "records 1")
}

func TestModel_PauseFreezesView(t *testing.T) {
	s, d := mounted(t)
	require.NoError(t, s.Start())
	tr := d.Last()
	tr.Connect()

	m, err := New(context.Background(), s, Options{})
	require.NoError(t, err)
	next, _ := m.Update(key(" "))
	m = next.(Model)
	assert.True(t, m.paused)

	tr.Deliver("taxi_data", map[string]any{"data": []any{map[string]any{"fare_amount": 9}}})
	next, _ = m.Update(m.wait()())
	m = next.(Model)
	assert.Empty(t, m.recs)

	next, _ = m.Update(key(" "))
	m = next.(Model)
	assert.Len(t, m.recs, 1)
}

func TestModel_StartStopAndQuit(t *testing.T) {
	s, d := mounted(t)
	m, err := New(context.Background(), s, Options{})
	require.NoError(t, err)

	_, cmd := m.Update(key("s"))
	require.NotNil(t, cmd)
	next, _ := m.Update(cmd())
	m = next.(Model)
	assert.Equal(t, conn.Connecting, m.info.State)
	tr := d.Last()
	tr.Connect()

	m.info = s.Info()
	_, cmd = m.Update(key("s"))
	next, _ = m.Update(cmd())
	m = next.(Model)
	assert.Equal(t, conn.Disconnected, m.info.State)
	assert.Equal(t, 1, tr.Count(adapters.CmdStopStreaming))

	_, cmd = m.Update(key("q"))
	require.NotNil(t, cmd)
	assert.IsType(t, tea.QuitMsg{}, cmd())
}

func TestModel_ClosedSubscription(t *testing.T) {
	s, _ := mounted(t)
	m, err := New(context.Background(), s, Options{})
	require.NoError(t, err)
	s.Close()
	assert.Equal(t, closedMsg{}, m.wait()())
}

func TestSparkline(t *testing.T) {
	assert.Equal(t, "", Sparkline(nil))
	assert.Equal(t, "▁▁", Sparkline([]float64{3, 3}))
	line := Sparkline([]float64{1, 2, 3, 4, 5, 6, 7, 8})
	assert.Equal(t, "▁▂▃▄▅▆▇█", line)
	assert.Equal(t, 8, len([]rune(line)))
	assert.True(t, strings.HasSuffix(Sparkline([]float64{0, 10}), "█"))
}
