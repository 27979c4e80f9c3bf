// Package tui is a terminal consumer of a feed session: it redraws from
// buffer snapshots whenever the publisher reports a change.
package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"mobility-feed/internal/conn"
	"mobility-feed/internal/events"
	"mobility-feed/internal/hub"
	"mobility-feed/internal/message"
	"mobility-feed/internal/session"
)

// Feed is what the model needs from a session.
type Feed interface {
	Info() session.Info
	Start() error
	Stop()
	Reset()
	Publisher() *hub.Publisher
}

type Options struct {
	Columns      []string // record fields shown in the table
	TrendField   string   // snapshot field drawn as a sparkline
	SummaryField []string // snapshot fields shown from the newest snapshot
	Rows         int      // records shown, newest first
	Refresh      time.Duration
}

func DefaultOptions() Options {
	return Options{
		Columns:      []string{"fare_amount", "trip_distance", "passenger_count"},
		TrendField:   "avg_fare",
		SummaryField: []string{"total_trips", "avg_fare", "avg_distance"},
		Rows:         10,
		Refresh:      time.Second,
	}
}

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("86"))
	dimStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	headStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("86"))
	errStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	stateStyle = map[conn.State]lipgloss.Style{
		conn.Disconnected: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("196")),
		conn.Connecting:   lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("214")),
		conn.Connected:    lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("46")),
		conn.Stopping:     lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("214")),
	}
)

type Model struct {
	feed   Feed
	sub    *hub.Subscription
	ctx    context.Context
	opts   Options
	info   session.Info
	recs   []message.Entry
	snaps  []message.Entry
	paused bool
	width  int
	err    error
}

type updatesMsg []hub.Update
type closedMsg struct{}
type tickMsg time.Time
type infoMsg session.Info
type errMsg struct{ err error }

// New subscribes to feed. The subscription ends when ctx is done or the
// feed's publisher closes.
func New(ctx context.Context, feed Feed, opts Options) (Model, error) {
	def := DefaultOptions()
	if len(opts.Columns) == 0 {
		opts.Columns = def.Columns
	}
	if opts.TrendField == "" {
		opts.TrendField = def.TrendField
	}
	if len(opts.SummaryField) == 0 {
		opts.SummaryField = def.SummaryField
	}
	if opts.Rows <= 0 {
		opts.Rows = def.Rows
	}
	if opts.Refresh <= 0 {
		opts.Refresh = def.Refresh
	}
	sub, err := feed.Publisher().Subscribe()
	if err != nil {
		return Model{}, err
	}
	m := Model{feed: feed, sub: sub, ctx: ctx, opts: opts}
	m.reload()
	return m, nil
}

func (m *Model) reload() {
	pub := m.feed.Publisher()
	m.recs = pub.Snapshot(events.KindRecords)
	m.snaps = pub.Snapshot(events.KindSnapshots)
	m.info = m.feed.Info()
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(m.wait(), m.tick())
}

func (m Model) wait() tea.Cmd {
	return func() tea.Msg {
		ups := m.sub.Poll(m.ctx)
		if ups == nil {
			return closedMsg{}
		}
		return updatesMsg(ups)
	}
}

func (m Model) tick() tea.Cmd {
	return tea.Tick(m.opts.Refresh, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case " ":
			m.paused = !m.paused
			if !m.paused {
				m.reload()
			}
			return m, nil
		case "r":
			m.feed.Reset()
			return m, nil
		case "s":
			feed := m.feed
			if m.info.State == conn.Disconnected {
				return m, func() tea.Msg {
					if err := feed.Start(); err != nil {
						return errMsg{err}
					}
					return infoMsg(feed.Info())
				}
			}
			// Stop waits for the transport, keep it off the UI loop
			return m, func() tea.Msg {
				feed.Stop()
				return infoMsg(feed.Info())
			}
		}

	case updatesMsg:
		if !m.paused {
			m.reload()
		}
		return m, m.wait()

	case closedMsg:
		return m, nil

	case tickMsg:
		m.info = m.feed.Info()
		return m, m.tick()

	case infoMsg:
		m.info = session.Info(msg)
		return m, nil

	case errMsg:
		m.err = msg.err
		return m, nil
	}
	return m, nil
}

func (m Model) View() string {
	return lipgloss.JoinVertical(lipgloss.Left,
		m.renderHeader(),
		"",
		m.renderSnapshots(),
		"",
		m.renderRecords(),
		"",
		m.renderFooter(),
	)
}

func (m Model) renderHeader() string {
	st := stateStyle[m.info.State].Render(strings.ToUpper(m.info.State.String()))
	if m.paused {
		st += dimStyle.Render(" (paused)")
	}
	id := m.info.ID
	if len(id) > 8 {
		id = id[:8]
	}
	line := lipgloss.JoinHorizontal(lipgloss.Left,
		titleStyle.Render("mobility-feed"), "  ",
		fmt.Sprintf("session %s", id), "  ", st)
	lines := []string{line}
	if m.info.Status != "" {
		lines = append(lines, dimStyle.Render("server: "+m.info.Status))
	}
	if m.info.LastError != "" {
		lines = append(lines, errStyle.Render("last error: "+m.info.LastError))
	}
	if m.err != nil {
		lines = append(lines, errStyle.Render(m.err.Error()))
	}
	return lipgloss.JoinVertical(lipgloss.Left, lines...)
}

func (m Model) renderSnapshots() string {
	if len(m.snaps) == 0 {
		return dimStyle.Render("no snapshots yet")
	}
	last := m.snaps[len(m.snaps)-1]
	parts := make([]string, 0, len(m.opts.SummaryField))
	for _, f := range m.opts.SummaryField {
		parts = append(parts, fmt.Sprintf("%s %s", f, formatField(last, f)))
	}
	trend := make([]float64, 0, len(m.snaps))
	for _, e := range m.snaps {
		if v, ok := e.Float(m.opts.TrendField); ok {
			trend = append(trend, v)
		}
	}
	return lipgloss.JoinVertical(lipgloss.Left,
		headStyle.Render(fmt.Sprintf("snapshots %d", len(m.snaps))),
		strings.Join(parts, "  "),
		fmt.Sprintf("%s %s", m.opts.TrendField, Sparkline(trend)),
	)
}

func (m Model) renderRecords() string {
	head := headStyle.Render(fmt.Sprintf("records %d", len(m.recs)))
	if len(m.recs) == 0 {
		return lipgloss.JoinVertical(lipgloss.Left, head, dimStyle.Render("waiting for records..."))
	}
	cols := append([]string{"seq", "received"}, m.opts.Columns...)
	row := func(cells []string) string {
		out := make([]string, len(cells))
		for i, c := range cells {
			out[i] = fmt.Sprintf("%-14s", truncate(c, 14))
		}
		return strings.Join(out, " │ ")
	}
	rows := []string{head, headStyle.Render(row(cols))}
	for i := len(m.recs) - 1; i >= 0 && len(m.recs)-i <= m.opts.Rows; i-- {
		e := m.recs[i]
		cells := []string{fmt.Sprint(e.Seq), e.ReceivedAt.Format("15:04:05")}
		for _, c := range m.opts.Columns {
			cells = append(cells, formatField(e, c))
		}
		rows = append(rows, row(cells))
	}
	return lipgloss.JoinVertical(lipgloss.Left, rows...)
}

func (m Model) renderFooter() string {
	return dimStyle.Render("[s] start/stop  [r] reset  [space] pause  [q] quit")
}

func formatField(e message.Entry, name string) string {
	if v, ok := e.Float(name); ok {
		return fmt.Sprintf("%.2f", v)
	}
	if s, ok := e.String(name); ok {
		return s
	}
	return "-"
}

func truncate(s string, n int) string {
	if len([]rune(s)) <= n {
		return s
	}
	return string([]rune(s)[:n-1]) + "…"
}

var bars = []rune("▁▂▃▄▅▆▇█")

// Sparkline scales values between their min and max.
func Sparkline(values []float64) string {
	if len(values) == 0 {
		return ""
	}
	lo, hi := values[0], values[0]
	for _, v := range values {
		lo = min(lo, v)
		hi = max(hi, v)
	}
	var b strings.Builder
	for _, v := range values {
		i := 0
		if hi > lo {
			i = int((v - lo) * float64(len(bars)-1) / (hi - lo))
		}
		b.WriteRune(bars[i])
	}
	return b.String()
}
