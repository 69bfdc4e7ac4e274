package tui

import (
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/sadopc/vitals/internal/aggregate"
	"github.com/sadopc/vitals/internal/metric"
)

type dashboardModel struct {
	width  int
	height int

	snapshot aggregate.Snapshot
}

func newDashboardModel() dashboardModel {
	return dashboardModel{}
}

func (d *dashboardModel) setSize(w, h int) {
	d.width = w
	d.height = h
}

func (d *dashboardModel) setSnapshot(snap aggregate.Snapshot) {
	d.snapshot = snap
}

func (d dashboardModel) update(msg tea.Msg) (dashboardModel, tea.Cmd) {
	return d, nil
}

func (d dashboardModel) view() string {
	if d.width < 20 {
		return "Terminal too small"
	}

	contentWidth := d.width - 4

	statePanel := d.renderStatePanel(contentWidth)
	cards := d.renderCards(contentWidth)

	return lipgloss.JoinVertical(lipgloss.Left, statePanel, cards)
}

func (d dashboardModel) renderStatePanel(w int) string {
	var line string
	switch d.snapshot.State {
	case aggregate.StateUninitialized:
		line = mutedStyle.Render("Waiting for first refresh")
	case aggregate.StateLoading:
		line = warningStyle.Render("◌ Loading metrics from sources...")
	case aggregate.StateRefreshing:
		line = warningStyle.Render("◌ Refreshing...")
	case aggregate.StateError:
		line = errorStyle.Render(fmt.Sprintf("✗ Refresh failed: %v", d.snapshot.Err)) +
			"\n" + mutedStyle.Render("Press r to try again")
	case aggregate.StateDone:
		line = successStyle.Render("● Up to date") +
			mutedStyle.Render("  refreshed "+formatAge(d.snapshot.LastRefresh))
	}

	title := titleStyle.Render("Today")
	content := lipgloss.JoinVertical(lipgloss.Left, title, line)
	return panelStyle.Width(w).Render(content)
}

func (d dashboardModel) renderCards(w int) string {
	keys := d.snapshot.Display.Keys()
	if len(keys) == 0 {
		if d.snapshot.State.InFlight() {
			return panelStyle.Width(w).Render(mutedStyle.Render("Fetching..."))
		}
		return panelStyle.Width(w).Render(
			mutedStyle.Render("No metrics yet. Enable a source on the Sources tab, or add a reading on the Entry tab."),
		)
	}

	var cards []string
	for _, k := range keys {
		cards = append(cards, d.renderCard(k, d.snapshot.Display[k]))
	}

	// Flow cards into rows that fit the width.
	var rows []string
	var row []string
	rowWidth := 0
	for _, c := range cards {
		cw := lipgloss.Width(c)
		if rowWidth+cw > w && len(row) > 0 {
			rows = append(rows, lipgloss.JoinHorizontal(lipgloss.Top, row...))
			row = nil
			rowWidth = 0
		}
		row = append(row, c)
		rowWidth += cw
	}
	if len(row) > 0 {
		rows = append(rows, lipgloss.JoinHorizontal(lipgloss.Top, row...))
	}

	return strings.Join(rows, "\n")
}

func (d dashboardModel) renderCard(key metric.Key, value string) string {
	title := cardTitleStyle.Render(metricLabel(key))
	display := cardValueStyle.Render(value)
	if unit, ok := metricUnits[key]; ok {
		display += mutedStyle.Render(" " + unit)
	}
	return cardStyle.Render(lipgloss.JoinVertical(lipgloss.Left, title, display))
}
