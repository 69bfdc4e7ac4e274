package tui

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/NimbleMarkets/ntcharts/barchart"
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/sadopc/vitals/internal/aggregate"
	"github.com/sadopc/vitals/internal/metric"
)

type trendsModel struct {
	width  int
	height int

	snapshot aggregate.Snapshot
	keys     []metric.Key
	selected int

	chart barchart.Model
}

func newTrendsModel() trendsModel {
	return trendsModel{
		chart: barchart.New(60, 12),
	}
}

func (t *trendsModel) setSize(w, h int) {
	t.width = w
	t.height = h
	t.buildChart()
}

func (t *trendsModel) setSnapshot(snap aggregate.Snapshot) {
	t.snapshot = snap
	t.keys = chartableKeys(snap.Upload)
	if t.selected >= len(t.keys) {
		t.selected = max(0, len(t.keys)-1)
	}
	t.buildChart()
}

// chartableKeys filters the upload view down to metrics whose values
// plot as numbers. Blood pressure charts its systolic component.
func chartableKeys(upload metric.UploadView) []metric.Key {
	var out []metric.Key
	for _, k := range upload.Keys() {
		series := upload[k]
		numeric := false
		for _, v := range series {
			if _, err := strconv.ParseFloat(chartValue(k, v), 64); err == nil {
				numeric = true
				break
			}
		}
		if numeric {
			out = append(out, k)
		}
	}
	return out
}

func chartValue(key metric.Key, value string) string {
	if key == metric.BloodPressure {
		if sys, _, err := metric.SplitBP(value); err == nil {
			return sys
		}
	}
	return value
}

func (t trendsModel) update(msg tea.Msg) (trendsModel, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch {
		case key.Matches(msg, keys.Left):
			if t.selected > 0 {
				t.selected--
				t.buildChart()
			}
		case key.Matches(msg, keys.Right):
			if t.selected < len(t.keys)-1 {
				t.selected++
				t.buildChart()
			}
		}
	}
	return t, nil
}

func (t *trendsModel) buildChart() {
	chartWidth := t.width - 8
	if chartWidth < 20 {
		chartWidth = 20
	}
	chartHeight := 12
	if t.height > 30 {
		chartHeight = 16
	}

	t.chart = barchart.New(chartWidth, chartHeight)

	if len(t.keys) == 0 {
		return
	}
	k := t.keys[t.selected]
	series := t.snapshot.Upload[k]

	barStyle := lipgloss.NewStyle().Foreground(colorPrimary)
	emptyStyle := lipgloss.NewStyle().Foreground(colorSubtle)

	var bars []barchart.BarData
	for _, date := range series.Dates() {
		v, err := strconv.ParseFloat(chartValue(k, series[date]), 64)
		label := shortDate(date)
		if err != nil {
			bars = append(bars, barchart.BarData{
				Label:  label,
				Values: []barchart.BarValue{{Name: "", Value: 0, Style: emptyStyle}},
			})
			continue
		}
		bars = append(bars, barchart.BarData{
			Label:  label,
			Values: []barchart.BarValue{{Name: string(k), Value: v, Style: barStyle}},
		})
	}

	t.chart.PushAll(bars)
	t.chart.Draw()
}

func shortDate(date string) string {
	d, err := time.Parse(metric.DateFormat, date)
	if err != nil {
		return date
	}
	return d.Format("01/02")
}

func (t trendsModel) view() string {
	w := t.width - 4

	if len(t.keys) == 0 {
		return panelStyle.Width(w).Render(
			lipgloss.JoinVertical(lipgloss.Left,
				titleStyle.Render("Trends"),
				"",
				mutedStyle.Render("No numeric series yet. Refresh or record a reading first."),
			),
		)
	}

	// Metric selector tabs
	var tabs []string
	for i, k := range t.keys {
		if i == t.selected {
			tabs = append(tabs, activeTabStyle.Render(metricLabel(k)))
		} else {
			tabs = append(tabs, inactiveTabStyle.Render(metricLabel(k)))
		}
	}
	tabRow := lipgloss.JoinHorizontal(lipgloss.Bottom, tabs...)

	header := lipgloss.JoinHorizontal(lipgloss.Bottom,
		titleStyle.Render("Trends"), "  ", tabRow,
	)

	chartView := t.chart.View()
	tableView := t.renderSeriesTable(w)
	nav := mutedStyle.Render("  ←/→: switch metric")

	return panelStyle.Width(w).Render(
		lipgloss.JoinVertical(lipgloss.Left,
			header, "", chartView, "", tableView, "", nav,
		),
	)
}

func (t trendsModel) renderSeriesTable(w int) string {
	k := t.keys[t.selected]
	series := t.snapshot.Upload[k]
	dates := series.Dates()
	if len(dates) == 0 {
		return mutedStyle.Render("  No data in the current window")
	}

	unit := metricUnits[k]

	var rows []string
	headerRow := mutedStyle.Render(fmt.Sprintf("  %-12s %12s", "Date", "Value"))
	rows = append(rows, headerRow)
	rows = append(rows, mutedStyle.Render("  "+strings.Repeat("─", min(w-6, 26))))

	// Most recent first, capped so the table stays readable.
	shown := 0
	for i := len(dates) - 1; i >= 0 && shown < 7; i-- {
		date := dates[i]
		value := series[date]
		if unit != "" {
			value += " " + unit
		}
		rows = append(rows, fmt.Sprintf("  %-12s %12s", date, value))
		shown++
	}

	return strings.Join(rows, "\n")
}
