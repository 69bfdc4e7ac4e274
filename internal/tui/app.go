package tui

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/sadopc/vitals/internal/aggregate"
	"github.com/sadopc/vitals/internal/auth"
	"github.com/sadopc/vitals/internal/export"
	"github.com/sadopc/vitals/internal/store"
)

// App is the root Bubble Tea model.
type App struct {
	store  *store.Store
	orch   *aggregate.Orchestrator
	auth   *auth.Manager
	snaps  <-chan aggregate.Snapshot
	width  int
	height int

	snapshot aggregate.Snapshot

	activeView    viewState
	showHelp      bool
	exportPicking bool
	exportCursor  int

	dashboard dashboardModel
	trends    trendsModel
	sources   sourcesModel
	entry     entryModel
	settings  settingsModel

	help   help.Model
	status string
}

func NewApp(s *store.Store, orch *aggregate.Orchestrator, am *auth.Manager) App {
	h := help.New()
	h.ShowAll = false

	return App{
		store:      s,
		orch:       orch,
		auth:       am,
		snaps:      orch.Subscribe(),
		activeView: viewDashboard,
		dashboard:  newDashboardModel(),
		trends:     newTrendsModel(),
		sources:    newSourcesModel(s, am, orch),
		entry:      newEntryModel(s, orch),
		settings:   newSettingsModel(s, orch),
		help:       h,
	}
}

func (a App) Init() tea.Cmd {
	return tea.Batch(
		a.fetchAllCmd(),
		a.waitForSnapshot(),
		tickCmd(),
	)
}

func tickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// waitForSnapshot blocks on the orchestrator's subscription channel and
// re-arms itself after every delivery.
func (a App) waitForSnapshot() tea.Cmd {
	return func() tea.Msg {
		snap, ok := <-a.snaps
		if !ok {
			return nil
		}
		return snapshotMsg(snap)
	}
}

func (a App) fetchAllCmd() tea.Cmd {
	orch := a.orch
	return func() tea.Msg {
		err := orch.FetchAll(context.Background())
		return refreshDoneMsg{err: err}
	}
}

func (a App) refreshCmd() tea.Cmd {
	orch := a.orch
	return func() tea.Msg {
		err := orch.Refresh(context.Background())
		return refreshDoneMsg{err: err}
	}
}

func (a App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
		a.help.Width = msg.Width
		contentHeight := a.height - 4 // header + footer
		a.dashboard.setSize(a.width, contentHeight)
		a.trends.setSize(a.width, contentHeight)
		a.sources.setSize(a.width, contentHeight)
		a.entry.setSize(a.width, contentHeight)
		a.settings.setSize(a.width, contentHeight)
		return a, nil

	case snapshotMsg:
		a.snapshot = aggregate.Snapshot(msg)
		a.dashboard.setSnapshot(a.snapshot)
		a.trends.setSnapshot(a.snapshot)
		return a, a.waitForSnapshot()

	case refreshDoneMsg:
		if msg.err != nil && msg.err != aggregate.ErrRefreshInFlight {
			a.status = fmt.Sprintf("Refresh error: %v", msg.err)
		}
		return a, nil

	case tea.KeyMsg:
		// Export picker
		if a.exportPicking {
			return a.updateExportPicker(msg)
		}

		// If a child view is capturing input (e.g. form), delegate first.
		if a.isFormActive() {
			return a.updateActiveView(msg)
		}

		switch {
		case key.Matches(msg, keys.Refresh):
			return a, a.refreshCmd()
		case key.Matches(msg, keys.Export):
			a.exportPicking = true
			a.exportCursor = 0
			return a, nil
		case key.Matches(msg, keys.Quit):
			return a, tea.Quit
		case key.Matches(msg, keys.Help):
			a.showHelp = !a.showHelp
			a.help.ShowAll = a.showHelp
			return a, nil
		case key.Matches(msg, keys.Tab1):
			a.activeView = viewDashboard
			return a, nil
		case key.Matches(msg, keys.Tab2):
			a.activeView = viewTrends
			return a, nil
		case key.Matches(msg, keys.Tab3):
			a.activeView = viewSources
			return a, a.sources.refresh()
		case key.Matches(msg, keys.Tab4):
			a.activeView = viewEntry
			return a, a.entry.refresh()
		case key.Matches(msg, keys.Tab5):
			a.activeView = viewSettings
			return a, a.settings.refresh()
		case key.Matches(msg, keys.Tab):
			a.activeView = (a.activeView + 1) % 5
			return a, a.refreshCurrentView()
		}

	case tickMsg:
		cmds = append(cmds, tickCmd())
		return a, tea.Batch(cmds...)

	case statusMsg:
		a.status = msg.text
		return a, nil

	case linkDoneMsg:
		if msg.err != nil {
			a.status = fmt.Sprintf("Link %s failed: %v", msg.source, msg.err)
		} else {
			a.status = "Linked " + msg.source
		}
		var cmd tea.Cmd
		a.sources, cmd = a.sources.update(msg)
		return a, tea.Batch(cmd, a.refreshCmd())

	case unlinkDoneMsg:
		if msg.err != nil {
			a.status = fmt.Sprintf("Unlink %s failed: %v", msg.source, msg.err)
		} else {
			a.status = "Unlinked " + msg.source
		}
		var cmd tea.Cmd
		a.sources, cmd = a.sources.update(msg)
		return a, tea.Batch(cmd, a.refreshCmd())

	case cacheClearedMsg:
		a.status = "Cleared cached data for " + msg.source
		return a, a.refreshCmd()

	case sampleWrittenMsg:
		a.status = "Recorded " + metricLabel(msg.key)
		return a, a.refreshCmd()

	case exportDoneMsg:
		a.status = "Exported to " + msg.path
		a.exportPicking = false
		return a, nil
	}

	return a.updateActiveView(msg)
}

func (a App) updateActiveView(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd
	switch a.activeView {
	case viewDashboard:
		a.dashboard, cmd = a.dashboard.update(msg)
	case viewTrends:
		a.trends, cmd = a.trends.update(msg)
	case viewSources:
		a.sources, cmd = a.sources.update(msg)
	case viewEntry:
		a.entry, cmd = a.entry.update(msg)
	case viewSettings:
		a.settings, cmd = a.settings.update(msg)
	}
	return a, cmd
}

func (a App) isFormActive() bool {
	switch a.activeView {
	case viewEntry:
		return a.entry.formActive
	case viewSettings:
		return a.settings.formActive
	}
	return false
}

func (a App) refreshCurrentView() tea.Cmd {
	switch a.activeView {
	case viewSources:
		return a.sources.refresh()
	case viewEntry:
		return a.entry.refresh()
	case viewSettings:
		return a.settings.refresh()
	}
	return nil
}

func (a App) View() string {
	if a.width == 0 {
		return "Loading..."
	}

	header := a.renderHeader()
	footer := a.renderFooter()

	var content string
	switch a.activeView {
	case viewDashboard:
		content = a.dashboard.view()
	case viewTrends:
		content = a.trends.view()
	case viewSources:
		content = a.sources.view()
	case viewEntry:
		content = a.entry.view()
	case viewSettings:
		content = a.settings.view()
	}

	// Calculate available height for content
	headerHeight := lipgloss.Height(header)
	footerHeight := lipgloss.Height(footer)
	contentHeight := a.height - headerHeight - footerHeight
	if contentHeight < 1 {
		contentHeight = 1
	}

	// Show export picker overlay
	if a.exportPicking {
		content = a.renderExportPicker(contentHeight)
	}

	content = lipgloss.NewStyle().
		Width(a.width).
		Height(contentHeight).
		Render(content)

	return lipgloss.JoinVertical(lipgloss.Left, header, content, footer)
}

func (a App) renderHeader() string {
	var tabs []string
	for i, name := range viewNames {
		if viewState(i) == a.activeView {
			tabs = append(tabs, activeTabStyle.Render(name))
		} else {
			tabs = append(tabs, inactiveTabStyle.Render(name))
		}
	}

	tabRow := lipgloss.JoinHorizontal(lipgloss.Bottom, tabs...)

	title := lipgloss.NewStyle().Bold(true).Foreground(colorPrimary).Render("vitals")
	gap := a.width - lipgloss.Width(title) - lipgloss.Width(tabRow) - 4
	if gap < 1 {
		gap = 1
	}
	spacer := lipgloss.NewStyle().Width(gap).Render("")

	return headerStyle.Render(
		lipgloss.JoinHorizontal(lipgloss.Bottom, title, spacer, tabRow),
	)
}

func (a App) renderFooter() string {
	helpView := a.help.View(keys)

	status := ""
	if a.status != "" {
		status = mutedStyle.Render(" " + a.status)
	}

	// Refresh indicator in footer
	var refreshInfo string
	switch {
	case a.snapshot.State.InFlight():
		refreshInfo = warningStyle.Render(" ◌ " + a.snapshot.State.String())
	case a.snapshot.State == aggregate.StateError:
		refreshInfo = errorStyle.Render(" ✗ refresh failed")
	case a.snapshot.State == aggregate.StateDone:
		refreshInfo = successStyle.Render(" ● " + formatAge(a.snapshot.LastRefresh))
	}

	left := footerStyle.Render(helpView)
	right := refreshInfo + status

	gap := a.width - lipgloss.Width(left) - lipgloss.Width(right) - 2
	if gap < 1 {
		gap = 1
	}
	spacer := lipgloss.NewStyle().Width(gap).Render("")

	return lipgloss.JoinHorizontal(lipgloss.Bottom, left, spacer, right)
}

func (a App) renderExportPicker(_ int) string {
	title := titleStyle.Render("Export Format")
	formats := []string{"CSV", "JSON"}
	var rows []string
	rows = append(rows, title)
	rows = append(rows, "")
	for i, f := range formats {
		cursor := "  "
		style := normalItemStyle
		if i == a.exportCursor {
			cursor = "> "
			style = selectedItemStyle
		}
		rows = append(rows, style.Render(cursor+f))
	}
	rows = append(rows, "")
	rows = append(rows, mutedStyle.Render("  enter: export  esc: cancel"))

	w := a.width - 4
	return activePanelStyle.Width(w).Render(lipgloss.JoinVertical(lipgloss.Left, rows...))
}

func (a App) updateExportPicker(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, keys.Up):
		if a.exportCursor > 0 {
			a.exportCursor--
		}
	case key.Matches(msg, keys.Down):
		if a.exportCursor < 1 {
			a.exportCursor++
		}
	case key.Matches(msg, keys.Enter):
		a.exportPicking = false
		return a, a.doExport(a.exportCursor)
	case key.Matches(msg, keys.Back):
		a.exportPicking = false
	}
	return a, nil
}

func (a App) doExport(format int) tea.Cmd {
	upload := a.snapshot.Upload
	return func() tea.Msg {
		if len(upload) == 0 {
			return statusMsg{text: "Nothing to export yet", isError: true}
		}

		home, _ := os.UserHomeDir()
		dateStr := time.Now().Format("2006-01-02")

		var path string
		if format == 0 {
			path = filepath.Join(home, fmt.Sprintf("vitals-export-%s.csv", dateStr))
			if err := export.ToCSV(upload, path); err != nil {
				return statusMsg{text: fmt.Sprintf("CSV error: %v", err), isError: true}
			}
		} else {
			path = filepath.Join(home, fmt.Sprintf("vitals-export-%s.json", dateStr))
			if err := export.ToJSON(export.BuildPayload(upload), path); err != nil {
				return statusMsg{text: fmt.Sprintf("JSON error: %v", err), isError: true}
			}
		}

		return exportDoneMsg{path: path}
	}
}
