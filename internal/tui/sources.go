package tui

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/sadopc/vitals/internal/aggregate"
	"github.com/sadopc/vitals/internal/auth"
	"github.com/sadopc/vitals/internal/store"
)

// sourceRow describes one connectable source in the list. Linkable is
// false for the local health source, which needs no account.
type sourceRow struct {
	name       string
	label      string
	settingKey string
	linkable   bool
	dest       auth.Destination
}

var sourceRows = []sourceRow{
	{name: "health", label: "Health (local)", settingKey: store.SettingHealthEnabled},
	{name: "github", label: "GitHub", settingKey: store.SettingGitHubEnabled, linkable: true, dest: auth.DestGitHub},
	{name: "spotify", label: "Spotify", settingKey: store.SettingSpotifyEnabled, linkable: true, dest: auth.DestSpotify},
}

type sourcesModel struct {
	store *store.Store
	auth  *auth.Manager
	orch  *aggregate.Orchestrator

	width  int
	height int

	cursor  int
	enabled map[string]bool
	linked  map[string]bool
	linking bool
}

func newSourcesModel(s *store.Store, am *auth.Manager, orch *aggregate.Orchestrator) sourcesModel {
	return sourcesModel{
		store:   s,
		auth:    am,
		orch:    orch,
		enabled: make(map[string]bool),
		linked:  make(map[string]bool),
	}
}

func (s *sourcesModel) setSize(w, h int) {
	s.width = w
	s.height = h
}

type sourcesDataMsg struct {
	enabled map[string]bool
	linked  map[string]bool
}

func (s sourcesModel) refresh() tea.Cmd {
	return func() tea.Msg {
		enabled := make(map[string]bool)
		linked := make(map[string]bool)
		for _, row := range sourceRows {
			on, _ := s.store.GetBoolSetting(row.settingKey)
			enabled[row.name] = on
			if row.linkable {
				linked[row.name] = s.auth.Authorized(row.dest)
			}
		}
		return sourcesDataMsg{enabled: enabled, linked: linked}
	}
}

func (s sourcesModel) update(msg tea.Msg) (sourcesModel, tea.Cmd) {
	switch msg := msg.(type) {
	case sourcesDataMsg:
		s.enabled = msg.enabled
		s.linked = msg.linked
		return s, nil

	case linkDoneMsg, unlinkDoneMsg:
		s.linking = false
		return s, s.refresh()

	case tea.KeyMsg:
		if s.linking {
			// A browser flow is pending; ignore keys until it resolves.
			return s, nil
		}
		switch {
		case key.Matches(msg, keys.Up):
			if s.cursor > 0 {
				s.cursor--
			}
		case key.Matches(msg, keys.Down):
			if s.cursor < len(sourceRows)-1 {
				s.cursor++
			}
		case key.Matches(msg, keys.Toggle):
			return s.toggle()
		case key.Matches(msg, keys.Link):
			return s.link()
		case key.Matches(msg, keys.Unlink):
			return s.unlink()
		case key.Matches(msg, keys.Clear):
			return s.clearCache()
		}
	}
	return s, nil
}

func (s sourcesModel) toggle() (sourcesModel, tea.Cmd) {
	row := sourceRows[s.cursor]
	next := "1"
	if s.enabled[row.name] {
		next = "0"
	}
	s.enabled[row.name] = !s.enabled[row.name]
	return s, func() tea.Msg {
		if err := s.store.SetSetting(row.settingKey, next); err != nil {
			return statusMsg{text: fmt.Sprintf("Error: %v", err), isError: true}
		}
		s.orch.NotifyPreferencesChanged(row.name)
		return statusMsg{text: row.label + " " + onOff(next == "1")}
	}
}

func (s sourcesModel) link() (sourcesModel, tea.Cmd) {
	row := sourceRows[s.cursor]
	if !row.linkable {
		return s, nil
	}
	if s.linked[row.name] {
		return s, func() tea.Msg {
			return statusMsg{text: row.label + " is already linked"}
		}
	}
	s.linking = true
	return s, func() tea.Msg {
		err := s.auth.StartAuthFlow(context.Background(), row.dest)
		return linkDoneMsg{source: row.name, err: err}
	}
}

func (s sourcesModel) unlink() (sourcesModel, tea.Cmd) {
	row := sourceRows[s.cursor]
	if !row.linkable || !s.linked[row.name] {
		return s, nil
	}
	return s, func() tea.Msg {
		err := s.auth.Unlink(row.dest)
		return unlinkDoneMsg{source: row.name, err: err}
	}
}

func (s sourcesModel) clearCache() (sourcesModel, tea.Cmd) {
	row := sourceRows[s.cursor]
	return s, func() tea.Msg {
		if err := s.orch.InvalidateCache(row.name); err != nil {
			return statusMsg{text: fmt.Sprintf("Error: %v", err), isError: true}
		}
		return cacheClearedMsg{source: row.name}
	}
}

func (s sourcesModel) view() string {
	w := s.width - 4
	title := titleStyle.Render("Sources")

	var rows []string
	rows = append(rows, title)
	rows = append(rows, "")

	header := mutedStyle.Render(fmt.Sprintf("  %-3s %-18s %-10s %-10s", "", "Source", "Enabled", "Account"))
	rows = append(rows, header)

	for i, row := range sourceRows {
		cursor := "  "
		style := normalItemStyle
		if i == s.cursor {
			cursor = "> "
			style = selectedItemStyle
		}

		enabled := errorStyle.Render("off")
		if s.enabled[row.name] {
			enabled = successStyle.Render("on ")
		}

		account := mutedStyle.Render("n/a")
		if row.linkable {
			if s.linked[row.name] {
				account = successStyle.Render("linked")
			} else {
				account = warningStyle.Render("not linked")
			}
		}

		rows = append(rows, style.Render(fmt.Sprintf("%s%-18s ", cursor, row.label))+enabled+"  "+account)
	}

	rows = append(rows, "")
	if s.linking {
		rows = append(rows, warningStyle.Render("  Waiting for browser authorization..."))
	} else {
		rows = append(rows, mutedStyle.Render("  t: toggle  l: link  u: unlink  c: clear cache"))
	}

	return panelStyle.Width(w).Render(strings.Join(rows, "\n"))
}

func onOff(on bool) string {
	if on {
		return "enabled"
	}
	return "disabled"
}
