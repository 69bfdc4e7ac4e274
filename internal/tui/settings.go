package tui

import (
	"fmt"
	"strconv"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
	"github.com/sadopc/vitals/internal/aggregate"
	"github.com/sadopc/vitals/internal/store"
)

type settingsModel struct {
	store *store.Store
	orch  *aggregate.Orchestrator

	width  int
	height int

	settings   []store.Setting
	formActive bool
	form       *huh.Form

	// Form values as pointers (survive value copies)
	windowDays      *string
	trackGenres     *string
	trackPopularity *string
}

func newSettingsModel(s *store.Store, orch *aggregate.Orchestrator) settingsModel {
	wd, tg, tp := "", "", ""
	return settingsModel{
		store:           s,
		orch:            orch,
		windowDays:      &wd,
		trackGenres:     &tg,
		trackPopularity: &tp,
	}
}

func (s *settingsModel) setSize(w, h int) {
	s.width = w
	s.height = h
}

type settingsDataMsg struct {
	settings []store.Setting
}

func (s settingsModel) refresh() tea.Cmd {
	return func() tea.Msg {
		settings, _ := s.store.GetAllSettings()
		return settingsDataMsg{settings: settings}
	}
}

func (s settingsModel) update(msg tea.Msg) (settingsModel, tea.Cmd) {
	if s.formActive && s.form != nil {
		return s.updateForm(msg)
	}

	switch msg := msg.(type) {
	case settingsDataMsg:
		s.settings = msg.settings
		return s, nil

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, keys.Enter), key.Matches(msg, keys.New):
			return s.showForm()
		}
	}
	return s, nil
}

func (s settingsModel) showForm() (settingsModel, tea.Cmd) {
	// Load current values
	*s.windowDays = s.getVal(store.SettingWindowDays, "30")
	*s.trackGenres = s.getVal(store.SettingTrackGenres, "1")
	*s.trackPopularity = s.getVal(store.SettingTrackPopularity, "1")

	yesNo := []huh.Option[string]{
		huh.NewOption("Yes", "1"),
		huh.NewOption("No", "0"),
	}

	s.form = huh.NewForm(
		huh.NewGroup(
			huh.NewInput().Title("Refresh window (days)").Value(s.windowDays),
		).Title("Refresh"),
		huh.NewGroup(
			huh.NewSelect[string]().Title("Track top genre").
				Options(yesNo...).Value(s.trackGenres),
			huh.NewSelect[string]().Title("Track popularity").
				Options(yesNo...).Value(s.trackPopularity),
		).Title("Spotify"),
	).WithShowHelp(true).WithShowErrors(true)

	s.formActive = true
	return s, s.form.Init()
}

func (s settingsModel) updateForm(msg tea.Msg) (settingsModel, tea.Cmd) {
	if msg, ok := msg.(tea.KeyMsg); ok {
		if msg.String() == "esc" {
			s.formActive = false
			s.form = nil
			return s, nil
		}
	}

	form, cmd := s.form.Update(msg)
	if f, ok := form.(*huh.Form); ok {
		s.form = f
	}

	if s.form.State == huh.StateCompleted {
		s.formActive = false
		s.saveSettings()
		return s, s.refresh()
	}

	return s, cmd
}

func (s settingsModel) saveSettings() {
	if days, err := strconv.Atoi(*s.windowDays); err == nil && days > 0 {
		s.store.SetSetting(store.SettingWindowDays, strconv.Itoa(days))
	}
	s.store.SetSetting(store.SettingTrackGenres, *s.trackGenres)
	s.store.SetSetting(store.SettingTrackPopularity, *s.trackPopularity)
	s.orch.NotifyPreferencesChanged("spotify")
}

func (s settingsModel) getVal(k, fallback string) string {
	v, err := s.store.GetSetting(k)
	if err != nil {
		return fallback
	}
	return v
}

func (s settingsModel) view() string {
	w := s.width - 4

	if s.formActive && s.form != nil {
		title := titleStyle.Render("Settings")
		formView := s.form.View()
		return panelStyle.Width(w).Render(
			lipgloss.JoinVertical(lipgloss.Left, title, "", formView),
		)
	}

	title := titleStyle.Render("Settings")
	hint := mutedStyle.Render("Press enter to edit settings")

	var rows []string
	rows = append(rows, title)
	rows = append(rows, "")

	for _, setting := range s.settings {
		label := lipgloss.NewStyle().Width(26).Render(setting.Key)
		value := highlightStyle.Render(formatSettingValue(setting.Key, setting.Value))
		rows = append(rows, fmt.Sprintf("  %s %s", label, value))
	}

	rows = append(rows, "")
	rows = append(rows, hint)

	return panelStyle.Width(w).Render(lipgloss.JoinVertical(lipgloss.Left, rows...))
}

func formatSettingValue(k, v string) string {
	switch k {
	case store.SettingWindowDays:
		return v + " days"
	case store.SettingHealthEnabled, store.SettingGitHubEnabled, store.SettingSpotifyEnabled,
		store.SettingTrackGenres, store.SettingTrackPopularity:
		if v == "1" || v == "true" {
			return "yes"
		}
		return "no"
	}
	return v
}
