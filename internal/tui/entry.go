package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
	"github.com/sadopc/vitals/internal/aggregate"
	"github.com/sadopc/vitals/internal/metric"
	"github.com/sadopc/vitals/internal/store"
)

// manualMetrics are the built-in keys that accept hand-entered readings.
var manualMetrics = []metric.Key{
	metric.Steps,
	metric.Weight,
	metric.HeartRate,
	metric.BodyTemperature,
	metric.BloodPressure,
}

type entryModel struct {
	store *store.Store
	orch  *aggregate.Orchestrator

	width  int
	height int

	custom []store.CustomMetric
	cursor int

	formActive bool
	form       *huh.Form
	formType   string // "sample", "metric"

	// Form field pointers (survive value copies)
	formDate      *string
	formValue     *string
	formSystolic  *string
	formDiastolic *string
	formName      *string
	formUnit      *string

	editingKey metric.Key // metric being recorded
}

func newEntryModel(s *store.Store, orch *aggregate.Orchestrator) entryModel {
	date, value, sys, dia := "", "", "", ""
	name, unit := "", ""
	return entryModel{
		store:         s,
		orch:          orch,
		formDate:      &date,
		formValue:     &value,
		formSystolic:  &sys,
		formDiastolic: &dia,
		formName:      &name,
		formUnit:      &unit,
	}
}

func (e *entryModel) setSize(w, h int) {
	e.width = w
	e.height = h
}

type entryDataMsg struct {
	custom []store.CustomMetric
}

func (e entryModel) refresh() tea.Cmd {
	return func() tea.Msg {
		custom, _ := e.store.ListCustomMetrics()
		return entryDataMsg{custom: custom}
	}
}

// rowCount is the manual metrics plus the registered custom ones.
func (e entryModel) rowCount() int {
	return len(manualMetrics) + len(e.custom)
}

func (e entryModel) keyAt(i int) metric.Key {
	if i < len(manualMetrics) {
		return manualMetrics[i]
	}
	return metric.Key(e.custom[i-len(manualMetrics)].Name)
}

func (e entryModel) update(msg tea.Msg) (entryModel, tea.Cmd) {
	if e.formActive && e.form != nil {
		return e.updateForm(msg)
	}

	switch msg := msg.(type) {
	case entryDataMsg:
		e.custom = msg.custom
		if e.cursor >= e.rowCount() {
			e.cursor = max(0, e.rowCount()-1)
		}
		return e, nil

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, keys.Up):
			if e.cursor > 0 {
				e.cursor--
			}
		case key.Matches(msg, keys.Down):
			if e.cursor < e.rowCount()-1 {
				e.cursor++
			}
		case key.Matches(msg, keys.Enter):
			return e.showSampleForm()
		case key.Matches(msg, keys.New):
			return e.showMetricForm()
		case key.Matches(msg, keys.Delete):
			if e.cursor >= len(manualMetrics) {
				name := e.custom[e.cursor-len(manualMetrics)].Name
				e.store.RemoveCustomMetric(name)
				return e, e.refresh()
			}
		}
	}
	return e, nil
}

func (e entryModel) showSampleForm() (entryModel, tea.Cmd) {
	e.editingKey = e.keyAt(e.cursor)
	*e.formDate = time.Now().Format(metric.DateFormat)
	*e.formValue = ""
	*e.formSystolic = ""
	*e.formDiastolic = ""
	e.formType = "sample"

	dateInput := huh.NewInput().Title("Date (YYYY-MM-DD)").Value(e.formDate)

	var group *huh.Group
	if e.editingKey == metric.BloodPressure {
		group = huh.NewGroup(
			dateInput,
			huh.NewInput().Title("Systolic (mmHg)").Value(e.formSystolic),
			huh.NewInput().Title("Diastolic (mmHg)").Value(e.formDiastolic),
		)
	} else {
		title := "Value"
		if unit, ok := metricUnits[e.editingKey]; ok {
			title = fmt.Sprintf("Value (%s)", unit)
		}
		group = huh.NewGroup(
			dateInput,
			huh.NewInput().Title(title).Value(e.formValue),
		)
	}

	e.form = huh.NewForm(group).WithShowHelp(true).WithShowErrors(true)
	e.formActive = true
	return e, e.form.Init()
}

func (e entryModel) showMetricForm() (entryModel, tea.Cmd) {
	*e.formName = ""
	*e.formUnit = ""
	e.formType = "metric"

	e.form = huh.NewForm(
		huh.NewGroup(
			huh.NewInput().Title("Metric Name").Value(e.formName),
			huh.NewInput().Title("Unit (optional)").Value(e.formUnit),
		),
	).WithShowHelp(true).WithShowErrors(true)

	e.formActive = true
	return e, e.form.Init()
}

func (e entryModel) updateForm(msg tea.Msg) (entryModel, tea.Cmd) {
	if msg, ok := msg.(tea.KeyMsg); ok {
		if msg.String() == "esc" {
			e.formActive = false
			e.form = nil
			return e, nil
		}
	}

	form, cmd := e.form.Update(msg)
	if f, ok := form.(*huh.Form); ok {
		e.form = f
	}

	if e.form.State == huh.StateCompleted {
		e.formActive = false
		switch e.formType {
		case "sample":
			return e, e.submitSample()
		case "metric":
			name := strings.TrimSpace(*e.formName)
			unit := strings.TrimSpace(*e.formUnit)
			if name == "" {
				return e, nil
			}
			if err := e.store.RegisterCustomMetric(name, unit); err != nil {
				return e, func() tea.Msg {
					return statusMsg{text: fmt.Sprintf("Error: %v", err), isError: true}
				}
			}
			return e, e.refresh()
		}
	}

	return e, cmd
}

func (e entryModel) submitSample() tea.Cmd {
	key := e.editingKey
	date := strings.TrimSpace(*e.formDate)
	value := strings.TrimSpace(*e.formValue)
	if key == metric.BloodPressure {
		value = metric.JoinBP(strings.TrimSpace(*e.formSystolic), strings.TrimSpace(*e.formDiastolic))
	}

	return func() tea.Msg {
		ts, err := time.Parse(metric.DateFormat, date)
		if err != nil {
			return statusMsg{text: fmt.Sprintf("Bad date %q", date), isError: true}
		}
		if value == "" || value == "/" {
			return statusMsg{text: "Value is required", isError: true}
		}
		handled, err := e.orch.WriteMetric(context.Background(), key, ts, value)
		if err != nil {
			return statusMsg{text: fmt.Sprintf("Error: %v", err), isError: true}
		}
		if !handled {
			return statusMsg{text: fmt.Sprintf("No writable source for %s", metricLabel(key)), isError: true}
		}
		return sampleWrittenMsg{key: key}
	}
}

func (e entryModel) view() string {
	w := e.width - 4

	if e.formActive && e.form != nil {
		title := titleStyle.Render("Record " + metricLabel(e.editingKey))
		if e.formType == "metric" {
			title = titleStyle.Render("New Custom Metric")
		}
		formView := e.form.View()
		content := lipgloss.JoinVertical(lipgloss.Left, title, "", formView)
		return panelStyle.Width(w).Render(content)
	}

	title := titleStyle.Render("Manual Entry")

	var rows []string
	rows = append(rows, title)
	rows = append(rows, "")

	header := mutedStyle.Render(fmt.Sprintf("  %-3s %-22s %-10s", "", "Metric", "Unit"))
	rows = append(rows, header)

	for i := 0; i < e.rowCount(); i++ {
		k := e.keyAt(i)
		cursor := "  "
		style := normalItemStyle
		if i == e.cursor {
			cursor = "> "
			style = selectedItemStyle
		}

		unit := metricUnits[k]
		if i >= len(manualMetrics) {
			unit = e.custom[i-len(manualMetrics)].Unit
		}

		label := metricLabel(k)
		if i >= len(manualMetrics) {
			label += mutedStyle.Render(" (custom)")
		}
		rows = append(rows, style.Render(fmt.Sprintf("%s%-22s", cursor, label))+" "+mutedStyle.Render(unit))
	}

	rows = append(rows, "")
	rows = append(rows, mutedStyle.Render("  enter: record  n: new metric  d: remove custom"))

	return panelStyle.Width(w).Render(strings.Join(rows, "\n"))
}
