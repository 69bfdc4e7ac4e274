package tui

import (
	"fmt"
	"time"

	"github.com/sadopc/vitals/internal/aggregate"
	"github.com/sadopc/vitals/internal/metric"
)

// viewState represents the currently active view.
type viewState int

const (
	viewDashboard viewState = iota
	viewTrends
	viewSources
	viewEntry
	viewSettings
)

var viewNames = []string{"Dashboard", "Trends", "Sources", "Entry", "Settings"}

// --- Messages ---

type snapshotMsg aggregate.Snapshot

type refreshDoneMsg struct {
	err error
}

type linkDoneMsg struct {
	source string
	err    error
}

type unlinkDoneMsg struct {
	source string
	err    error
}

type sampleWrittenMsg struct {
	key metric.Key
}

type cacheClearedMsg struct {
	source string
}

type statusMsg struct {
	text    string
	isError bool
}

type tickMsg time.Time

type exportDoneMsg struct {
	path string
}

// --- Helpers ---

// metricLabels are the card titles for the built-in keys; custom metrics
// render their registered name as-is.
var metricLabels = map[metric.Key]string{
	metric.Steps:           "Steps",
	metric.Weight:          "Weight",
	metric.HeartRate:       "Heart Rate",
	metric.BodyTemperature: "Body Temp",
	metric.BloodPressure:   "Blood Pressure",
	metric.CommitCount:     "Commits",
	metric.TopGenre:        "Top Genre",
	metric.AvgPopularity:   "Popularity",
}

var metricUnits = map[metric.Key]string{
	metric.Weight:          "kg",
	metric.HeartRate:       "bpm",
	metric.BodyTemperature: "°C",
	metric.BloodPressure:   "mmHg",
}

func metricLabel(key metric.Key) string {
	if label, ok := metricLabels[key]; ok {
		return label
	}
	return string(key)
}

func formatAge(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return t.Format("Jan 02 15:04")
	}
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
