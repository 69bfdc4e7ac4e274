package metric

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Key identifies a trackable quantity. The built-in keys below cover the
// three shipped sources; user-defined custom metrics use their registered
// name directly, so the set is open.
type Key string

const (
	Steps           Key = "steps"
	Weight          Key = "weight"
	HeartRate       Key = "heartRate"
	BodyTemperature Key = "bodyTemperature"
	BloodPressure   Key = "bloodPressure"
	CommitCount     Key = "commitCount"
	TopGenre        Key = "topGenre"
	AvgPopularity   Key = "avgPopularity"
)

var builtins = map[Key]bool{
	Steps:           true,
	Weight:          true,
	HeartRate:       true,
	BodyTemperature: true,
	BloodPressure:   true,
	CommitCount:     true,
	TopGenre:        true,
	AvgPopularity:   true,
}

func (k Key) IsBuiltin() bool { return builtins[k] }

// DateFormat is the calendar-date encoding used everywhere a sample is
// keyed by day.
const DateFormat = "2006-01-02"

// WindowDays is the trailing read window applied on every refresh.
const WindowDays = 30

// WindowStart returns the first day of the trailing window ending at ref.
func WindowStart(ref time.Time) time.Time {
	return WindowStartDays(ref, WindowDays)
}

// WindowStartDays is WindowStart with a caller-chosen window length.
// A non-positive length falls back to WindowDays.
func WindowStartDays(ref time.Time, days int) time.Time {
	if days <= 0 {
		days = WindowDays
	}
	return ref.AddDate(0, 0, -days)
}

// Sample is one dated measurement. Value is string-encoded; blood pressure
// packs both readings into one value via JoinBP.
type Sample struct {
	Date  string
	Value string
}

// JoinBP encodes a blood-pressure pair as "systolic/diastolic".
func JoinBP(systolic, diastolic string) string {
	return systolic + "/" + diastolic
}

// SplitBP splits a packed blood-pressure value. Returns an error when the
// value does not carry exactly two readings.
func SplitBP(value string) (systolic, diastolic string, err error) {
	parts := strings.SplitN(value, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("malformed blood pressure value %q", value)
	}
	return parts[0], parts[1], nil
}

// TimeSeries maps date ("2006-01-02") to a string-encoded value. Sparse:
// days without a sample have no entry.
type TimeSeries map[string]string

// Fold merges samples into the series in input order. A later sample for
// the same date overwrites the earlier one, so folding a fixed input is
// idempotent.
func (ts TimeSeries) Fold(samples []Sample) {
	for _, s := range samples {
		ts[s.Date] = s.Value
	}
}

// Dates returns the series' dates in ascending order.
func (ts TimeSeries) Dates() []string {
	dates := make([]string, 0, len(ts))
	for d := range ts {
		dates = append(dates, d)
	}
	sort.Strings(dates)
	return dates
}

// Latest returns the chronologically last entry, or ok=false for an empty
// series.
func (ts TimeSeries) Latest() (date, value string, ok bool) {
	for d := range ts {
		if d > date {
			date = d
		}
	}
	if date == "" {
		return "", "", false
	}
	return date, ts[date], true
}

// Clone returns an independent copy.
func (ts TimeSeries) Clone() TimeSeries {
	out := make(TimeSeries, len(ts))
	for d, v := range ts {
		out[d] = v
	}
	return out
}
