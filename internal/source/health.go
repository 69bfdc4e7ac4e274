package source

import (
	"context"
	"fmt"
	"time"

	"github.com/sadopc/vitals/internal/metric"
	"github.com/sadopc/vitals/internal/store"
)

// healthMetrics are the built-in keys the local health store provides;
// registered custom metrics are appended at read time.
var healthMetrics = []metric.Key{
	metric.Steps,
	metric.Weight,
	metric.HeartRate,
	metric.BodyTemperature,
	metric.BloodPressure,
}

// Health reads and writes the device-local sample store. It is the only
// source that accepts manual entry and the only one with a local cache to
// invalidate.
type Health struct {
	store *store.Store
}

func NewHealth(s *store.Store) *Health {
	return &Health{store: s}
}

func (h *Health) Name() string { return "health" }

func (h *Health) Enabled() (bool, error) {
	return h.store.GetBoolSetting(store.SettingHealthEnabled)
}

func (h *Health) Metrics() ([]metric.Key, error) {
	custom, err := h.store.ListCustomMetrics()
	if err != nil {
		return nil, err
	}
	keys := make([]metric.Key, 0, len(healthMetrics)+len(custom))
	keys = append(keys, healthMetrics...)
	for _, m := range custom {
		keys = append(keys, metric.Key(m.Name))
	}
	return keys, nil
}

func (h *Health) ReadWindow(ctx context.Context, key metric.Key, ref time.Time) ([]metric.Sample, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	days := h.store.GetIntSetting(store.SettingWindowDays, metric.WindowDays)
	return h.store.SamplesSince(key, metric.WindowStartDays(ref, days))
}

func (h *Health) Write(ctx context.Context, key metric.Key, ts time.Time, value string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if key == metric.BloodPressure {
		if _, _, err := metric.SplitBP(value); err != nil {
			return false, fmt.Errorf("write %s: %w", key, err)
		}
	}
	if err := h.store.UpsertSample(key, ts.Format(metric.DateFormat), value); err != nil {
		return false, err
	}
	return true, nil
}

// Invalidate drops the locally cached samples for every metric this
// source provides, so the next refresh re-reads from scratch.
func (h *Health) Invalidate() error {
	return h.store.DeleteAllSamples()
}
