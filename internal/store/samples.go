package store

import (
	"fmt"
	"time"

	"github.com/sadopc/vitals/internal/metric"
)

// UpsertSample records a measurement for one metric on one day. A second
// write for the same (metric, date) overwrites the first.
func (s *Store) UpsertSample(key metric.Key, date, value string) error {
	if _, err := time.Parse(metric.DateFormat, date); err != nil {
		return fmt.Errorf("upsert sample: bad date %q: %w", date, err)
	}
	_, err := s.db.Exec(
		`INSERT INTO health_samples (metric, date, value) VALUES (?, ?, ?)
		 ON CONFLICT(metric, date) DO UPDATE SET value = excluded.value`,
		string(key), date, value,
	)
	if err != nil {
		return fmt.Errorf("upsert sample %s/%s: %w", key, date, err)
	}
	return nil
}

// SamplesSince returns the metric's samples on or after from, ordered by
// date ascending.
func (s *Store) SamplesSince(key metric.Key, from time.Time) ([]metric.Sample, error) {
	rows, err := s.db.Query(
		`SELECT date, value FROM health_samples WHERE metric = ? AND date >= ? ORDER BY date`,
		string(key), from.Format(metric.DateFormat),
	)
	if err != nil {
		return nil, fmt.Errorf("samples for %s: %w", key, err)
	}
	defer rows.Close()

	var samples []metric.Sample
	for rows.Next() {
		var sm metric.Sample
		if err := rows.Scan(&sm.Date, &sm.Value); err != nil {
			return nil, err
		}
		samples = append(samples, sm)
	}
	return samples, rows.Err()
}

// DeleteSamples drops every stored sample for the metric.
func (s *Store) DeleteSamples(key metric.Key) error {
	_, err := s.db.Exec(`DELETE FROM health_samples WHERE metric = ?`, string(key))
	if err != nil {
		return fmt.Errorf("delete samples for %s: %w", key, err)
	}
	return nil
}

// DeleteAllSamples clears the local sample cache entirely.
func (s *Store) DeleteAllSamples() error {
	_, err := s.db.Exec(`DELETE FROM health_samples`)
	return err
}
