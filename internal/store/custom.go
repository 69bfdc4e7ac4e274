package store

import (
	"fmt"

	"github.com/sadopc/vitals/internal/metric"
)

// RegisterCustomMetric adds a user-defined metric. Registering a name that
// already exists updates its unit.
func (s *Store) RegisterCustomMetric(name, unit string) error {
	if name == "" {
		return fmt.Errorf("register custom metric: empty name")
	}
	if metric.Key(name).IsBuiltin() {
		return fmt.Errorf("register custom metric: %q is a built-in metric", name)
	}
	_, err := s.db.Exec(
		`INSERT INTO custom_metrics (name, unit) VALUES (?, ?) ON CONFLICT(name) DO UPDATE SET unit = excluded.unit`,
		name, unit,
	)
	if err != nil {
		return fmt.Errorf("register custom metric %q: %w", name, err)
	}
	return nil
}

// ListCustomMetrics returns registered custom metrics ordered by name.
func (s *Store) ListCustomMetrics() ([]CustomMetric, error) {
	rows, err := s.db.Query(`SELECT name, unit FROM custom_metrics ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list custom metrics: %w", err)
	}
	defer rows.Close()

	var metrics []CustomMetric
	for rows.Next() {
		var m CustomMetric
		if err := rows.Scan(&m.Name, &m.Unit); err != nil {
			return nil, err
		}
		metrics = append(metrics, m)
	}
	return metrics, rows.Err()
}

// RemoveCustomMetric unregisters a custom metric and drops its samples.
func (s *Store) RemoveCustomMetric(name string) error {
	if err := s.DeleteSamples(metric.Key(name)); err != nil {
		return err
	}
	_, err := s.db.Exec(`DELETE FROM custom_metrics WHERE name = ?`, name)
	if err != nil {
		return fmt.Errorf("remove custom metric %q: %w", name, err)
	}
	return nil
}
