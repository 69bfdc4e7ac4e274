package export

import (
	"encoding/csv"
	"fmt"
	"os"

	"github.com/sadopc/vitals/internal/metric"
)

// ToCSV writes the full per-metric series as flat (metric, date, value)
// rows, metrics and dates in ascending order.
func ToCSV(upload metric.UploadView, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create csv file: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	defer w.Flush()

	// Header
	if err := w.Write([]string{"Metric", "Date", "Value"}); err != nil {
		return err
	}

	for _, key := range upload.Keys() {
		series := upload[key]
		for _, date := range series.Dates() {
			row := []string{string(key), date, series[date]}
			if err := w.Write(row); err != nil {
				return err
			}
		}
	}

	return w.Error()
}
