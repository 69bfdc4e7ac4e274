package metric

import "sort"

// DisplayView holds the latest value per metric, the shape the dashboard
// cards render from.
type DisplayView map[Key]string

// UploadView holds the full per-metric series, the shape the batched
// upload is built from.
type UploadView map[Key]TimeSeries

// Merge folds other into v. New keys add, same keys overwrite; keys absent
// from other are untouched, so contributions from different sources never
// clobber each other.
func (v DisplayView) Merge(other DisplayView) {
	for k, val := range other {
		v[k] = val
	}
}

// Merge folds other into v, series by series. Same-key series are combined
// date-wise with other winning per date.
func (v UploadView) Merge(other UploadView) {
	for k, series := range other {
		existing, ok := v[k]
		if !ok {
			v[k] = series.Clone()
			continue
		}
		for d, val := range series {
			existing[d] = val
		}
	}
}

// Keys returns the view's metric keys in stable (sorted) order.
func (v DisplayView) Keys() []Key {
	keys := make([]Key, 0, len(v))
	for k := range v {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

// Keys returns the view's metric keys in stable (sorted) order.
func (v UploadView) Keys() []Key {
	keys := make([]Key, 0, len(v))
	for k := range v {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}
