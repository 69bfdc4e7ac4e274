package store

type Setting struct {
	Key   string
	Value string
}

// CustomMetric is a user-registered trackable quantity.
type CustomMetric struct {
	Name string
	Unit string
}
