package aggregate

import (
	"time"

	"github.com/sadopc/vitals/internal/metric"
)

// State is the refresh lifecycle the presentation layer observes. One
// orchestrator owns exactly one State at a time.
//
//	Uninitialized -> Loading -> Done
//	Done -> Refreshing -> Done
//	any -> Error (coordination failure only; recoverable on the next call)
type State int

const (
	StateUninitialized State = iota
	StateLoading
	StateRefreshing
	StateDone
	StateError
)

var stateNames = map[State]string{
	StateUninitialized: "uninitialized",
	StateLoading:       "loading",
	StateRefreshing:    "refreshing",
	StateDone:          "done",
	StateError:         "error",
}

func (s State) String() string { return stateNames[s] }

// InFlight reports whether a cycle is currently running.
func (s State) InFlight() bool { return s == StateLoading || s == StateRefreshing }

// Snapshot is an immutable copy of the orchestrator's observable state and
// both unified views.
type Snapshot struct {
	State       State
	Err         error
	Display     metric.DisplayView
	Upload      metric.UploadView
	LastRefresh time.Time
}
