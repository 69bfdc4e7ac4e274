// Package source defines the uniform adapter contract the orchestrator
// fans out to, and the three shipped adapters: the device-local health
// store, GitHub repository activity, and Spotify listening taste.
package source

import (
	"context"
	"errors"
	"time"

	"github.com/sadopc/vitals/internal/auth"
	"github.com/sadopc/vitals/internal/metric"
)

// ErrReadOnly is returned by Write on sources that cannot accept manual
// samples.
var ErrReadOnly = errors.New("source is read-only")

// Source wraps one provider of metrics. Adapters fail independently: any
// error from ReadWindow means "no data for this metric this cycle" to the
// caller, nothing more.
type Source interface {
	Name() string

	// Enabled is consulted at the start of every refresh cycle; the user
	// may flip it between cycles, so implementations must not cache it.
	Enabled() (bool, error)

	// Metrics lists the keys this source currently provides. Also
	// re-evaluated every cycle (custom metrics and per-metric sub-flags
	// change at runtime).
	Metrics() ([]metric.Key, error)

	// ReadWindow returns the metric's samples in the trailing window
	// ending at ref.
	ReadWindow(ctx context.Context, key metric.Key, ref time.Time) ([]metric.Sample, error)

	// Write records one manual sample. ok is false when the source
	// rejected the write.
	Write(ctx context.Context, key metric.Key, ts time.Time, value string) (ok bool, err error)
}

// TokenProvider supplies bearer tokens for linked destinations. Satisfied
// by *auth.Manager.
type TokenProvider interface {
	AccessToken(ctx context.Context, d auth.Destination) (string, error)
}
