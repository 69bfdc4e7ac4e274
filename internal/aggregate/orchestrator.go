// Package aggregate coordinates concurrent reads from the enabled sources
// into two unified views, behind a single-flight refresh state machine.
package aggregate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/sadopc/vitals/internal/metric"
	"github.com/sadopc/vitals/internal/source"
)

// ErrRefreshInFlight is returned by FetchAll when a first load is already
// running; callers simply wait for it instead of starting another.
var ErrRefreshInFlight = errors.New("refresh already in flight")

// Invalidator is implemented by sources that keep a local cache.
type Invalidator interface {
	Invalidate() error
}

// Orchestrator fans read requests out to the enabled sources, merges their
// deltas into the unified views, and serializes refresh cycles.
//
// Two locks: cycleMu serializes whole refresh cycles (reset -> fan out ->
// await -> transition), mu guards the observable state and views. Each
// cycle carries a generation; a superseded cycle's merges and transitions
// are dropped, so stale results never land.
type Orchestrator struct {
	sources []source.Source
	log     *slog.Logger

	cycleMu sync.Mutex

	mu          sync.Mutex
	state       State
	err         error
	display     metric.DisplayView
	upload      metric.UploadView
	lastRefresh time.Time
	generation  uint64
	cancel      context.CancelFunc
	subs        []chan Snapshot
}

func New(sources []source.Source, log *slog.Logger) *Orchestrator {
	if log == nil {
		log = slog.Default()
	}
	return &Orchestrator{
		sources: sources,
		log:     log,
		state:   StateUninitialized,
		display: metric.DisplayView{},
		upload:  metric.UploadView{},
	}
}

// Snapshot returns a copy of the current observable state and views.
func (o *Orchestrator) Snapshot() Snapshot {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.snapshotLocked()
}

func (o *Orchestrator) snapshotLocked() Snapshot {
	display := make(metric.DisplayView, len(o.display))
	display.Merge(o.display)
	upload := make(metric.UploadView, len(o.upload))
	upload.Merge(o.upload)
	return Snapshot{
		State:       o.state,
		Err:         o.err,
		Display:     display,
		Upload:      upload,
		LastRefresh: o.lastRefresh,
	}
}

// Subscribe returns a channel that receives a Snapshot after every state
// transition. Delivery is best-effort: a slow subscriber misses
// intermediate snapshots, never blocks the orchestrator.
func (o *Orchestrator) Subscribe() <-chan Snapshot {
	ch := make(chan Snapshot, 8)
	o.mu.Lock()
	o.subs = append(o.subs, ch)
	o.mu.Unlock()
	return ch
}

func (o *Orchestrator) notifyLocked() {
	snap := o.snapshotLocked()
	for _, ch := range o.subs {
		select {
		case ch <- snap:
		default:
		}
	}
}

// FetchAll is the idempotent first-load entry point. It does not cancel
// prior work; a call while a first load is already running is a no-op.
func (o *Orchestrator) FetchAll(ctx context.Context) error {
	o.mu.Lock()
	if o.state == StateLoading {
		o.mu.Unlock()
		return ErrRefreshInFlight
	}
	o.mu.Unlock()

	return o.runCycle(ctx, StateLoading, false)
}

// Refresh is the pull-to-refresh entry point: last writer wins. Any
// in-flight refresh is cancelled and superseded before the new cycle
// starts; its partial results never reach the views.
func (o *Orchestrator) Refresh(ctx context.Context) error {
	o.mu.Lock()
	if o.cancel != nil {
		o.cancel()
		o.cancel = nil
		// The superseded cycle must not transition when it unwinds.
		o.generation++
	}
	next := StateRefreshing
	if o.state == StateUninitialized {
		next = StateLoading
	}
	o.mu.Unlock()

	return o.runCycle(ctx, next, true)
}

// runCycle executes one full cycle: reset views, fan out, await all,
// transition. cycleMu is held for the whole sequence and released on every
// exit path.
func (o *Orchestrator) runCycle(ctx context.Context, running State, cancellable bool) (err error) {
	o.cycleMu.Lock()
	defer o.cycleMu.Unlock()

	cctx := ctx
	var cancel context.CancelFunc
	if cancellable {
		cctx, cancel = context.WithCancel(ctx)
		defer cancel()
	}

	o.mu.Lock()
	o.generation++
	gen := o.generation
	if cancellable {
		o.cancel = cancel
	}
	o.state = running
	o.err = nil
	o.display = metric.DisplayView{}
	o.upload = metric.UploadView{}
	o.notifyLocked()
	o.mu.Unlock()

	// A failure escaping the fan-out coordination itself (not an
	// individual metric read) surfaces as StateError; the orchestrator
	// stays usable for the next call.
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("refresh coordination: %v", r)
		}
		o.finish(gen, err)
	}()

	if err := cctx.Err(); err != nil {
		return err
	}

	ref := time.Now()
	g, gctx := errgroup.WithContext(cctx)
	for _, src := range o.sources {
		enabled, err := src.Enabled()
		if err != nil {
			o.log.Warn("source enablement unreadable, skipping", "source", src.Name(), "error", err)
			continue
		}
		if !enabled {
			continue
		}

		src := src
		g.Go(func() error {
			display, upload := o.collect(gctx, src, ref)
			// A cancelled task must not perform its merge.
			if gctx.Err() != nil {
				return nil
			}
			o.commitDelta(gen, display, upload)
			return nil
		})
	}
	// Join-all: tasks swallow their own failures, so Wait only reflects
	// cancellation.
	g.Wait()

	return cctx.Err()
}

// collect reads every metric the source provides into a private delta.
// Each metric read fails alone: an error is logged and the metric omitted
// from this cycle, siblings unaffected.
func (o *Orchestrator) collect(ctx context.Context, src source.Source, ref time.Time) (metric.DisplayView, metric.UploadView) {
	display := metric.DisplayView{}
	upload := metric.UploadView{}

	keys, err := src.Metrics()
	if err != nil {
		o.log.Warn("source metric list unavailable", "source", src.Name(), "error", err)
		return display, upload
	}

	for _, key := range keys {
		if ctx.Err() != nil {
			return display, upload
		}
		samples, err := src.ReadWindow(ctx, key, ref)
		if err != nil {
			o.log.Warn("metric read failed", "source", src.Name(), "metric", string(key), "error", err)
			continue
		}
		if len(samples) == 0 {
			continue
		}

		series := metric.TimeSeries{}
		series.Fold(samples)
		upload[key] = series
		if _, latest, ok := series.Latest(); ok {
			display[key] = latest
		}
	}
	return display, upload
}

// commitDelta merges one source task's contribution, unless the cycle has
// been superseded.
func (o *Orchestrator) commitDelta(gen uint64, display metric.DisplayView, upload metric.UploadView) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.generation != gen {
		return
	}
	o.display.Merge(display)
	o.upload.Merge(upload)
}

// finish transitions the cycle to its terminal state. A superseded cycle
// (its generation already advanced by the cycle that cancelled it) makes
// no transition; any other outcome must land on Done or Error so the
// orchestrator never sticks in an in-flight state.
func (o *Orchestrator) finish(gen uint64, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.generation != gen {
		return
	}
	o.cancel = nil
	switch {
	case err == nil:
		o.state = StateDone
		o.err = nil
		o.lastRefresh = time.Now()
	case errors.Is(err, context.Canceled):
		o.state = StateError
		o.err = err
		o.log.Warn("refresh cancelled", "error", err)
	default:
		o.state = StateError
		o.err = err
		o.log.Error("refresh failed", "error", err)
	}
	o.notifyLocked()
}

// NotifyPreferencesChanged signals that a source's settings changed. It
// mutates nothing; the presentation layer reacts by triggering a refresh.
func (o *Orchestrator) NotifyPreferencesChanged(sourceName string) {
	o.log.Info("source preferences changed", "source", sourceName)
	o.mu.Lock()
	o.notifyLocked()
	o.mu.Unlock()
}

// InvalidateCache drops the named source's locally cached data so the next
// refresh re-reads from scratch. Sources without a cache are a no-op.
func (o *Orchestrator) InvalidateCache(sourceName string) error {
	for _, src := range o.sources {
		if src.Name() != sourceName {
			continue
		}
		if inv, ok := src.(Invalidator); ok {
			return inv.Invalidate()
		}
		return nil
	}
	return fmt.Errorf("unknown source %q", sourceName)
}

// WriteMetric routes one manual sample to the source that owns the key.
// The views are not touched; the sample appears after the next refresh.
func (o *Orchestrator) WriteMetric(ctx context.Context, key metric.Key, ts time.Time, value string) (bool, error) {
	for _, src := range o.sources {
		keys, err := src.Metrics()
		if err != nil {
			continue
		}
		for _, k := range keys {
			if k == key {
				return src.Write(ctx, key, ts, value)
			}
		}
	}
	return false, fmt.Errorf("no source provides metric %s", key)
}
