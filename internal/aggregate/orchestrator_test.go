package aggregate

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/sadopc/vitals/internal/metric"
	"github.com/sadopc/vitals/internal/source"
)

// fakeSource is a configurable in-memory source for orchestrator tests.
type fakeSource struct {
	name    string
	enabled bool
	samples map[metric.Key][]metric.Sample
	errs    map[metric.Key]error
	delay   time.Duration

	mu    sync.Mutex
	reads int
}

func (f *fakeSource) Name() string            { return f.name }
func (f *fakeSource) Enabled() (bool, error)  { return f.enabled, nil }
func (f *fakeSource) Metrics() ([]metric.Key, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	keys := make([]metric.Key, 0, len(f.samples)+len(f.errs))
	for k := range f.samples {
		keys = append(keys, k)
	}
	for k := range f.errs {
		if _, dup := f.samples[k]; !dup {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

func (f *fakeSource) ReadWindow(ctx context.Context, key metric.Key, ref time.Time) ([]metric.Sample, error) {
	f.mu.Lock()
	f.reads++
	delay := f.delay
	f.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.errs[key]; err != nil {
		return nil, err
	}
	return f.samples[key], nil
}

func (f *fakeSource) Write(ctx context.Context, key metric.Key, ts time.Time, value string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.samples == nil {
		f.samples = map[metric.Key][]metric.Sample{}
	}
	f.samples[key] = append(f.samples[key], metric.Sample{Date: ts.Format(metric.DateFormat), Value: value})
	return true, nil
}

func waitForTerminal(t *testing.T, o *Orchestrator) Snapshot {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		snap := o.Snapshot()
		if !snap.State.InFlight() && snap.State != StateUninitialized {
			return snap
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("orchestrator never reached a terminal state, stuck at %s", o.Snapshot().State)
	return Snapshot{}
}

// ============================================================
// First load
// ============================================================

func TestFetchAllSingleSource(t *testing.T) {
	health := &fakeSource{
		name:    "health",
		enabled: true,
		samples: map[metric.Key][]metric.Sample{
			metric.Steps:  {{Date: "2024-01-01", Value: "1000"}},
			metric.Weight: {{Date: "2024-01-02", Value: "70.5"}},
		},
	}
	o := New([]source.Source{health}, nil)

	if err := o.FetchAll(context.Background()); err != nil {
		t.Fatal(err)
	}

	snap := o.Snapshot()
	if snap.State != StateDone {
		t.Fatalf("state = %s, want done", snap.State)
	}
	if snap.Display[metric.Steps] != "1000" {
		t.Fatalf("steps = %q, want 1000", snap.Display[metric.Steps])
	}
	if snap.Display[metric.Weight] != "70.5" {
		t.Fatalf("weight = %q, want 70.5", snap.Display[metric.Weight])
	}
	if len(snap.Display) != 2 {
		t.Fatalf("display has %d keys, want 2: %v", len(snap.Display), snap.Display)
	}
}

func TestFetchAllDisabledSourceSkipped(t *testing.T) {
	on := &fakeSource{
		name:    "health",
		enabled: true,
		samples: map[metric.Key][]metric.Sample{metric.Steps: {{Date: "2024-01-01", Value: "1"}}},
	}
	off := &fakeSource{
		name:    "github",
		enabled: false,
		samples: map[metric.Key][]metric.Sample{metric.CommitCount: {{Date: "2024-01-01", Value: "9"}}},
	}
	o := New([]source.Source{on, off}, nil)

	if err := o.FetchAll(context.Background()); err != nil {
		t.Fatal(err)
	}
	snap := o.Snapshot()
	if _, ok := snap.Display[metric.CommitCount]; ok {
		t.Fatal("disabled source's metric should not appear")
	}
	if off.reads != 0 {
		t.Fatalf("disabled source was read %d times", off.reads)
	}
}

// ============================================================
// Failure isolation
// ============================================================

func TestMetricFailureIsolated(t *testing.T) {
	health := &fakeSource{
		name:    "health",
		enabled: true,
		samples: map[metric.Key][]metric.Sample{
			metric.Weight: {{Date: "2024-01-02", Value: "70.5"}},
		},
		errs: map[metric.Key]error{
			metric.HeartRate: errors.New("sensor unavailable"),
		},
	}
	o := New([]source.Source{health}, nil)

	if err := o.FetchAll(context.Background()); err != nil {
		t.Fatal(err)
	}

	snap := o.Snapshot()
	if snap.State != StateDone {
		t.Fatalf("state = %s, want done (metric failure must not become Error)", snap.State)
	}
	if snap.Display[metric.Weight] != "70.5" {
		t.Fatalf("weight = %q, want 70.5", snap.Display[metric.Weight])
	}
	if _, ok := snap.Display[metric.HeartRate]; ok {
		t.Fatal("failed metric must be absent, not present")
	}
}

func TestSourceFailureIsolated(t *testing.T) {
	broken := &fakeSource{
		name:    "github",
		enabled: true,
		errs:    map[metric.Key]error{metric.CommitCount: errors.New("401")},
	}
	healthy := &fakeSource{
		name:    "health",
		enabled: true,
		samples: map[metric.Key][]metric.Sample{
			metric.Steps: {{Date: "2024-01-01", Value: "1000"}},
		},
	}
	o := New([]source.Source{broken, healthy}, nil)

	if err := o.FetchAll(context.Background()); err != nil {
		t.Fatal(err)
	}

	snap := o.Snapshot()
	if snap.State != StateDone {
		t.Fatalf("state = %s, want done", snap.State)
	}
	if snap.Display[metric.Steps] != "1000" {
		t.Fatal("healthy source's metrics must survive a sibling source failing")
	}
	if _, ok := snap.Display[metric.CommitCount]; ok {
		t.Fatal("failed source's metric must be absent")
	}
}

// ============================================================
// Views
// ============================================================

func TestLatestValueWins(t *testing.T) {
	health := &fakeSource{
		name:    "health",
		enabled: true,
		samples: map[metric.Key][]metric.Sample{
			metric.Weight: {
				{Date: "2024-01-01", Value: "71.0"},
				{Date: "2024-01-03", Value: "70.1"},
				{Date: "2024-01-02", Value: "70.5"},
			},
		},
	}
	o := New([]source.Source{health}, nil)
	o.FetchAll(context.Background())

	snap := o.Snapshot()
	if snap.Display[metric.Weight] != "70.1" {
		t.Fatalf("display must carry the max-date value, got %q", snap.Display[metric.Weight])
	}
	if len(snap.Upload[metric.Weight]) != 3 {
		t.Fatalf("upload series should keep all dates, got %v", snap.Upload[metric.Weight])
	}
}

func TestConcurrentMergePreservesSiblingKeys(t *testing.T) {
	// Two sources completing at different speeds must union their keys.
	slow := &fakeSource{
		name:    "health",
		enabled: true,
		delay:   30 * time.Millisecond,
		samples: map[metric.Key][]metric.Sample{
			metric.Steps: {{Date: "2024-01-01", Value: "1000"}},
		},
	}
	fast := &fakeSource{
		name:    "github",
		enabled: true,
		samples: map[metric.Key][]metric.Sample{
			metric.CommitCount: {{Date: "2024-01-01", Value: "7"}},
		},
	}
	o := New([]source.Source{slow, fast}, nil)
	o.FetchAll(context.Background())

	snap := o.Snapshot()
	if snap.Display[metric.Steps] != "1000" || snap.Display[metric.CommitCount] != "7" {
		t.Fatalf("both sources' keys must survive the merge: %v", snap.Display)
	}
}

// ============================================================
// Single flight
// ============================================================

func TestRefreshSupersedesInFlight(t *testing.T) {
	slow := &fakeSource{
		name:    "health",
		enabled: true,
		delay:   500 * time.Millisecond,
		samples: map[metric.Key][]metric.Sample{
			metric.Steps: {{Date: "2024-01-01", Value: "11111"}},
		},
	}
	o := New([]source.Source{slow}, nil)

	done := make(chan struct{})
	go func() {
		o.Refresh(context.Background())
		close(done)
	}()

	// Let the first refresh get in flight, then supersede it with a fast
	// source set. The fake is shared, so swap its behavior first.
	time.Sleep(50 * time.Millisecond)
	slow.mu.Lock()
	slow.delay = 0
	slow.samples = map[metric.Key][]metric.Sample{
		metric.Steps: {{Date: "2024-01-02", Value: "22222"}},
	}
	slow.mu.Unlock()

	if err := o.Refresh(context.Background()); err != nil {
		t.Fatal(err)
	}
	<-done

	snap := o.Snapshot()
	if snap.State != StateDone {
		t.Fatalf("state = %s, want done", snap.State)
	}
	if snap.Display[metric.Steps] != "22222" {
		t.Fatalf("only the last refresh may commit, got steps=%q", snap.Display[metric.Steps])
	}
	if len(snap.Upload[metric.Steps]) != 1 {
		t.Fatalf("no hybrid merge allowed: %v", snap.Upload[metric.Steps])
	}
}

func TestFetchAllNoOpWhileLoading(t *testing.T) {
	slow := &fakeSource{
		name:    "health",
		enabled: true,
		delay:   100 * time.Millisecond,
		samples: map[metric.Key][]metric.Sample{
			metric.Steps: {{Date: "2024-01-01", Value: "1"}},
		},
	}
	o := New([]source.Source{slow}, nil)

	started := make(chan struct{})
	go func() {
		close(started)
		o.FetchAll(context.Background())
	}()
	<-started
	time.Sleep(20 * time.Millisecond)

	if err := o.FetchAll(context.Background()); !errors.Is(err, ErrRefreshInFlight) {
		t.Fatalf("second first-load should no-op, got %v", err)
	}

	waitForTerminal(t, o)
}

func TestRefreshAfterDone(t *testing.T) {
	src := &fakeSource{
		name:    "health",
		enabled: true,
		samples: map[metric.Key][]metric.Sample{
			metric.Steps: {{Date: "2024-01-01", Value: "1"}},
		},
	}
	o := New([]source.Source{src}, nil)

	if err := o.FetchAll(context.Background()); err != nil {
		t.Fatal(err)
	}
	src.samples[metric.Steps] = []metric.Sample{{Date: "2024-01-02", Value: "2"}}
	if err := o.Refresh(context.Background()); err != nil {
		t.Fatal(err)
	}

	snap := o.Snapshot()
	if snap.State != StateDone || snap.Display[metric.Steps] != "2" {
		t.Fatalf("refresh should replace the view: %v", snap.Display)
	}
}

// ============================================================
// Subscriptions and auxiliary operations
// ============================================================

func TestSubscribeSeesTransitions(t *testing.T) {
	src := &fakeSource{
		name:    "health",
		enabled: true,
		samples: map[metric.Key][]metric.Sample{
			metric.Steps: {{Date: "2024-01-01", Value: "1"}},
		},
	}
	o := New([]source.Source{src}, nil)
	ch := o.Subscribe()

	if err := o.FetchAll(context.Background()); err != nil {
		t.Fatal(err)
	}

	var states []State
	for {
		select {
		case snap := <-ch:
			states = append(states, snap.State)
			if snap.State == StateDone {
				if states[0] != StateLoading {
					t.Fatalf("first observed state = %s, want loading", states[0])
				}
				return
			}
		case <-time.After(time.Second):
			t.Fatalf("never observed done, saw %v", states)
		}
	}
}

func TestWriteMetricRoutesToOwner(t *testing.T) {
	health := &fakeSource{
		name:    "health",
		enabled: true,
		samples: map[metric.Key][]metric.Sample{metric.Weight: nil},
	}
	o := New([]source.Source{health}, nil)

	ok, err := o.WriteMetric(context.Background(), metric.Weight, time.Now(), "70.5")
	if err != nil || !ok {
		t.Fatalf("write failed: ok=%v err=%v", ok, err)
	}
	if len(health.samples[metric.Weight]) != 1 {
		t.Fatal("sample did not reach the owning source")
	}

	if _, err := o.WriteMetric(context.Background(), metric.Key("nope"), time.Now(), "1"); err == nil {
		t.Fatal("expected error for unowned metric")
	}
}

func TestWriteDoesNotTouchViews(t *testing.T) {
	health := &fakeSource{
		name:    "health",
		enabled: true,
		samples: map[metric.Key][]metric.Sample{metric.Weight: nil},
	}
	o := New([]source.Source{health}, nil)
	o.FetchAll(context.Background())

	o.WriteMetric(context.Background(), metric.Weight, time.Now(), "70.5")
	if _, ok := o.Snapshot().Display[metric.Weight]; ok {
		t.Fatal("views must not change until the next refresh")
	}

	o.Refresh(context.Background())
	if o.Snapshot().Display[metric.Weight] != "70.5" {
		t.Fatal("written sample should appear after refresh")
	}
}

func TestInvalidateCacheUnknownSource(t *testing.T) {
	o := New(nil, nil)
	if err := o.InvalidateCache("bogus"); err == nil {
		t.Fatal("expected error for unknown source")
	}
}

func TestErrorStateRecoverable(t *testing.T) {
	panicky := &panickySource{}
	o := New([]source.Source{panicky}, nil)

	if err := o.FetchAll(context.Background()); err == nil {
		t.Fatal("expected coordination error")
	}
	if o.Snapshot().State != StateError {
		t.Fatalf("state = %s, want error", o.Snapshot().State)
	}

	// The orchestrator stays usable: swap in a healthy cycle.
	panicky.calm = true
	if err := o.FetchAll(context.Background()); err != nil {
		t.Fatal(err)
	}
	if o.Snapshot().State != StateDone {
		t.Fatalf("state = %s, want done after recovery", o.Snapshot().State)
	}
}

func TestCancelledFetchAllNotStuckInLoading(t *testing.T) {
	src := &fakeSource{
		name:    "health",
		enabled: true,
		samples: map[metric.Key][]metric.Sample{
			metric.Steps: {{Date: "2024-01-01", Value: "4200"}},
		},
	}
	o := New([]source.Source{src}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := o.FetchAll(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("FetchAll = %v, want context.Canceled", err)
	}

	// A cancelled first load that nothing superseded must still settle on
	// a terminal state, or every later first load would be rejected.
	snap := o.Snapshot()
	if snap.State.InFlight() {
		t.Fatalf("state = %s, want a terminal state", snap.State)
	}
	if snap.State != StateError {
		t.Fatalf("state = %s, want error", snap.State)
	}

	if err := o.FetchAll(context.Background()); err != nil {
		t.Fatalf("healthy retry rejected: %v", err)
	}
	snap = o.Snapshot()
	if snap.State != StateDone {
		t.Fatalf("state = %s, want done after retry", snap.State)
	}
	if snap.Display[metric.Steps] != "4200" {
		t.Fatalf("steps = %q, want 4200", snap.Display[metric.Steps])
	}
}

// panickySource blows up in Enabled, which runs on the coordinator
// goroutine, to model an orchestration-level failure.
type panickySource struct {
	calm bool
}

func (p *panickySource) Name() string { return "panicky" }
func (p *panickySource) Enabled() (bool, error) {
	if !p.calm {
		panic("wired wrong")
	}
	return false, nil
}
func (p *panickySource) Metrics() ([]metric.Key, error) { return nil, nil }
func (p *panickySource) ReadWindow(ctx context.Context, key metric.Key, ref time.Time) ([]metric.Sample, error) {
	return nil, fmt.Errorf("unreachable")
}
func (p *panickySource) Write(ctx context.Context, key metric.Key, ts time.Time, value string) (bool, error) {
	return false, nil
}
