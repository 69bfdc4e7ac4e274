package metric

import (
	"reflect"
	"testing"
	"time"
)

// ============================================================
// Series fold
// ============================================================

func TestFoldLastWriteWinsPerDate(t *testing.T) {
	ts := TimeSeries{}
	ts.Fold([]Sample{
		{Date: "2024-01-01", Value: "1000"},
		{Date: "2024-01-02", Value: "500"},
		{Date: "2024-01-01", Value: "1200"},
	})

	if len(ts) != 2 {
		t.Fatalf("expected 2 dates, got %d", len(ts))
	}
	if ts["2024-01-01"] != "1200" {
		t.Fatalf("later same-day sample must win, got %q", ts["2024-01-01"])
	}
}

func TestFoldIdempotent(t *testing.T) {
	samples := []Sample{
		{Date: "2024-01-01", Value: "1000"},
		{Date: "2024-01-03", Value: "900"},
		{Date: "2024-01-01", Value: "1100"},
	}

	once := TimeSeries{}
	once.Fold(samples)

	twice := TimeSeries{}
	twice.Fold(samples)
	twice.Fold(samples)

	if !reflect.DeepEqual(once, twice) {
		t.Fatalf("fold must be idempotent for a fixed input:\nonce:  %v\ntwice: %v", once, twice)
	}
}

func TestLatest(t *testing.T) {
	ts := TimeSeries{}
	if _, _, ok := ts.Latest(); ok {
		t.Fatal("empty series has no latest")
	}

	ts.Fold([]Sample{
		{Date: "2024-01-05", Value: "b"},
		{Date: "2024-01-20", Value: "c"},
		{Date: "2024-01-01", Value: "a"},
	})
	date, value, ok := ts.Latest()
	if !ok || date != "2024-01-20" || value != "c" {
		t.Fatalf("latest = (%s, %s, %v)", date, value, ok)
	}
}

func TestDatesSorted(t *testing.T) {
	ts := TimeSeries{"2024-02-01": "x", "2024-01-15": "y", "2024-01-02": "z"}
	got := ts.Dates()
	want := []string{"2024-01-02", "2024-01-15", "2024-02-01"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("dates = %v, want %v", got, want)
	}
}

// ============================================================
// Views
// ============================================================

func TestDisplayMergeNonDestructive(t *testing.T) {
	v := DisplayView{Steps: "1000", Weight: "70.5"}
	v.Merge(DisplayView{Weight: "71.0", HeartRate: "62"})

	if v[Steps] != "1000" {
		t.Fatal("unrelated key clobbered")
	}
	if v[Weight] != "71.0" {
		t.Fatal("same key should overwrite")
	}
	if v[HeartRate] != "62" {
		t.Fatal("new key should add")
	}
}

func TestUploadMergeCombinesSeries(t *testing.T) {
	v := UploadView{
		Steps: {"2024-01-01": "1000"},
	}
	v.Merge(UploadView{
		Steps:  {"2024-01-02": "800"},
		Weight: {"2024-01-01": "70.5"},
	})

	if len(v[Steps]) != 2 {
		t.Fatalf("same-key series must combine date-wise: %v", v[Steps])
	}
	if v[Weight]["2024-01-01"] != "70.5" {
		t.Fatal("new series should add")
	}
}

func TestUploadMergeClonesNewSeries(t *testing.T) {
	src := UploadView{Steps: {"2024-01-01": "1"}}
	dst := UploadView{}
	dst.Merge(src)

	dst[Steps]["2024-01-02"] = "2"
	if len(src[Steps]) != 1 {
		t.Fatal("merge must not alias the source series")
	}
}

// ============================================================
// Compound values and window
// ============================================================

func TestBloodPressureRoundTrip(t *testing.T) {
	packed := JoinBP("120", "80")
	if packed != "120/80" {
		t.Fatalf("packed = %q", packed)
	}
	sys, dia, err := SplitBP(packed)
	if err != nil || sys != "120" || dia != "80" {
		t.Fatalf("split = (%s, %s, %v)", sys, dia, err)
	}

	for _, bad := range []string{"120", "120/", "/80", ""} {
		if _, _, err := SplitBP(bad); err == nil {
			t.Fatalf("SplitBP(%q) should fail", bad)
		}
	}
}

func TestWindowStart(t *testing.T) {
	ref, _ := time.Parse(DateFormat, "2024-03-31")
	got := WindowStart(ref).Format(DateFormat)
	if got != "2024-03-01" {
		t.Fatalf("window start = %s, want 2024-03-01", got)
	}
}

func TestIsBuiltin(t *testing.T) {
	if !Steps.IsBuiltin() {
		t.Fatal("steps is built in")
	}
	if Key("waterIntake").IsBuiltin() {
		t.Fatal("custom keys are not built in")
	}
}
