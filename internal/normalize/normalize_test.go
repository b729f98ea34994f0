package normalize

import (
	"testing"
	"time"
)

func TestInferUnit_Bands(t *testing.T) {
	cases := []struct {
		name string
		raw  []int64
		want TimeUnit
	}{
		{"seconds", []int64{1756610100}, UnitSeconds},
		{"millis", []int64{1756610100000}, UnitMillis},
		{"micros", []int64{1756610100000000}, UnitMicros},
		{"nanos", []int64{1756610100000000000}, UnitNanos},
		{"max wins", []int64{1756610100, 1756610100000}, UnitMillis},
		{"zeros ignored", []int64{0, 0, 1756610100}, UnitSeconds},
		{"negatives ignored", []int64{-5, 1756610100000}, UnitMillis},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := InferUnit(tc.raw); got != tc.want {
				t.Errorf("InferUnit(%v) = %v, want %v", tc.raw, got, tc.want)
			}
		})
	}
}

func TestToTime_SameInstantAcrossUnits(t *testing.T) {
	// The same wall-clock instant expressed in each unit must convert to
	// the same time.Time.
	want := time.Unix(1756610100, 0).UTC()
	cases := []struct {
		unit TimeUnit
		raw  int64
	}{
		{UnitSeconds, 1756610100},
		{UnitMillis, 1756610100000},
		{UnitMicros, 1756610100000000},
		{UnitNanos, 1756610100000000000},
	}
	for _, tc := range cases {
		if got := tc.unit.ToTime(tc.raw); !got.Equal(want) {
			t.Errorf("%v.ToTime(%d) = %v, want %v", tc.unit, tc.raw, got, want)
		}
		if got := tc.unit.ToUnixSeconds(tc.raw); got != 1756610100 {
			t.Errorf("%v.ToUnixSeconds(%d) = %d, want 1756610100", tc.unit, tc.raw, got)
		}
	}
}

func TestConvertBatch(t *testing.T) {
	raw := []int64{1756610100000, 1756610160000, 1756610220000}
	times, unit := ConvertBatch(raw)
	if unit != UnitMillis {
		t.Fatalf("unit: got %v, want ms", unit)
	}
	if len(times) != 3 {
		t.Fatalf("len: got %d, want 3", len(times))
	}
	if !times[1].Equal(time.Unix(1756610160, 0).UTC()) {
		t.Errorf("times[1] = %v", times[1])
	}
}

func TestVolumeCorrector_FirstObservationIsZero(t *testing.T) {
	var c VolumeCorrector
	if d := c.Delta(5000); d != 0 {
		t.Errorf("first delta: got %d, want 0", d)
	}
	if d := c.Delta(5100); d != 100 {
		t.Errorf("second delta: got %d, want 100", d)
	}
}

func TestVolumeCorrector_ResetClipsToZero(t *testing.T) {
	var c VolumeCorrector
	c.Delta(5000)
	// Cumulative counter dropped (session reset or out-of-order tick):
	// the delta clips to zero and the new baseline is the lower value.
	if d := c.Delta(1200); d != 0 {
		t.Errorf("negative delta must clip to 0, got %d", d)
	}
	if d := c.Delta(1500); d != 300 {
		t.Errorf("delta after reset: got %d, want 300", d)
	}
}

func TestVolumeCorrector_Reset(t *testing.T) {
	var c VolumeCorrector
	c.Delta(5000)
	c.Reset()
	if d := c.Delta(200); d != 0 {
		t.Errorf("first delta after Reset: got %d, want 0", d)
	}
}

func TestDeltaSeries(t *testing.T) {
	got := DeltaSeries([]int64{100, 150, 140, 200})
	want := []int64{0, 50, 0, 60}
	if len(got) != len(want) {
		t.Fatalf("len: got %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("delta[%d]: got %d, want %d", i, got[i], want[i])
		}
	}
}
