// Package normalize turns raw feed values into usable ones: it infers the
// time unit of ambiguous epoch timestamps and corrects the feed's cumulative
// session volume into per-tick deltas.
package normalize

import "time"

// TimeUnit is the inferred unit of a raw epoch timestamp.
type TimeUnit int

const (
	UnitSeconds TimeUnit = iota
	UnitMillis
	UnitMicros
	UnitNanos
)

func (u TimeUnit) String() string {
	switch u {
	case UnitMillis:
		return "ms"
	case UnitMicros:
		return "us"
	case UnitNanos:
		return "ns"
	}
	return "s"
}

// Magnitude thresholds separating the units. A wall-clock instant in the
// 2000s era is ~1.7e9 s, ~1.7e12 ms, ~1.7e15 us, ~1.7e18 ns, so the maximum
// of a batch lands cleanly in exactly one band.
const (
	nanosThreshold  = 1e18
	microsThreshold = 1e15
	millisThreshold = 1e12
)

// InferUnit classifies a batch of raw timestamps by the magnitude of the
// largest positive value. The whole batch is then converted with this one
// unit; the feed carries no per-row unit flag. Non-positive values do not
// participate in the inference.
func InferUnit(raw []int64) TimeUnit {
	var max int64
	for _, ts := range raw {
		if ts > max {
			max = ts
		}
	}
	switch {
	case max > nanosThreshold:
		return UnitNanos
	case max > microsThreshold:
		return UnitMicros
	case max > millisThreshold:
		return UnitMillis
	default:
		return UnitSeconds
	}
}

// ToTime converts a raw timestamp in this unit to a UTC time.
func (u TimeUnit) ToTime(ts int64) time.Time {
	switch u {
	case UnitNanos:
		return time.Unix(0, ts).UTC()
	case UnitMicros:
		return time.UnixMicro(ts).UTC()
	case UnitMillis:
		return time.UnixMilli(ts).UTC()
	default:
		return time.Unix(ts, 0).UTC()
	}
}

// ToUnixSeconds converts a raw timestamp in this unit to Unix seconds.
func (u TimeUnit) ToUnixSeconds(ts int64) int64 {
	switch u {
	case UnitNanos:
		return ts / 1e9
	case UnitMicros:
		return ts / 1e6
	case UnitMillis:
		return ts / 1e3
	default:
		return ts
	}
}

// ConvertBatch infers one unit for the whole set and converts every raw
// timestamp with it. Returns the converted times and the inferred unit.
func ConvertBatch(raw []int64) ([]time.Time, TimeUnit) {
	unit := InferUnit(raw)
	out := make([]time.Time, len(raw))
	for i, ts := range raw {
		out[i] = unit.ToTime(ts)
	}
	return out, unit
}
