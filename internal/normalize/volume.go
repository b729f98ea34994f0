package normalize

// VolumeCorrector converts the feed's cumulative session volume into
// per-tick period volumes for one instrument. The cumulative counter can
// reset (new session, feed hiccup, out-of-order delivery), so deltas are
// clipped at zero, never negative. The first observation has no prior value
// and yields 0.
//
// Holds a single scalar per instrument; callers must serialize Delta calls
// per instrument, same as every other per-security stage.
type VolumeCorrector struct {
	prev int64
	seen bool
}

// Delta records the current cumulative volume and returns the period volume
// since the previous observation.
func (v *VolumeCorrector) Delta(cumulative int64) int64 {
	if !v.seen {
		v.seen = true
		v.prev = cumulative
		return 0
	}
	d := cumulative - v.prev
	v.prev = cumulative
	if d < 0 {
		return 0
	}
	return d
}

// Reset clears the corrector for a new session.
func (v *VolumeCorrector) Reset() {
	v.prev = 0
	v.seen = false
}

// DeltaSeries applies the correction across an ordered batch of cumulative
// volumes. The first element always maps to 0.
func DeltaSeries(cumulative []int64) []int64 {
	out := make([]int64, len(cumulative))
	var c VolumeCorrector
	for i, cum := range cumulative {
		out[i] = c.Delta(cum)
	}
	return out
}
