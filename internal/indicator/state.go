// Package indicator maintains per-security technical indicator state over
// finished candles: EMA/MACD, Wilder RSI and ATR, session VWAP, and
// volume-spike detection. State is created once per security, either by
// bootstrapping from a historical candle window or by restoring a snapshot,
// and is then advanced one candle at a time in O(1). A batch recomputation
// entry point runs the identical folds over a full window, so both paths
// converge to the same steady-state numbers.
package indicator

// Fold periods. Fast/slow/signal are EMA spans; RSI/ATR use Wilder
// smoothing (alpha = 1/period).
const (
	EMAFastPeriod   = 12
	EMASlowPeriod   = 26
	EMASignalPeriod = 9
	RSIPeriod       = 14
	ATRPeriod       = 14
	VolWindowSize   = 20
)

// emaAlpha is the smoothing factor for a span-based EMA.
func emaAlpha(span int) float64 {
	return 2.0 / float64(span+1)
}

// ema advances an EMA by one value.
func ema(prev, value, alpha float64) float64 {
	return value*alpha + prev*(1-alpha)
}

// wilder advances a Wilder-smoothed average by one value
// (alpha = 1/period, written in its recurrence form).
func wilder(prev, value float64, period int) float64 {
	p := float64(period)
	return (prev*(p-1) + value) / p
}

// volumeWindow is a fixed-capacity ring over recent per-candle figures
// (period volumes, trade values). Preallocated; zero allocations on the
// hot path.
type volumeWindow struct {
	buf   []float64
	idx   int
	count int
	sum   float64
}

func newVolumeWindow(capacity int) *volumeWindow {
	return &volumeWindow{buf: make([]float64, capacity)}
}

// Push appends a volume, evicting the oldest beyond capacity.
func (w *volumeWindow) Push(v float64) {
	if w.count >= len(w.buf) {
		w.sum -= w.buf[w.idx]
	}
	w.buf[w.idx] = v
	w.sum += v
	w.idx = (w.idx + 1) % len(w.buf)
	w.count++
}

// Mean returns the average over the occupied slots, 0 when empty.
func (w *volumeWindow) Mean() float64 {
	n := w.count
	if n > len(w.buf) {
		n = len(w.buf)
	}
	if n == 0 {
		return 0
	}
	return w.sum / float64(n)
}

// Len returns the number of occupied slots.
func (w *volumeWindow) Len() int {
	if w.count > len(w.buf) {
		return len(w.buf)
	}
	return w.count
}

// Values returns the window contents oldest-first, for serialization.
func (w *volumeWindow) Values() []float64 {
	n := w.Len()
	out := make([]float64, 0, n)
	start := 0
	if w.count > len(w.buf) {
		start = w.idx
	}
	for i := 0; i < n; i++ {
		out = append(out, w.buf[(start+i)%len(w.buf)])
	}
	return out
}

// State is the long-lived indicator state for one security. It is owned by
// exactly one Engine and mutated exactly once per finished candle; callers
// must serialize updates per security.
type State struct {
	EMAFast    float64
	EMASlow    float64
	MACDSignal float64

	AvgGain float64
	AvgLoss float64

	ATR float64

	// VWAP accumulators; reset at each session boundary by an external
	// signal, never inferred here.
	VWAPCumPV  float64
	VWAPCumVol float64

	VolWindow *volumeWindow
	// Trailing per-candle trade values (close x volume), same capacity as
	// the volume window.
	ValWindow *volumeWindow

	PrevClose float64

	// Candles absorbed so far (bootstrap window + streaming updates).
	Count int
}

// ResetSession zeroes the VWAP accumulators for a new trading session.
// All other smoothed state carries across sessions.
func (s *State) ResetSession() {
	s.VWAPCumPV = 0
	s.VWAPCumVol = 0
}
