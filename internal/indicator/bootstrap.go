package indicator

import (
	"math"

	"trend-enginev1/internal/model"
)

// MinBootstrapWindow is the smallest window Bootstrap accepts: one
// close-to-close delta is the minimum for the Wilder folds. Windows at
// least as long as the longest lookback (50 recommended) give fully warmed
// state; shorter ones converge as streaming updates arrive.
const MinBootstrapWindow = 2

// Bootstrap derives initial indicator state from a historical candle
// window, oldest first. Every fold is seeded from the window's first
// element and applied recursively, exactly as the streaming update applies
// it, so a bootstrap over N candles equals a bootstrap over K followed by
// N−K streaming updates.
func Bootstrap(window []model.Candle) (*State, error) {
	if len(window) < MinBootstrapWindow {
		return nil, &InsufficientHistoryError{Indicator: "bootstrap", Needed: MinBootstrapWindow, Got: len(window)}
	}

	st := &State{
		VolWindow: newVolumeWindow(VolWindowSize),
		ValWindow: newVolumeWindow(VolWindowSize),
		Count:     len(window),
	}

	alphaFast := emaAlpha(EMAFastPeriod)
	alphaSlow := emaAlpha(EMASlowPeriod)

	// EMA folds, seeded with the first close.
	st.EMAFast = window[0].Close
	st.EMASlow = window[0].Close
	for _, c := range window[1:] {
		st.EMAFast = ema(st.EMAFast, c.Close, alphaFast)
		st.EMASlow = ema(st.EMASlow, c.Close, alphaSlow)
	}
	st.MACDSignal = 0

	// Wilder gain/loss folds over close-to-close deltas, seeded with the
	// first delta's gain and loss.
	for i := 1; i < len(window); i++ {
		change := window[i].Close - window[i-1].Close
		gain := math.Max(change, 0)
		loss := math.Max(-change, 0)
		if i == 1 {
			st.AvgGain = gain
			st.AvgLoss = loss
			continue
		}
		st.AvgGain = wilder(st.AvgGain, gain, RSIPeriod)
		st.AvgLoss = wilder(st.AvgLoss, loss, RSIPeriod)
	}

	// Wilder ATR fold. The first candle has no prior close, so its true
	// range is just high−low.
	st.ATR = window[0].High - window[0].Low
	for i := 1; i < len(window); i++ {
		tr := trueRange(window[i].High, window[i].Low, window[i-1].Close)
		st.ATR = wilder(st.ATR, tr, ATRPeriod)
	}

	// VWAP accumulators and the rolling volume and trade-value windows.
	for _, c := range window {
		v := float64(c.Volume)
		st.VWAPCumPV += c.Close * v
		st.VWAPCumVol += v
		st.VolWindow.Push(v)
		st.ValWindow.Push(c.Close * v)
	}

	st.PrevClose = window[len(window)-1].Close
	return st, nil
}

// ComputeWindow is the batch entry point used when no persisted engine
// state exists: it recomputes every indicator over the full supplied window
// with the same folds as Bootstrap and returns the final snapshot. Batch
// and streaming therefore converge to identical steady-state values for the
// same candle history.
func ComputeWindow(window []model.Candle) (Snapshot, error) {
	st, err := Bootstrap(window)
	if err != nil {
		return Snapshot{}, err
	}
	last := window[len(window)-1]
	snap := snapshotFromState(st, last)
	snap.PrevClose = window[len(window)-2].Close
	return snap, nil
}

// trueRange is max(high−low, |high−prevClose|, |low−prevClose|).
func trueRange(high, low, prevClose float64) float64 {
	tr := high - low
	if d := math.Abs(high - prevClose); d > tr {
		tr = d
	}
	if d := math.Abs(low - prevClose); d > tr {
		tr = d
	}
	return tr
}

// rsiFrom applies the zero-loss convention: RSI is exactly 100 when the
// smoothed loss is zero, never a division fault.
func rsiFrom(avgGain, avgLoss float64) float64 {
	if avgLoss == 0 {
		return 100.0
	}
	rs := avgGain / avgLoss
	return 100.0 - 100.0/(1.0+rs)
}
