package indicator

import "math"

// EMAWindow folds a span-based EMA over a close series, seeded with the
// first close, and returns the final value. Same recurrence as the
// streaming update, so a window fold and an incremental series agree.
func EMAWindow(closes []float64, span int) (float64, error) {
	if len(closes) == 0 {
		return 0, &InsufficientHistoryError{Indicator: "ema", Needed: 1, Got: 0}
	}
	alpha := emaAlpha(span)
	v := closes[0]
	for _, c := range closes[1:] {
		v = ema(v, c, alpha)
	}
	return v, nil
}

// RSIWindow folds Wilder-smoothed average gain and loss over close-to-close
// deltas and returns the final RSI. Needs at least period+1 closes. An
// all-gains series yields exactly 100.
func RSIWindow(closes []float64, period int) (float64, error) {
	if len(closes) < period+1 {
		return 0, &InsufficientHistoryError{Indicator: "rsi", Needed: period + 1, Got: len(closes)}
	}
	var avgGain, avgLoss float64
	for i := 1; i < len(closes); i++ {
		change := closes[i] - closes[i-1]
		gain := math.Max(change, 0)
		loss := math.Max(-change, 0)
		if i == 1 {
			avgGain = gain
			avgLoss = loss
			continue
		}
		avgGain = wilder(avgGain, gain, period)
		avgLoss = wilder(avgLoss, loss, period)
	}
	return rsiFrom(avgGain, avgLoss), nil
}
