package indicator

import "trend-enginev1/internal/model"

// StructureLookback is how many recent candles the structure scan inspects.
const StructureLookback = 10

// MinStructureWindow is the fewest candles for which a peak or trough can
// exist at all (an interior point needs both neighbors).
const MinStructureWindow = 3

// DetectStructure scans the most recent candles for higher-high/higher-low
// structure. A local peak is a high above both neighbors; a local trough is
// a low below both neighbors. Bullish structure needs at least two peaks
// with the latest higher, at least two troughs with the latest higher, and
// no later low undercutting the prior trough. Batch-only; there is no
// streaming form of this signal.
func DetectStructure(candles []model.Candle) (model.Signal, error) {
	if len(candles) < MinStructureWindow {
		return "", &InsufficientHistoryError{Indicator: "market structure", Needed: MinStructureWindow, Got: len(candles)}
	}

	window := candles
	if len(window) > StructureLookback {
		window = window[len(window)-StructureLookback:]
	}

	var peaks, troughs []float64
	lastTroughIdx := -1
	for i := 1; i < len(window)-1; i++ {
		if window[i].High > window[i-1].High && window[i].High > window[i+1].High {
			peaks = append(peaks, window[i].High)
		}
		if window[i].Low < window[i-1].Low && window[i].Low < window[i+1].Low {
			troughs = append(troughs, window[i].Low)
			lastTroughIdx = i
		}
	}

	higherHigh := len(peaks) >= 2 && peaks[len(peaks)-1] > peaks[len(peaks)-2]
	higherLow := len(troughs) >= 2 && troughs[len(troughs)-1] > troughs[len(troughs)-2]

	// No low after the latest trough may undercut the prior trough.
	noBreakdown := true
	if len(troughs) >= 2 {
		prior := troughs[len(troughs)-2]
		for i := lastTroughIdx + 1; i < len(window); i++ {
			if window[i].Low < prior {
				noBreakdown = false
				break
			}
		}
	}

	if higherHigh && higherLow && noBreakdown {
		return model.SigBullishStructure, nil
	}
	return model.SigNotBullish, nil
}
