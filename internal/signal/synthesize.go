// Package signal maps indicator values onto qualitative trade signals and a
// bounded bullish score. Everything here is a pure function of its inputs;
// rendering (CLI, dashboards) is an external concern.
package signal

import (
	"fmt"

	"trend-enginev1/internal/model"
)

// RSIBands is the configurable RSI banding policy. Two policies exist
// upstream for what is conceptually one indicator: the live path used three
// bands, the batch path five. Both are kept; FiveBand selects the richer
// taxonomy and the thresholds stay configuration rather than constants.
type RSIBands struct {
	BullishLow  float64 // lower edge of the bullish zone
	BullishHigh float64 // upper edge of the bullish zone
	Overbought  float64 // above this: overbought
	Oversold    float64 // five-band only: below this, oversold
	NeutralLow  float64 // five-band only: [NeutralLow, BullishLow) is neutral
	FiveBand    bool
}

// Thresholds groups every tunable of the synthesizer.
type Thresholds struct {
	RSI RSIBands

	// Bullish-score percentage bands.
	StrongPct  float64
	BullishPct float64
	NeutralPct float64
}

// DefaultThresholds returns the stock policy: 3-band RSI, 80/60/40 score
// bands.
func DefaultThresholds() Thresholds {
	return Thresholds{
		RSI: RSIBands{
			BullishLow:  55,
			BullishHigh: 70,
			Overbought:  70,
			Oversold:    30,
			NeutralLow:  50,
		},
		StrongPct:  80,
		BullishPct: 60,
		NeutralPct: 40,
	}
}

// ClassifyVolumeValue labels the latest period volume and trade value
// against their trailing averages. Precedence: high/high, then high/low,
// then price-up-on-thin-volume, then neutral.
func ClassifyVolumeValue(volume, avgVolume, tradeValue, avgTradeValue, price, prevClose float64) model.Signal {
	switch {
	case volume > avgVolume && tradeValue > avgTradeValue:
		return model.SigHighVolumeHighValue
	case volume > avgVolume && tradeValue < avgTradeValue:
		return model.SigHighVolumeLowValue
	case price > prevClose && volume < avgVolume:
		return model.SigPriceUpLowVolume
	default:
		return model.SigNeutralVolume
	}
}

// ClassifyVWAP labels the price's side of the session VWAP.
func ClassifyVWAP(price, vwap float64) model.Signal {
	if price > vwap {
		return model.SigPriceAboveVWAP
	}
	return model.SigPriceBelowVWAP
}

// ClassifyEMA labels the fast/slow EMA crossover.
func ClassifyEMA(fast, slow float64) model.Signal {
	if fast > slow {
		return model.SigEMAFastAbove
	}
	return model.SigEMAFastBelow
}

// ClassifyRSI labels an RSI value under the configured banding policy.
func ClassifyRSI(rsi float64, b RSIBands) model.Signal {
	switch {
	case rsi >= b.BullishLow && rsi <= b.BullishHigh:
		return model.SigRSIBullishZone
	case rsi > b.Overbought:
		return model.SigRSIOverbought
	}
	if !b.FiveBand {
		return model.SigRSIWeak
	}
	switch {
	case rsi < b.Oversold:
		return model.SigRSIOversold
	case rsi >= b.NeutralLow:
		return model.SigRSINeutral
	default:
		return model.SigRSIBearish
	}
}

// Inputs is the set of per-indicator signals available for scoring. An
// empty signal means the indicator was not computable for the window at
// hand and is excluded from the score's denominator.
type Inputs struct {
	VolumeValue model.Signal
	VWAP        model.Signal
	Structure   model.Signal
	EMA         model.Signal
	RSI         model.Signal
}

// Verdict is the synthesized overall view.
type Verdict struct {
	Score          int
	MaxScore       int
	Overall        model.Signal
	Recommendation string
}

// Score counts the indicators currently in their bullish label out of those
// that were computable, and maps the percentage onto an overall label and
// recommendation.
func Score(in Inputs, th Thresholds) Verdict {
	type check struct {
		sig     model.Signal
		bullish model.Signal
	}
	checks := []check{
		{in.VolumeValue, model.SigHighVolumeHighValue},
		{in.VWAP, model.SigPriceAboveVWAP},
		{in.Structure, model.SigBullishStructure},
		{in.EMA, model.SigEMAFastAbove},
		{in.RSI, model.SigRSIBullishZone},
	}

	v := Verdict{}
	for _, c := range checks {
		if c.sig == "" {
			continue
		}
		v.MaxScore++
		if c.sig == c.bullish {
			v.Score++
		}
	}

	if v.MaxScore == 0 {
		v.Overall = model.SigInsufficientData
		v.Recommendation = "WAIT - Not enough data yet"
		return v
	}

	pct := float64(v.Score) / float64(v.MaxScore) * 100
	switch {
	case pct >= th.StrongPct:
		v.Overall = model.SigStrongBullish
		v.Recommendation = fmt.Sprintf("BUY - Strong signal (%d/%d indicators bullish)", v.Score, v.MaxScore)
	case pct >= th.BullishPct:
		v.Overall = model.SigBullish
		v.Recommendation = fmt.Sprintf("BUY - Moderate signal (%d/%d indicators bullish)", v.Score, v.MaxScore)
	case pct >= th.NeutralPct:
		v.Overall = model.SigNeutral
		v.Recommendation = fmt.Sprintf("WAIT - Mixed signals (%d/%d indicators bullish)", v.Score, v.MaxScore)
	default:
		v.Overall = model.SigBearish
		v.Recommendation = fmt.Sprintf("AVOID - Weak signals (%d/%d indicators bullish)", v.Score, v.MaxScore)
	}
	return v
}
