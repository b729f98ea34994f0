package model

import (
	"encoding/json"
	"time"
)

// Signal is a qualitative indicator label.
type Signal string

// Volume/value signals, in precedence order.
const (
	SigHighVolumeHighValue Signal = "HIGH_VOLUME_HIGH_VALUE"
	SigHighVolumeLowValue  Signal = "HIGH_VOLUME_LOW_VALUE"
	SigPriceUpLowVolume    Signal = "PRICE_UP_LOW_VOLUME"
	SigNeutralVolume       Signal = "NEUTRAL"
)

// VWAP signals.
const (
	SigPriceAboveVWAP Signal = "PRICE_ABOVE_VWAP"
	SigPriceBelowVWAP Signal = "PRICE_BELOW_VWAP"
)

// Market structure signals.
const (
	SigBullishStructure Signal = "BULLISH_HH_HL"
	SigNotBullish       Signal = "NOT_BULLISH"
)

// EMA crossover signals.
const (
	SigEMAFastAbove Signal = "EMA20_ABOVE_EMA50"
	SigEMAFastBelow Signal = "EMA20_BELOW_EMA50"
)

// RSI signals (3-band policy plus the 5-band extension).
const (
	SigRSIBullishZone Signal = "RSI_BULLISH_ZONE"
	SigRSIOverbought  Signal = "RSI_OVERBOUGHT"
	SigRSIWeak        Signal = "RSI_WEAK"
	SigRSIOversold    Signal = "RSI_OVERSOLD"
	SigRSINeutral     Signal = "RSI_NEUTRAL"
	SigRSIBearish     Signal = "RSI_BEARISH"
)

// Overall signals.
const (
	SigStrongBullish    Signal = "STRONG_BULLISH"
	SigBullish          Signal = "BULLISH"
	SigNeutral          Signal = "NEUTRAL"
	SigBearish          Signal = "BEARISH"
	SigInsufficientData Signal = "INSUFFICIENT_DATA"
)

// AnalysisResult is an immutable snapshot of one analysis pass for a single
// instrument: latest figures, per-indicator signals, and the bullish score
// over however many indicators were computable. Created fresh per call.
type AnalysisResult struct {
	Token     string    `json:"token"`
	Timestamp time.Time `json:"timestamp"`
	LTP       float64   `json:"ltp"`

	Volume            int64   `json:"volume"`
	AvgVolume         float64 `json:"avg_volume"`
	TradeValue        float64 `json:"trade_value"`
	AvgTradeValue     float64 `json:"avg_trade_value"`
	VolumeValueSignal Signal  `json:"volume_value_signal"`

	VWAP         float64 `json:"vwap"`
	VWAPSignal   Signal  `json:"vwap_signal"`
	LTPvsVWAPPct float64 `json:"ltp_vs_vwap"`

	MarketStructure Signal `json:"market_structure"`

	EMAFast   float64 `json:"ema_20"`
	EMASlow   float64 `json:"ema_50"`
	EMASignal Signal  `json:"ema_signal"`

	RSI       float64 `json:"rsi"`
	RSISignal Signal  `json:"rsi_signal"`

	BullishScore   int    `json:"bullish_score"`
	MaxScore       int    `json:"max_score"`
	OverallSignal  Signal `json:"overall_signal"`
	Recommendation string `json:"recommendation"`

	DataRows  int      `json:"data_rows"`
	Candles   int      `json:"candles"`
	Available []string `json:"available_indicators"`
	Skipped   []string `json:"skipped_indicators"`
}

// LatestKey returns the Redis key holding the most recent analysis for this
// token: "analysis:latest:{token}".
func (r *AnalysisResult) LatestKey() string {
	return "analysis:latest:" + r.Token
}

// JSON returns the JSON-encoded result.
func (r *AnalysisResult) JSON() []byte {
	b, _ := json.Marshal(r)
	return b
}
