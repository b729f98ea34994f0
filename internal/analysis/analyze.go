// Package analysis runs the one-shot batch pipeline over a historical tick
// window for a single instrument: normalize timestamps and volumes, compute
// tick-level volume/value and VWAP figures, resample to interval candles,
// compute whichever candle indicators the window supports, and synthesize
// the overall verdict. Indicators short on history are reported as skipped,
// never computed against padding.
package analysis

import (
	"errors"
	"fmt"
	"sort"

	"trend-enginev1/internal/indicator"
	"trend-enginev1/internal/marketdata/resample"
	"trend-enginev1/internal/model"
	"trend-enginev1/internal/normalize"
	"trend-enginev1/internal/signal"
)

// ErrNotEnoughRows means the window has too few usable ticks for any
// analysis at all.
var ErrNotEnoughRows = errors.New("analysis: not enough tick rows")

// Config holds the analysis tunables. Zero values fall back to defaults.
type Config struct {
	IntervalSec int // candle interval for the resampled series

	MinRows             int // usable ticks below this abort the analysis
	MinStructureCandles int
	MinEMACandles       int
	MinRSICandles       int

	EMAFastSpan int
	EMASlowSpan int
	RSIPeriod   int
	RollingN    int // trailing window for volume/value means

	Thresholds signal.Thresholds
}

// DefaultConfig returns the stock 5-minute intraday policy.
func DefaultConfig() Config {
	return Config{
		IntervalSec:         300,
		MinRows:             10,
		MinStructureCandles: indicator.MinStructureWindow,
		MinEMACandles:       50,
		MinRSICandles:       15,
		EMAFastSpan:         20,
		EMASlowSpan:         50,
		RSIPeriod:           indicator.RSIPeriod,
		RollingN:            20,
		Thresholds:          signal.DefaultThresholds(),
	}
}

// Analyzer runs batch analyses. Stateless between calls; one instance can
// serve many tokens.
type Analyzer struct {
	cfg Config
}

// New creates an Analyzer, filling config zero values with defaults.
func New(cfg Config) *Analyzer {
	def := DefaultConfig()
	if cfg.IntervalSec <= 0 {
		cfg.IntervalSec = def.IntervalSec
	}
	if cfg.MinRows <= 0 {
		cfg.MinRows = def.MinRows
	}
	if cfg.MinStructureCandles <= 0 {
		cfg.MinStructureCandles = def.MinStructureCandles
	}
	if cfg.MinEMACandles <= 0 {
		cfg.MinEMACandles = def.MinEMACandles
	}
	if cfg.MinRSICandles <= 0 {
		cfg.MinRSICandles = def.MinRSICandles
	}
	if cfg.EMAFastSpan <= 0 {
		cfg.EMAFastSpan = def.EMAFastSpan
	}
	if cfg.EMASlowSpan <= 0 {
		cfg.EMASlowSpan = def.EMASlowSpan
	}
	if cfg.RSIPeriod <= 0 {
		cfg.RSIPeriod = def.RSIPeriod
	}
	if cfg.RollingN <= 0 {
		cfg.RollingN = def.RollingN
	}
	if cfg.Thresholds.StrongPct == 0 {
		cfg.Thresholds = def.Thresholds
	}
	return &Analyzer{cfg: cfg}
}

// Analyze runs the full batch pipeline over one instrument's tick window.
// Ticks may arrive in any order; LTP-only frames carry no quantity or
// volume and are dropped before analysis.
func (a *Analyzer) Analyze(token string, ticks []model.TickRecord) (*model.AnalysisResult, error) {
	rows := make([]model.TickRecord, 0, len(ticks))
	for _, t := range ticks {
		if t.Quote != nil && t.ExchangeTimestamp > 0 {
			rows = append(rows, t)
		}
	}
	if len(rows) < a.cfg.MinRows {
		return nil, fmt.Errorf("%w: %d usable of %d, need %d", ErrNotEnoughRows, len(rows), len(ticks), a.cfg.MinRows)
	}

	raw := make([]int64, len(rows))
	for i := range rows {
		raw[i] = rows[i].ExchangeTimestamp
	}
	unit := normalize.InferUnit(raw)
	sort.SliceStable(rows, func(i, j int) bool {
		return rows[i].ExchangeTimestamp < rows[j].ExchangeTimestamp
	})

	// Per-tick period volumes and trade values, in timestamp order.
	cum := make([]int64, len(rows))
	for i := range rows {
		cum[i] = rows[i].Quote.CumulativeVolume
	}
	deltas := normalize.DeltaSeries(cum)
	values := make([]float64, len(rows))
	for i := range rows {
		values[i] = float64(rows[i].Quote.LastTradedQty) * rows[i].LTP
	}

	latest := &rows[len(rows)-1]
	prevClose := latest.LTP
	if len(rows) > 1 {
		prevClose = rows[len(rows)-2].Quote.Close
	}

	res := &model.AnalysisResult{
		Token:      token,
		LTP:        latest.LTP,
		Volume:     deltas[len(deltas)-1],
		TradeValue: values[len(values)-1],
		DataRows:   len(rows),
	}

	// Volume and value against their trailing means. Windows shorter than
	// the rolling length fall back to the whole-series mean.
	res.AvgVolume = trailingMean(intsToFloats(deltas), a.cfg.RollingN)
	res.AvgTradeValue = trailingMean(values, a.cfg.RollingN)
	res.VolumeValueSignal = signal.ClassifyVolumeValue(
		float64(res.Volume), res.AvgVolume, res.TradeValue, res.AvgTradeValue, latest.LTP, prevClose)
	res.Available = append(res.Available, "Volume & Value")

	// Tick-level VWAP over price x last-traded-qty.
	var cumPV, cumQty float64
	for i := range rows {
		qty := float64(rows[i].Quote.LastTradedQty)
		cumPV += rows[i].LTP * qty
		cumQty += qty
	}
	if cumQty == 0 {
		return nil, fmt.Errorf("analysis: %w", indicator.ErrZeroVolume)
	}
	res.VWAP = cumPV / cumQty
	res.VWAPSignal = signal.ClassifyVWAP(latest.LTP, res.VWAP)
	res.LTPvsVWAPPct = (latest.LTP - res.VWAP) / res.VWAP * 100
	res.Available = append(res.Available, "VWAP")

	candles := resample.Ticks(rows, unit, a.cfg.IntervalSec)
	res.Candles = len(candles)
	if len(candles) > 0 {
		res.Timestamp = candles[len(candles)-1].TS
	} else {
		res.Timestamp = unit.ToTime(latest.ExchangeTimestamp)
	}

	closes := make([]float64, len(candles))
	for i := range candles {
		closes[i] = candles[i].Close
	}

	// Market structure over the recent candles.
	if len(candles) >= a.cfg.MinStructureCandles {
		structure, err := indicator.DetectStructure(candles)
		if err == nil {
			res.MarketStructure = structure
			res.Available = append(res.Available, "Market Structure")
		} else {
			res.Skipped = append(res.Skipped, skipped("Market Structure", a.cfg.MinStructureCandles, len(candles), a.cfg.IntervalSec))
		}
	} else {
		res.Skipped = append(res.Skipped, skipped("Market Structure", a.cfg.MinStructureCandles, len(candles), a.cfg.IntervalSec))
	}

	// EMA crossover needs the slow span's worth of candles.
	if len(candles) >= a.cfg.MinEMACandles {
		res.EMAFast, _ = indicator.EMAWindow(closes, a.cfg.EMAFastSpan)
		res.EMASlow, _ = indicator.EMAWindow(closes, a.cfg.EMASlowSpan)
		res.EMASignal = signal.ClassifyEMA(res.EMAFast, res.EMASlow)
		res.Available = append(res.Available, "EMA Crossover")
	} else {
		res.EMASignal = model.SigInsufficientData
		res.Skipped = append(res.Skipped, skipped("EMA", a.cfg.MinEMACandles, len(candles), a.cfg.IntervalSec))
	}

	if len(candles) >= a.cfg.MinRSICandles {
		rsi, err := indicator.RSIWindow(closes, a.cfg.RSIPeriod)
		if err == nil {
			res.RSI = rsi
			res.RSISignal = signal.ClassifyRSI(rsi, a.cfg.Thresholds.RSI)
			res.Available = append(res.Available, "RSI")
		} else {
			res.RSISignal = model.SigInsufficientData
			res.Skipped = append(res.Skipped, skipped("RSI", a.cfg.MinRSICandles, len(candles), a.cfg.IntervalSec))
		}
	} else {
		res.RSISignal = model.SigInsufficientData
		res.Skipped = append(res.Skipped, skipped("RSI", a.cfg.MinRSICandles, len(candles), a.cfg.IntervalSec))
	}

	in := signal.Inputs{
		VolumeValue: res.VolumeValueSignal,
		VWAP:        res.VWAPSignal,
		Structure:   res.MarketStructure,
	}
	if res.EMASignal != model.SigInsufficientData {
		in.EMA = res.EMASignal
	}
	if res.RSISignal != model.SigInsufficientData {
		in.RSI = res.RSISignal
	}
	verdict := signal.Score(in, a.cfg.Thresholds)
	res.BullishScore = verdict.Score
	res.MaxScore = verdict.MaxScore
	res.OverallSignal = verdict.Overall
	res.Recommendation = verdict.Recommendation

	return res, nil
}

// trailingMean averages the last n values, or all of them when fewer.
func trailingMean(vals []float64, n int) float64 {
	if len(vals) == 0 {
		return 0
	}
	start := 0
	if len(vals) > n {
		start = len(vals) - n
	}
	var sum float64
	for _, v := range vals[start:] {
		sum += v
	}
	return sum / float64(len(vals)-start)
}

func intsToFloats(in []int64) []float64 {
	out := make([]float64, len(in))
	for i, v := range in {
		out[i] = float64(v)
	}
	return out
}

func skipped(name string, need, have, intervalSec int) string {
	needMin := need * intervalSec / 60
	haveMin := have * intervalSec / 60
	return fmt.Sprintf("%s (need %d+ min, have %d min)", name, needMin, haveMin)
}
