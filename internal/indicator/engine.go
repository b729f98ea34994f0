package indicator

import (
	"time"

	"trend-enginev1/internal/model"
)

// Snapshot is the full set of indicator values after absorbing one candle.
// Value types; created fresh per update, never mutated.
type Snapshot struct {
	TS    time.Time `json:"ts"`
	Close float64   `json:"close"`

	EMAFast    float64 `json:"ema_fast"`
	EMASlow    float64 `json:"ema_slow"`
	MACD       float64 `json:"macd"`
	MACDSignal float64 `json:"macd_signal"`

	RSI float64 `json:"rsi"`
	ATR float64 `json:"atr"`

	// VWAP is meaningful only when VWAPDefined; with zero cumulative
	// session volume no price can be derived.
	VWAP        float64 `json:"vwap"`
	VWAPDefined bool    `json:"vwap_defined"`

	Volume      int64   `json:"volume"`
	AvgVolume   float64 `json:"avg_volume"`
	VolumeSpike bool    `json:"volume_spike"`

	TradeValue    float64 `json:"trade_value"`
	AvgTradeValue float64 `json:"avg_trade_value"`

	// PrevClose is the close preceding the absorbed candle, 0 when the
	// window carried no prior candle.
	PrevClose float64 `json:"prev_close"`

	// LaggedReturn is skipped (false) when the previous close was zero.
	LaggedReturn        float64 `json:"lagged_return"`
	LaggedReturnDefined bool    `json:"lagged_return_defined"`
}

// SpikeRatio is the multiple of the rolling average volume above which a
// candle's volume counts as a spike.
const SpikeRatio = 1.5

// Engine advances the indicator state of a single security. Each security
// gets its own Engine; updates mutate state in place and must be serialized
// by the caller (one update loop per security). The update never re-reads
// historical candles.
type Engine struct {
	state *State
}

// NewEngine wraps bootstrapped or restored state.
func NewEngine(st *State) *Engine {
	return &Engine{state: st}
}

// State exposes the underlying state for snapshot persistence.
func (e *Engine) State() *State { return e.state }

// ResetSession zeroes the VWAP accumulators. Driven by an external
// session-boundary signal (market open), never inferred here.
func (e *Engine) ResetSession() { e.state.ResetSession() }

// Update absorbs one finished candle and returns the refreshed snapshot.
// O(1): every indicator advances by its recurrence; nothing is rescanned.
func (e *Engine) Update(c model.Candle) Snapshot {
	st := e.state

	// EMA / MACD.
	st.EMAFast = ema(st.EMAFast, c.Close, emaAlpha(EMAFastPeriod))
	st.EMASlow = ema(st.EMASlow, c.Close, emaAlpha(EMASlowPeriod))
	macd := st.EMAFast - st.EMASlow
	st.MACDSignal = ema(st.MACDSignal, macd, emaAlpha(EMASignalPeriod))

	// Wilder RSI.
	change := c.Close - st.PrevClose
	gain, loss := 0.0, 0.0
	if change > 0 {
		gain = change
	} else {
		loss = -change
	}
	st.AvgGain = wilder(st.AvgGain, gain, RSIPeriod)
	st.AvgLoss = wilder(st.AvgLoss, loss, RSIPeriod)

	// Wilder ATR.
	st.ATR = wilder(st.ATR, trueRange(c.High, c.Low, st.PrevClose), ATRPeriod)

	// VWAP accumulators.
	v := float64(c.Volume)
	st.VWAPCumPV += c.Close * v
	st.VWAPCumVol += v

	// Volume and trade-value windows.
	st.VolWindow.Push(v)
	st.ValWindow.Push(c.Close * v)

	// Lagged return against the pre-update previous close.
	var laggedReturn float64
	laggedDefined := st.PrevClose != 0
	if laggedDefined {
		laggedReturn = change / st.PrevClose
	}
	prevClose := st.PrevClose

	// PrevClose moves last, after every read of it above.
	st.PrevClose = c.Close
	st.Count++

	snap := snapshotFromState(st, c)
	snap.LaggedReturn = laggedReturn
	snap.LaggedReturnDefined = laggedDefined
	snap.PrevClose = prevClose
	return snap
}

// VWAP returns the current session VWAP, or ErrZeroVolume when no volume
// has accumulated.
func (e *Engine) VWAP() (float64, error) {
	if e.state.VWAPCumVol == 0 {
		return 0, ErrZeroVolume
	}
	return e.state.VWAPCumPV / e.state.VWAPCumVol, nil
}

// snapshotFromState derives the value snapshot for the candle just
// absorbed; the lagged-return and prev-close fields are filled by the
// callers.
func snapshotFromState(st *State, c model.Candle) Snapshot {
	snap := Snapshot{
		TS:            c.TS,
		Close:         c.Close,
		EMAFast:       st.EMAFast,
		EMASlow:       st.EMASlow,
		MACD:          st.EMAFast - st.EMASlow,
		MACDSignal:    st.MACDSignal,
		RSI:           rsiFrom(st.AvgGain, st.AvgLoss),
		ATR:           st.ATR,
		Volume:        c.Volume,
		AvgVolume:     st.VolWindow.Mean(),
		TradeValue:    c.Close * float64(c.Volume),
		AvgTradeValue: st.ValWindow.Mean(),
	}
	if st.VWAPCumVol > 0 {
		snap.VWAP = st.VWAPCumPV / st.VWAPCumVol
		snap.VWAPDefined = true
	}
	snap.VolumeSpike = snap.AvgVolume > 0 && float64(c.Volume) > SpikeRatio*snap.AvgVolume
	return snap
}
