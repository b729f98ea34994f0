package indicator

import "encoding/json"

// StateSnapshot is the serialized state of one security's engine.
type StateSnapshot struct {
	Token      string    `json:"token"`
	Exchange   string    `json:"exchange"`
	EMAFast    float64   `json:"ema_fast"`
	EMASlow    float64   `json:"ema_slow"`
	MACDSignal float64   `json:"macd_signal"`
	AvgGain    float64   `json:"avg_gain"`
	AvgLoss    float64   `json:"avg_loss"`
	ATR        float64   `json:"atr"`
	VWAPCumPV  float64   `json:"vwap_cum_pv"`
	VWAPCumVol float64   `json:"vwap_cum_vol"`
	VolWindow  []float64 `json:"vol_window"`
	ValWindow  []float64 `json:"val_window"`
	PrevClose  float64   `json:"prev_close"`
	Count      int       `json:"count"`
}

// EngineSnapshot holds every tracked security's state at checkpoint time.
type EngineSnapshot struct {
	Version int             `json:"version"` // schema version for forward compat
	SavedAt int64           `json:"saved_at"`
	Tokens  []StateSnapshot `json:"tokens"`
}

// SnapshotVersion is the current EngineSnapshot schema version.
const SnapshotVersion = 1

// Snapshot serializes the state of one engine.
func (e *Engine) Snapshot(token, exchange string) StateSnapshot {
	st := e.state
	return StateSnapshot{
		Token:      token,
		Exchange:   exchange,
		EMAFast:    st.EMAFast,
		EMASlow:    st.EMASlow,
		MACDSignal: st.MACDSignal,
		AvgGain:    st.AvgGain,
		AvgLoss:    st.AvgLoss,
		ATR:        st.ATR,
		VWAPCumPV:  st.VWAPCumPV,
		VWAPCumVol: st.VWAPCumVol,
		VolWindow:  st.VolWindow.Values(),
		ValWindow:  st.ValWindow.Values(),
		PrevClose:  st.PrevClose,
		Count:      st.Count,
	}
}

// Restore rebuilds engine state from a snapshot.
func Restore(snap StateSnapshot) *Engine {
	st := &State{
		EMAFast:    snap.EMAFast,
		EMASlow:    snap.EMASlow,
		MACDSignal: snap.MACDSignal,
		AvgGain:    snap.AvgGain,
		AvgLoss:    snap.AvgLoss,
		ATR:        snap.ATR,
		VWAPCumPV:  snap.VWAPCumPV,
		VWAPCumVol: snap.VWAPCumVol,
		VolWindow:  newVolumeWindow(VolWindowSize),
		ValWindow:  newVolumeWindow(VolWindowSize),
		PrevClose:  snap.PrevClose,
		Count:      snap.Count,
	}
	for _, v := range snap.VolWindow {
		st.VolWindow.Push(v)
	}
	for _, v := range snap.ValWindow {
		st.ValWindow.Push(v)
	}
	return NewEngine(st)
}

// Marshal encodes the snapshot for persistence.
func (es *EngineSnapshot) Marshal() ([]byte, error) {
	return json.Marshal(es)
}

// UnmarshalEngineSnapshot decodes a persisted snapshot.
func UnmarshalEngineSnapshot(data []byte) (*EngineSnapshot, error) {
	var es EngineSnapshot
	if err := json.Unmarshal(data, &es); err != nil {
		return nil, err
	}
	return &es, nil
}
