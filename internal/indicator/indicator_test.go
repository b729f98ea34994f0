package indicator

import (
	"errors"
	"math"
	"testing"
	"time"

	"trend-enginev1/internal/model"
)

func assertClose(t *testing.T, label string, got, want, tol float64) {
	t.Helper()
	if math.Abs(got-want) > tol {
		t.Errorf("%s: got %.6f, want %.6f (tol=%.6f, diff=%.6f)", label, got, want, tol, math.Abs(got-want))
	}
}

func candle(close float64, vol int64) model.Candle {
	return model.Candle{
		Token: "TEST", Exchange: "NSE",
		Open: close, High: close + 0.5, Low: close - 0.5, Close: close,
		Volume: vol,
	}
}

func risingWindow(n int, startClose float64, vol int64) []model.Candle {
	out := make([]model.Candle, n)
	base := time.Date(2026, 8, 31, 4, 0, 0, 0, time.UTC)
	for i := range out {
		out[i] = candle(startClose+float64(i), vol)
		out[i].TS = base.Add(time.Duration(i) * time.Minute)
	}
	return out
}

func TestBootstrap_TooShort(t *testing.T) {
	_, err := Bootstrap([]model.Candle{candle(100, 10)})
	if err == nil {
		t.Fatalf("expected error for a 1-candle window")
	}
	if !IsInsufficientHistory(err) {
		t.Errorf("expected InsufficientHistoryError, got %v", err)
	}
}

func TestBootstrap_EMASeededFromFirstClose(t *testing.T) {
	// Hand-computed EMA(12) over closes 100, 102, 104:
	// alpha = 2/13
	// seed  = 100
	// e1    = 102*2/13 + 100*11/13 = 100.307692
	// e2    = 104*2/13 + e1*11/13  = 100.875740
	window := []model.Candle{candle(100, 10), candle(102, 10), candle(104, 10)}
	st, err := Bootstrap(window)
	if err != nil {
		t.Fatalf("Bootstrap: %v", err)
	}
	assertClose(t, "EMA fast", st.EMAFast, 100.875740, 0.0001)
	if st.PrevClose != 104 {
		t.Errorf("prev close: got %v, want 104", st.PrevClose)
	}
	if st.Count != 3 {
		t.Errorf("count: got %d, want 3", st.Count)
	}
}

func TestRSI_AllGainsIsExactly100(t *testing.T) {
	window := risingWindow(20, 100, 1000)
	snap, err := ComputeWindow(window)
	if err != nil {
		t.Fatalf("ComputeWindow: %v", err)
	}
	if snap.RSI != 100.0 {
		t.Errorf("RSI over an all-gains series: got %v, want exactly 100", snap.RSI)
	}
}

func TestRSIWindow_HandComputed(t *testing.T) {
	// Wilder RSI(2) over closes 10, 11, 10.5, 11.5:
	// deltas: +1, -0.5, +1
	// seed:           avgGain=1, avgLoss=0
	// after -0.5:     avgGain=(1*1+0)/2=0.5,   avgLoss=(0*1+0.5)/2=0.25
	// after +1:       avgGain=(0.5+1)/2=0.75,  avgLoss=(0.25+0)/2=0.125
	// rs=6, rsi=100-100/7=85.714286
	rsi, err := RSIWindow([]float64{10, 11, 10.5, 11.5}, 2)
	if err != nil {
		t.Fatalf("RSIWindow: %v", err)
	}
	assertClose(t, "RSI(2)", rsi, 85.714286, 0.0001)
}

func TestRSIWindow_TooShort(t *testing.T) {
	_, err := RSIWindow([]float64{10, 11}, 14)
	if err == nil {
		t.Fatalf("expected error: RSI(14) needs 15 closes")
	}
	if !IsInsufficientHistory(err) {
		t.Errorf("expected InsufficientHistoryError, got %v", err)
	}
}

func TestEMAWindow_HandComputed(t *testing.T) {
	// EMA(3), alpha=0.5, closes 10, 12, 14:
	// seed 10; e1 = 12*0.5 + 10*0.5 = 11; e2 = 14*0.5 + 11*0.5 = 12.5
	v, err := EMAWindow([]float64{10, 12, 14}, 3)
	if err != nil {
		t.Fatalf("EMAWindow: %v", err)
	}
	assertClose(t, "EMA(3)", v, 12.5, 0.0001)
}

func TestStreamingMatchesBatch(t *testing.T) {
	// Bootstrapping over K candles and streaming the remaining N must land
	// on the same values as one batch pass over all K+N. The MACD signal
	// line is excluded: batch recomputation starts it at zero.
	full := risingWindow(60, 200, 1500)
	full[10].Close = 207 // some texture so gains and losses both occur
	full[10].High = 207.5
	full[10].Low = 206.5
	full[25].Close = 221
	full[25].High = 221.5
	full[25].Low = 220.5

	const k = 30
	st, err := Bootstrap(full[:k])
	if err != nil {
		t.Fatalf("Bootstrap: %v", err)
	}
	eng := NewEngine(st)
	var streamed Snapshot
	for _, c := range full[k:] {
		streamed = eng.Update(c)
	}

	batch, err := ComputeWindow(full)
	if err != nil {
		t.Fatalf("ComputeWindow: %v", err)
	}

	assertClose(t, "EMA fast", streamed.EMAFast, batch.EMAFast, 1e-9)
	assertClose(t, "EMA slow", streamed.EMASlow, batch.EMASlow, 1e-9)
	assertClose(t, "MACD", streamed.MACD, batch.MACD, 1e-9)
	assertClose(t, "RSI", streamed.RSI, batch.RSI, 1e-9)
	assertClose(t, "ATR", streamed.ATR, batch.ATR, 1e-9)
	assertClose(t, "VWAP", streamed.VWAP, batch.VWAP, 1e-9)
	assertClose(t, "avg volume", streamed.AvgVolume, batch.AvgVolume, 1e-9)
	assertClose(t, "trade value", streamed.TradeValue, batch.TradeValue, 1e-9)
	assertClose(t, "avg trade value", streamed.AvgTradeValue, batch.AvgTradeValue, 1e-9)
	assertClose(t, "prev close", streamed.PrevClose, batch.PrevClose, 1e-9)
}

func TestVWAP_ZeroVolume(t *testing.T) {
	window := []model.Candle{candle(100, 0), candle(101, 0)}
	st, err := Bootstrap(window)
	if err != nil {
		t.Fatalf("Bootstrap: %v", err)
	}
	eng := NewEngine(st)
	if _, err := eng.VWAP(); !errors.Is(err, ErrZeroVolume) {
		t.Errorf("expected ErrZeroVolume, got %v", err)
	}
	snap := eng.Update(candle(102, 0))
	if snap.VWAPDefined {
		t.Errorf("VWAP must be undefined with zero cumulative volume")
	}
}

func TestVWAP_SessionReset(t *testing.T) {
	st, err := Bootstrap([]model.Candle{candle(100, 10), candle(102, 10)})
	if err != nil {
		t.Fatalf("Bootstrap: %v", err)
	}
	eng := NewEngine(st)
	vw, err := eng.VWAP()
	if err != nil {
		t.Fatalf("VWAP: %v", err)
	}
	assertClose(t, "VWAP before reset", vw, 101.0, 0.0001)

	eng.ResetSession()
	if _, err := eng.VWAP(); !errors.Is(err, ErrZeroVolume) {
		t.Errorf("expected ErrZeroVolume after session reset, got %v", err)
	}
	// RSI state carries across the reset.
	if eng.State().AvgGain == 0 {
		t.Errorf("smoothed gain must survive a session reset")
	}

	snap := eng.Update(candle(104, 20))
	assertClose(t, "VWAP after reset", snap.VWAP, 104.0, 0.0001)
}

func TestVolumeSpike(t *testing.T) {
	// 20 candles at volume 1000; a 2000-volume candle exceeds 1.5x the
	// rolling mean.
	window := risingWindow(20, 100, 1000)
	st, err := Bootstrap(window)
	if err != nil {
		t.Fatalf("Bootstrap: %v", err)
	}
	eng := NewEngine(st)

	snap := eng.Update(candle(120, 1400))
	if snap.VolumeSpike {
		t.Errorf("1400 vs mean ~1000 is not a spike at ratio 1.5")
	}
	snap = eng.Update(candle(121, 2000))
	if !snap.VolumeSpike {
		t.Errorf("2000 vs mean ~1000 must be a spike at ratio 1.5")
	}
}

func TestTradeValueDivergesFromVolumeSpike(t *testing.T) {
	// A volume spike on a collapsed price is not high-value trade flow: the
	// value window tracks close x volume, so the two figures can disagree.
	window := make([]model.Candle, 21)
	for i := range window {
		window[i] = candle(100, 1000)
	}
	st, err := Bootstrap(window)
	if err != nil {
		t.Fatalf("Bootstrap: %v", err)
	}
	eng := NewEngine(st)

	snap := eng.Update(candle(10, 3000))
	if !snap.VolumeSpike {
		t.Fatal("3000 vs mean 1100 must be a spike at ratio 1.5")
	}
	assertClose(t, "prev close", snap.PrevClose, 100, 1e-12)
	assertClose(t, "trade value", snap.TradeValue, 30000, 1e-12)
	// 19 surviving slots at 100x1000 plus the new 10x3000.
	assertClose(t, "avg trade value", snap.AvgTradeValue, 96500, 1e-12)
	if snap.TradeValue >= snap.AvgTradeValue {
		t.Errorf("trade value %v should sit below its trailing mean %v", snap.TradeValue, snap.AvgTradeValue)
	}
}

func TestLaggedReturn(t *testing.T) {
	st, err := Bootstrap([]model.Candle{candle(100, 10), candle(100, 10)})
	if err != nil {
		t.Fatalf("Bootstrap: %v", err)
	}
	eng := NewEngine(st)
	snap := eng.Update(candle(102, 10))
	if !snap.LaggedReturnDefined {
		t.Fatalf("lagged return must be defined with a nonzero previous close")
	}
	assertClose(t, "lagged return", snap.LaggedReturn, 0.02, 1e-9)
}

func TestDetectStructure_Bullish(t *testing.T) {
	// Higher highs and higher lows: peaks at 105 then 108, troughs at
	// 100.8 then 102.8, no later breakdown.
	closes := []struct{ h, l float64 }{
		{103, 100},
		{105, 102}, // peak 105
		{104, 101},
		{103.5, 100.8}, // trough 100.8
		{106, 102},
		{108, 104}, // peak 108
		{107, 103},
		{106.5, 102.8}, // trough 102.8
		{109, 104},
	}
	candles := make([]model.Candle, len(closes))
	for i, hl := range closes {
		candles[i] = model.Candle{High: hl.h, Low: hl.l, Open: hl.l, Close: hl.h}
	}
	sig, err := DetectStructure(candles)
	if err != nil {
		t.Fatalf("DetectStructure: %v", err)
	}
	if sig != model.SigBullishStructure {
		t.Errorf("got %v, want %v", sig, model.SigBullishStructure)
	}
}

func TestDetectStructure_BreakdownVetoes(t *testing.T) {
	// Same shape, but a later low undercuts the prior trough.
	closes := []struct{ h, l float64 }{
		{103, 100},
		{105, 102},
		{104, 101},
		{103.5, 100.8},
		{106, 102},
		{108, 104},
		{107, 103},
		{106.5, 102.8},
		{109, 104},
		{110, 100.5}, // undercuts the prior trough at 100.8
	}
	candles := make([]model.Candle, len(closes))
	for i, hl := range closes {
		candles[i] = model.Candle{High: hl.h, Low: hl.l, Open: hl.l, Close: hl.h}
	}
	sig, err := DetectStructure(candles)
	if err != nil {
		t.Fatalf("DetectStructure: %v", err)
	}
	if sig != model.SigNotBullish {
		t.Errorf("got %v, want %v after a breakdown", sig, model.SigNotBullish)
	}
}

func TestDetectStructure_TooShort(t *testing.T) {
	_, err := DetectStructure([]model.Candle{candle(100, 1), candle(101, 1)})
	if err == nil {
		t.Fatalf("expected error below the minimum window")
	}
	if !IsInsufficientHistory(err) {
		t.Errorf("expected InsufficientHistoryError, got %v", err)
	}
}

func TestDetectStructure_FlatIsNotBullish(t *testing.T) {
	candles := make([]model.Candle, 10)
	for i := range candles {
		candles[i] = candle(100, 10)
	}
	sig, err := DetectStructure(candles)
	if err != nil {
		t.Fatalf("DetectStructure: %v", err)
	}
	if sig != model.SigNotBullish {
		t.Errorf("flat series: got %v, want %v", sig, model.SigNotBullish)
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	window := risingWindow(25, 300, 800)
	st, err := Bootstrap(window)
	if err != nil {
		t.Fatalf("Bootstrap: %v", err)
	}
	eng := NewEngine(st)
	eng.Update(candle(326, 900))

	es := &EngineSnapshot{
		Version: SnapshotVersion,
		SavedAt: time.Now().Unix(),
		Tokens:  []StateSnapshot{eng.Snapshot("TEST", "NSE")},
	}
	data, err := es.Marshal()
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	decoded, err := UnmarshalEngineSnapshot(data)
	if err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if len(decoded.Tokens) != 1 {
		t.Fatalf("tokens: got %d, want 1", len(decoded.Tokens))
	}

	restored := Restore(decoded.Tokens[0])

	// Both engines must produce identical values from here on.
	next := candle(327, 1000)
	a := eng.Update(next)
	b := restored.Update(next)
	assertClose(t, "EMA fast after restore", b.EMAFast, a.EMAFast, 1e-12)
	assertClose(t, "RSI after restore", b.RSI, a.RSI, 1e-12)
	assertClose(t, "ATR after restore", b.ATR, a.ATR, 1e-12)
	assertClose(t, "VWAP after restore", b.VWAP, a.VWAP, 1e-12)
	assertClose(t, "MACD signal after restore", b.MACDSignal, a.MACDSignal, 1e-12)
	assertClose(t, "avg volume after restore", b.AvgVolume, a.AvgVolume, 1e-12)
	assertClose(t, "avg trade value after restore", b.AvgTradeValue, a.AvgTradeValue, 1e-12)
}
