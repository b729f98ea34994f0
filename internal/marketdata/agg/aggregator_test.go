package agg

import (
	"context"
	"testing"
	"time"

	"trend-enginev1/internal/model"
	"trend-enginev1/internal/normalize"
)

func quoteTick(token string, ts, seq, cumVol int64, ltp float64) model.TickRecord {
	return model.TickRecord{
		Mode:              model.ModeQuote,
		Exchange:          model.NSECM,
		Token:             token,
		SequenceNumber:    seq,
		ExchangeTimestamp: ts,
		LTP:               ltp,
		Quote:             &model.QuoteData{CumulativeVolume: cumVol},
	}
}

func drain(candleCh chan model.Candle) []model.Candle {
	var out []model.Candle
	for {
		select {
		case c := <-candleCh:
			out = append(out, c)
		default:
			return out
		}
	}
}

func TestAggregator_BasicCandle(t *testing.T) {
	a := New(60, normalize.UnitSeconds)
	candleCh := make(chan model.Candle, 100)

	base := int64(1756610100) // interval-aligned

	a.Process(tickp(quoteTick("3045", base, 1, 1000, 500.00)), candleCh)
	a.Process(tickp(quoteTick("3045", base+10, 2, 1020, 505.00)), candleCh)
	a.Process(tickp(quoteTick("3045", base+20, 3, 1035, 498.00)), candleCh)
	// Next bucket: finalizes the previous candle.
	a.Process(tickp(quoteTick("3045", base+60, 4, 1050, 501.00)), candleCh)

	candles := drain(candleCh)
	if len(candles) != 1 {
		t.Fatalf("candles: got %d, want 1", len(candles))
	}
	c := candles[0]
	if c.Open != 500.00 || c.High != 505.00 || c.Low != 498.00 || c.Close != 498.00 {
		t.Errorf("ohlc: got %v/%v/%v/%v", c.Open, c.High, c.Low, c.Close)
	}
	// First tick primes the corrector (delta 0); the next two add 20+15.
	if c.Volume != 35 {
		t.Errorf("volume: got %d, want 35", c.Volume)
	}
	if c.Ticks != 3 {
		t.Errorf("ticks: got %d, want 3", c.Ticks)
	}
	if !c.TS.Equal(time.Unix(base, 0).UTC()) {
		t.Errorf("ts: got %v, want bucket start", c.TS)
	}
}

func tickp(t model.TickRecord) *model.TickRecord { return &t }

func TestAggregator_HighLowInvariant(t *testing.T) {
	a := New(60, normalize.UnitSeconds)
	candleCh := make(chan model.Candle, 10)
	base := int64(1756610100)

	prices := []float64{100, 103, 97, 101, 99}
	for i, p := range prices {
		a.Process(tickp(quoteTick("X", base+int64(i), int64(i+1), 0, p)), candleCh)
	}
	a.FlushAll(candleCh)

	candles := drain(candleCh)
	if len(candles) != 1 {
		t.Fatalf("candles: got %d, want 1", len(candles))
	}
	c := candles[0]
	if c.High < c.Open || c.High < c.Close {
		t.Errorf("high %v below open %v or close %v", c.High, c.Open, c.Close)
	}
	if c.Low > c.Open || c.Low > c.Close {
		t.Errorf("low %v above open %v or close %v", c.Low, c.Open, c.Close)
	}
	if c.High != 103 || c.Low != 97 {
		t.Errorf("high/low: got %v/%v, want 103/97", c.High, c.Low)
	}
}

func TestAggregator_LateTickDropped(t *testing.T) {
	a := New(60, normalize.UnitSeconds)
	var dropped []string
	a.OnDroppedTick = func(reason string) { dropped = append(dropped, reason) }
	candleCh := make(chan model.Candle, 10)
	base := int64(1756610100)

	a.Process(tickp(quoteTick("X", base, 1, 100, 500)), candleCh)
	a.Process(tickp(quoteTick("X", base+60, 2, 120, 501)), candleCh)
	// Belongs to the already-closed first bucket.
	a.Process(tickp(quoteTick("X", base+30, 3, 130, 502)), candleCh)

	if len(dropped) != 1 || dropped[0] != "late" {
		t.Fatalf("dropped: got %v, want [late]", dropped)
	}
	a.FlushAll(candleCh)
	candles := drain(candleCh)
	// The late tick must not have touched the open bucket.
	last := candles[len(candles)-1]
	if last.Ticks != 1 || last.Close != 501 {
		t.Errorf("open candle polluted by late tick: %+v", last)
	}
}

func TestAggregator_StaleSequenceDropped(t *testing.T) {
	a := New(60, normalize.UnitSeconds)
	var dropped []string
	a.OnDroppedTick = func(reason string) { dropped = append(dropped, reason) }
	candleCh := make(chan model.Candle, 10)
	base := int64(1756610100)

	a.Process(tickp(quoteTick("X", base, 10, 100, 500)), candleCh)
	a.Process(tickp(quoteTick("X", base+1, 10, 120, 505)), candleCh) // duplicate seq
	a.Process(tickp(quoteTick("X", base+2, 9, 130, 506)), candleCh)  // older seq

	if len(dropped) != 2 {
		t.Fatalf("dropped: got %v, want 2 stale_seq drops", dropped)
	}
	for _, r := range dropped {
		if r != "stale_seq" {
			t.Errorf("reason: got %q, want stale_seq", r)
		}
	}
	a.FlushAll(candleCh)
	c := drain(candleCh)[0]
	if c.Ticks != 1 || c.Close != 500 {
		t.Errorf("stale frames must not update the candle: %+v", c)
	}
}

func TestAggregator_ZeroSequenceNotDeduplicated(t *testing.T) {
	// Feeds that do not populate the sequence field send 0; those ticks
	// must never be treated as stale.
	a := New(60, normalize.UnitSeconds)
	candleCh := make(chan model.Candle, 10)
	base := int64(1756610100)

	a.Process(tickp(quoteTick("X", base, 0, 100, 500)), candleCh)
	a.Process(tickp(quoteTick("X", base+1, 0, 120, 505)), candleCh)

	a.FlushAll(candleCh)
	c := drain(candleCh)[0]
	if c.Ticks != 2 {
		t.Errorf("ticks: got %d, want 2", c.Ticks)
	}
}

func TestAggregator_MultipleInstruments(t *testing.T) {
	a := New(60, normalize.UnitSeconds)
	candleCh := make(chan model.Candle, 10)
	base := int64(1756610100)

	a.Process(tickp(quoteTick("AAA", base, 1, 10, 100)), candleCh)
	a.Process(tickp(quoteTick("BBB", base, 1, 10, 200)), candleCh)
	a.Process(tickp(quoteTick("AAA", base+5, 2, 30, 101)), candleCh)

	a.FlushAll(candleCh)
	candles := drain(candleCh)
	if len(candles) != 2 {
		t.Fatalf("candles: got %d, want 2", len(candles))
	}
	byKey := map[string]model.Candle{}
	for _, c := range candles {
		byKey[c.Key()] = c
	}
	if byKey["NSE:AAA"].Ticks != 2 || byKey["NSE:AAA"].Volume != 20 {
		t.Errorf("AAA: %+v", byKey["NSE:AAA"])
	}
	if byKey["NSE:BBB"].Ticks != 1 || byKey["NSE:BBB"].Close != 200 {
		t.Errorf("BBB: %+v", byKey["NSE:BBB"])
	}
}

func TestAggregator_VolumeDeltaCrossesBucket(t *testing.T) {
	// The delta carried by the tick that opens a new bucket straddles the
	// boundary; it is re-baselined, not booked. A fresh bucket always opens
	// with volume 0.
	a := New(60, normalize.UnitSeconds)
	candleCh := make(chan model.Candle, 10)
	base := int64(1756610100)

	a.Process(tickp(quoteTick("X", base, 1, 100, 500)), candleCh)
	a.Process(tickp(quoteTick("X", base+10, 2, 150, 501)), candleCh)
	a.Process(tickp(quoteTick("X", base+60, 3, 175, 502)), candleCh)
	a.Process(tickp(quoteTick("X", base+70, 4, 180, 503)), candleCh)

	a.FlushAll(candleCh)
	candles := drain(candleCh)
	if len(candles) != 2 {
		t.Fatalf("candles: got %d, want 2", len(candles))
	}
	if candles[0].Volume != 50 {
		t.Errorf("first candle volume: got %d, want 50", candles[0].Volume)
	}
	// 175-150 is dropped at the boundary; only 180-175 lands in bucket two.
	if candles[1].Volume != 5 {
		t.Errorf("second candle volume: got %d, want 5", candles[1].Volume)
	}
}

func TestAggregator_CorrectorSurvivesTimerFlush(t *testing.T) {
	// Whether a bucket is closed by a crossing tick or by the rollover
	// timer, the per-instrument cumulative-volume baseline persists, so
	// both paths book identical deltas.
	base := int64(1756610100) // in the past, so flushOld closes its bucket

	run := func(timerFlush bool) []model.Candle {
		a := New(60, normalize.UnitSeconds)
		candleCh := make(chan model.Candle, 10)
		a.Process(tickp(quoteTick("X", base, 1, 100, 500)), candleCh)
		a.Process(tickp(quoteTick("X", base+10, 2, 150, 501)), candleCh)
		if timerFlush {
			a.flushOld(candleCh)
		}
		a.Process(tickp(quoteTick("X", base+60, 3, 175, 502)), candleCh)
		a.Process(tickp(quoteTick("X", base+70, 4, 180, 503)), candleCh)
		a.FlushAll(candleCh)
		return drain(candleCh)
	}

	tickClosed := run(false)
	timerClosed := run(true)
	if len(tickClosed) != 2 || len(timerClosed) != 2 {
		t.Fatalf("candles: got %d/%d, want 2/2", len(tickClosed), len(timerClosed))
	}
	for i := range tickClosed {
		if tickClosed[i].Volume != timerClosed[i].Volume {
			t.Errorf("bucket %d volume differs: tick-closed %d, timer-closed %d",
				i, tickClosed[i].Volume, timerClosed[i].Volume)
		}
	}
	if timerClosed[1].Volume != 5 {
		t.Errorf("second bucket volume: got %d, want 5", timerClosed[1].Volume)
	}
}

func TestAggregator_RunFlushesOnClose(t *testing.T) {
	a := New(60, normalize.UnitSeconds)
	tickCh := make(chan model.TickRecord, 10)
	candleCh := make(chan model.Candle, 10)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		a.Run(ctx, tickCh, candleCh)
		close(done)
	}()

	tickCh <- quoteTick("X", 1756610100, 1, 100, 500)
	close(tickCh)
	<-done

	candles := drain(candleCh)
	if len(candles) != 1 {
		t.Fatalf("candles after close: got %d, want 1", len(candles))
	}
}
