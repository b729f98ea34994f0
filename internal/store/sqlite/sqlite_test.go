package sqlite

import (
	"path/filepath"
	"testing"
	"time"

	"trend-enginev1/internal/indicator"
	"trend-enginev1/internal/model"
)

func openPair(t *testing.T) (*Writer, *Reader) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ticks.db")
	w, err := New(WriterConfig{DBPath: path})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	r, err := NewReader(path)
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	t.Cleanup(func() {
		r.Close()
		w.Close()
	})
	return w, r
}

func TestTickRoundTrip(t *testing.T) {
	w, r := openPair(t)

	ticks := []model.TickRecord{
		{
			Mode: model.ModeLTP, Exchange: model.NSECM, Token: "26009",
			SequenceNumber: 1, ExchangeTimestamp: 1756610100, LTP: 2550.75,
		},
		{
			Mode: model.ModeQuote, Exchange: model.NSECM, Token: "26009",
			SequenceNumber: 2, ExchangeTimestamp: 1756610101, LTP: 2551.00,
			Quote: &model.QuoteData{
				LastTradedQty: 25, AvgTradedPrice: 2550.80, CumulativeVolume: 123456,
				TotalBuyQty: 5000, TotalSellQty: 4200,
				Open: 2540, High: 2560, Low: 2535, Close: 2545,
			},
		},
		{
			Mode: model.ModeSnapQuote, Exchange: model.NSEFO, Token: "26009",
			SequenceNumber: 3, ExchangeTimestamp: 1756610102, LTP: 2552.00,
			Quote: &model.QuoteData{CumulativeVolume: 123500},
			Snap: &model.SnapQuoteData{
				LastTradedTime: 1756610102, OpenInterest: 150000, OIChangePercent: 2.5,
				UpperCircuit: 2800, LowerCircuit: 2300, Week52High: 2900, Week52Low: 1900,
			},
		},
	}
	if err := w.insertTickBatch(ticks); err != nil {
		t.Fatalf("insertTickBatch: %v", err)
	}

	now := time.Now().UnixMilli()
	got, err := r.ReadTicks("26009", now-60_000, now+60_000)
	if err != nil {
		t.Fatalf("ReadTicks: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("ticks: got %d, want 3", len(got))
	}

	if got[0].Quote != nil || got[0].Snap != nil {
		t.Errorf("LTP row must come back without quote or snap sections")
	}
	if got[1].Quote == nil {
		t.Fatalf("QUOTE row lost its quote section")
	}
	if got[1].Quote.CumulativeVolume != 123456 || got[1].Quote.Close != 2545 {
		t.Errorf("quote fields: %+v", got[1].Quote)
	}
	if got[1].Snap != nil {
		t.Errorf("QUOTE row must come back without a snap section")
	}
	if got[2].Snap == nil {
		t.Fatalf("SNAP_QUOTE row lost its snap section")
	}
	if got[2].Snap.OpenInterest != 150000 || got[2].Snap.OIChangePercent != 2.5 {
		t.Errorf("snap fields: %+v", got[2].Snap)
	}
}

func TestTickDeduplication(t *testing.T) {
	w, r := openPair(t)

	tick := model.TickRecord{
		Mode: model.ModeLTP, Exchange: model.NSECM, Token: "3045",
		ExchangeTimestamp: 1756610100, LTP: 500,
	}
	if err := w.insertTickBatch([]model.TickRecord{tick, tick}); err != nil {
		t.Fatalf("insertTickBatch: %v", err)
	}
	// A replayed frame in a later batch is ignored too.
	if err := w.insertTickBatch([]model.TickRecord{tick}); err != nil {
		t.Fatalf("insertTickBatch replay: %v", err)
	}

	now := time.Now().UnixMilli()
	got, err := r.ReadTicks("3045", now-60_000, now+60_000)
	if err != nil {
		t.Fatalf("ReadTicks: %v", err)
	}
	if len(got) != 1 {
		t.Errorf("duplicate (token, exchange_timestamp) rows: got %d, want 1", len(got))
	}

	ts, err := w.LastTickTimestamp("3045")
	if err != nil {
		t.Fatalf("LastTickTimestamp: %v", err)
	}
	if ts != 1756610100 {
		t.Errorf("last tick ts: got %d, want 1756610100", ts)
	}
}

func TestLastTickTimestamp_Empty(t *testing.T) {
	w, _ := openPair(t)
	ts, err := w.LastTickTimestamp("nope")
	if err != nil {
		t.Fatalf("LastTickTimestamp: %v", err)
	}
	if ts != 0 {
		t.Errorf("empty table: got %d, want 0", ts)
	}
}

func TestCandleRoundTrip(t *testing.T) {
	w, r := openPair(t)

	base := time.Unix(1756610100, 0).UTC()
	candles := []model.Candle{
		{Token: "3045", Exchange: "NSE", TS: base, Open: 100, High: 104, Low: 99, Close: 103, Volume: 500, Ticks: 12},
		{Token: "3045", Exchange: "NSE", TS: base.Add(time.Minute), Open: 103, High: 105, Low: 102, Close: 104, Volume: 300, Ticks: 8},
	}
	if err := w.insertCandleBatch(60, candles); err != nil {
		t.Fatalf("insertCandleBatch: %v", err)
	}
	// Re-inserting the same bucket replaces, not duplicates.
	candles[1].Close = 104.5
	if err := w.insertCandleBatch(60, candles[1:]); err != nil {
		t.Fatalf("insertCandleBatch replace: %v", err)
	}

	got, err := r.ReadCandles("NSE", "3045", 60, 0)
	if err != nil {
		t.Fatalf("ReadCandles: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("candles: got %d, want 2", len(got))
	}
	if !got[0].TS.Equal(base) || got[0].Volume != 500 || got[0].Ticks != 12 {
		t.Errorf("candle[0]: %+v", got[0])
	}
	if got[1].Close != 104.5 {
		t.Errorf("replaced close: got %v, want 104.5", got[1].Close)
	}

	// A different interval tag is a separate series.
	other, err := r.ReadCandles("NSE", "3045", 300, 0)
	if err != nil {
		t.Fatalf("ReadCandles interval 300: %v", err)
	}
	if len(other) != 0 {
		t.Errorf("interval 300: got %d candles, want 0", len(other))
	}
}

func TestSnapshotPersistence(t *testing.T) {
	w, r := openPair(t)

	none, err := r.ReadLatestSnapshot()
	if err != nil {
		t.Fatalf("ReadLatestSnapshot: %v", err)
	}
	if none != nil {
		t.Fatalf("expected nil snapshot on an empty table")
	}

	for i := 0; i < 15; i++ {
		snap := &indicator.EngineSnapshot{
			Version: indicator.SnapshotVersion,
			SavedAt: int64(1756610100 + i),
			Tokens: []indicator.StateSnapshot{
				{Token: "3045", Exchange: "NSE", EMAFast: 100 + float64(i), Count: 50 + i},
			},
		}
		if err := w.SaveSnapshot(snap); err != nil {
			t.Fatalf("SaveSnapshot %d: %v", i, err)
		}
	}

	got, err := r.ReadLatestSnapshot()
	if err != nil {
		t.Fatalf("ReadLatestSnapshot: %v", err)
	}
	if got == nil {
		t.Fatalf("expected a snapshot")
	}
	if got.SavedAt != 1756610114 {
		t.Errorf("latest snapshot: got saved_at %d, want 1756610114", got.SavedAt)
	}
	if len(got.Tokens) != 1 || got.Tokens[0].EMAFast != 114 {
		t.Errorf("snapshot state: %+v", got.Tokens)
	}

	// Only the most recent few are kept.
	var count int
	if err := w.DB().QueryRow(`SELECT COUNT(*) FROM engine_snapshots`).Scan(&count); err != nil {
		t.Fatalf("count snapshots: %v", err)
	}
	if count != 10 {
		t.Errorf("kept snapshots: got %d, want 10", count)
	}
}
