package sqlite

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"trend-enginev1/internal/indicator"
	"trend-enginev1/internal/model"

	_ "github.com/mattn/go-sqlite3"
)

// Reader provides read-only access for the batch analyzer, bootstrap
// backfill, and snapshot restore.
type Reader struct {
	db *sql.DB
}

// NewReader opens a SQLite connection for reading.
func NewReader(dbPath string) (*Reader, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("sqlite open reader: %w", err)
	}
	db.SetMaxOpenConns(2)
	db.SetMaxIdleConns(2)

	log.Printf("[sqlite-reader] opened %s", dbPath)
	return &Reader{db: db}, nil
}

// ReadTicks returns a token's ticks with received_at inside [fromMs, toMs],
// ordered ascending. Quote and snap field groups are rebuilt according to
// each row's subscription mode.
func (r *Reader) ReadTicks(token string, fromMs, toMs int64) ([]model.TickRecord, error) {
	rows, err := r.db.Query(`
		SELECT token, exchange_type, subscription_mode,
			sequence_number, exchange_timestamp, ltp,
			last_traded_qty, avg_traded_price, volume, total_buy_qty, total_sell_qty,
			open, high, low, close,
			last_traded_time, open_interest, oi_change_percent,
			upper_circuit, lower_circuit, week_52_high, week_52_low
		FROM market_ticks
		WHERE token = ? AND received_at >= ? AND received_at <= ?
		ORDER BY received_at ASC
	`, token, fromMs, toMs)
	if err != nil {
		return nil, fmt.Errorf("sqlite query ticks: %w", err)
	}
	defer rows.Close()

	var ticks []model.TickRecord
	for rows.Next() {
		var t model.TickRecord
		var exch, mode int
		var q model.QuoteData
		var s model.SnapQuoteData
		err := rows.Scan(
			&t.Token, &exch, &mode,
			&t.SequenceNumber, &t.ExchangeTimestamp, &t.LTP,
			&q.LastTradedQty, &q.AvgTradedPrice, &q.CumulativeVolume, &q.TotalBuyQty, &q.TotalSellQty,
			&q.Open, &q.High, &q.Low, &q.Close,
			&s.LastTradedTime, &s.OpenInterest, &s.OIChangePercent,
			&s.UpperCircuit, &s.LowerCircuit, &s.Week52High, &s.Week52Low,
		)
		if err != nil {
			return nil, fmt.Errorf("sqlite scan tick: %w", err)
		}
		t.Exchange = model.ExchangeType(exch)
		t.Mode = model.SubscriptionMode(mode)
		if t.Mode >= model.ModeQuote {
			t.Quote = &q
		}
		if t.Mode == model.ModeSnapQuote {
			t.Snap = &s
		}
		ticks = append(ticks, t)
	}
	return ticks, rows.Err()
}

// DistinctTokens returns every token with at least one tick in
// [fromMs, toMs], for scan-all-tokens analysis.
func (r *Reader) DistinctTokens(fromMs, toMs int64) ([]string, error) {
	rows, err := r.db.Query(`
		SELECT DISTINCT token FROM market_ticks
		WHERE received_at >= ? AND received_at <= ?
		ORDER BY token
	`, fromMs, toMs)
	if err != nil {
		return nil, fmt.Errorf("sqlite query tokens: %w", err)
	}
	defer rows.Close()

	var tokens []string
	for rows.Next() {
		var tok string
		if err := rows.Scan(&tok); err != nil {
			return nil, fmt.Errorf("sqlite scan token: %w", err)
		}
		tokens = append(tokens, tok)
	}
	return tokens, rows.Err()
}

// ReadCandles returns stored candles for one instrument and interval after
// the given Unix timestamp, ascending. Used to warm the indicator engine
// at startup.
func (r *Reader) ReadCandles(exchange, token string, intervalSec int, afterTS int64) ([]model.Candle, error) {
	rows, err := r.db.Query(`
		SELECT token, exchange, ts, open, high, low, close, volume, ticks
		FROM candles
		WHERE exchange = ? AND token = ? AND interval = ? AND ts > ?
		ORDER BY ts ASC
	`, exchange, token, intervalSec, afterTS)
	if err != nil {
		return nil, fmt.Errorf("sqlite query candles: %w", err)
	}
	defer rows.Close()

	var candles []model.Candle
	for rows.Next() {
		var c model.Candle
		var tsUnix int64
		if err := rows.Scan(&c.Token, &c.Exchange, &tsUnix, &c.Open, &c.High, &c.Low, &c.Close, &c.Volume, &c.Ticks); err != nil {
			return nil, fmt.Errorf("sqlite scan candle: %w", err)
		}
		c.TS = time.Unix(tsUnix, 0).UTC()
		candles = append(candles, c)
	}
	return candles, rows.Err()
}

// ReadLatestSnapshot loads the most recent engine snapshot, nil when none
// has been saved.
func (r *Reader) ReadLatestSnapshot() (*indicator.EngineSnapshot, error) {
	var data string
	err := r.db.QueryRow(`
		SELECT data FROM engine_snapshots
		ORDER BY id DESC
		LIMIT 1
	`).Scan(&data)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("sqlite read snapshot: %w", err)
	}

	var snap indicator.EngineSnapshot
	if err := json.Unmarshal([]byte(data), &snap); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	return &snap, nil
}

// Close closes the reader.
func (r *Reader) Close() error {
	return r.db.Close()
}
