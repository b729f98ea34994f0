// Package sqlite persists decoded ticks, finished candles, and indicator
// engine snapshots. One single-connection writer with transaction batching;
// a separate read-only Reader serves the batch analyzer.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"trend-enginev1/internal/indicator"
	"trend-enginev1/internal/model"

	_ "github.com/mattn/go-sqlite3"
)

const (
	defaultBatchSize  = 100
	defaultFlushDelay = 200 * time.Millisecond

	snapshotsKept = 10
)

// WriterConfig configures the SQLite writer.
type WriterConfig struct {
	DBPath string // path to SQLite database file, e.g. "data/market_data.db"
}

// Writer is a single-goroutine SQLite writer with transaction batching.
type Writer struct {
	db *sql.DB

	// OnCommit is called with the batch size and commit latency (optional).
	OnCommit func(n int, dur time.Duration)
}

// DB returns the underlying sql.DB for health checks.
func (w *Writer) DB() *sql.DB { return w.db }

// New creates a Writer and initializes the database with WAL mode and the
// schema.
func New(cfg WriterConfig) (*Writer, error) {
	db, err := sql.Open("sqlite3", cfg.DBPath+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}

	// Single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := createSchema(db); err != nil {
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}

	log.Printf("[sqlite] opened database at %s", cfg.DBPath)
	return &Writer{db: db}, nil
}

func createSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS market_ticks (
			id INTEGER PRIMARY KEY AUTOINCREMENT,

			token              TEXT    NOT NULL,
			exchange_type      INTEGER NOT NULL,
			subscription_mode  INTEGER NOT NULL,

			sequence_number    INTEGER,
			exchange_timestamp INTEGER NOT NULL,

			ltp REAL,

			last_traded_qty  INTEGER,
			avg_traded_price REAL,
			volume           INTEGER,
			total_buy_qty    REAL,
			total_sell_qty   REAL,

			open  REAL,
			high  REAL,
			low   REAL,
			close REAL,

			last_traded_time  INTEGER,
			open_interest     INTEGER,
			oi_change_percent REAL,

			upper_circuit REAL,
			lower_circuit REAL,
			week_52_high  REAL,
			week_52_low   REAL,

			received_at INTEGER NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_token_ts
			ON market_ticks (token, exchange_timestamp);
		CREATE UNIQUE INDEX IF NOT EXISTS uniq_token_exchange_ts
			ON market_ticks (token, exchange_timestamp);

		CREATE TABLE IF NOT EXISTS candles (
			token    TEXT    NOT NULL,
			exchange TEXT    NOT NULL,
			interval INTEGER NOT NULL,
			ts       INTEGER NOT NULL,
			open     REAL    NOT NULL,
			high     REAL    NOT NULL,
			low      REAL    NOT NULL,
			close    REAL    NOT NULL,
			volume   INTEGER,
			ticks    INTEGER,
			PRIMARY KEY (exchange, token, interval, ts)
		);

		CREATE TABLE IF NOT EXISTS engine_snapshots (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			data       TEXT    NOT NULL,
			created_at INTEGER NOT NULL DEFAULT (strftime('%s', 'now'))
		);
	`)
	return err
}

// Run reads ticks from tickCh and inserts them in batched transactions.
// Duplicates (same token and exchange timestamp) are silently ignored by
// the unique index. Flushes every batchSize ticks OR every flushDelay,
// whichever comes first. Blocks until ctx is cancelled or tickCh closes.
func (w *Writer) Run(ctx context.Context, tickCh <-chan model.TickRecord) {
	batch := make([]model.TickRecord, 0, defaultBatchSize)
	timer := time.NewTimer(defaultFlushDelay)
	defer timer.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		start := time.Now()
		if err := w.insertTickBatch(batch); err != nil {
			log.Printf("[sqlite] tick batch insert error: %v", err)
		} else if w.OnCommit != nil {
			w.OnCommit(len(batch), time.Since(start))
		}
		batch = batch[:0]
	}

	for {
		select {
		case <-ctx.Done():
			flush()
			return

		case tick, ok := <-tickCh:
			if !ok {
				flush()
				return
			}
			batch = append(batch, tick)
			if len(batch) >= defaultBatchSize {
				flush()
				timer.Reset(defaultFlushDelay)
			}

		case <-timer.C:
			flush()
			timer.Reset(defaultFlushDelay)
		}
	}
}

// insertTickBatch inserts a batch of ticks in a single transaction.
func (w *Writer) insertTickBatch(ticks []model.TickRecord) error {
	tx, err := w.db.Begin()
	if err != nil {
		return err
	}

	stmt, err := tx.Prepare(`
		INSERT OR IGNORE INTO market_ticks (
			token, exchange_type, subscription_mode,
			sequence_number, exchange_timestamp, ltp,
			last_traded_qty, avg_traded_price, volume, total_buy_qty, total_sell_qty,
			open, high, low, close,
			last_traded_time, open_interest, oi_change_percent,
			upper_circuit, lower_circuit, week_52_high, week_52_low,
			received_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()

	now := time.Now().UnixMilli()
	for i := range ticks {
		t := &ticks[i]
		q := t.Quote
		if q == nil {
			q = &model.QuoteData{}
		}
		s := t.Snap
		if s == nil {
			s = &model.SnapQuoteData{}
		}
		_, err := stmt.Exec(
			t.Token, int(t.Exchange), int(t.Mode),
			t.SequenceNumber, t.ExchangeTimestamp, t.LTP,
			q.LastTradedQty, q.AvgTradedPrice, q.CumulativeVolume, q.TotalBuyQty, q.TotalSellQty,
			q.Open, q.High, q.Low, q.Close,
			s.LastTradedTime, s.OpenInterest, s.OIChangePercent,
			s.UpperCircuit, s.LowerCircuit, s.Week52High, s.Week52Low,
			now,
		)
		if err != nil {
			tx.Rollback()
			return err
		}
	}

	return tx.Commit()
}

// RunCandles reads finished candles and inserts them in batched
// transactions under the given interval tag.
func (w *Writer) RunCandles(ctx context.Context, intervalSec int, candleCh <-chan model.Candle) {
	batch := make([]model.Candle, 0, defaultBatchSize)
	timer := time.NewTimer(defaultFlushDelay)
	defer timer.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		start := time.Now()
		if err := w.insertCandleBatch(intervalSec, batch); err != nil {
			log.Printf("[sqlite] candle batch insert error: %v", err)
		} else if w.OnCommit != nil {
			w.OnCommit(len(batch), time.Since(start))
		}
		batch = batch[:0]
	}

	for {
		select {
		case <-ctx.Done():
			flush()
			return
		case c, ok := <-candleCh:
			if !ok {
				flush()
				return
			}
			batch = append(batch, c)
			if len(batch) >= defaultBatchSize {
				flush()
				timer.Reset(defaultFlushDelay)
			}
		case <-timer.C:
			flush()
			timer.Reset(defaultFlushDelay)
		}
	}
}

func (w *Writer) insertCandleBatch(intervalSec int, candles []model.Candle) error {
	tx, err := w.db.Begin()
	if err != nil {
		return err
	}

	stmt, err := tx.Prepare(`
		INSERT OR REPLACE INTO candles (token, exchange, interval, ts, open, high, low, close, volume, ticks)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()

	for _, c := range candles {
		_, err := stmt.Exec(c.Token, c.Exchange, intervalSec, c.TS.Unix(), c.Open, c.High, c.Low, c.Close, c.Volume, c.Ticks)
		if err != nil {
			tx.Rollback()
			return err
		}
	}

	return tx.Commit()
}

// LastTickTimestamp returns the newest stored exchange timestamp for a
// token, 0 when none exist.
func (w *Writer) LastTickTimestamp(token string) (int64, error) {
	var ts sql.NullInt64
	err := w.db.QueryRow(
		`SELECT MAX(exchange_timestamp) FROM market_ticks WHERE token = ?`, token,
	).Scan(&ts)
	if err != nil {
		return 0, err
	}
	if !ts.Valid {
		return 0, nil
	}
	return ts.Int64, nil
}

// SaveSnapshot persists an indicator engine snapshot, pruning all but the
// most recent few.
func (w *Writer) SaveSnapshot(snap *indicator.EngineSnapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	if _, err := w.db.Exec(`INSERT INTO engine_snapshots (data) VALUES (?)`, string(data)); err != nil {
		return fmt.Errorf("sqlite insert snapshot: %w", err)
	}

	_, err = w.db.Exec(`DELETE FROM engine_snapshots WHERE id NOT IN
		(SELECT id FROM engine_snapshots ORDER BY id DESC LIMIT ?)`, snapshotsKept)
	if err != nil {
		log.Printf("[sqlite] prune snapshots warning: %v", err)
	}
	return nil
}

// Close closes the database.
func (w *Writer) Close() error {
	return w.db.Close()
}
