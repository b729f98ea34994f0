// Package redis publishes finished candles and analysis results for
// downstream consumers: a capped stream per instrument for history, a
// latest-value key with TTL for dashboards, and pub/sub for push delivery.
package redis

import (
	"context"
	"fmt"
	"log"
	"time"

	"trend-enginev1/internal/model"

	goredis "github.com/go-redis/redis/v8"
)

const (
	// Stream trimming: ~3h of 1m candles + buffer.
	defaultStreamMaxLen = 200
	defaultLatestTTL    = 30 * time.Minute
)

// WriterConfig configures the Redis writer.
type WriterConfig struct {
	Addr     string // Redis address, e.g. "localhost:6379"
	Password string
	DB       int

	StreamMaxLen int64
}

// Writer writes candles and analysis results to Redis.
type Writer struct {
	client    *goredis.Client
	maxLen    int64
	latestTTL time.Duration

	// OnWrite is called with the write latency (optional).
	OnWrite func(dur time.Duration)
}

// Client returns the underlying Redis client for health checks.
func (w *Writer) Client() *goredis.Client { return w.client }

// New creates a Redis Writer and pings the server.
func New(cfg WriterConfig) (*Writer, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	maxLen := cfg.StreamMaxLen
	if maxLen <= 0 {
		maxLen = defaultStreamMaxLen
	}

	log.Printf("[redis] connected to %s", cfg.Addr)
	return &Writer{client: client, maxLen: maxLen, latestTTL: defaultLatestTTL}, nil
}

// RunCandles reads finished candles from candleCh and writes them to Redis.
// Blocks until ctx is cancelled or candleCh is closed.
func (w *Writer) RunCandles(ctx context.Context, intervalSec int, candleCh <-chan model.Candle) {
	for {
		select {
		case <-ctx.Done():
			return
		case candle, ok := <-candleCh:
			if !ok {
				return
			}
			w.writeCandle(ctx, intervalSec, candle)
		}
	}
}

// writeCandle pipelines XADD + SET latest + PUBLISH for one candle.
func (w *Writer) writeCandle(ctx context.Context, intervalSec int, c model.Candle) {
	jsonData := string(c.JSON())
	streamKey := c.StreamKey(intervalSec)
	latestKey := streamKey + ":latest"
	pubsubCh := "pub:" + streamKey

	start := time.Now()
	pipe := w.client.Pipeline()
	pipe.XAdd(ctx, &goredis.XAddArgs{
		Stream: streamKey,
		MaxLen: w.maxLen,
		Approx: true,
		Values: map[string]interface{}{"data": jsonData},
	})
	pipe.Set(ctx, latestKey, jsonData, w.latestTTL)
	pipe.Publish(ctx, pubsubCh, jsonData)
	if _, err := pipe.Exec(ctx); err != nil {
		log.Printf("[redis] candle pipeline error %s: %v", c.Key(), err)
		return
	}
	if w.OnWrite != nil {
		w.OnWrite(time.Since(start))
	}
}

// WriteAnalysis stores the latest analysis result for a token and publishes
// it, in one roundtrip.
func (w *Writer) WriteAnalysis(ctx context.Context, res *model.AnalysisResult) error {
	jsonData := string(res.JSON())

	start := time.Now()
	pipe := w.client.Pipeline()
	pipe.Set(ctx, res.LatestKey(), jsonData, w.latestTTL)
	pipe.Publish(ctx, "pub:analysis:"+res.Token, jsonData)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis analysis pipeline: %w", err)
	}
	if w.OnWrite != nil {
		w.OnWrite(time.Since(start))
	}
	return nil
}

// Close closes the client.
func (w *Writer) Close() error {
	return w.client.Close()
}
