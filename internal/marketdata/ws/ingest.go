// Package ws bridges the broker websocket and the decode pipeline: every
// binary frame is decoded into a TickRecord and pushed through an SPSC ring
// into the aggregator's tick channel.
package ws

import (
	"context"
	"fmt"
	"log"
	"time"

	"trend-enginev1/internal/model"
	"trend-enginev1/internal/protocol"
	"trend-enginev1/internal/ringbuf"
	"trend-enginev1/pkg/smartfeed"
)

// IngestConfig holds configuration for the feed ingest.
type IngestConfig struct {
	AuthToken  string
	APIKey     string
	ClientCode string
	FeedToken  string

	SubscribeMode int
	TokenList     []smartfeed.TokenList

	RingCapacity int // default 16384
}

// Ingest owns the websocket feed and the decode hot path.
type Ingest struct {
	cfg  IngestConfig
	feed *smartfeed.Feed
	ring *ringbuf.Ring

	// Metrics hooks (optional, set externally).
	OnTick        func()
	OnDecodeError func(reason string)
	OnReconnect   func()
	OnConnected   func(bool)
}

// New creates an Ingest instance.
func New(cfg IngestConfig) (*Ingest, error) {
	feed, err := smartfeed.NewFeed(smartfeed.FeedConfig{
		AuthToken:  cfg.AuthToken,
		APIKey:     cfg.APIKey,
		ClientCode: cfg.ClientCode,
		FeedToken:  cfg.FeedToken,
	})
	if err != nil {
		return nil, fmt.Errorf("ws ingest: create feed: %w", err)
	}

	capacity := cfg.RingCapacity
	if capacity <= 0 {
		capacity = 16384
	}

	return &Ingest{cfg: cfg, feed: feed, ring: ringbuf.New(capacity)}, nil
}

// Ring exposes the tick ring for overflow metrics.
func (ing *Ingest) Ring() *ringbuf.Ring { return ing.ring }

// Start connects the feed and pumps decoded ticks into tickCh until ctx is
// cancelled. Decode failures are dropped per frame, never fatal.
func (ing *Ingest) Start(ctx context.Context, tickCh chan<- model.TickRecord) error {
	ing.feed.OnFrame = func(frame []byte) {
		tick, err := protocol.Decode(frame)
		if err != nil {
			if ing.OnDecodeError != nil {
				ing.OnDecodeError(decodeReason(err))
			}
			log.Printf("[ws] decode error: %v", err)
			return
		}
		if ing.OnTick != nil {
			ing.OnTick()
		}
		ing.ring.Push(*tick)
	}

	ing.feed.OnConnect = func() {
		log.Printf("[ws] connected, subscribed mode=%d groups=%d", ing.cfg.SubscribeMode, len(ing.cfg.TokenList))
		if ing.OnConnected != nil {
			ing.OnConnected(true)
		}
	}
	ing.feed.OnReconnect = func(attempt int) {
		if ing.OnConnected != nil {
			ing.OnConnected(false)
		}
		if ing.OnReconnect != nil {
			ing.OnReconnect()
		}
	}

	if err := ing.feed.Subscribe(ing.cfg.SubscribeMode, ing.cfg.TokenList); err != nil {
		return fmt.Errorf("ws ingest: subscribe: %w", err)
	}

	// Drain the ring into the channel from a second goroutine; the ring is
	// strictly producer (read loop) / consumer (this pump).
	go ing.pump(ctx, tickCh)

	err := ing.feed.Run(ctx)
	if ctx.Err() != nil {
		return nil
	}
	return err
}

// pump pops decoded ticks and forwards them, parking briefly when empty.
func (ing *Ingest) pump(ctx context.Context, tickCh chan<- model.TickRecord) {
	for {
		if ctx.Err() != nil {
			return
		}
		tick, ok := ing.ring.Pop()
		if !ok {
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Millisecond):
			}
			continue
		}
		select {
		case tickCh <- tick:
		case <-ctx.Done():
			return
		}
	}
}

func decodeReason(err error) string {
	if de, ok := err.(*protocol.DecodeError); ok {
		return de.Reason
	}
	return "unknown"
}
