// Package agg builds fixed-interval OHLCV candles from a live tick stream.
package agg

import (
	"context"
	"log"
	"sync"
	"time"

	"trend-enginev1/internal/model"
	"trend-enginev1/internal/normalize"
)

// candleState holds the in-progress candle for one instrument in the current
// interval bucket.
type candleState struct {
	bucket  int64 // interval-aligned Unix second of this bucket
	lastSeq int64
	candle  model.Candle
}

// Aggregator builds interval candles from a stream of decoded ticks. It runs
// in a single goroutine and emits a candle only when its bucket rolls over,
// so every emitted candle is final.
type Aggregator struct {
	mu     sync.Mutex
	states map[string]*candleState // key = "exchange:token"
	// Volume correctors outlive the candle state: the previous-cumulative
	// scalar must survive bucket flushes for the life of the process.
	vols map[string]*normalize.VolumeCorrector

	intervalSec   int64
	unit          normalize.TimeUnit
	flushInterval time.Duration

	// Metrics hooks (optional, set externally)
	OnDroppedTick func(reason string)
}

// New creates an Aggregator producing candles of the given interval. The
// time unit applies to every tick's raw exchange timestamp; the live feed
// reports seconds.
func New(intervalSec int, unit normalize.TimeUnit) *Aggregator {
	if intervalSec <= 0 {
		intervalSec = 1
	}
	return &Aggregator{
		states:        make(map[string]*candleState),
		vols:          make(map[string]*normalize.VolumeCorrector),
		intervalSec:   int64(intervalSec),
		unit:          unit,
		flushInterval: 100 * time.Millisecond, // check frequency for bucket rollover
	}
}

// Run consumes ticks from tickCh in a single goroutine, aggregates them into
// interval candles, and sends finalized candles to candleCh. Blocks until
// ctx is cancelled or tickCh closes.
func (a *Aggregator) Run(ctx context.Context, tickCh <-chan model.TickRecord, candleCh chan<- model.Candle) {
	ticker := time.NewTicker(a.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			a.FlushAll(candleCh)
			return

		case tick, ok := <-tickCh:
			if !ok {
				a.FlushAll(candleCh)
				return
			}
			a.Process(&tick, candleCh)

		case <-ticker.C:
			a.flushOld(candleCh)
		}
	}
}

// Process incorporates one tick into the candle state, emitting any candle
// the tick finalizes. Exported so batch callers can drive the aggregator
// without the Run loop.
func (a *Aggregator) Process(tick *model.TickRecord, candleCh chan<- model.Candle) {
	bucket := a.bucketOf(tick.ExchangeTimestamp)
	key := tick.Key()

	a.mu.Lock()
	defer a.mu.Unlock()

	state, exists := a.states[key]

	if exists && bucket < state.bucket {
		// Late tick, belongs to an already-closed bucket.
		a.drop("late")
		return
	}
	if exists && tick.SequenceNumber > 0 && tick.SequenceNumber <= state.lastSeq {
		// Stale or duplicate frame within the same bucket.
		a.drop("stale_seq")
		return
	}

	var delta int64
	if tick.Quote != nil {
		vc := a.vols[key]
		if vc == nil {
			vc = &normalize.VolumeCorrector{}
			a.vols[key] = vc
		}
		delta = vc.Delta(tick.Quote.CumulativeVolume)
	}

	if exists && bucket > state.bucket {
		// The delta straddling the boundary is re-baselined, not booked;
		// a fresh bucket always opens with volume 0.
		a.emit(state, candleCh)
		state.bucket = bucket
		state.candle = a.newCandle(tick, bucket)
		state.lastSeq = tick.SequenceNumber
		return
	}

	if !exists {
		state = &candleState{bucket: bucket, lastSeq: tick.SequenceNumber}
		state.candle = a.newCandle(tick, bucket)
		a.states[key] = state
		return
	}

	// Same bucket, update OHLC in place.
	c := &state.candle
	if tick.LTP > c.High {
		c.High = tick.LTP
	}
	if tick.LTP < c.Low {
		c.Low = tick.LTP
	}
	c.Close = tick.LTP
	c.Volume += delta
	c.Ticks++
	state.lastSeq = tick.SequenceNumber
}

func (a *Aggregator) newCandle(tick *model.TickRecord, bucket int64) model.Candle {
	return model.Candle{
		Token:    tick.Token,
		Exchange: tick.Exchange.Name(),
		TS:       time.Unix(bucket, 0).UTC(),
		Open:     tick.LTP,
		High:     tick.LTP,
		Low:      tick.LTP,
		Close:    tick.LTP,
		Ticks:    1,
	}
}

func (a *Aggregator) bucketOf(raw int64) int64 {
	sec := a.unit.ToUnixSeconds(raw)
	return sec - sec%a.intervalSec
}

// drop invokes the dropped-tick hook without holding the lock across the
// callback.
func (a *Aggregator) drop(reason string) {
	hook := a.OnDroppedTick
	if hook == nil {
		return
	}
	a.mu.Unlock()
	hook(reason)
	a.mu.Lock()
}

// flushOld emits candles for any bucket strictly older than the current one.
func (a *Aggregator) flushOld(candleCh chan<- model.Candle) {
	cutoff := time.Now().Unix()
	cutoff -= cutoff % a.intervalSec

	a.mu.Lock()
	defer a.mu.Unlock()

	for key, state := range a.states {
		if state.bucket < cutoff {
			a.emit(state, candleCh)
			delete(a.states, key)
		}
	}
}

// FlushAll emits every open candle regardless of bucket. Used on shutdown
// and by batch callers at end of input.
func (a *Aggregator) FlushAll(candleCh chan<- model.Candle) {
	a.mu.Lock()
	defer a.mu.Unlock()

	for key, state := range a.states {
		a.emit(state, candleCh)
		delete(a.states, key)
	}
}

// emit sends a finalized candle to candleCh. Non-blocking to avoid deadlocks
// when the downstream stalls.
func (a *Aggregator) emit(state *candleState, candleCh chan<- model.Candle) {
	select {
	case candleCh <- state.candle:
	default:
		log.Printf("[agg] candleCh full, dropping candle %s ts=%v", state.candle.Key(), state.candle.TS)
	}
}
