// Package resample groups historical ticks or finer candles into
// fixed-interval candles. It is the batch counterpart of agg: the whole
// input is in hand, so candles come out sorted and empty buckets simply do
// not exist.
package resample

import (
	"sort"
	"time"

	"trend-enginev1/internal/model"
	"trend-enginev1/internal/normalize"
)

// Ticks builds interval candles from a batch of decoded ticks of a single
// instrument set. Ticks are processed in exchange-timestamp order; the
// cumulative session volume is delta-corrected per instrument before it is
// summed into buckets. Buckets that received no tick are absent from the
// output, not zero-filled.
func Ticks(ticks []model.TickRecord, unit normalize.TimeUnit, intervalSec int) []model.Candle {
	if intervalSec <= 0 {
		intervalSec = 1
	}
	ordered := make([]*model.TickRecord, len(ticks))
	for i := range ticks {
		ordered[i] = &ticks[i]
	}
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].ExchangeTimestamp < ordered[j].ExchangeTimestamp
	})

	iv := int64(intervalSec)
	correctors := make(map[string]*normalize.VolumeCorrector)
	buckets := make(map[string]*model.Candle)
	order := make([]string, 0, len(ticks)/4+1)

	for _, t := range ordered {
		sec := unit.ToUnixSeconds(t.ExchangeTimestamp)
		bucket := sec - sec%iv
		key := t.Key() + "@" + model.Itoa(int(bucket))

		var delta int64
		if t.Quote != nil {
			vc := correctors[t.Key()]
			if vc == nil {
				vc = &normalize.VolumeCorrector{}
				correctors[t.Key()] = vc
			}
			delta = vc.Delta(t.Quote.CumulativeVolume)
		}

		c, ok := buckets[key]
		if !ok {
			buckets[key] = &model.Candle{
				Token:    t.Token,
				Exchange: t.Exchange.Name(),
				TS:       time.Unix(bucket, 0).UTC(),
				Open:     t.LTP,
				High:     t.LTP,
				Low:      t.LTP,
				Close:    t.LTP,
				Volume:   delta,
				Ticks:    1,
			}
			order = append(order, key)
			continue
		}
		if t.LTP > c.High {
			c.High = t.LTP
		}
		if t.LTP < c.Low {
			c.Low = t.LTP
		}
		c.Close = t.LTP
		c.Volume += delta
		c.Ticks++
	}

	out := make([]model.Candle, 0, len(order))
	for _, key := range order {
		out = append(out, *buckets[key])
	}
	return out
}

// Candles merges finer candles of one instrument into coarser buckets:
// first open, max high, min low, last close, summed volume. Input must be
// in time order.
func Candles(in []model.Candle, intervalSec int) []model.Candle {
	if intervalSec <= 0 || len(in) == 0 {
		return nil
	}
	iv := int64(intervalSec)
	out := make([]model.Candle, 0, len(in)/intervalSec+1)

	var cur *model.Candle
	var curBucket int64
	for i := range in {
		c := &in[i]
		ts := c.TS.Unix()
		bucket := ts - ts%iv
		if cur == nil || bucket != curBucket {
			out = append(out, model.Candle{
				Token:    c.Token,
				Exchange: c.Exchange,
				TS:       time.Unix(bucket, 0).UTC(),
				Open:     c.Open,
				High:     c.High,
				Low:      c.Low,
				Close:    c.Close,
				Volume:   c.Volume,
				Ticks:    c.Ticks,
			})
			cur = &out[len(out)-1]
			curBucket = bucket
			continue
		}
		if c.High > cur.High {
			cur.High = c.High
		}
		if c.Low < cur.Low {
			cur.Low = c.Low
		}
		cur.Close = c.Close
		cur.Volume += c.Volume
		cur.Ticks += c.Ticks
	}
	return out
}
