package model

import (
	"encoding/json"
	"time"
)

// Candle is an OHLCV summary for one fixed time bucket of a single
// instrument. Volume is the period volume (already delta-corrected), never
// the feed's cumulative counter.
type Candle struct {
	Token    string    `json:"token"`
	Exchange string    `json:"exchange"`
	TS       time.Time `json:"ts"` // bucket start (UTC, interval-aligned)
	Open     float64   `json:"open"`
	High     float64   `json:"high"`
	Low      float64   `json:"low"`
	Close    float64   `json:"close"`
	Volume   int64     `json:"volume"`
	Ticks    int       `json:"ticks"` // number of ticks aggregated
}

// Key returns a unique key for this candle's instrument: "exchange:token".
func (c *Candle) Key() string {
	return c.Exchange + ":" + c.Token
}

// StreamKey returns the Redis stream key for candles of this instrument at
// the given interval: "candle:{interval}s:{exchange}:{token}".
func (c *Candle) StreamKey(intervalSec int) string {
	return "candle:" + Itoa(intervalSec) + "s:" + c.Exchange + ":" + c.Token
}

// JSON returns the JSON-encoded candle (ignoring errors for hot-path usage).
func (c *Candle) JSON() []byte {
	b, _ := json.Marshal(c)
	return b
}

// Itoa is a minimal int-to-string converter for hot-path usage.
// Avoids importing strconv to eliminate unnecessary overhead.
func Itoa(n int) string {
	if n == 0 {
		return "0"
	}
	buf := [20]byte{}
	i := len(buf)
	neg := n < 0
	if neg {
		n = -n
	}
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}
