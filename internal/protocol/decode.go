// Package protocol decodes the broker's binary market-data frames into typed
// tick records. The layout is fixed little-endian and versionless: the
// subscription-mode byte at offset 0 decides how far the frame extends, and
// every raw integer price is scaled by the exchange's divisor before it is
// stored. The decoder is a pure function; it performs no I/O and keeps no
// state.
package protocol

import (
	"encoding/binary"
	"fmt"
	"math"

	"trend-enginev1/internal/model"
)

// Frame sizes in bytes for each subscription mode.
const (
	ltpFrameLen       = 51
	quoteFrameLen     = 123
	snapQuoteFrameLen = 379

	tokenLen       = 25
	depthEntryLen  = 20
	depthEntries   = 10
	depthSideBuy   = 1
	depthBlockLen  = depthEntryLen * depthEntries
	depthBlockOff  = 147
	circuitsOffset = depthBlockOff + depthBlockLen // 347
)

// DecodeError reports a frame that could not be decoded. It is fatal for the
// frame only; callers log it and move on to the next message.
type DecodeError struct {
	Reason string
	Mode   byte
	Len    int
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("protocol: %s (mode=%d, len=%d)", e.Reason, e.Mode, e.Len)
}

// Decode parses a single binary frame into a TickRecord. Fields beyond the
// frame's subscription-mode boundary are left absent (nil sections), never
// defaulted.
func Decode(b []byte) (*model.TickRecord, error) {
	if len(b) < ltpFrameLen {
		var mode byte
		if len(b) > 0 {
			mode = b[0]
		}
		return nil, &DecodeError{Reason: "frame shorter than LTP header", Mode: mode, Len: len(b)}
	}

	mode := model.SubscriptionMode(b[0])
	switch mode {
	case model.ModeLTP, model.ModeQuote, model.ModeSnapQuote:
	default:
		return nil, &DecodeError{Reason: "unknown subscription mode", Mode: b[0], Len: len(b)}
	}

	ex := model.ExchangeType(b[1])
	div := ex.PriceDivisor()

	rec := &model.TickRecord{
		Mode:              mode,
		Exchange:          ex,
		Token:             tokenString(b[2 : 2+tokenLen]),
		SequenceNumber:    int64(binary.LittleEndian.Uint64(b[27:35])),
		ExchangeTimestamp: int64(binary.LittleEndian.Uint64(b[35:43])),
		// 4-byte raw LTP at 43:47; 47:51 is padding.
		LTP: float64(int32(binary.LittleEndian.Uint32(b[43:47]))) / div,
	}

	if mode == model.ModeLTP {
		return rec, nil
	}

	if len(b) < quoteFrameLen {
		return nil, &DecodeError{Reason: "frame shorter than QUOTE body", Mode: b[0], Len: len(b)}
	}

	rec.Quote = &model.QuoteData{
		LastTradedQty:    int64(binary.LittleEndian.Uint64(b[51:59])),
		AvgTradedPrice:   float64(int64(binary.LittleEndian.Uint64(b[59:67]))) / div,
		CumulativeVolume: int64(binary.LittleEndian.Uint64(b[67:75])),
		TotalBuyQty:      math.Float64frombits(binary.LittleEndian.Uint64(b[75:83])),
		TotalSellQty:     math.Float64frombits(binary.LittleEndian.Uint64(b[83:91])),
		Open:             float64(int64(binary.LittleEndian.Uint64(b[91:99]))) / div,
		High:             float64(int64(binary.LittleEndian.Uint64(b[99:107]))) / div,
		Low:              float64(int64(binary.LittleEndian.Uint64(b[107:115]))) / div,
		Close:            float64(int64(binary.LittleEndian.Uint64(b[115:123]))) / div,
	}

	if mode == model.ModeQuote {
		return rec, nil
	}

	if len(b) < snapQuoteFrameLen {
		return nil, &DecodeError{Reason: "frame shorter than SNAP_QUOTE body", Mode: b[0], Len: len(b)}
	}

	rec.Snap = &model.SnapQuoteData{
		LastTradedTime:  int64(binary.LittleEndian.Uint64(b[123:131])),
		OpenInterest:    int64(binary.LittleEndian.Uint64(b[131:139])),
		OIChangePercent: math.Float64frombits(binary.LittleEndian.Uint64(b[139:147])),
		BestFive:        decodeDepth(b[depthBlockOff:circuitsOffset], div),
		UpperCircuit:    float64(int64(binary.LittleEndian.Uint64(b[347:355]))) / div,
		LowerCircuit:    float64(int64(binary.LittleEndian.Uint64(b[355:363]))) / div,
		Week52High:      float64(int64(binary.LittleEndian.Uint64(b[363:371]))) / div,
		Week52Low:       float64(int64(binary.LittleEndian.Uint64(b[371:379]))) / div,
	}

	return rec, nil
}

// decodeDepth parses the 10 fixed 20-byte best-five entries.
func decodeDepth(b []byte, div float64) []model.DepthLevel {
	levels := make([]model.DepthLevel, 0, depthEntries)
	for i := 0; i+depthEntryLen <= len(b); i += depthEntryLen {
		p := b[i : i+depthEntryLen]
		levels = append(levels, model.DepthLevel{
			Buy:      binary.LittleEndian.Uint16(p[0:2]) == depthSideBuy,
			Quantity: int64(binary.LittleEndian.Uint64(p[2:10])),
			Price:    float64(int64(binary.LittleEndian.Uint64(p[10:18]))) / div,
			Orders:   int(binary.LittleEndian.Uint16(p[18:20])),
		})
	}
	return levels
}

// tokenString trims the fixed-width null-padded token field.
func tokenString(b []byte) string {
	for i := 0; i < len(b); i++ {
		if b[i] == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}
