package model

// SubscriptionMode is the feed tier of a decoded frame. It determines which
// field groups are present on a TickRecord.
type SubscriptionMode uint8

const (
	ModeLTP       SubscriptionMode = 1
	ModeQuote     SubscriptionMode = 2
	ModeSnapQuote SubscriptionMode = 3
)

// String returns the wire-protocol name of the mode.
func (m SubscriptionMode) String() string {
	switch m {
	case ModeLTP:
		return "LTP"
	case ModeQuote:
		return "QUOTE"
	case ModeSnapQuote:
		return "SNAP_QUOTE"
	}
	return "UNKNOWN"
}

// ExchangeType identifies the market segment a tick belongs to.
type ExchangeType uint8

const (
	NSECM ExchangeType = 1  // NSE cash
	NSEFO ExchangeType = 2  // NSE futures & options
	BSECM ExchangeType = 3  // BSE cash
	BSEFO ExchangeType = 4  // BSE futures & options
	MCXFO ExchangeType = 5  // MCX commodities
	NCXFO ExchangeType = 7  // NCDEX commodities
	CDEFO ExchangeType = 13 // currency derivatives
)

var exchangeNames = map[ExchangeType]string{
	NSECM: "NSE",
	NSEFO: "NFO",
	BSECM: "BSE",
	BSEFO: "BFO",
	MCXFO: "MCX",
	NCXFO: "NCX",
	CDEFO: "CDE",
}

// Name returns the short exchange name, or "EX<n>" for unknown types.
func (e ExchangeType) Name() string {
	if n, ok := exchangeNames[e]; ok {
		return n
	}
	return "EX" + Itoa(int(e))
}

// PriceDivisor returns the divisor that converts a raw integer price field
// into a quoted price. Currency derivatives quote to 7 decimal places; every
// other segment quotes in paise. The divisor is a property of the market,
// not of the field.
func (e ExchangeType) PriceDivisor() float64 {
	if e == CDEFO {
		return 10000000.0
	}
	return 100.0
}

// DepthLevel is one price level of the best-five order book.
type DepthLevel struct {
	Buy      bool    `json:"buy"`
	Quantity int64   `json:"quantity"`
	Price    float64 `json:"price"`
	Orders   int     `json:"orders"`
}

// QuoteData holds the fields present for QUOTE and SNAP_QUOTE frames.
// CumulativeVolume is the session-cumulative traded quantity as reported by
// the feed; it must pass through normalize.VolumeCorrector before any
// volume math.
type QuoteData struct {
	LastTradedQty    int64   `json:"last_traded_qty"`
	AvgTradedPrice   float64 `json:"avg_traded_price"`
	CumulativeVolume int64   `json:"volume"`
	TotalBuyQty      float64 `json:"total_buy_qty"`
	TotalSellQty     float64 `json:"total_sell_qty"`
	Open             float64 `json:"open"`
	High             float64 `json:"high"`
	Low              float64 `json:"low"`
	Close            float64 `json:"close"`
}

// SnapQuoteData holds the fields present only for SNAP_QUOTE frames.
type SnapQuoteData struct {
	LastTradedTime  int64        `json:"last_traded_time"`
	OpenInterest    int64        `json:"open_interest"`
	OIChangePercent float64      `json:"oi_change_percent"`
	BestFive        []DepthLevel `json:"best_five"` // 10 levels, buy and sell
	UpperCircuit    float64      `json:"upper_circuit"`
	LowerCircuit    float64      `json:"lower_circuit"`
	Week52High      float64      `json:"week_52_high"`
	Week52Low       float64      `json:"week_52_low"`
}

// TickRecord is one decoded market update. It is a tagged variant: Quote is
// nil for LTP frames and Snap is nil for anything below SNAP_QUOTE, so a
// field beyond the mode boundary is structurally absent rather than zeroed.
// Prices are already normalized by the exchange's divisor. The exchange
// timestamp is kept raw because its unit is ambiguous on the wire and is
// inferred per batch by the normalizer.
type TickRecord struct {
	Mode              SubscriptionMode `json:"subscription_mode"`
	Exchange          ExchangeType     `json:"exchange_type"`
	Token             string           `json:"token"`
	SequenceNumber    int64            `json:"sequence_number"`
	ExchangeTimestamp int64            `json:"exchange_timestamp"`
	LTP               float64          `json:"ltp"`

	Quote *QuoteData     `json:"quote,omitempty"`
	Snap  *SnapQuoteData `json:"snap,omitempty"`
}

// Key returns a unique instrument key: "exchange:token".
func (t *TickRecord) Key() string {
	return t.Exchange.Name() + ":" + t.Token
}
