package model

import "time"

// Candle is an OHLCV bar for one (symbol, timeframe) pair, with
// BucketStart aligned to the exchange's market open plus k*interval
// (spec §3). A candle is complete once a later-bucket tick arrives; only
// the candle builder produces completed candles.
type Candle struct {
	Symbol      string    `json:"symbol"`
	Timeframe   int       `json:"timeframe"` // minutes
	BucketStart time.Time `json:"bucket_start"`
	Open        float64   `json:"open"`
	High        float64   `json:"high"`
	Low         float64   `json:"low"`
	Close       float64   `json:"close"`
	Volume      int64     `json:"volume"`
}

// Key returns the buffer/indicator key "symbol:timeframe" used throughout
// the data manager and indicator kernel.
func (c Candle) Key() string {
	return c.Symbol + ":" + itoa(c.Timeframe)
}

// WithIndicators pairs a completed candle with the indicator values
// computed from it, as stored in the per-(symbol,timeframe) 20-candle ring.
type WithIndicators struct {
	Candle
	Indicators map[string]float64 // indicator_key -> value, e.g. "EMA_21" -> 21532.4
}

// itoa is a minimal int-to-string converter for hot-path key building,
// kept from the teacher's convention of avoiding strconv on the tick path.
func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	buf := [20]byte{}
	i := len(buf)
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
