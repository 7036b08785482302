package model

import "time"

// Tick is a single market data point for one canonical symbol, timestamped
// to microsecond precision. Prices are plain float64 rupees — unlike the
// teacher's paise-int64 convention — because option premiums need
// sub-rupee resolution the historical datastore already provides decimal.
type Tick struct {
	Symbol string    `json:"symbol"`
	TS     time.Time `json:"ts"`
	LTP    float64   `json:"ltp"`
	LTQ    int64     `json:"ltq"`
	OI     int64     `json:"oi"`
}

// SecondTick is the second-aggregated variant the historical datastore and
// live feed both emit: one row per symbol per second, carrying that
// second's OHLC/volume alongside the instantaneous tick fields.
type SecondTick struct {
	Tick
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume int64   `json:"volume"`
}

// Batch is the set of ticks (index + subscribed options) sharing a
// timestamp second, as yielded by the tick source (spec §4.5).
type Batch struct {
	TS    time.Time
	Ticks []SecondTick
}
