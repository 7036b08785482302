// Package indicator computes technical indicators over candle series.
//
// Every indicator supports two update paths that must agree within 1e-6:
// Bulk, which (re)initializes state from a historical candle slice, and
// Update, which folds in one new finalized candle incrementally. Peek
// previews the value a forming (not-yet-finalized) candle's close would
// produce, without mutating state — used to surface live indicator values
// every tick ahead of bucket close.
package indicator

import "github.com/sreeanthrds/optionbacktest/internal/model"

// Indicator is the interface every technical indicator implements.
type Indicator interface {
	// Name returns the indicator family name, e.g. "SMA", "EMA", "RSI".
	Name() string

	// Period returns the lookback period the indicator was constructed with.
	Period() int

	// Bulk resets the indicator and replays it over candles in order. Used
	// to initialize an indicator from up to 500 historical candles (spec
	// §4.1) before live ticks arrive.
	Bulk(candles []model.Candle)

	// InitializeFrom seeds internal state from candles so that the next
	// Update produces the value Bulk(candles) would have produced for the
	// following candle (spec §4.1). The initialization kernel verifies this
	// agrees with Bulk over the full history within 1e-6; any indicator
	// whose InitializeFrom diverges from its Bulk path is a bug this
	// comparison is meant to catch, not an architectural requirement that
	// the two share code.
	InitializeFrom(candles []model.Candle)

	// Update feeds one new finalized candle and recalculates incrementally.
	Update(candle model.Candle)

	// Value returns the current value. Returns 0 when not Ready.
	Value() float64

	// Ready reports whether enough candles have been seen to produce a
	// meaningful value.
	Ready() bool

	// Peek computes what Value() would be if a candle with this close were
	// folded in next, without mutating state.
	Peek(close float64) float64

	// Reset clears all state, as if newly constructed.
	Reset()
}

// New constructs an indicator instance by family name and period. Unknown
// names are a caller bug — unlike a data-layer miss, this never has a safe
// fallback, so it panics rather than silently substituting a different
// indicator.
func New(name string, period int) Indicator {
	switch name {
	case "SMA":
		return NewSMA(period)
	case "EMA":
		return NewEMA(period)
	case "SMMA":
		return NewSMMA(period)
	case "RSI":
		return NewRSI(period)
	case "MACD":
		return NewMACD(period)
	case "BBAND":
		return NewBBand(period)
	default:
		panic("indicator: unknown indicator type " + name)
	}
}
