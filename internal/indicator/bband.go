package indicator

import (
	"math"

	"github.com/sreeanthrds/optionbacktest/internal/model"
)

// BBand calculates Bollinger Bands: a centre SMA(period) plus upper/lower
// bands at +/- numStdDev standard deviations of the same window. Value()
// returns the centre band; Upper/Lower expose the band edges a strategy
// condition can reference directly.
type BBand struct {
	period    int
	numStdDev float64
	sma       *SMA
	buf       []float64
	idx       int
	count     int
	upper     float64
	lower     float64
}

// NewBBand creates a Bollinger Band indicator with the conventional 2
// standard-deviation width.
func NewBBand(period int) *BBand {
	return &BBand{
		period:    period,
		numStdDev: 2.0,
		sma:       NewSMA(period),
		buf:       make([]float64, period),
	}
}

func (b *BBand) Name() string   { return "BBAND" }
func (b *BBand) Period() int    { return b.period }
func (b *BBand) Value() float64 { return b.sma.Value() }
func (b *BBand) Ready() bool    { return b.count >= b.period }
func (b *BBand) Upper() float64 { return b.upper }
func (b *BBand) Lower() float64 { return b.lower }

func (b *BBand) Update(candle model.Candle) {
	b.sma.Update(candle)
	b.buf[b.idx] = candle.Close
	b.idx = (b.idx + 1) % b.period
	b.count++
	if b.count >= b.period {
		stdDev := b.stdDev()
		b.upper = b.sma.Value() + b.numStdDev*stdDev
		b.lower = b.sma.Value() - b.numStdDev*stdDev
	}
}

// InitializeFrom resets and replays candles through Update, seeding state
// so the next Update matches what Bulk(candles) would have produced.
func (b *BBand) InitializeFrom(candles []model.Candle) {
	b.Reset()
	for _, c := range candles {
		b.Update(c)
	}
}

// Bulk resets and replays candles through Update.
func (b *BBand) Bulk(candles []model.Candle) {
	b.InitializeFrom(candles)
}

func (b *BBand) stdDev() float64 {
	mean := b.sma.Value()
	var sumSq float64
	for _, v := range b.buf {
		d := v - mean
		sumSq += d * d
	}
	return math.Sqrt(sumSq / float64(b.period))
}

// Peek previews the centre band for a forming candle's close; the band
// edges are not recomputed since that needs the full window replaced, not
// previewed — callers needing a live band width should wait for Update.
func (b *BBand) Peek(close float64) float64 {
	return b.sma.Peek(close)
}

// Reset clears all internal state.
func (b *BBand) Reset() {
	b.sma.Reset()
	for i := range b.buf {
		b.buf[i] = 0
	}
	b.idx = 0
	b.count = 0
	b.upper = 0
	b.lower = 0
}

// Snapshot serializes the BBand state for checkpoint persistence.
func (b *BBand) Snapshot() IndicatorSnapshot {
	bufCopy := make([]float64, len(b.buf))
	copy(bufCopy, b.buf)
	smaSnap := b.sma.Snapshot()
	return IndicatorSnapshot{
		Type:    "BBAND",
		Period:  b.period,
		Buf:     bufCopy,
		Idx:     b.idx,
		Count:   b.count,
		Current: b.upper, // reuse fields: Current=upper, PrevClose=lower
		PrevClose: b.lower,
		Fast:    &smaSnap,
	}
}

// RestoreFromSnapshot restores BBand state from a checkpoint.
func (b *BBand) RestoreFromSnapshot(snap IndicatorSnapshot) error {
	b.period = snap.Period
	b.idx = snap.Idx
	b.count = snap.Count
	b.upper = snap.Current
	b.lower = snap.PrevClose
	if len(snap.Buf) > 0 {
		b.buf = make([]float64, len(snap.Buf))
		copy(b.buf, snap.Buf)
	} else {
		b.buf = make([]float64, snap.Period)
	}
	if snap.Fast != nil {
		if err := b.sma.RestoreFromSnapshot(*snap.Fast); err != nil {
			return err
		}
	}
	return nil
}
