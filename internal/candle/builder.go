// Package candle resamples per-second ticks into fixed-timeframe OHLCV
// candles, bucket-aligned to the exchange's market open rather than the
// Unix epoch (spec §3: a 5-minute bucket starts at 09:15, 09:20, 09:25,
// ... IST, never at a wall-clock multiple of 300s) — adapted from the
// teacher's internal/marketdata/tfbuilder package, which aligned to epoch
// since it had no notion of a single daily market session.
package candle

import (
	"time"

	"github.com/sreeanthrds/optionbacktest/internal/markethours"
	"github.com/sreeanthrds/optionbacktest/internal/model"
)

// state holds the forming candle for one (symbol, timeframe) pair.
type state struct {
	bucketStart time.Time
	candle      model.Candle
	started     bool
}

// Builder resamples second ticks into one or more configured timeframes
// per symbol. Not goroutine-safe — intended for single-goroutine use from
// the engine's per-tick loop, matching the teacher's tfbuilder convention.
type Builder struct {
	states map[string]*state // model.Candle.Key() -> forming state

	// StaleTolerance bounds how far behind the current bucket an
	// out-of-order tick may arrive before it is discarded outright rather
	// than merged. Zero disables the check.
	StaleTolerance time.Duration
}

// New creates an empty Builder with the default 2-second stale tolerance.
func New() *Builder {
	return &Builder{
		states:         make(map[string]*state, 64),
		StaleTolerance: 2 * time.Second,
	}
}

// bucketStart aligns t to the timeframe-minute bucket boundary measured
// from that trading day's market open (spec §3).
func bucketStart(t time.Time, timeframeMinutes int) time.Time {
	ist := t.In(markethours.IST)
	open := time.Date(ist.Year(), ist.Month(), ist.Day(), markethours.OpenHour, markethours.OpenMinute, 0, 0, markethours.IST)
	if ist.Before(open) {
		return open
	}
	elapsed := ist.Sub(open)
	interval := time.Duration(timeframeMinutes) * time.Minute
	buckets := elapsed / interval
	return open.Add(buckets * interval)
}

// Process folds one second tick into the forming candle for (symbol,
// timeframe). When the tick's bucket is later than the current forming
// bucket, the prior candle is finalized and returned alongside the new
// forming candle; when the tick belongs to the same bucket, only the
// (now-updated) forming candle is returned. A tick whose bucket is behind
// the forming bucket by more than StaleTolerance is discarded — returns
// (nil, current forming candle, false).
func (b *Builder) Process(symbol string, timeframeMinutes int, tick model.SecondTick) (finalized *model.Candle, forming model.Candle, discarded bool) {
	key := model.Candle{Symbol: symbol, Timeframe: timeframeMinutes}.Key()
	bucket := bucketStart(tick.TS, timeframeMinutes)

	st, exists := b.states[key]

	if exists && bucket.Before(st.bucketStart) {
		lag := st.bucketStart.Sub(bucket)
		if b.StaleTolerance > 0 && lag > b.StaleTolerance {
			return nil, st.candle, true
		}
		// Within tolerance: fold into the current bucket anyway rather
		// than discard, since the bucket itself hasn't advanced.
		bucket = st.bucketStart
	}

	if exists && bucket.After(st.bucketStart) {
		prior := st.candle
		delete(b.states, key)
		finalized = &prior
		exists = false
	}

	if !exists {
		st = &state{
			bucketStart: bucket,
			started:     true,
			candle: model.Candle{
				Symbol:      symbol,
				Timeframe:   timeframeMinutes,
				BucketStart: bucket,
				Open:        tick.Open,
				High:        tick.High,
				Low:         tick.Low,
				Close:       tick.Close,
				Volume:      tick.Volume,
			},
		}
		b.states[key] = st
		return finalized, st.candle, false
	}

	fc := &st.candle
	if tick.High > fc.High {
		fc.High = tick.High
	}
	if tick.Low < fc.Low {
		fc.Low = tick.Low
	}
	fc.Close = tick.Close
	fc.Volume += tick.Volume

	return finalized, st.candle, false
}

// ForceFlush finalizes and removes the forming candle for (symbol,
// timeframe), if any — used at end-of-day so the last partial bucket is
// never silently dropped (spec §4.2).
func (b *Builder) ForceFlush(symbol string, timeframeMinutes int) *model.Candle {
	key := model.Candle{Symbol: symbol, Timeframe: timeframeMinutes}.Key()
	st, exists := b.states[key]
	if !exists || !st.started {
		return nil
	}
	delete(b.states, key)
	c := st.candle
	return &c
}

// FlushAll finalizes and removes every forming candle across all symbols
// and timeframes — the end-of-day path for a backtest day boundary.
func (b *Builder) FlushAll() []model.Candle {
	out := make([]model.Candle, 0, len(b.states))
	for key, st := range b.states {
		if st.started {
			out = append(out, st.candle)
		}
		delete(b.states, key)
	}
	return out
}
