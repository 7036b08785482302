// Package ticksource merges index ticks and dynamically-subscribed option
// ticks into one chronological per-second stream for the engine to consume
// (spec §4.5). Two implementations satisfy the same Source interface: a
// backtest variant replaying a historical day from internal/store/sqlite,
// and a live variant relaying a real-time broker feed.
package ticksource

import (
	"time"

	"github.com/sreeanthrds/optionbacktest/internal/model"
)

// Source yields one merged tick batch per second, in chronological order,
// until the day (or the live session) is exhausted.
type Source interface {
	// Next returns the next batch, or ok=false once the source is
	// exhausted (end of trading day for backtest, context cancellation
	// for live).
	Next() (batch model.Batch, ok bool, err error)
}

// UniverseResolver is the §4.4 option universe resolver's contribution to
// the per-second cycle: given an index tick, it may resolve and subscribe
// new option contracts. Satisfied by *optionuniverse.Resolver.
type UniverseResolver interface {
	OnUnderlyingTick(underlying string, spot float64, day, ts time.Time) ([]string, error)
}

// OptionDrainer yields every buffered option tick whose timestamp equals
// ts, across every contract subscribed so far. Satisfied by
// *datamanager.Manager.
type OptionDrainer interface {
	TicksAt(ts time.Time) []model.SecondTick
}
