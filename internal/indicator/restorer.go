package indicator

import (
	"log/slog"

	"github.com/sreeanthrds/optionbacktest/internal/model"
)

// Restorer orchestrates indicator Registry warm-up on engine startup. It
// follows a priority chain: checkpoint snapshot (Redis, live mode) →
// historical bulk backfill (store, both modes) → cold start.
type Restorer struct {
	specs  []TimeframeSpec
	logger *slog.Logger
}

// NewRestorer creates a Restorer for the given timeframe indicator specs.
func NewRestorer(specs []TimeframeSpec, logger *slog.Logger) *Restorer {
	return &Restorer{specs: specs, logger: logger}
}

// FromSnapshot builds a Registry and restores as much of snap into it as
// still matches the current specs. A nil snapshot is a cold start.
func (r *Restorer) FromSnapshot(snap *RegistrySnapshot) *Registry {
	reg := NewRegistry(r.specs)
	if snap == nil {
		r.logger.Info("indicator registry cold start: no snapshot found")
		return reg
	}
	restored, cold := reg.Restore(snap)
	r.logger.Info("indicator registry restored from snapshot",
		slog.Int("restored", restored), slog.Int("cold_started", cold), slog.Int("version", snap.Version))
	return reg
}

// BulkSeed seeds a (symbol, timeframe) key's indicator set directly from a
// historical candle slice — the startup path for symbols a snapshot has no
// entry for (e.g. a newly-resolved option contract), and the only path in
// backtest mode where there is no live checkpoint to restore from.
//
// maxLookback caps how many of the most recent candles are replayed — the
// data manager trims its own ring to the same bound (spec §4.1, 500-candle
// ceiling trimmed to 20 retained).
func (r *Restorer) BulkSeed(reg *Registry, key string, candles []model.Candle, maxLookback int) {
	if len(candles) > maxLookback {
		candles = candles[len(candles)-maxLookback:]
	}
	reg.BulkInit(key, candles)
	r.logger.Debug("indicator set bulk-seeded", slog.String("key", key), slog.Int("candles", len(candles)))
}
