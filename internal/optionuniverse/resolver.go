// Package optionuniverse translates a strategy's declarative option
// patterns ("NIFTY:W0:ATM:CE") into concrete, subscribed contracts as the
// underlying's spot price moves (spec §4.4). It tracks each underlying's
// last-resolved ATM, only re-resolves when the spot has shifted by a full
// strike interval, and never drops a previously subscribed contract.
package optionuniverse

import (
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"time"

	"github.com/sreeanthrds/optionbacktest/internal/engerr"
	"github.com/sreeanthrds/optionbacktest/internal/model"
)

// defaultStrikeIntervals is the fixed per-underlying strike interval table
// (spec §9 REDESIGN FLAG: some source paths recomputed this inconsistently;
// the spec fixes one table for every resolver call site).
var defaultStrikeIntervals = map[string]float64{
	"NIFTY":      50,
	"BANKNIFTY":  100,
	"FINNIFTY":   50,
	"MIDCPNIFTY": 25,
	"SENSEX":     100,
	"BANKEX":     100,
}

const defaultStrikeInterval = 100

// StrikeInterval returns the fixed strike interval for an underlying,
// falling back to the spec's default of 100 for anything not in the table.
func StrikeInterval(underlying string) float64 {
	if iv, ok := defaultStrikeIntervals[underlying]; ok {
		return iv
	}
	return defaultStrikeInterval
}

// ExpiryResolver resolves an abstract expiry code to a concrete date,
// satisfied by *expiry.Calculator.
type ExpiryResolver interface {
	Resolve(underlying, code string, referenceDate time.Time) (time.Time, error)
}

// ContractLoader subscribes a concrete option contract from the current
// cursor timestamp forward, satisfied by *datamanager.Manager.
type ContractLoader interface {
	LoadOptionContract(contractKey string, day, fromTS time.Time) (float64, error)
}

// Resolver holds one strategy document's option patterns and resolves them
// against each underlying's moving spot price.
type Resolver struct {
	patterns []model.OptionPattern
	expiry   ExpiryResolver
	loader   ContractLoader
	logger   *slog.Logger

	// lastATM only updates when a resolution pass actually runs, so the
	// "shifted by >= one interval" comparison is always against the ATM
	// that produced the currently active contracts, not the prior tick's
	// raw spot-derived ATM (spec §4.4 "Rebalance").
	lastATM map[string]float64

	// resolved caches (pattern, atm) -> canonical symbol so an ATM that
	// oscillates back to a previously seen value reuses the same contract
	// instead of re-deriving it (spec §4.4: "Cache ... so oscillations
	// reuse symbols").
	resolved map[string]string

	active map[string]bool
}

// NewResolver builds a Resolver for one strategy document's set of option
// patterns.
func NewResolver(patterns []model.OptionPattern, expiry ExpiryResolver, loader ContractLoader, logger *slog.Logger) *Resolver {
	return &Resolver{
		patterns: patterns,
		expiry:   expiry,
		loader:   loader,
		logger:   logger,
		lastATM:  make(map[string]float64, 8),
		resolved: make(map[string]string, 32),
		active:   make(map[string]bool, 32),
	}
}

// OnUnderlyingTick processes one spot-price observation for underlying.
// day is the trading day (used both as the expiry reference date and as
// the historical-fetch day); ts is the tick's timestamp, the cursor from
// which any newly subscribed contract's ticks are loaded. Returns the
// canonical symbols newly subscribed on this call, if any.
func (r *Resolver) OnUnderlyingTick(underlying string, spot float64, day, ts time.Time) ([]string, error) {
	interval := StrikeInterval(underlying)
	atm := math.Round(spot/interval) * interval

	last, seen := r.lastATM[underlying]
	shifted := !seen || math.Abs(atm-last) >= interval
	if !shifted {
		return nil, nil
	}
	r.lastATM[underlying] = atm

	var subscribed []string
	for _, p := range r.patterns {
		if p.UnderlyingAlias != underlying {
			continue
		}
		symbol, err := r.resolveContract(p, atm, day)
		if err != nil {
			return subscribed, err
		}
		if r.active[symbol] {
			continue
		}
		if _, err := r.loader.LoadOptionContract(symbol, day, ts); err != nil {
			return subscribed, err
		}
		r.active[symbol] = true
		subscribed = append(subscribed, symbol)
		if r.logger != nil {
			r.logger.Info("subscribed option contract", "pattern", p.Key(), "symbol", symbol, "atm", atm)
		}
	}
	return subscribed, nil
}

// resolveContract derives the concrete canonical symbol for one pattern at
// a given ATM, memoized by (pattern, atm).
func (r *Resolver) resolveContract(p model.OptionPattern, atm float64, referenceDate time.Time) (string, error) {
	cacheKey := p.Key() + ":" + strconv.FormatFloat(atm, 'f', -1, 64)
	if sym, ok := r.resolved[cacheKey]; ok {
		return sym, nil
	}

	offset, err := model.ParseStrikeOffset(p.StrikeCode)
	if err != nil {
		return "", engerr.Wrap(engerr.KindResolution, "invalid strike code", err).WithContext("pattern", p.Key())
	}

	interval := StrikeInterval(p.UnderlyingAlias)
	strike := atm + float64(offset)*interval

	expiryDate, err := r.expiry.Resolve(p.UnderlyingAlias, p.ExpiryCode, referenceDate)
	if err != nil {
		return "", engerr.Wrap(engerr.KindResolution, fmt.Sprintf("resolving expiry code %q", p.ExpiryCode), err).
			WithContext("pattern", p.Key())
	}

	symbol := model.CanonicalOption(p.UnderlyingAlias, expiryDate, strike, p.OptionType)
	r.resolved[cacheKey] = symbol
	return symbol, nil
}

// Resolve derives the concrete canonical symbol for a single pattern at the
// underlying's current spot, on demand — used by an Entry node at order
// placement time (spec §4.6), independent of the continuous ATM-tracking
// rebalance loop OnUnderlyingTick drives. Shares the same (pattern, atm)
// cache, so a symbol already subscribed by the rebalance loop is returned
// without a fresh resolve.
func (r *Resolver) Resolve(p model.OptionPattern, spot float64, referenceDate time.Time) (string, error) {
	interval := StrikeInterval(p.UnderlyingAlias)
	atm := math.Round(spot/interval) * interval
	return r.resolveContract(p, atm, referenceDate)
}

// ActiveContracts returns every canonical option symbol subscribed so far,
// in no particular order. Contracts are never removed once subscribed
// (spec §4.4 "Contracts are never removed").
func (r *Resolver) ActiveContracts() []string {
	out := make([]string, 0, len(r.active))
	for sym := range r.active {
		out = append(out, sym)
	}
	return out
}

// IsActive reports whether a canonical option symbol has already been
// subscribed.
func (r *Resolver) IsActive(symbol string) bool {
	return r.active[symbol]
}
