// Package results aggregates a finished run into the final object spec §6
// requires: closed positions with entry/exit records, per-position and
// aggregate P&L, trade count, max drawdown, equity curve samples and
// per-(symbol,timeframe) candle counts.
//
// Grounded on original_source/src/backtesting/results_manager.py
// (BacktestResults/ResultsManager.generate_results: positions, candle
// counts, signal count, timing) generalized from its "print to console"
// shape into a structured Report a caller can serialize, and
// view_context_snapshots.py (debug snapshot listing) for the additive
// ContextSnapshot feature SPEC_FULL.md calls for.
package results

import (
	"time"

	"github.com/sreeanthrds/optionbacktest/internal/model"
)

// EquityPoint is one sample of the running equity curve.
type EquityPoint struct {
	TS     time.Time
	Equity float64
}

// ContextSnapshot captures node/position state at one instant for
// post-run debugging (SPEC_FULL.md's additive context-snapshot feature),
// grounded on original_source's view_context_snapshots.py.
type ContextSnapshot struct {
	TS        time.Time
	NodeID    string
	Variables map[string]any
}

// Report is the final result of a run.
type Report struct {
	Positions []model.Position

	TradeCount    int
	RealizedPnL   float64
	UnrealizedPnL float64
	MaxDrawdown   float64

	EquityCurve []EquityPoint
	Snapshots   []ContextSnapshot

	// CandleCounts maps model.Candle.Key() ("symbol:timeframe") to the
	// number of candles built for it over the run.
	CandleCounts map[string]int

	TicksProcessed int
	Duration       time.Duration
}

// Builder accumulates a run's equity curve and context snapshots as the
// engine drives ticks, then produces the final Report once the run ends.
// Not safe for concurrent use — the engine's per-tick loop is
// single-threaded (spec §5).
type Builder struct {
	equity      []EquityPoint
	peakEquity  float64
	maxDrawdown float64
	snapshots   []ContextSnapshot
}

// NewBuilder returns a Builder ready to accumulate samples.
func NewBuilder() *Builder {
	return &Builder{}
}

// Sample records one equity curve point and updates the running
// max-drawdown (peak-to-trough on the equity series seen so far).
func (b *Builder) Sample(ts time.Time, equity float64) {
	b.equity = append(b.equity, EquityPoint{TS: ts, Equity: equity})
	if equity > b.peakEquity {
		b.peakEquity = equity
	}
	if drawdown := b.peakEquity - equity; drawdown > b.maxDrawdown {
		b.maxDrawdown = drawdown
	}
}

// Snapshot records node state at one instant for post-run debugging.
func (b *Builder) Snapshot(ts time.Time, nodeID string, variables map[string]any) {
	cp := make(map[string]any, len(variables))
	for k, v := range variables {
		cp[k] = v
	}
	b.snapshots = append(b.snapshots, ContextSnapshot{TS: ts, NodeID: nodeID, Variables: cp})
}

// Build assembles the final Report from the accumulated curve/snapshots
// plus the run's terminal state: every position the store ever opened,
// the aggregate P&L as of markAt, and per-(symbol,timeframe) candle
// counts the data manager built.
func Build(b *Builder, positions []model.Position, realized, unrealized float64, candleCounts map[string]int, ticksProcessed int, duration time.Duration) Report {
	closed := 0
	for _, p := range positions {
		if p.Status == model.PositionClosed {
			closed++
		}
	}
	return Report{
		Positions:      positions,
		TradeCount:     closed,
		RealizedPnL:    realized,
		UnrealizedPnL:  unrealized,
		MaxDrawdown:    b.maxDrawdown,
		EquityCurve:    b.equity,
		Snapshots:      b.snapshots,
		CandleCounts:   candleCounts,
		TicksProcessed: ticksProcessed,
		Duration:       duration,
	}
}
