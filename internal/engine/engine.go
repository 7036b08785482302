// Package engine wires every collaborator a strategy document needs into
// one run: the data manager, option universe resolver, expiry calculator,
// position store, node graph and tick source, driven through the init ->
// per-tick -> finalize control flow spec §2 describes.
//
// Grounded on original_source/src/backtesting/backtest_engine.py
// (BacktestEngine.run: load strategy -> initialize data components ->
// create nodes -> initialize node states -> load ticks -> process ticks,
// checking a termination flag each iteration -> finalize -> generate
// results) and backtest_orchestrator.py (per-(symbol,timeframe) historical
// load with a lookback window, indicator bulk-init, per-tick candle
// folding). Supersedes the teacher's internal/strategy flat callback
// engine — the node graph in internal/graph now owns all signal
// evaluation and order placement.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sreeanthrds/optionbacktest/internal/datamanager"
	"github.com/sreeanthrds/optionbacktest/internal/engerr"
	"github.com/sreeanthrds/optionbacktest/internal/expiry"
	"github.com/sreeanthrds/optionbacktest/internal/graph"
	"github.com/sreeanthrds/optionbacktest/internal/indicator"
	"github.com/sreeanthrds/optionbacktest/internal/model"
	"github.com/sreeanthrds/optionbacktest/internal/optionuniverse"
	"github.com/sreeanthrds/optionbacktest/internal/position"
	"github.com/sreeanthrds/optionbacktest/internal/results"
	"github.com/sreeanthrds/optionbacktest/internal/ticksource"
)

// lookbackCandles is the historical window loaded per (symbol, timeframe)
// before a run starts, matching backtest_orchestrator.py's default
// load_historical_data(lookback_candles=200) bumped to the 500-candle
// figure spec §2 names for indicator warm-up headroom.
const lookbackCandles = 500

// clockAdvancer is satisfied by *broker.InstantFill, whose simulated
// clock must track the tick being processed so fill timestamps line up
// with backtest time rather than wall clock. Live brokers (pkg/broker/live
// .Client) have no such method — orders there are naturally stamped by
// real time — so Run only advances the clock when the configured broker
// opts in.
type clockAdvancer interface {
	Advance(now time.Time)
}

// Config bundles everything one run needs, following the teacher's
// Config-struct constructor-injection convention.
type Config struct {
	// StrategyDocument is the raw JSON strategy document (spec §6).
	StrategyDocument []byte

	Store  model.HistoricalDataStore
	Broker model.OrderPlacer
	Logger *slog.Logger

	// Day is the trading day this run replays (backtest mode) or today
	// (live mode, informational only — expiry/strike resolution still
	// needs a reference date).
	Day time.Time
}

// Engine drives one strategy document through one trading day.
type Engine struct {
	cfg Config
	doc *document

	data      *datamanager.Manager
	expiryCal *expiry.Calculator
	resolver  *optionuniverse.Resolver
	positions *position.Store
	graph     *graph.Graph
	source    ticksource.Source

	builder *results.Builder
}

// New parses the strategy document and wires every collaborator, bulk
// loading each (symbol, timeframe) pair's historical window before the
// graph is constructed (backtest_orchestrator.py: load_historical_data
// before process_tick).
func New(cfg Config) (*Engine, error) {
	doc, err := parseDocument(cfg.StrategyDocument)
	if err != nil {
		return nil, engerr.Wrap(engerr.KindInitialization, "parsing strategy document", err)
	}
	if cfg.Store == nil {
		return nil, engerr.New(engerr.KindInitialization, "no historical data store configured")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	indicators := indicator.NewRegistry(doc.timeframeSpecs)
	dm := datamanager.New(cfg.Store, indicators, doc.timeframes)

	underlyingSymbol := model.CanonicalUnderlying(doc.underlying)
	if err := bulkLoadHistory(dm, cfg.Store, underlyingSymbol, doc.timeframes, cfg.Day); err != nil {
		return nil, engerr.Wrap(engerr.KindInitialization, "loading historical candles", err)
	}

	expiryCal := expiry.New(cfg.Store)
	resolver := optionuniverse.NewResolver(doc.patterns, expiryCal, dm, cfg.Logger)
	positions := position.New()

	g, err := graph.New(graph.Config{
		Nodes:            doc.nodes,
		StartID:          doc.startID,
		Day:              cfg.Day,
		Market:           dm,
		Data:             dm,
		Resolver:         resolver,
		Broker:           cfg.Broker,
		Positions:        positions,
		Logger:           slogAdapter{cfg.Logger},
		DefaultTimeframe: defaultTimeframe(doc.timeframes),
	})
	if err != nil {
		return nil, engerr.Wrap(engerr.KindInitialization, "constructing node graph", err)
	}

	return &Engine{
		cfg:       cfg,
		doc:       doc,
		data:      dm,
		expiryCal: expiryCal,
		resolver:  resolver,
		positions: positions,
		graph:     g,
		builder:   results.NewBuilder(),
	}, nil
}

// NewBacktestRun additionally opens a backtest tick source over indexTicks
// (the underlying's recorded ticks for cfg.Day), ready for Run.
func (e *Engine) NewBacktestRun(indexTicks []model.SecondTick) {
	e.source = ticksource.NewBacktestSource(e.cfg.Day, indexTicks, e.resolver, e.data)
}

// SetSource wires an already-constructed tick source directly — the live
// entrypoint uses this with a ticksource.NewLiveSource instead of
// NewBacktestRun's backtest source.
func (e *Engine) SetSource(src ticksource.Source) {
	e.source = src
}

func defaultTimeframe(timeframes []int) int {
	min := 0
	for _, tf := range timeframes {
		if min == 0 || tf < min {
			min = tf
		}
	}
	if min == 0 {
		return 1
	}
	return min
}

func bulkLoadHistory(dm *datamanager.Manager, store model.HistoricalDataStore, underlying string, timeframes []int, day time.Time) error {
	to := day
	from := day.AddDate(0, 0, -lookbackDays(lookbackCandles, timeframes))
	for _, tf := range timeframes {
		candles, err := store.OHLCV(underlying, tf, from, to)
		if err != nil {
			return fmt.Errorf("OHLCV(%s, %d): %w", underlying, tf, err)
		}
		if err := dm.BulkInitialize(underlying, tf, candles); err != nil {
			return fmt.Errorf("bulk-initializing %s tf=%d: %w", underlying, tf, err)
		}
	}
	return nil
}

// lookbackDays is a rough calendar-day span wide enough to contain
// lookbackCandles candles at the coarsest configured timeframe, erring on
// the side of over-fetching (store.OHLCV trims to [from,to] regardless).
func lookbackDays(candles int, timeframes []int) int {
	coarsest := 1
	for _, tf := range timeframes {
		if tf > coarsest {
			coarsest = tf
		}
	}
	minutesNeeded := candles * coarsest
	tradingMinutesPerDay := 375 // 09:15-15:30 IST
	days := minutesNeeded/tradingMinutesPerDay + 5
	if days < 10 {
		days = 10
	}
	return days
}

// Run drives the tick source to exhaustion: each batch folds into the
// data manager, the option universe resolver may subscribe new contracts
// off the underlying's tick, the graph runs one scheduling cycle, and the
// equity curve is sampled — mirroring backtest_engine.py's
// _process_ticks loop (onTick per batch, checking strategy_terminated to
// break early) and _finalize (force-close partial candles at day end).
func (e *Engine) Run(ctx context.Context) (results.Report, error) {
	if e.source == nil {
		return results.Report{}, engerr.New(engerr.KindInitialization, "no tick source configured — call NewBacktestRun or SetSource first")
	}
	start := time.Now()
	ticksProcessed := 0

	for {
		select {
		case <-ctx.Done():
			return e.finalize(ticksProcessed, time.Since(start)), ctx.Err()
		default:
		}

		batch, ok, err := e.source.Next()
		if err != nil {
			return results.Report{}, engerr.Wrap(engerr.KindDataIntegrity, "reading tick batch", err)
		}
		if !ok {
			break
		}

		for _, t := range batch.Ticks {
			e.data.ProcessTick(t)
			ticksProcessed++
		}
		if adv, ok := e.cfg.Broker.(clockAdvancer); ok {
			adv.Advance(batch.TS)
		}

		if err := e.graph.Tick(batch.TS); err != nil {
			e.cfg.Logger.Error("node graph tick failed", "ts", batch.TS, "error", err)
			var ee *engerr.EngineError
			if errors.As(err, &ee) && ee.Kind.Fatal() {
				return e.finalize(ticksProcessed, time.Since(start)), err
			}
		}

		realized, unrealized := e.positions.TotalPnL(e.data.LTP)
		e.builder.Sample(batch.TS, realized+unrealized)

		if e.graph.Terminated() {
			break
		}
	}

	return e.finalize(ticksProcessed, time.Since(start)), nil
}

func (e *Engine) finalize(ticksProcessed int, duration time.Duration) results.Report {
	closedCandles := e.data.FlushEndOfDay()
	candleCounts := make(map[string]int, len(closedCandles))
	for _, c := range closedCandles {
		candleCounts[c.Key()]++
	}
	stats := e.data.Stats()
	candleCounts["__total__"] = stats.CandlesBuilt

	realized, unrealized := e.positions.TotalPnL(e.data.LTP)
	return results.Build(e.builder, e.positions.All(), realized, unrealized, candleCounts, ticksProcessed, duration)
}

// slogAdapter narrows *slog.Logger to graph.Logger so internal/graph need
// not import log/slog.
type slogAdapter struct{ l *slog.Logger }

func (a slogAdapter) Info(msg string, args ...any)  { a.l.Info(msg, args...) }
func (a slogAdapter) Warn(msg string, args ...any)  { a.l.Warn(msg, args...) }
func (a slogAdapter) Error(msg string, args ...any) { a.l.Error(msg, args...) }
