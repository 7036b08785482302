// Package datamanager owns the engine's live market-data state: the
// latest-traded-price table, a bounded history window per (symbol,
// timeframe) with attached indicator values, the candle builders that feed
// that window, and the option tick buffers that simulate live-subscription
// behavior during a backtest.
//
// Adapted from the teacher's single-purpose caches (internal/ringbuf for
// bounded retention, internal/marketdata/tfbuilder for candle assembly)
// recomposed into the one stateful hub the Python reference implementation
// calls DataManager (original_source/src/backtesting/data_manager.py) — but
// built as an explicit struct injected into the engine rather than a
// process-wide singleton, per the "no hidden global state" design note.
package datamanager

import (
	"fmt"
	"sync"
	"time"

	"github.com/sreeanthrds/optionbacktest/internal/candle"
	"github.com/sreeanthrds/optionbacktest/internal/engerr"
	"github.com/sreeanthrds/optionbacktest/internal/indicator"
	"github.com/sreeanthrds/optionbacktest/internal/model"
)

// WindowDepth is the number of most recent candles retained per
// (symbol, timeframe), with indicator values attached — enough for a
// condition node to reference a handful of bars back (e.g. "high two
// candles ago") without keeping the whole day in memory.
const WindowDepth = 20

// optionBuffer replays a day's worth of buffered option ticks in
// timestamp order, simulating the tick-by-tick arrival a live WebSocket
// subscription would produce, but sourced from a single bulk historical
// fetch (original_source's load_option_contract docstring: "simulates
// live trading websocket behavior").
type optionBuffer struct {
	ticks []model.SecondTick
	next  int
}

// Manager is the engine's market-data hub. Not goroutine-safe on the
// write path (ProcessTick/LoadOptionContract are called from the single
// engine tick loop); the mutex only guards concurrent read access from a
// dashboard or metrics goroutine, following the teacher's
// hot-path-is-single-goroutine convention.
type Manager struct {
	mu sync.RWMutex

	store      model.HistoricalDataStore
	indicators *indicator.Registry
	builder    *candle.Builder
	timeframes []int

	ltp     map[string]float64
	ltpMeta map[string]ltpMetadata

	windows map[string][]model.WithIndicators // key -> last WindowDepth candles

	optionBuffers  map[string]*optionBuffer
	loadedOptions  map[string]bool
	ticksProcessed int64
	candlesBuilt   int64
}

type ltpMetadata struct {
	TS     time.Time
	Volume int64
	OI     int64
}

// New builds a Manager that builds candles for the given timeframes
// (minutes) on every index/future tick and feeds completed candles into
// indicators. store may be nil if the manager will only ever be driven by
// pre-supplied history via BulkInitialize (e.g. in unit tests).
func New(store model.HistoricalDataStore, indicators *indicator.Registry, timeframes []int) *Manager {
	return &Manager{
		store:         store,
		indicators:    indicators,
		builder:       candle.New(),
		timeframes:    timeframes,
		ltp:           make(map[string]float64, 64),
		ltpMeta:       make(map[string]ltpMetadata, 64),
		windows:       make(map[string][]model.WithIndicators, 64),
		optionBuffers: make(map[string]*optionBuffer, 16),
		loadedOptions: make(map[string]bool, 16),
	}
}

// BulkInitialize seeds a (symbol, timeframe) history window and its
// indicator state from up to WindowDepth*N historical candles. Before
// committing to the live indicator set, it runs the kernel's initialization
// check (spec §4.1): a fresh Bulk over the full history must agree with
// InitializeFrom(seed)+Update(tail) within tolerance, or the mismatch is a
// fatal engerr.KindInitialization error and the run must not start.
//
// Once verified, the indicator registry replays everything but the final
// WindowDepth candles via InitializeFrom (fast, state-only), then replays
// the final WindowDepth one at a time via Process so each retained candle
// carries the indicator values it actually had at that point in history —
// matching the per-row indicator columns the Python bulk-init path attaches
// before truncating to the last 20 rows.
func (m *Manager) BulkInitialize(symbol string, timeframe int, candles []model.Candle) error {
	key := model.Candle{Symbol: symbol, Timeframe: timeframe}.Key()

	tail := WindowDepth
	if tail > len(candles) {
		tail = len(candles)
	}
	seed := candles[:len(candles)-tail]
	replay := candles[len(candles)-tail:]

	if err := m.indicators.VerifyInitialization(key, seed, replay); err != nil {
		return err
	}

	m.indicators.BulkInit(key, seed)

	window := make([]model.WithIndicators, 0, WindowDepth)
	for _, c := range replay {
		values := m.indicators.Process(c)
		window = append(window, model.WithIndicators{Candle: c, Indicators: values})
	}

	m.mu.Lock()
	m.windows[key] = window
	m.mu.Unlock()
	return nil
}

// isIndexOrFuture reports whether a canonical symbol should participate in
// candle building. Options are LTP-only (original_source _is_index_or_future:
// "Options only get LTP tracking").
func isIndexOrFuture(symbol string) bool {
	return !model.IsOption(symbol)
}

// ProcessTick updates the LTP table for symbol and, for index/future
// symbols, folds the tick into every configured timeframe's candle
// builder. Completed candles are pushed through the indicator registry and
// appended to that (symbol, timeframe)'s window, trimmed to WindowDepth.
// Returns the candles that completed on this tick, if any.
func (m *Manager) ProcessTick(tick model.SecondTick) []model.Candle {
	m.mu.Lock()
	m.ltp[tick.Symbol] = tick.LTP
	m.ltpMeta[tick.Symbol] = ltpMetadata{TS: tick.TS, Volume: tick.Volume, OI: tick.OI}
	m.mu.Unlock()
	m.ticksProcessed++

	if !isIndexOrFuture(tick.Symbol) {
		return nil
	}

	var completed []model.Candle
	for _, tf := range m.timeframes {
		finalized, _, discarded := m.builder.Process(tick.Symbol, tf, tick)
		if discarded || finalized == nil {
			continue
		}
		m.candlesBuilt++
		completed = append(completed, *finalized)
		m.appendToWindow(*finalized)
	}
	return completed
}

// appendToWindow updates the indicator registry for a completed candle and
// pushes the result onto that (symbol, timeframe)'s window, keeping only
// the most recent WindowDepth entries.
func (m *Manager) appendToWindow(c model.Candle) {
	values := m.indicators.Process(c)
	entry := model.WithIndicators{Candle: c, Indicators: values}

	key := c.Key()
	m.mu.Lock()
	defer m.mu.Unlock()
	w := m.windows[key]
	w = append(w, entry)
	if len(w) > WindowDepth {
		w = w[len(w)-WindowDepth:]
	}
	m.windows[key] = w
}

// FlushEndOfDay force-closes every forming candle (e.g. a partial last
// bucket at session close) and folds each into its window, so the final
// partial bar is never silently dropped.
func (m *Manager) FlushEndOfDay() []model.Candle {
	flushed := m.builder.FlushAll()
	for _, c := range flushed {
		m.appendToWindow(c)
	}
	return flushed
}

// LTP returns the latest traded price for symbol, and whether one has been
// observed yet.
func (m *Manager) LTP(symbol string) (float64, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.ltp[symbol]
	return p, ok
}

// Window returns a copy of the retained candles (oldest first) for
// (symbol, timeframe), each carrying the indicator values computed as of
// that candle.
func (m *Manager) Window(symbol string, timeframe int) []model.WithIndicators {
	key := model.Candle{Symbol: symbol, Timeframe: timeframe}.Key()
	m.mu.RLock()
	defer m.mu.RUnlock()
	w := m.windows[key]
	out := make([]model.WithIndicators, len(w))
	copy(out, w)
	return out
}

// HasWindow reports whether a (symbol, timeframe) window has ever been
// populated, i.e. initialized from historical data or produced at least
// one completed candle.
func (m *Manager) HasWindow(symbol string, timeframe int) bool {
	key := model.Candle{Symbol: symbol, Timeframe: timeframe}.Key()
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.windows[key]
	return ok
}

// LoadOptionContract loads every tick for contractKey on day at or after
// fromTS and buffers them for tick-by-tick draining via TicksAt, mirroring
// a live WebSocket subscription's "from this point onward" semantics but
// sourced from one bulk historical query (original_source's
// load_option_contract). Returns the first LTP for immediate order
// pricing. A contract already loaded returns its current LTP without
// re-querying the store.
func (m *Manager) LoadOptionContract(contractKey string, day, fromTS time.Time) (float64, error) {
	m.mu.RLock()
	alreadyLoaded := m.loadedOptions[contractKey]
	m.mu.RUnlock()
	if alreadyLoaded {
		ltp, _ := m.LTP(contractKey)
		return ltp, nil
	}

	if m.store == nil {
		return 0, engerr.New(engerr.KindResolution, "no historical datastore configured").
			WithContext("contract", contractKey)
	}

	ticks, err := m.store.OptionTicks(contractKey, day, fromTS)
	if err != nil {
		return 0, engerr.Wrap(engerr.KindDataIntegrity, "loading option ticks", err).
			WithContext("contract", contractKey)
	}
	if len(ticks) == 0 {
		return 0, engerr.New(engerr.KindResolution, fmt.Sprintf("no option ticks found for %s from %s", contractKey, fromTS)).
			WithContext("contract", contractKey)
	}

	m.mu.Lock()
	m.optionBuffers[contractKey] = &optionBuffer{ticks: ticks}
	m.loadedOptions[contractKey] = true
	first := ticks[0]
	m.ltp[contractKey] = first.LTP
	m.ltpMeta[contractKey] = ltpMetadata{TS: first.TS, Volume: first.Volume, OI: first.OI}
	m.mu.Unlock()

	return first.LTP, nil
}

// TicksAt drains and returns every buffered option tick across all loaded
// contracts whose timestamp equals ts, updating each contract's LTP as it
// drains — the per-tick counterpart to LoadOptionContract's bulk fetch,
// called from the engine's main loop alongside the index/future tick for
// the same second.
func (m *Manager) TicksAt(ts time.Time) []model.SecondTick {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []model.SecondTick
	for contractKey, buf := range m.optionBuffers {
		for buf.next < len(buf.ticks) {
			t := buf.ticks[buf.next]
			if t.TS.Before(ts) {
				buf.next++
				continue
			}
			if t.TS.Equal(ts) {
				out = append(out, t)
				m.ltp[contractKey] = t.LTP
				m.ltpMeta[contractKey] = ltpMetadata{TS: t.TS, Volume: t.Volume, OI: t.OI}
				buf.next++
				continue
			}
			break
		}
	}
	return out
}

// Stats is a point-in-time snapshot of processing counters, exposed for
// the engine's periodic logging and for internal/metrics to scrape.
type Stats struct {
	TicksProcessed        int64
	CandlesBuilt          int64
	OptionContractsLoaded int
}

func (m *Manager) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Stats{
		TicksProcessed:        m.ticksProcessed,
		CandlesBuilt:          m.candlesBuilt,
		OptionContractsLoaded: len(m.loadedOptions),
	}
}
