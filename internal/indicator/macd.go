package indicator

import "github.com/sreeanthrds/optionbacktest/internal/model"

// MACD calculates the Moving Average Convergence/Divergence line
// (fast EMA - slow EMA) and its signal line (EMA of the MACD line).
// Period is the fast EMA's period; the slow and signal periods follow the
// conventional 12/26/9 ratios scaled from it (period*26/12, period*9/12),
// so MACD(12) reproduces the textbook 12/26/9 configuration while other
// periods scale proportionally.
type MACD struct {
	period       int
	fast         *EMA
	slow         *EMA
	signal       *EMA
	currentMACD  float64
	currentLine  float64
	ready        bool
}

// NewMACD creates a MACD indicator. period is the fast EMA period (12 in
// the standard configuration).
func NewMACD(period int) *MACD {
	return &MACD{
		period: period,
		fast:   NewEMA(period),
		slow:   NewEMA(period * 26 / 12),
		signal: NewEMA(period * 9 / 12),
	}
}

func (m *MACD) Name() string   { return "MACD" }
func (m *MACD) Period() int    { return m.period }
func (m *MACD) Value() float64 { return m.currentLine }
func (m *MACD) Ready() bool    { return m.ready }

func (m *MACD) Update(candle model.Candle) {
	m.fast.Update(candle)
	m.slow.Update(candle)
	if !m.fast.Ready() || !m.slow.Ready() {
		return
	}
	macdLine := m.fast.Value() - m.slow.Value()
	m.signal.Update(model.Candle{Close: macdLine})
	m.currentLine = macdLine
	if m.signal.Ready() {
		m.currentMACD = macdLine - m.signal.Value()
		m.ready = true
	}
}

// InitializeFrom resets and replays candles through Update, seeding state
// so the next Update matches what Bulk(candles) would have produced.
func (m *MACD) InitializeFrom(candles []model.Candle) {
	m.Reset()
	for _, c := range candles {
		m.Update(c)
	}
}

// Bulk resets and replays candles through Update.
func (m *MACD) Bulk(candles []model.Candle) {
	m.InitializeFrom(candles)
}

// Histogram returns MACD line minus signal line, the conventional
// MACD histogram value.
func (m *MACD) Histogram() float64 { return m.currentMACD }

// Peek previews the MACD line (not the histogram, which needs the signal
// EMA's own Peek chained through the fast/slow Peek — out of scope for a
// single-candle preview) for a forming candle's close.
func (m *MACD) Peek(close float64) float64 {
	if !m.fast.Ready() || !m.slow.Ready() {
		return 0
	}
	return m.fast.Peek(close) - m.slow.Peek(close)
}

// Reset clears all internal EMA state.
func (m *MACD) Reset() {
	m.fast.Reset()
	m.slow.Reset()
	m.signal.Reset()
	m.currentMACD = 0
	m.currentLine = 0
	m.ready = false
}

// Snapshot serializes the three component EMAs.
func (m *MACD) Snapshot() IndicatorSnapshot {
	fast, slow, signal := m.fast.Snapshot(), m.slow.Snapshot(), m.signal.Snapshot()
	return IndicatorSnapshot{
		Type:    "MACD",
		Period:  m.period,
		Current: m.currentLine,
		Sum:     m.currentMACD, // reuse Sum field to carry the histogram value
		Fast:    &fast,
		Slow:    &slow,
		Signal:  &signal,
	}
}

// RestoreFromSnapshot restores MACD state from a checkpoint.
func (m *MACD) RestoreFromSnapshot(snap IndicatorSnapshot) error {
	m.period = snap.Period
	m.currentLine = snap.Current
	m.currentMACD = snap.Sum
	m.ready = snap.Current != 0 || snap.Sum != 0
	if snap.Fast != nil {
		if err := m.fast.RestoreFromSnapshot(*snap.Fast); err != nil {
			return err
		}
	}
	if snap.Slow != nil {
		if err := m.slow.RestoreFromSnapshot(*snap.Slow); err != nil {
			return err
		}
	}
	if snap.Signal != nil {
		if err := m.signal.RestoreFromSnapshot(*snap.Signal); err != nil {
			return err
		}
	}
	return nil
}
