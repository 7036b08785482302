package indicator

import "github.com/sreeanthrds/optionbacktest/internal/model"

// SMMA calculates Smoothed Moving Average (Wilder-style smoothing).
// First value is SMA(period), then SMMA = (prev*(period-1) + price) / period.
type SMMA struct {
	period  int
	count   int
	sum     float64
	current float64
}

// NewSMMA creates a new SMMA indicator with the given period.
func NewSMMA(period int) *SMMA {
	return &SMMA{period: period}
}

func (s *SMMA) Name() string   { return "SMMA" }
func (s *SMMA) Period() int    { return s.period }
func (s *SMMA) Value() float64 { return s.current }
func (s *SMMA) Ready() bool    { return s.count >= s.period }

func (s *SMMA) Update(candle model.Candle) {
	price := candle.Close
	s.count++

	if s.count <= s.period {
		// Accumulate for initial SMA seed
		s.sum += price
		if s.count == s.period {
			s.current = s.sum / float64(s.period)
		}
		return
	}

	// Wilder-style smoothing
	s.current = (s.current*float64(s.period-1) + price) / float64(s.period)
}

// InitializeFrom resets and replays candles through Update, seeding state
// so the next Update matches what Bulk(candles) would have produced.
func (s *SMMA) InitializeFrom(candles []model.Candle) {
	s.Reset()
	for _, c := range candles {
		s.Update(c)
	}
}

// Bulk resets and replays candles through Update.
func (s *SMMA) Bulk(candles []model.Candle) {
	s.InitializeFrom(candles)
}

// Peek computes what Value() would be with an additional candle without mutating state.
func (s *SMMA) Peek(close float64) float64 {
	if s.count < s.period {
		return (s.sum + close) / float64(s.count+1)
	}
	return (s.current*float64(s.period-1) + close) / float64(s.period)
}

// Reset clears the SMMA state for reuse.
func (s *SMMA) Reset() {
	s.count = 0
	s.sum = 0
	s.current = 0
}

// Snapshot serializes the SMMA state for checkpoint persistence.
func (s *SMMA) Snapshot() IndicatorSnapshot {
	return IndicatorSnapshot{
		Type:    "SMMA",
		Period:  s.period,
		Count:   s.count,
		Sum:     s.sum,
		Current: s.current,
	}
}

// RestoreFromSnapshot restores SMMA state from a checkpoint.
func (s *SMMA) RestoreFromSnapshot(snap IndicatorSnapshot) error {
	s.period = snap.Period
	s.count = snap.Count
	s.sum = snap.Sum
	s.current = snap.Current
	return nil
}
