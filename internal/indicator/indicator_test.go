package indicator

import (
	"io"
	"log/slog"
	"math"
	"testing"

	"github.com/sreeanthrds/optionbacktest/internal/model"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func candle(close float64) model.Candle {
	return model.Candle{Symbol: "TEST", Timeframe: 60, Open: close, High: close + 0.5, Low: close - 0.5, Close: close}
}

func candles(prices []float64) []model.Candle {
	out := make([]model.Candle, len(prices))
	for i, p := range prices {
		out[i] = candle(p)
	}
	return out
}

func assertClose(t *testing.T, label string, got, want, tol float64) {
	t.Helper()
	if math.Abs(got-want) > tol {
		t.Errorf("%s: got %.6f, want %.6f (tol=%.6f, diff=%.6f)", label, got, want, tol, math.Abs(got-want))
	}
}

func TestSMACorrectness(t *testing.T) {
	// Prices: 100, 102, 104, 103, 105
	// SMA(3) after candle 3: (100+102+104)/3 = 102.0
	// SMA(3) after candle 4: (102+104+103)/3 = 103.0
	// SMA(3) after candle 5: (104+103+105)/3 = 104.0
	sma := NewSMA(3)
	prices := []float64{100, 102, 104, 103, 105}
	want := []float64{0, 0, 102.0, 103.0, 104.0}
	ready := []bool{false, false, true, true, true}

	for i, p := range prices {
		sma.Update(candle(p))
		if sma.Ready() != ready[i] {
			t.Errorf("candle %d: Ready()=%v, want %v", i, sma.Ready(), ready[i])
		}
		if ready[i] {
			assertClose(t, "SMA(3)", sma.Value(), want[i], 1e-9)
		}
	}
}

func TestSMAPeekDoesNotMutate(t *testing.T) {
	sma := NewSMA(3)
	for _, p := range []float64{100, 102, 104} {
		sma.Update(candle(p))
	}
	before := sma.Value()
	_ = sma.Peek(200)
	assertClose(t, "SMA after Peek", sma.Value(), before, 1e-9)
}

func TestEMASeedsWithSMA(t *testing.T) {
	ema := NewEMA(3)
	prices := []float64{100, 102, 104}
	for _, p := range prices {
		ema.Update(candle(p))
	}
	// Seed value is the plain average of the first `period` closes.
	assertClose(t, "EMA seed", ema.Value(), 102.0, 1e-9)
}

func TestRSIAllGainsIsHundred(t *testing.T) {
	rsi := NewRSI(3)
	prices := []float64{100, 101, 102, 103, 104, 105}
	for _, p := range prices {
		rsi.Update(candle(p))
	}
	assertClose(t, "RSI all gains", rsi.Value(), 100.0, 1e-9)
}

func TestRSIPeekDoesNotMutate(t *testing.T) {
	rsi := NewRSI(3)
	for _, p := range []float64{100, 101, 102, 103, 104} {
		rsi.Update(candle(p))
	}
	before := rsi.Value()
	_ = rsi.Peek(50)
	assertClose(t, "RSI after Peek", rsi.Value(), before, 1e-9)
}

// TestBulkIncrementalParity is the package's core correctness invariant:
// Bulk-initializing an indicator from a candle history must produce the
// exact same value as replaying the same candles through Update one at a
// time, within 1e-6 (spec tolerance for bulk-vs-incremental agreement).
func TestBulkIncrementalParity(t *testing.T) {
	prices := []float64{100, 101.5, 99.25, 103.75, 105.1, 104.0, 106.6, 107.2, 108.9, 110.0, 109.3, 111.1}
	cs := candles(prices)

	factories := map[string]func() Indicator{
		"SMA(4)":   func() Indicator { return NewSMA(4) },
		"EMA(4)":   func() Indicator { return NewEMA(4) },
		"SMMA(4)":  func() Indicator { return NewSMMA(4) },
		"RSI(4)":   func() Indicator { return NewRSI(4) },
		"MACD(4)":  func() Indicator { return NewMACD(4) },
		"BBAND(4)": func() Indicator { return NewBBand(4) },
	}

	for name, factory := range factories {
		incremental := factory()
		for _, c := range cs {
			incremental.Update(c)
		}

		bulk := factory()
		bulk.Bulk(cs)

		if incremental.Ready() != bulk.Ready() {
			t.Errorf("%s: Ready mismatch, incremental=%v bulk=%v", name, incremental.Ready(), bulk.Ready())
			continue
		}
		assertClose(t, name+" bulk vs incremental", bulk.Value(), incremental.Value(), 1e-6)
	}
}

func TestMACDLinePositiveForRisingSeries(t *testing.T) {
	macd := NewMACD(3) // slow period = 6, signal period = 2
	prices := []float64{100, 101, 102, 103, 104, 105, 106, 107, 108, 109, 110}
	for _, p := range prices {
		macd.Update(candle(p))
	}
	if !macd.Ready() {
		t.Fatal("expected MACD to be ready after enough candles")
	}
	// A steadily rising series keeps the fast EMA above the slow EMA, so the
	// MACD line should be positive.
	if macd.Value() <= 0 {
		t.Errorf("MACD line = %v, want > 0 for a rising series", macd.Value())
	}
}

func TestBBandBandsStraddleCentre(t *testing.T) {
	bb := NewBBand(5)
	prices := []float64{100, 102, 98, 104, 96, 103, 97}
	for _, p := range prices {
		bb.Update(candle(p))
	}
	if !bb.Ready() {
		t.Fatal("expected BBAND to be ready")
	}
	if bb.Upper() <= bb.Value() || bb.Lower() >= bb.Value() {
		t.Errorf("expected lower < centre < upper, got lower=%v centre=%v upper=%v", bb.Lower(), bb.Value(), bb.Upper())
	}
}

func TestUnknownIndicatorPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected New to panic for an unknown indicator type")
		}
	}()
	New("WMA", 10)
}
