package graph

import (
	"testing"

	"github.com/sreeanthrds/optionbacktest/internal/model"
)

type fakeMarket struct {
	windows map[string][]model.WithIndicators
	ltp     map[string]float64
}

func (f *fakeMarket) Window(symbol string, timeframe int) []model.WithIndicators {
	return f.windows[symbol]
}

func (f *fakeMarket) LTP(symbol string) (float64, bool) {
	v, ok := f.ltp[symbol]
	return v, ok
}

func candleSeries(closes ...float64) []model.WithIndicators {
	out := make([]model.WithIndicators, len(closes))
	for i, c := range closes {
		out[i] = model.WithIndicators{
			Candle:     model.Candle{Symbol: "NIFTY", Close: c, High: c + 1, Low: c - 1, Open: c},
			Indicators: map[string]float64{"EMA_21": c - 5},
		}
	}
	return out
}

func TestEvaluateComparison(t *testing.T) {
	m := &fakeMarket{windows: map[string][]model.WithIndicators{"NIFTY": candleSeries(100, 110, 120)}}
	ctx := EvalContext{Market: m, DefaultSymbol: "NIFTY", DefaultTimeframe: 5}

	got, err := Evaluate("close[0] > EMA_21[0]", ctx)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if !got {
		t.Error("expected close[0] (120) > EMA_21[0] (115) to be true")
	}
}

func TestEvaluateOffsetLooksBackward(t *testing.T) {
	m := &fakeMarket{windows: map[string][]model.WithIndicators{"NIFTY": candleSeries(100, 110, 120)}}
	ctx := EvalContext{Market: m, DefaultSymbol: "NIFTY", DefaultTimeframe: 5}

	got, err := Evaluate("close[0] - close[2] > 15", ctx)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if !got {
		t.Error("expected close[0] (120) - close[2] (100) = 20 > 15")
	}
}

func TestEvaluateBooleanCombinators(t *testing.T) {
	m := &fakeMarket{ltp: map[string]float64{"NIFTY": 25800}}
	ctx := EvalContext{Market: m, DefaultSymbol: "NIFTY", DefaultTimeframe: 5}

	got, err := Evaluate("ltp >= 25000 && !(ltp > 30000)", ctx)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if !got {
		t.Error("expected condition to be true")
	}
}

func TestEvaluateQualifiedSymbol(t *testing.T) {
	m := &fakeMarket{ltp: map[string]float64{"BANKNIFTY": 52000, "NIFTY": 25800}}
	ctx := EvalContext{Market: m, DefaultSymbol: "NIFTY", DefaultTimeframe: 5}

	got, err := Evaluate("BANKNIFTY.ltp > NIFTY.ltp", ctx)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if !got {
		t.Error("expected BANKNIFTY.ltp (52000) > NIFTY.ltp (25800)")
	}
}

func TestEvaluateMissingLTPErrors(t *testing.T) {
	m := &fakeMarket{ltp: map[string]float64{}}
	ctx := EvalContext{Market: m, DefaultSymbol: "NIFTY", DefaultTimeframe: 5}

	if _, err := Evaluate("ltp > 100", ctx); err == nil {
		t.Error("expected an error for an unobserved symbol")
	}
}

func TestEvaluateInvalidSyntax(t *testing.T) {
	ctx := EvalContext{DefaultSymbol: "NIFTY", DefaultTimeframe: 5}
	if _, err := Evaluate("close[0] >", ctx); err == nil {
		t.Error("expected a syntax error")
	}
}

func TestEvaluateOutOfRangeOffset(t *testing.T) {
	m := &fakeMarket{windows: map[string][]model.WithIndicators{"NIFTY": candleSeries(100, 110)}}
	ctx := EvalContext{Market: m, DefaultSymbol: "NIFTY", DefaultTimeframe: 5}

	if _, err := Evaluate("close[5] > 0", ctx); err == nil {
		t.Error("expected an out-of-range offset error")
	}
}
