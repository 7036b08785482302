package indicator

import (
	"testing"

	"github.com/sreeanthrds/optionbacktest/internal/model"
)

func TestRegistryProcessAndPeek(t *testing.T) {
	reg := NewRegistry([]TimeframeSpec{
		{Timeframe: 60, Indicators: []Spec{{Type: "SMA", Period: 3}}},
	})

	for i, p := range []float64{100, 101, 102} {
		c := model.Candle{Symbol: "NIFTY", Timeframe: 60, Close: p}
		results := reg.Process(c)
		if i < 2 {
			if results["SMA_3"] != 0 {
				t.Errorf("candle %d: expected SMA not ready yet", i)
			}
		} else {
			assertClose(t, "SMA_3 after 3 candles", results["SMA_3"], 101.0, 1e-9)
		}
	}

	preview := reg.Peek(model.Candle{Symbol: "NIFTY", Timeframe: 60, Close: 200})
	if preview == nil {
		t.Fatal("expected a peek result once the set exists")
	}
	// Preview with 200 replacing the oldest (100): (101+102+200)/3
	assertClose(t, "peek SMA_3", preview["SMA_3"], (101.0+102.0+200.0)/3.0, 1e-9)

	// Peek must not mutate the underlying set.
	results := reg.Process(model.Candle{Symbol: "NIFTY", Timeframe: 60, Close: 103})
	assertClose(t, "SMA_3 unaffected by prior peek", results["SMA_3"], (101.0+102.0+103.0)/3.0, 1e-9)
}

func TestRegistryIgnoresUnconfiguredTimeframe(t *testing.T) {
	reg := NewRegistry([]TimeframeSpec{{Timeframe: 60, Indicators: []Spec{{Type: "SMA", Period: 3}}}})
	results := reg.Process(model.Candle{Symbol: "NIFTY", Timeframe: 300, Close: 100})
	if results != nil {
		t.Errorf("expected nil results for an unconfigured timeframe, got %v", results)
	}
}

func TestRegistryBulkInitMatchesProcess(t *testing.T) {
	reg := NewRegistry([]TimeframeSpec{{Timeframe: 60, Indicators: []Spec{{Type: "SMA", Period: 3}}}})
	history := candles([]float64{90, 95, 100})
	key := model.Candle{Symbol: "NIFTY", Timeframe: 60}.Key()
	reg.BulkInit(key, history)

	if !reg.Ready(key) {
		t.Fatal("expected ready after bulk-initializing with enough candles")
	}
}

func TestRegistryVerifyInitializationAgreesAcrossSeedTailSplit(t *testing.T) {
	reg := NewRegistry([]TimeframeSpec{
		{Timeframe: 60, Indicators: []Spec{{Type: "SMA", Period: 3}, {Type: "EMA", Period: 3}, {Type: "RSI", Period: 3}}},
	})
	history := candles([]float64{90, 95, 100, 98, 102, 104, 103, 105})
	key := model.Candle{Symbol: "NIFTY", Timeframe: 60}.Key()

	seed, tail := history[:5], history[5:]
	if err := reg.VerifyInitialization(key, seed, tail); err != nil {
		t.Fatalf("VerifyInitialization: %v", err)
	}
}

func TestRegistryVerifyInitializationIgnoresUnconfiguredTimeframe(t *testing.T) {
	reg := NewRegistry([]TimeframeSpec{{Timeframe: 60, Indicators: []Spec{{Type: "SMA", Period: 3}}}})
	history := candles([]float64{100, 101, 102})
	key := model.Candle{Symbol: "NIFTY", Timeframe: 300}.Key()
	if err := reg.VerifyInitialization(key, history[:1], history[1:]); err != nil {
		t.Errorf("expected no error for an unconfigured timeframe, got %v", err)
	}
}

func TestRegistryReloadPreservesState(t *testing.T) {
	reg := NewRegistry([]TimeframeSpec{{Timeframe: 60, Indicators: []Spec{{Type: "SMA", Period: 3}}}})
	for _, p := range []float64{100, 101, 102} {
		reg.Process(model.Candle{Symbol: "NIFTY", Timeframe: 60, Close: p})
	}

	preserved, created := reg.Reload([]TimeframeSpec{
		{Timeframe: 60, Indicators: []Spec{{Type: "SMA", Period: 3}, {Type: "EMA", Period: 3}}},
	})
	if preserved != 1 {
		t.Errorf("preserved = %d, want 1 (the untouched SMA_3)", preserved)
	}
	if created != 1 {
		t.Errorf("created = %d, want 1 (the new EMA_3)", created)
	}

	results := reg.Process(model.Candle{Symbol: "NIFTY", Timeframe: 60, Close: 103})
	assertClose(t, "SMA_3 preserved across reload", results["SMA_3"], (101.0+102.0+103.0)/3.0, 1e-9)
}

func TestValidateSpecsRejectsDuplicateTimeframe(t *testing.T) {
	err := ValidateSpecs([]TimeframeSpec{
		{Timeframe: 60, Indicators: []Spec{{Type: "SMA", Period: 3}}},
		{Timeframe: 60, Indicators: []Spec{{Type: "EMA", Period: 5}}},
	})
	if err == nil {
		t.Fatal("expected an error for duplicate timeframes")
	}
}

func TestValidateSpecsRejectsUnknownType(t *testing.T) {
	err := ValidateSpecs([]TimeframeSpec{
		{Timeframe: 60, Indicators: []Spec{{Type: "WMA", Period: 3}}},
	})
	if err == nil {
		t.Fatal("expected an error for an unknown indicator type")
	}
}
