package indicator

import (
	"testing"

	"github.com/sreeanthrds/optionbacktest/internal/model"
)

func TestSMASnapshotRoundTrip(t *testing.T) {
	sma := NewSMA(5)
	for _, p := range []float64{100, 101, 102, 103, 104, 105, 106} {
		sma.Update(candle(p))
	}

	snap := sma.Snapshot()
	restored := NewSMA(5)
	if err := restored.RestoreFromSnapshot(snap); err != nil {
		t.Fatalf("RestoreFromSnapshot: %v", err)
	}
	assertClose(t, "SMA restored value", restored.Value(), sma.Value(), 1e-9)
	if restored.Ready() != sma.Ready() {
		t.Errorf("restored.Ready()=%v, want %v", restored.Ready(), sma.Ready())
	}

	// Both must evolve identically from here on.
	sma.Update(candle(107))
	restored.Update(candle(107))
	assertClose(t, "SMA post-restore continuation", restored.Value(), sma.Value(), 1e-9)
}

func TestMACDSnapshotRoundTrip(t *testing.T) {
	macd := NewMACD(3)
	for _, p := range []float64{100, 101, 102, 103, 104, 105, 106, 107, 108, 109, 110} {
		macd.Update(candle(p))
	}

	snap := macd.Snapshot()
	restored := NewMACD(3)
	if err := restored.RestoreFromSnapshot(snap); err != nil {
		t.Fatalf("RestoreFromSnapshot: %v", err)
	}
	assertClose(t, "MACD restored value", restored.Value(), macd.Value(), 1e-9)
	assertClose(t, "MACD restored histogram", restored.Histogram(), macd.Histogram(), 1e-9)
}

func TestRegistrySnapshotRestore(t *testing.T) {
	specs := []TimeframeSpec{{Timeframe: 60, Indicators: []Spec{{Type: "SMA", Period: 3}}}}
	reg := NewRegistry(specs)
	for _, p := range []float64{100, 101, 102} {
		reg.Process(model.Candle{Symbol: "NIFTY", Timeframe: 60, Close: p})
	}

	snap, err := reg.Snapshot("stream-123")
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}

	reg2 := NewRegistry(specs)
	restored, cold := reg2.Restore(snap)
	if restored != 1 || cold != 0 {
		t.Errorf("restored=%d cold=%d, want restored=1 cold=0", restored, cold)
	}

	results := reg2.Process(model.Candle{Symbol: "NIFTY", Timeframe: 60, Close: 103})
	assertClose(t, "SMA_3 after restore+update", results["SMA_3"], (101.0+102.0+103.0)/3.0, 1e-9)
}

func TestRestorerColdStartWithoutSnapshot(t *testing.T) {
	specs := []TimeframeSpec{{Timeframe: 60, Indicators: []Spec{{Type: "SMA", Period: 3}}}}
	r := NewRestorer(specs, testLogger())
	reg := r.FromSnapshot(nil)
	if reg == nil {
		t.Fatal("expected a fresh Registry on cold start")
	}
	results := reg.Process(model.Candle{Symbol: "NIFTY", Timeframe: 60, Close: 100})
	if results["SMA_3"] != 0 {
		t.Errorf("expected a cold registry to start unready")
	}
}

func TestRestorerBulkSeedCapsLookback(t *testing.T) {
	specs := []TimeframeSpec{{Timeframe: 60, Indicators: []Spec{{Type: "SMA", Period: 3}}}}
	reg := NewRegistry(specs)
	r := NewRestorer(specs, testLogger())

	history := candles([]float64{1, 2, 3, 4, 5, 100, 101, 102})
	key := model.Candle{Symbol: "NIFTY", Timeframe: 60}.Key()
	r.BulkSeed(reg, key, history, 3)

	if !reg.Ready(key) {
		t.Fatal("expected ready after seeding with the last 3 candles")
	}
	results := reg.Process(model.Candle{Symbol: "NIFTY", Timeframe: 60, Close: 103})
	// The ring should only have seen {100,101,102,103} after trimming to the
	// last 3 history candles plus this Process call's replacement.
	assertClose(t, "bulk-seeded SMA_3 respects lookback cap", results["SMA_3"], (101.0+102.0+103.0)/3.0, 1e-9)
}
