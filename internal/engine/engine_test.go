package engine

import (
	"context"
	"testing"
	"time"

	"github.com/sreeanthrds/optionbacktest/internal/broker"
	"github.com/sreeanthrds/optionbacktest/internal/markethours"
	"github.com/sreeanthrds/optionbacktest/internal/model"
)

func ist(h, m, s int) time.Time {
	return time.Date(2024, 10, 3, h, m, s, 0, markethours.IST)
}

// stubStore is a minimal model.HistoricalDataStore: a handful of index
// candles for the warm-up window, a single day of index ticks trending
// upward (the document below has no entry signal; its only signal is an
// exit signal on "close < open"),
// and no option data (the document below never enters an option leg).
type stubStore struct {
	indexCandles []model.Candle
	indexTicks   []model.SecondTick
}

func (s *stubStore) OHLCV(symbol string, timeframe int, from, to time.Time) ([]model.Candle, error) {
	return s.indexCandles, nil
}
func (s *stubStore) Expiries(underlying string, referenceDate time.Time) ([]time.Time, error) {
	return nil, nil
}
func (s *stubStore) IndexTicks(day time.Time, symbols []string) ([]model.SecondTick, error) {
	return s.indexTicks, nil
}
func (s *stubStore) OptionTicks(symbol string, day time.Time, fromTS time.Time) ([]model.SecondTick, error) {
	return nil, nil
}

const noEntryDocument = `{
  "nodes": [
    {"id": "start", "type": "startNode", "data": {}},
    {"id": "exitSignal", "type": "exitSignalNode", "data": {"expr": "close < open"}},
    {"id": "exit", "type": "exitNode", "data": {"targetPositionVpi": "previous"}},
    {"id": "squareOff", "type": "squareOffNode", "data": {"timeBasedExitAt": "15:29"}}
  ],
  "edges": [
    {"source": "start", "target": "exitSignal"},
    {"source": "exitSignal", "target": "exit"},
    {"source": "start", "target": "squareOff"}
  ],
  "tradingInstrumentConfig": {
    "underlying": "NIFTY",
    "exchange": "NSE",
    "indicators": [{"timeframe": 1, "type": "SMA", "period": 5}]
  }
}`

func newTestEngine(t *testing.T, doc string, store *stubStore) *Engine {
	t.Helper()
	eng, err := New(Config{
		StrategyDocument: []byte(doc),
		Store:            store,
		Broker:           broker.New(0, nil),
		Day:              ist(0, 0, 0),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return eng
}

func TestNewWiresCollaboratorsAndLoadsHistory(t *testing.T) {
	store := &stubStore{}
	eng := newTestEngine(t, noEntryDocument, store)
	if eng.doc.startID != "start" {
		t.Errorf("startID = %q, want start", eng.doc.startID)
	}
	if eng.graph == nil || eng.data == nil || eng.resolver == nil || eng.positions == nil {
		t.Fatal("New left a collaborator unwired")
	}
}

func TestRunDrivesSourceToExhaustionWithNoPositions(t *testing.T) {
	store := &stubStore{
		indexTicks: []model.SecondTick{
			{Tick: model.Tick{Symbol: "NIFTY", TS: ist(9, 15, 0), LTP: 100}, Open: 100, High: 100, Low: 100, Close: 100},
			{Tick: model.Tick{Symbol: "NIFTY", TS: ist(9, 15, 1), LTP: 101}, Open: 101, High: 101, Low: 101, Close: 101},
		},
	}
	eng := newTestEngine(t, noEntryDocument, store)
	eng.NewBacktestRun(store.indexTicks)

	report, err := eng.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.TradeCount != 0 {
		t.Errorf("TradeCount = %d, want 0 (no entry node in this document)", report.TradeCount)
	}
	if len(report.EquityCurve) == 0 {
		t.Error("expected at least one equity curve sample")
	}
}

func TestRunWithoutSourceErrors(t *testing.T) {
	eng := newTestEngine(t, noEntryDocument, &stubStore{})
	if _, err := eng.Run(context.Background()); err == nil {
		t.Error("expected an error when Run is called with no tick source configured")
	}
}
