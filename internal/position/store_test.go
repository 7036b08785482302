package position

import (
	"testing"
	"time"

	"github.com/sreeanthrds/optionbacktest/internal/model"
)

func tsAt(h, m int) time.Time {
	return time.Date(2024, 10, 3, h, m, 0, 0, time.UTC)
}

func TestOpenAssignsIncrementingVPIsAndReEntryNum(t *testing.T) {
	s := New()
	p1 := s.Open("entry1", "NIFTY", model.Buy, 50, 100, tsAt(9, 16), 0, 25000)
	p2 := s.Open("entry1", "NIFTY", model.Buy, 50, 101, tsAt(9, 20), 1, 25010)

	if p1.VPI == p2.VPI {
		t.Fatalf("expected distinct VPIs, got %q twice", p1.VPI)
	}
	if p2.ReEntryNum != 1 {
		t.Errorf("p2.ReEntryNum = %d, want 1", p2.ReEntryNum)
	}
	if len(s.OpenPositions()) != 2 {
		t.Errorf("open positions = %d, want 2", len(s.OpenPositions()))
	}
}

func TestCloseAppendsExitHistoryAndFlipsStatus(t *testing.T) {
	s := New()
	p := s.Open("entry1", "NIFTY", model.Buy, 50, 100, tsAt(9, 16), 0, 25000)

	closed, err := s.Close(p.VPI, 110, tsAt(9, 30), "exit signal", "exit1", 0)
	if err != nil {
		t.Fatalf("Close: %v", err)
	}
	if closed.Status != model.PositionClosed {
		t.Errorf("status = %v, want CLOSED", closed.Status)
	}
	if len(closed.ExitHistory) != 1 || closed.ExitHistory[0].Price != 110 {
		t.Fatalf("exit history = %+v", closed.ExitHistory)
	}
	if got := closed.RealizedPnL(); got != 500 { // (110-100)*50
		t.Errorf("RealizedPnL = %v, want 500", got)
	}
	if len(s.OpenPositions()) != 0 {
		t.Error("expected no open positions after close")
	}
}

func TestCloseUnknownOrAlreadyClosedErrors(t *testing.T) {
	s := New()
	if _, err := s.Close("VPI999", 1, tsAt(9, 0), "x", "n", 0); err == nil {
		t.Error("expected an error closing an unknown vpi")
	}

	p := s.Open("entry1", "NIFTY", model.Sell, 10, 100, tsAt(9, 16), 0, 25000)
	if _, err := s.Close(p.VPI, 95, tsAt(9, 20), "x", "n", 0); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	if _, err := s.Close(p.VPI, 95, tsAt(9, 21), "x", "n", 0); err == nil {
		t.Error("expected an error double-closing a position")
	}
}

func TestMarkToMarketUpdatesOnlyOpenPositions(t *testing.T) {
	s := New()
	open := s.Open("entry1", "NIFTY", model.Buy, 50, 100, tsAt(9, 16), 0, 25000)
	closed := s.Open("entry1", "NIFTY", model.Buy, 50, 100, tsAt(9, 10), 0, 25000)
	if _, err := s.Close(closed.VPI, 105, tsAt(9, 12), "x", "n", 0); err != nil {
		t.Fatalf("Close: %v", err)
	}

	s.MarkToMarket(func(symbol string) (float64, bool) { return 130, true })

	got, _ := s.Get(open.VPI)
	if got.LastLTP != 130 {
		t.Errorf("open position LastLTP = %v, want 130", got.LastLTP)
	}
	gotClosed, _ := s.Get(closed.VPI)
	if gotClosed.LastLTP != 105 {
		t.Errorf("closed position LastLTP = %v, want unchanged 105", gotClosed.LastLTP)
	}
}

func TestTotalPnLSumsRealizedAndUnrealized(t *testing.T) {
	s := New()
	closed := s.Open("entry1", "NIFTY", model.Buy, 50, 100, tsAt(9, 10), 0, 25000)
	if _, err := s.Close(closed.VPI, 110, tsAt(9, 12), "x", "n", 0); err != nil {
		t.Fatalf("Close: %v", err)
	}
	s.Open("entry1", "NIFTY", model.Buy, 20, 100, tsAt(9, 16), 0, 25000)

	realized, unrealized := s.TotalPnL(func(symbol string) (float64, bool) { return 120, true })
	if realized != 500 { // (110-100)*50
		t.Errorf("realized = %v, want 500", realized)
	}
	if unrealized != 400 { // (120-100)*20
		t.Errorf("unrealized = %v, want 400", unrealized)
	}
}

func TestAllReturnsEveryPositionInOpenOrder(t *testing.T) {
	s := New()
	p1 := s.Open("entry1", "NIFTY", model.Buy, 50, 100, tsAt(9, 10), 0, 25000)
	p2 := s.Open("entry1", "NIFTY", model.Buy, 50, 100, tsAt(9, 16), 0, 25000)
	if _, err := s.Close(p1.VPI, 110, tsAt(9, 12), "x", "n", 0); err != nil {
		t.Fatalf("Close: %v", err)
	}

	all := s.All()
	if len(all) != 2 {
		t.Fatalf("All() = %d entries, want 2", len(all))
	}
	if all[0].VPI != p1.VPI || all[1].VPI != p2.VPI {
		t.Errorf("All() order = [%s %s], want [%s %s]", all[0].VPI, all[1].VPI, p1.VPI, p2.VPI)
	}
}
