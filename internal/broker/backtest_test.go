package broker

import (
	"testing"
	"time"

	"github.com/sreeanthrds/optionbacktest/internal/model"
)

func approxEqual(a, b float64) bool {
	d := a - b
	if d < 0 {
		d = -d
	}
	return d < 1e-9
}

type fakeJournal struct{ fills []model.Order }

func (j *fakeJournal) RecordFill(o model.Order) error {
	j.fills = append(j.fills, o)
	return nil
}

func TestPlaceOrderFillsInstantlyWithSlippage(t *testing.T) {
	j := &fakeJournal{}
	b := New(10, j) // 10bps
	b.Advance(time.Date(2024, 10, 3, 9, 16, 0, 0, time.UTC))

	o, err := b.PlaceOrder("NIFTY", "NSE", model.Buy, 50, model.OrderMarket, "INTRADAY", 100)
	if err != nil {
		t.Fatalf("PlaceOrder: %v", err)
	}
	if o.Status != model.OrderComplete {
		t.Fatalf("status = %v, want COMPLETE", o.Status)
	}
	if want := 100.1; !approxEqual(o.AveragePrice, want) { // 100 * (1 + 10/10000)
		t.Errorf("fill price = %v, want %v", o.AveragePrice, want)
	}
	if len(j.fills) != 1 {
		t.Fatalf("journal recorded %d fills, want 1", len(j.fills))
	}

	sell, _ := b.PlaceOrder("NIFTY", "NSE", model.Sell, 50, model.OrderMarket, "INTRADAY", 100)
	if want := 99.9; !approxEqual(sell.AveragePrice, want) {
		t.Errorf("sell fill price = %v, want %v", sell.AveragePrice, want)
	}
}

func TestPlaceOrderRejectsNonPositiveQuantity(t *testing.T) {
	b := New(0, nil)
	if _, err := b.PlaceOrder("NIFTY", "NSE", model.Buy, 0, model.OrderMarket, "INTRADAY", 100); err == nil {
		t.Error("expected an error for zero quantity")
	}
}

func TestGetOrderStatusUnknownOrderErrors(t *testing.T) {
	b := New(0, nil)
	if _, err := b.GetOrderStatus("nope", false); err == nil {
		t.Error("expected an error for an unknown order id")
	}
}

func TestCancelOrderAlreadyFilledIsNoop(t *testing.T) {
	b := New(0, nil)
	o, _ := b.PlaceOrder("NIFTY", "NSE", model.Buy, 50, model.OrderMarket, "INTRADAY", 100)
	ok, reason, err := b.CancelOrder(o.OrderID)
	if err != nil {
		t.Fatalf("CancelOrder: %v", err)
	}
	if ok {
		t.Error("expected cancel of an already-filled order to report not-ok")
	}
	if reason == "" {
		t.Error("expected a reason string")
	}
}

func TestGetPendingOrdersAlwaysEmpty(t *testing.T) {
	b := New(0, nil)
	b.PlaceOrder("NIFTY", "NSE", model.Buy, 50, model.OrderMarket, "INTRADAY", 100)
	pending, err := b.GetPendingOrders()
	if err != nil {
		t.Fatalf("GetPendingOrders: %v", err)
	}
	if len(pending) != 0 {
		t.Errorf("pending = %d, want 0 (instant fill never leaves anything pending)", len(pending))
	}
}
