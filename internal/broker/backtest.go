// Package broker implements model.OrderPlacer. InstantFill is the
// in-memory backtest implementation; pkg/broker/live carries the
// TOTP-authenticated HTTP implementation used in live mode.
//
// Grounded on the teacher's internal/execution.PaperExecutor (order
// sequence counter, basis-points slippage simulation, an in-memory fill
// list) generalized from its channel-driven strategy.Signal consumer into
// a direct, synchronous model.OrderPlacer the engine calls per tick.
package broker

import (
	"fmt"
	"sync"
	"time"

	"github.com/sreeanthrds/optionbacktest/internal/model"
)

// Journal persists fills for later inspection; satisfied by
// internal/broker.SQLiteJournal, nil-safe so tests need not provide one.
type Journal interface {
	RecordFill(order model.Order) error
}

// InstantFill fills every order immediately at the quoted price (plus
// simulated slippage), since a backtest has no real order book to queue
// against. Advance must be called once per engine tick before any orders
// are placed, so CompletedAt reflects simulated time rather than wall
// clock.
type InstantFill struct {
	mu          sync.Mutex
	seq         int64
	orders      map[string]*model.Order
	slippageBps int64
	now         time.Time
	journal     Journal
}

// New returns an InstantFill broker. slippageBps applies symmetric
// slippage against the quoted price (buys fill higher, sells fill lower),
// matching PaperExecutor's convention; 0 disables it.
func New(slippageBps int64, journal Journal) *InstantFill {
	return &InstantFill{
		orders:      make(map[string]*model.Order),
		slippageBps: slippageBps,
		journal:     journal,
	}
}

// Advance sets the simulated clock used to stamp fills.
func (b *InstantFill) Advance(now time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.now = now
}

func (b *InstantFill) PlaceOrder(symbol, exchange string, side model.Side, qty int64, orderType model.OrderType, productType string, price float64) (model.Order, error) {
	if qty <= 0 {
		return model.Order{}, fmt.Errorf("broker: quantity must be positive, got %d", qty)
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	b.seq++
	fillPrice := applySlippage(price, side, b.slippageBps)
	o := model.Order{
		OrderID:        fmt.Sprintf("BT-%d", b.seq),
		Symbol:         symbol,
		Exchange:       exchange,
		Side:           side,
		Quantity:       qty,
		OrderType:      orderType,
		Price:          price,
		Status:         model.OrderComplete,
		FilledQuantity: qty,
		AveragePrice:   fillPrice,
		CompletedAt:    b.now,
	}
	b.orders[o.OrderID] = &o
	if b.journal != nil {
		_ = b.journal.RecordFill(o)
	}
	return o, nil
}

func (b *InstantFill) GetOrderStatus(orderID string, refreshFromBroker bool) (model.Order, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	o, ok := b.orders[orderID]
	if !ok {
		return model.Order{}, fmt.Errorf("broker: unknown order %q", orderID)
	}
	return *o, nil
}

// CancelOrder leaves any order already filled unchanged and reports it as
// not cancelled ("already filled"): an instant fill has nothing left to
// cancel by the time a caller could react to it.
func (b *InstantFill) CancelOrder(orderID string) (bool, string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	o, ok := b.orders[orderID]
	if !ok {
		return false, "", fmt.Errorf("broker: unknown order %q", orderID)
	}
	if o.Status == model.OrderComplete {
		return false, "already filled", nil
	}
	o.Status = model.OrderCancelled
	return true, "cancelled", nil
}

// GetPendingOrders always returns empty: every order fills synchronously
// inside PlaceOrder, so none are ever left pending.
func (b *InstantFill) GetPendingOrders() ([]model.Order, error) {
	return nil, nil
}

func applySlippage(price float64, side model.Side, bps int64) float64 {
	if price <= 0 || bps <= 0 {
		return price
	}
	slip := price * float64(bps) / 10000
	if side == model.Buy {
		return price + slip
	}
	return price - slip
}
