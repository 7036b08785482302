package model

import "time"

// Side is the transaction direction of an order or position.
type Side string

const (
	Buy  Side = "BUY"
	Sell Side = "SELL"
)

// Opposite returns the other side, used to validate an exit's direction
// against its entry (spec §3 invariant, §8 property 4).
func (s Side) Opposite() Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

// OrderType mirrors the broker order types from §6.
type OrderType string

const (
	OrderMarket OrderType = "MARKET"
	OrderLimit  OrderType = "LIMIT"
)

// OrderStatus is the broker-reported lifecycle status from §6.
type OrderStatus string

const (
	OrderPending         OrderStatus = "PENDING"
	OrderComplete        OrderStatus = "COMPLETE"
	OrderPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	OrderRejected        OrderStatus = "REJECTED"
	OrderCancelled       OrderStatus = "CANCELLED"
)

// Order is a broker order request/response pair, placed through the
// OrderPlacer port (§6).
type Order struct {
	OrderID         string
	BrokerOrderID   string
	Symbol          string
	Exchange        string
	Side            Side
	Quantity        int64
	OrderType       OrderType
	Price           float64 // limit price; 0 for market
	Status          OrderStatus
	FilledQuantity  int64
	AveragePrice    float64
	CompletedAt     time.Time
	RejectionReason string
}
