package models

import "time"

// OrderSide represents the side of an order.
type OrderSide string

const (
	SideBuy  OrderSide = "buy"
	SideSell OrderSide = "sell"
)

// OrderType represents the order type.
type OrderType string

const (
	OrderTypeMarket OrderType = "market"
	OrderTypeLimit  OrderType = "limit"
)

// PositionSide represents the direction of an open position.
type PositionSide string

const (
	Long  PositionSide = "long"
	Short PositionSide = "short"
)

// OrderParams holds everything needed to place an order.
type OrderParams struct {
	Symbol        string
	Side          OrderSide
	Type          OrderType
	Size          float64
	Price         float64 // 0 for market orders
	Leverage      float64
	ClientOrderID string
	ReduceOnly    bool
	StopLoss      float64
	TakeProfit    float64
}

// PositionInfo describes an open position as reported by the exchange.
type PositionInfo struct {
	Symbol        string
	Side          PositionSide
	Size          float64
	AvgPrice      float64
	MarkPrice     float64
	UnrealizedPnL float64
	Margin        float64
	OpenedAt      time.Time
}

// Value returns the notional value of the position at its mark price.
func (p PositionInfo) Value() float64 {
	v := p.Size * p.MarkPrice
	if v < 0 {
		return -v
	}
	return v
}
