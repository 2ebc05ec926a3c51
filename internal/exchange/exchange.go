// Package exchange provides exchange integration interfaces and implementations.
package exchange

import (
	"context"
	"time"

	"okx-trader/internal/models"
)

// Client defines the interface for exchange operations. Implementations
// classify failures so callers can tell retryable transport trouble from
// hard rejections.
type Client interface {
	// Market data. GetCandles returns bars in chronological order, oldest
	// first; indicator and condition consumers depend on it.
	GetCurrentPrice(ctx context.Context, symbol string) (float64, error)
	GetCandles(ctx context.Context, symbol, timeframe string, limit int) ([]models.Candle, error)

	// Orders
	PlaceOrder(ctx context.Context, params models.OrderParams) (*OrderResult, error)
	CancelOrder(ctx context.Context, symbol, orderID string) error
	GetOrderStatus(ctx context.Context, symbol, orderID string) (*OrderStatus, error)

	// Account
	GetPositions(ctx context.Context) ([]models.PositionInfo, error)
	GetAvailableBalance(ctx context.Context) (float64, error)
}

// Ticker defines the interface for real-time price streaming.
type Ticker interface {
	Connect(ctx context.Context) error
	Disconnect() error
	Subscribe(symbols []string) error
	Unsubscribe(symbols []string) error
	OnTick(handler func(models.Tick))
	OnError(handler func(error))
}

// OrderResult is the exchange's answer to an order placement.
type OrderResult struct {
	OrderID   string
	Status    string
	Message   string
	Timestamp time.Time
}

// OrderStatus reports the live state of an order.
type OrderStatus struct {
	OrderID     string
	Symbol      string
	State       string // "live", "partially_filled", "filled", "canceled"
	FilledSize  float64
	TotalSize   float64
	AvgFillPrice float64
	UpdatedAt   time.Time
}
