package exchange

import (
	"context"
	"fmt"
	"sync"
	"time"

	"okx-trader/internal/errors"
	"okx-trader/internal/models"
)

// PaperExchange implements Client against simulated state. Market data
// comes from an optional real data client; prices can also be pushed
// directly, which is how tests and the paper ticker drive it.
type PaperExchange struct {
	dataClient Client

	mu           sync.RWMutex
	balance      float64
	positions    map[string]*models.PositionInfo
	orders       map[string]*OrderStatus
	prices       map[string]float64
	orderCounter int
	now          func() time.Time
}

// NewPaperExchange creates a paper exchange with the given starting balance.
// dataClient may be nil when prices are pushed with SetPrice.
func NewPaperExchange(dataClient Client, initialBalance float64) *PaperExchange {
	if initialBalance <= 0 {
		initialBalance = 10000
	}
	return &PaperExchange{
		dataClient: dataClient,
		balance:    initialBalance,
		positions:  make(map[string]*models.PositionInfo),
		orders:     make(map[string]*OrderStatus),
		prices:     make(map[string]float64),
		now:        time.Now,
	}
}

// SetClock replaces the exchange's time source. Tests only.
func (p *PaperExchange) SetClock(now func() time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.now = now
}

// SetPrice pushes a simulated price for a symbol.
func (p *PaperExchange) SetPrice(symbol string, price float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.prices[symbol] = price
}

// GetCurrentPrice returns the pushed price, falling back to the data client.
func (p *PaperExchange) GetCurrentPrice(ctx context.Context, symbol string) (float64, error) {
	p.mu.RLock()
	price, ok := p.prices[symbol]
	p.mu.RUnlock()
	if ok {
		return price, nil
	}

	if p.dataClient != nil {
		price, err := p.dataClient.GetCurrentPrice(ctx, symbol)
		if err == nil {
			p.SetPrice(symbol, price)
		}
		return price, err
	}
	return 0, errors.ErrDataUnavailable
}

// GetCandles delegates to the data client.
func (p *PaperExchange) GetCandles(ctx context.Context, symbol, timeframe string, limit int) ([]models.Candle, error) {
	if p.dataClient != nil {
		return p.dataClient.GetCandles(ctx, symbol, timeframe, limit)
	}
	return nil, errors.ErrDataUnavailable
}

// PlaceOrder simulates immediate fills at the current price. Limit orders
// that cannot fill at the current price rest as live orders.
func (p *PaperExchange) PlaceOrder(ctx context.Context, params models.OrderParams) (*OrderResult, error) {
	price, err := p.GetCurrentPrice(ctx, params.Symbol)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	cost := params.Size * price
	if params.Side == models.SideBuy && !params.ReduceOnly && cost > p.balance {
		return nil, errors.NewExchangeError(errors.ClassRejected, "paper",
			fmt.Sprintf("cost %.2f exceeds balance %.2f", cost, p.balance), errors.ErrInsufficientFunds)
	}

	p.orderCounter++
	orderID := fmt.Sprintf("PAPER_%d_%d", p.now().Unix(), p.orderCounter)

	fills := price
	state := "filled"
	filledSize := params.Size
	if params.Type == models.OrderTypeLimit {
		fills = params.Price
		canFill := (params.Side == models.SideBuy && price <= params.Price) ||
			(params.Side == models.SideSell && price >= params.Price)
		if !canFill {
			state = "live"
			filledSize = 0
		}
	}

	p.orders[orderID] = &OrderStatus{
		OrderID:      orderID,
		Symbol:       params.Symbol,
		State:        state,
		FilledSize:   filledSize,
		TotalSize:    params.Size,
		AvgFillPrice: fills,
		UpdatedAt:    p.now(),
	}

	if state == "filled" {
		p.applyFill(params, fills)
	}

	return &OrderResult{OrderID: orderID, Status: "submitted", Timestamp: p.now()}, nil
}

// applyFill adjusts simulated balance and positions. Caller holds the lock.
func (p *PaperExchange) applyFill(params models.OrderParams, price float64) {
	notional := params.Size * price

	if params.Side == models.SideBuy {
		p.balance -= notional
	} else {
		p.balance += notional
	}

	pos, ok := p.positions[params.Symbol]
	if !ok {
		side := models.Long
		size := params.Size
		if params.Side == models.SideSell {
			side = models.Short
		}
		p.positions[params.Symbol] = &models.PositionInfo{
			Symbol:    params.Symbol,
			Side:      side,
			Size:      size,
			AvgPrice:  price,
			MarkPrice: price,
			OpenedAt:  p.now(),
		}
		return
	}

	// Same-direction fills average in; opposite fills reduce.
	sameDirection := (pos.Side == models.Long && params.Side == models.SideBuy) ||
		(pos.Side == models.Short && params.Side == models.SideSell)
	if sameDirection {
		total := pos.Size + params.Size
		pos.AvgPrice = (pos.AvgPrice*pos.Size + price*params.Size) / total
		pos.Size = total
	} else {
		pos.Size -= params.Size
		if pos.Size <= 0 {
			delete(p.positions, params.Symbol)
			return
		}
	}
	pos.MarkPrice = price
}

// CancelOrder cancels a resting order.
func (p *PaperExchange) CancelOrder(ctx context.Context, symbol, orderID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	order, ok := p.orders[orderID]
	if !ok {
		return errors.ErrOrderNotFound
	}
	if order.State == "filled" {
		return errors.NewExchangeError(errors.ClassRejected, "paper", "order already filled", nil)
	}
	order.State = "canceled"
	order.UpdatedAt = p.now()
	return nil
}

// GetOrderStatus returns the simulated order state.
func (p *PaperExchange) GetOrderStatus(ctx context.Context, symbol, orderID string) (*OrderStatus, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	order, ok := p.orders[orderID]
	if !ok {
		return nil, errors.ErrOrderNotFound
	}
	out := *order
	return &out, nil
}

// GetPositions returns simulated open positions.
func (p *PaperExchange) GetPositions(ctx context.Context) ([]models.PositionInfo, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]models.PositionInfo, 0, len(p.positions))
	for _, pos := range p.positions {
		out = append(out, *pos)
	}
	return out, nil
}

// GetAvailableBalance returns the simulated balance.
func (p *PaperExchange) GetAvailableBalance(ctx context.Context) (float64, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.balance, nil
}
