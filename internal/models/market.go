package models

import "time"

// Candle represents a single OHLCV bar.
type Candle struct {
	Timestamp time.Time
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
}

// Tick represents a live price update for a symbol.
type Tick struct {
	Symbol    string
	Price     float64
	Timestamp time.Time
}
