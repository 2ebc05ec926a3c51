// Package models defines the shared data types for signals, orders and
// market data.
package models

import (
	"fmt"
	"time"
)

// SignalKind represents the direction of a trading signal.
type SignalKind string

const (
	Buy  SignalKind = "BUY"
	Sell SignalKind = "SELL"
	Hold SignalKind = "HOLD"
)

// SignalSource identifies which component produced a signal.
type SignalSource string

const (
	SourceTechnical SignalSource = "technical"
	SourceAI        SignalSource = "ai_prediction"
	SourceModel     SignalSource = "model_prediction"
)

// AllSignalSources returns every known signal source in declaration order.
// The order is significant: fusion breaks vote ties by earliest-declared
// source.
func AllSignalSources() []SignalSource {
	return []SignalSource{SourceTechnical, SourceAI, SourceModel}
}

// MarketCondition classifies the current market regime.
type MarketCondition string

const (
	MarketNormal         MarketCondition = "NORMAL"
	MarketHighVolatility MarketCondition = "HIGH_VOLATILITY"
	MarketLowVolatility  MarketCondition = "LOW_VOLATILITY"
	MarketTrending       MarketCondition = "TRENDING"
	MarketSideways       MarketCondition = "SIDEWAYS"
)

// TradingSignal is a single trading opinion. Signals are immutable values:
// a change produces a new signal, never an in-place mutation.
type TradingSignal struct {
	Kind       SignalKind
	Strength   float64 // 0-1
	Confidence float64 // 0-1
	EntryPrice float64
	StopLoss   float64 // 0 when not set
	TakeProfit float64 // 0 when not set
	Reason     string
}

// HoldSignal returns a HOLD signal with the given reason.
func HoldSignal(reason string) TradingSignal {
	return TradingSignal{Kind: Hold, Reason: reason}
}

// IsActionable reports whether the signal calls for a trade.
func (s TradingSignal) IsActionable() bool {
	return s.Kind == Buy || s.Kind == Sell
}

// Validate checks the signal's field ranges.
func (s TradingSignal) Validate() error {
	switch s.Kind {
	case Buy, Sell, Hold:
	default:
		return fmt.Errorf("unknown signal kind: %q", s.Kind)
	}
	if s.Strength < 0 || s.Strength > 1 {
		return fmt.Errorf("strength must be between 0 and 1, got %f", s.Strength)
	}
	if s.Confidence < 0 || s.Confidence > 1 {
		return fmt.Errorf("confidence must be between 0 and 1, got %f", s.Confidence)
	}
	if s.IsActionable() && s.EntryPrice <= 0 {
		return fmt.Errorf("entry price is required for %s signal", s.Kind)
	}
	return nil
}

// SourcedSignal pairs a signal with its producer and production time.
type SourcedSignal struct {
	Source     SignalSource
	Signal     TradingSignal
	ProducedAt time.Time
}
