// Package predictor houses the signal sources feeding the fusion engine:
// a range-oscillation technical strategy, an LLM-backed analyst and a
// time-series model service. Each source fails independently; an
// unavailable predictor is reported as ErrNoSignal, never as a crash.
package predictor

import (
	"context"

	"okx-trader/internal/models"
)

// Predictor produces a trading opinion for one instrument.
type Predictor interface {
	Source() models.SignalSource
	GetSignal(ctx context.Context, symbol string) (models.TradingSignal, error)
}
