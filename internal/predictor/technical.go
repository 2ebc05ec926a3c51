package predictor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"okx-trader/internal/errors"
	"okx-trader/internal/exchange"
	"okx-trader/internal/models"
)

// OscillationRange is the band the technical strategy trades inside:
// a 24h high/low range shrunk toward its center, on the observation that
// intraday sessions oscillate in a fraction of the full daily range.
type OscillationRange struct {
	Upper      float64
	Lower      float64
	Center     float64
	Size       float64
	LastUpdate time.Time
}

// TechnicalConfig tunes the oscillation strategy.
type TechnicalConfig struct {
	RangeHours        int     // lookback for the high/low band
	ShrinkFactor      float64 // fraction of the 24h range traded
	EntryThreshold    float64 // band-position fraction that triggers entries
	StopLossPct       float64
	RangeMaxAge       time.Duration
}

// DefaultTechnicalConfig returns the strategy defaults.
func DefaultTechnicalConfig() TechnicalConfig {
	return TechnicalConfig{
		RangeHours:     24,
		ShrinkFactor:   0.6,
		EntryThreshold: 0.1,
		StopLossPct:    0.02,
		RangeMaxAge:    time.Hour,
	}
}

// Technical produces mean-reversion signals from the instrument's position
// inside its oscillation range.
type Technical struct {
	client exchange.Client
	cfg    TechnicalConfig
	logger zerolog.Logger
	now    func() time.Time

	mu     sync.Mutex
	ranges map[string]OscillationRange
}

// NewTechnical creates the technical predictor.
func NewTechnical(client exchange.Client, cfg TechnicalConfig, logger zerolog.Logger) *Technical {
	return &Technical{
		client: client,
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
		ranges: make(map[string]OscillationRange),
	}
}

// Source identifies this predictor to the fusion engine.
func (t *Technical) Source() models.SignalSource {
	return models.SourceTechnical
}

// GetSignal computes where the current price sits inside the oscillation
// range: near the lower edge is a BUY, near the upper edge a SELL, the
// middle is HOLD. The range is recomputed from hourly candles when stale.
func (t *Technical) GetSignal(ctx context.Context, symbol string) (models.TradingSignal, error) {
	price, err := t.client.GetCurrentPrice(ctx, symbol)
	if err != nil {
		return models.TradingSignal{}, errors.NewPredictorError("technical", "get price", err)
	}

	band, err := t.rangeFor(ctx, symbol)
	if err != nil {
		return models.TradingSignal{}, err
	}
	if band.Size <= 0 {
		return models.HoldSignal("oscillation range degenerate"), nil
	}

	position := (price - band.Lower) / band.Size

	switch {
	case position < t.cfg.EntryThreshold:
		return models.TradingSignal{
			Kind:       models.Buy,
			Strength:   1.0 - position,
			Confidence: 0.8,
			EntryPrice: price,
			StopLoss:   price * (1 - t.cfg.StopLossPct),
			TakeProfit: band.Upper * 0.95,
			Reason:     fmt.Sprintf("near range floor, position %.0f%%", position*100),
		}, nil
	case position > 1-t.cfg.EntryThreshold:
		return models.TradingSignal{
			Kind:       models.Sell,
			Strength:   position,
			Confidence: 0.8,
			EntryPrice: price,
			StopLoss:   price * (1 + t.cfg.StopLossPct),
			TakeProfit: band.Lower * 1.05,
			Reason:     fmt.Sprintf("near range ceiling, position %.0f%%", position*100),
		}, nil
	default:
		return models.TradingSignal{
			Kind:       models.Hold,
			Strength:   0.5,
			Confidence: 0.5,
			EntryPrice: price,
			Reason:     fmt.Sprintf("mid-range, position %.0f%%", position*100),
		}, nil
	}
}

// rangeFor returns the cached range for a symbol, rebuilding it from
// hourly candles when missing or past its max age.
func (t *Technical) rangeFor(ctx context.Context, symbol string) (OscillationRange, error) {
	t.mu.Lock()
	band, ok := t.ranges[symbol]
	t.mu.Unlock()
	if ok && t.now().Sub(band.LastUpdate) < t.cfg.RangeMaxAge {
		return band, nil
	}

	candles, err := t.client.GetCandles(ctx, symbol, "1H", t.cfg.RangeHours)
	if err != nil {
		return OscillationRange{}, errors.NewPredictorError("technical", "get candles", err)
	}
	if len(candles) < t.cfg.RangeHours {
		return OscillationRange{}, errors.Wrapf(errors.ErrDataUnavailable,
			"need %d hourly candles, have %d", t.cfg.RangeHours, len(candles))
	}

	band = t.buildRange(candles)
	t.mu.Lock()
	t.ranges[symbol] = band
	t.mu.Unlock()

	t.logger.Debug().
		Str("symbol", symbol).
		Float64("lower", band.Lower).
		Float64("upper", band.Upper).
		Msg("Oscillation range rebuilt")

	return band, nil
}

func (t *Technical) buildRange(candles []models.Candle) OscillationRange {
	high := candles[0].High
	low := candles[0].Low
	for _, c := range candles[1:] {
		if c.High > high {
			high = c.High
		}
		if c.Low < low {
			low = c.Low
		}
	}

	fullRange := high - low
	shrunk := fullRange * t.cfg.ShrinkFactor
	center := (high + low) / 2

	return OscillationRange{
		Upper:      center + shrunk*0.3,
		Lower:      center - shrunk*0.3,
		Center:     center,
		Size:       shrunk * 0.6,
		LastUpdate: t.now(),
	}
}
