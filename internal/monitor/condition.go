package monitor

import "okx-trader/internal/models"

// Regime thresholds over the 24h hourly history.
const (
	highVolRangePct = 0.05
	lowVolRangePct  = 0.015
	trendingMovePct = 0.03
	sidewaysMovePct = 0.005
	sidewaysRange   = 0.03
)

// ClassifyCondition maps recent candles onto a market regime for the fusion
// weight tables. Without history the regime is NORMAL.
func ClassifyCondition(candles []models.Candle) models.MarketCondition {
	if len(candles) < 2 {
		return models.MarketNormal
	}

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
	if low <= 0 {
		return models.MarketNormal
	}

	rangePct := (high - low) / low

	first := candles[0].Close
	last := candles[len(candles)-1].Close
	movePct := 0.0
	if first > 0 {
		movePct = (last - first) / first
		if movePct < 0 {
			movePct = -movePct
		}
	}

	switch {
	case rangePct > highVolRangePct:
		return models.MarketHighVolatility
	case movePct > trendingMovePct:
		return models.MarketTrending
	case rangePct < lowVolRangePct:
		return models.MarketLowVolatility
	case movePct < sidewaysMovePct && rangePct < sidewaysRange:
		return models.MarketSideways
	default:
		return models.MarketNormal
	}
}
