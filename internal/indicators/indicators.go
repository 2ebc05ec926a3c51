// Package indicators computes the technical series the trading pipeline
// consumes: Wilder ATR for stop sizing, EMA for trend context and RSI for
// momentum.
package indicators

import (
	"errors"
	"math"

	"okx-trader/internal/models"
)

var (
	ErrInvalidPeriod    = errors.New("indicator period must be positive")
	ErrInsufficientData = errors.New("insufficient data for indicator period")
)

// ATR returns the Average True Range series using Wilder smoothing.
// Entries before the first full period are zero.
func ATR(candles []models.Candle, period int) ([]float64, error) {
	if period <= 0 {
		return nil, ErrInvalidPeriod
	}
	if len(candles) < period+1 {
		return nil, ErrInsufficientData
	}

	n := len(candles)
	tr := make([]float64, n)
	tr[0] = candles[0].High - candles[0].Low
	for i := 1; i < n; i++ {
		tr[i] = trueRange(candles[i], candles[i-1])
	}

	result := make([]float64, n)
	result[period-1] = mean(tr[:period])
	for i := period; i < n; i++ {
		result[i] = (result[i-1]*float64(period-1) + tr[i]) / float64(period)
	}
	return result, nil
}

// LatestATR returns the most recent ATR value.
func LatestATR(candles []models.Candle, period int) (float64, error) {
	series, err := ATR(candles, period)
	if err != nil {
		return 0, err
	}
	return series[len(series)-1], nil
}

// EMA returns the exponential moving average of values. The series is
// seeded with the SMA of the first period.
func EMA(values []float64, period int) ([]float64, error) {
	if period <= 0 {
		return nil, ErrInvalidPeriod
	}
	if len(values) < period {
		return nil, ErrInsufficientData
	}

	n := len(values)
	result := make([]float64, n)
	multiplier := 2.0 / float64(period+1)

	result[period-1] = mean(values[:period])
	for i := period; i < n; i++ {
		result[i] = (values[i]-result[i-1])*multiplier + result[i-1]
	}
	return result, nil
}

// RSI returns the Relative Strength Index over closing prices, Wilder
// smoothed. A series with no losses reads 100.
func RSI(candles []models.Candle, period int) ([]float64, error) {
	if period <= 0 {
		return nil, ErrInvalidPeriod
	}
	if len(candles) < period+1 {
		return nil, ErrInsufficientData
	}

	n := len(candles)
	gains := make([]float64, n)
	losses := make([]float64, n)
	for i := 1; i < n; i++ {
		change := candles[i].Close - candles[i-1].Close
		if change > 0 {
			gains[i] = change
		} else {
			losses[i] = -change
		}
	}

	result := make([]float64, n)
	avgGain := mean(gains[1 : period+1])
	avgLoss := mean(losses[1 : period+1])
	result[period] = rsiValue(avgGain, avgLoss)

	for i := period + 1; i < n; i++ {
		avgGain = (avgGain*float64(period-1) + gains[i]) / float64(period)
		avgLoss = (avgLoss*float64(period-1) + losses[i]) / float64(period)
		result[i] = rsiValue(avgGain, avgLoss)
	}
	return result, nil
}

func rsiValue(avgGain, avgLoss float64) float64 {
	if avgLoss == 0 {
		return 100
	}
	rs := avgGain / avgLoss
	return 100 - 100/(1+rs)
}

// ClosePrices extracts the close series from candles.
func ClosePrices(candles []models.Candle) []float64 {
	closes := make([]float64, len(candles))
	for i, c := range candles {
		closes[i] = c.Close
	}
	return closes
}

// trueRange is the greatest of the candle range and the gaps from the
// previous close.
func trueRange(current, previous models.Candle) float64 {
	hl := current.High - current.Low
	hc := math.Abs(current.High - previous.Close)
	lc := math.Abs(current.Low - previous.Close)
	return math.Max(hl, math.Max(hc, lc))
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}
