package predictor

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"

	"okx-trader/internal/config"
	"okx-trader/internal/errors"
	"okx-trader/internal/models"
)

// Model queries the time-series inference service for a forecast. The
// service runs the heavy model out of process; this client only maps its
// forecast onto a trading signal.
type Model struct {
	baseURL    string
	httpClient *http.Client
	logger     zerolog.Logger
}

// NewModel creates the model-service predictor.
func NewModel(cfg config.ModelServiceConfig, logger zerolog.Logger) *Model {
	timeout := time.Duration(cfg.TimeoutSec) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Model{
		baseURL:    cfg.BaseURL,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

// Source identifies this predictor to the fusion engine.
func (m *Model) Source() models.SignalSource {
	return models.SourceModel
}

// modelForecast is the inference service's response contract.
type modelForecast struct {
	Symbol         string  `json:"symbol"`
	CurrentPrice   float64 `json:"current_price"`
	PredictedPrice float64 `json:"predicted_price"`
	PriceChangePct float64 `json:"price_change_pct"`
	Trend          string  `json:"trend"` // "bullish", "bearish", "sideways"
	Confidence     float64 `json:"confidence"`
	GeneratedAt    int64   `json:"generated_at"` // unix ms
}

// GetSignal fetches the latest forecast and converts it. A missing or
// unconfigured service yields ErrNoSignal so fusion simply proceeds
// without this source.
func (m *Model) GetSignal(ctx context.Context, symbol string) (models.TradingSignal, error) {
	if m.baseURL == "" {
		return models.TradingSignal{}, errors.ErrNoSignal
	}

	endpoint := fmt.Sprintf("%s/predict?%s", m.baseURL, url.Values{"symbol": {symbol}}.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return models.TradingSignal{}, errors.NewPredictorError("model", "build request", err)
	}

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return models.TradingSignal{}, errors.NewPredictorError("model", "request", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return models.TradingSignal{}, errors.ErrNoSignal
	}
	if resp.StatusCode != http.StatusOK {
		return models.TradingSignal{}, errors.NewPredictorError("model", "request",
			fmt.Errorf("status %d", resp.StatusCode))
	}

	var forecast modelForecast
	if err := json.NewDecoder(resp.Body).Decode(&forecast); err != nil {
		return models.TradingSignal{}, errors.NewPredictorError("model", "decode", err)
	}

	return m.forecastToSignal(forecast), nil
}

func (m *Model) forecastToSignal(forecast modelForecast) models.TradingSignal {
	var kind models.SignalKind
	switch forecast.Trend {
	case "bullish", "up":
		kind = models.Buy
	case "bearish", "down":
		kind = models.Sell
	default:
		kind = models.Hold
	}

	strength := forecast.PriceChangePct
	if strength < 0 {
		strength = -strength
	}
	// A 2% predicted move saturates strength.
	strength = strength / 0.02
	if strength > 1 {
		strength = 1
	}

	return models.TradingSignal{
		Kind:       kind,
		Strength:   strength,
		Confidence: forecast.Confidence,
		EntryPrice: forecast.CurrentPrice,
		TakeProfit: forecast.PredictedPrice,
		Reason:     fmt.Sprintf("model forecast %s %.2f%%", forecast.Trend, forecast.PriceChangePct*100),
	}
}
