package predictor

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"okx-trader/internal/config"
	"okx-trader/internal/errors"
	"okx-trader/internal/exchange"
	"okx-trader/internal/models"
)

// marketStub serves scripted prices and candles; trading calls are unused
// by predictors.
type marketStub struct {
	price   float64
	candles []models.Candle
}

func (f *marketStub) GetCurrentPrice(ctx context.Context, symbol string) (float64, error) {
	return f.price, nil
}

func (f *marketStub) GetCandles(ctx context.Context, symbol, timeframe string, limit int) ([]models.Candle, error) {
	return f.candles, nil
}

func (f *marketStub) PlaceOrder(ctx context.Context, params models.OrderParams) (*exchange.OrderResult, error) {
	return nil, errors.ErrOrderRejected
}

func (f *marketStub) CancelOrder(ctx context.Context, symbol, orderID string) error {
	return nil
}

func (f *marketStub) GetOrderStatus(ctx context.Context, symbol, orderID string) (*exchange.OrderStatus, error) {
	return nil, errors.ErrOrderNotFound
}

func (f *marketStub) GetPositions(ctx context.Context) ([]models.PositionInfo, error) {
	return nil, nil
}

func (f *marketStub) GetAvailableBalance(ctx context.Context) (float64, error) {
	return 100000, nil
}

func hourlyCandles(low, high float64, n int) []models.Candle {
	candles := make([]models.Candle, n)
	for i := range candles {
		candles[i] = models.Candle{
			Timestamp: time.Now().Add(-time.Duration(n-i) * time.Hour),
			Open:      low, High: high, Low: low, Close: (low + high) / 2,
		}
	}
	return candles
}

func newTechnicalUnderTest(price float64) *Technical {
	market := &marketStub{price: price, candles: hourlyCandles(64000, 66000, 24)}
	return NewTechnical(market, DefaultTechnicalConfig(), zerolog.Nop())
}

func TestTechnicalBuysNearRangeFloor(t *testing.T) {
	// 24h band 64000-66000: center 65000, shrunk range 1200, traded band
	// 64640-65360. A price at the very bottom of the band is a BUY.
	tech := newTechnicalUnderTest(64650)

	signal, err := tech.GetSignal(context.Background(), "BTC-USDT-SWAP")
	require.NoError(t, err)

	assert.Equal(t, models.Buy, signal.Kind)
	assert.Greater(t, signal.Strength, 0.85)
	assert.InDelta(t, 0.8, signal.Confidence, 1e-9)
	assert.Less(t, signal.StopLoss, signal.EntryPrice)
	assert.Contains(t, signal.Reason, "range floor")
}

func TestTechnicalSellsNearRangeCeiling(t *testing.T) {
	tech := newTechnicalUnderTest(65350)

	signal, err := tech.GetSignal(context.Background(), "BTC-USDT-SWAP")
	require.NoError(t, err)

	assert.Equal(t, models.Sell, signal.Kind)
	assert.Greater(t, signal.StopLoss, signal.EntryPrice)
}

func TestTechnicalHoldsMidRange(t *testing.T) {
	tech := newTechnicalUnderTest(65000)

	signal, err := tech.GetSignal(context.Background(), "BTC-USDT-SWAP")
	require.NoError(t, err)

	assert.Equal(t, models.Hold, signal.Kind)
}

func TestTechnicalNeedsFullLookback(t *testing.T) {
	market := &marketStub{price: 65000, candles: hourlyCandles(64000, 66000, 10)}
	tech := NewTechnical(market, DefaultTechnicalConfig(), zerolog.Nop())

	_, err := tech.GetSignal(context.Background(), "BTC-USDT-SWAP")
	assert.ErrorIs(t, err, errors.ErrDataUnavailable)
}

// scriptedLLM returns a canned completion.
type scriptedLLM struct {
	reply string
	err   error
}

func (s *scriptedLLM) CompleteWithSystem(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	return s.reply, s.err
}

func TestAIParsesFencedJSONReply(t *testing.T) {
	llm := &scriptedLLM{reply: "Here is my analysis:\n```json\n{\"direction\": \"up\", \"confidence\": 0.75, \"reason\": \"higher lows\"}\n```"}
	market := &marketStub{price: 65000, candles: hourlyCandles(64000, 66000, 24)}
	ai := NewAI(llm, market, zerolog.Nop())

	signal, err := ai.GetSignal(context.Background(), "BTC-USDT-SWAP")
	require.NoError(t, err)

	assert.Equal(t, models.Buy, signal.Kind)
	assert.InDelta(t, 0.75, signal.Confidence, 1e-9)
	assert.Contains(t, signal.Reason, "higher lows")
}

func TestAIParsesBareJSONReply(t *testing.T) {
	llm := &scriptedLLM{reply: `{"direction": "down", "confidence": 0.6, "reason": "rejection at resistance"}`}
	market := &marketStub{price: 65000, candles: hourlyCandles(64000, 66000, 24)}
	ai := NewAI(llm, market, zerolog.Nop())

	signal, err := ai.GetSignal(context.Background(), "BTC-USDT-SWAP")
	require.NoError(t, err)
	assert.Equal(t, models.Sell, signal.Kind)
}

func TestAIHoldsOnGarbageReply(t *testing.T) {
	llm := &scriptedLLM{reply: "I cannot make a prediction right now."}
	market := &marketStub{price: 65000, candles: hourlyCandles(64000, 66000, 24)}
	ai := NewAI(llm, market, zerolog.Nop())

	signal, err := ai.GetSignal(context.Background(), "BTC-USDT-SWAP")
	require.NoError(t, err, "an unparseable reply degrades to HOLD, it does not error")
	assert.Equal(t, models.Hold, signal.Kind)
}

func TestAIRejectsOutOfRangeConfidence(t *testing.T) {
	_, err := parsePrediction(`{"direction": "up", "confidence": 1.7}`)
	assert.Error(t, err)
}

func TestModelConvertsForecast(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "BTC-USDT-SWAP", r.URL.Query().Get("symbol"))
		json.NewEncoder(w).Encode(modelForecast{
			Symbol:         "BTC-USDT-SWAP",
			CurrentPrice:   65000,
			PredictedPrice: 65650,
			PriceChangePct: 0.01,
			Trend:          "bullish",
			Confidence:     0.7,
		})
	}))
	defer server.Close()

	model := NewModel(config.ModelServiceConfig{BaseURL: server.URL, TimeoutSec: 5}, zerolog.Nop())

	signal, err := model.GetSignal(context.Background(), "BTC-USDT-SWAP")
	require.NoError(t, err)

	assert.Equal(t, models.Buy, signal.Kind)
	assert.InDelta(t, 0.5, signal.Strength, 1e-9, "a 1% move is half of the 2% saturation")
	assert.InDelta(t, 0.7, signal.Confidence, 1e-9)
	assert.InDelta(t, 65650.0, signal.TakeProfit, 1e-9)
}

func TestModelUnavailableIsNoSignal(t *testing.T) {
	model := NewModel(config.ModelServiceConfig{}, zerolog.Nop())

	_, err := model.GetSignal(context.Background(), "BTC-USDT-SWAP")
	assert.ErrorIs(t, err, errors.ErrNoSignal)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	model = NewModel(config.ModelServiceConfig{BaseURL: server.URL}, zerolog.Nop())
	_, err = model.GetSignal(context.Background(), "BTC-USDT-SWAP")
	assert.ErrorIs(t, err, errors.ErrNoSignal)
}
