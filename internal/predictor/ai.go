package predictor

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/rs/zerolog"
	"github.com/sashabaranov/go-openai"

	"okx-trader/internal/errors"
	"okx-trader/internal/exchange"
	"okx-trader/internal/models"
)

// LLMClient abstracts the chat-completion call so tests can script replies.
type LLMClient interface {
	CompleteWithSystem(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// OpenAIClient implements LLMClient using the OpenAI API.
type OpenAIClient struct {
	client *openai.Client
	model  string
}

// NewOpenAIClient creates an OpenAI LLM client.
func NewOpenAIClient(apiKey, model string) *OpenAIClient {
	return &OpenAIClient{
		client: openai.NewClient(apiKey),
		model:  model,
	}
}

// CompleteWithSystem sends a prompt with a system message to the LLM.
func (c *OpenAIClient) CompleteWithSystem(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: userPrompt},
		},
	})
	if err != nil {
		return "", fmt.Errorf("openai completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no response from openai")
	}
	return resp.Choices[0].Message.Content, nil
}

const aiSystemPrompt = `You are a cryptocurrency market analyst. Given recent
price action, predict the direction over the next few hours. Respond with a
single JSON object: {"direction": "up"|"down"|"sideways", "confidence": 0.0-1.0,
"reason": "one sentence"}. No other text.`

// aiPrediction is the JSON contract expected from the LLM.
type aiPrediction struct {
	Direction  string  `json:"direction"`
	Confidence float64 `json:"confidence"`
	Reason     string  `json:"reason"`
}

// AI asks an LLM for a directional opinion grounded in recent candles.
type AI struct {
	llm      LLMClient
	exchange exchange.Client
	logger   zerolog.Logger
}

// NewAI creates the AI predictor.
func NewAI(llm LLMClient, client exchange.Client, logger zerolog.Logger) *AI {
	return &AI{llm: llm, exchange: client, logger: logger}
}

// Source identifies this predictor to the fusion engine.
func (a *AI) Source() models.SignalSource {
	return models.SourceAI
}

// GetSignal builds a compact market context, asks the LLM and maps its
// directional answer onto a trading signal.
func (a *AI) GetSignal(ctx context.Context, symbol string) (models.TradingSignal, error) {
	price, err := a.exchange.GetCurrentPrice(ctx, symbol)
	if err != nil {
		return models.TradingSignal{}, errors.NewPredictorError("ai", "get price", err)
	}
	candles, err := a.exchange.GetCandles(ctx, symbol, "15m", 24)
	if err != nil {
		return models.TradingSignal{}, errors.NewPredictorError("ai", "get candles", err)
	}

	reply, err := a.llm.CompleteWithSystem(ctx, aiSystemPrompt, buildMarketPrompt(symbol, price, candles))
	if err != nil {
		return models.TradingSignal{}, errors.NewPredictorError("ai", "completion", err)
	}

	prediction, err := parsePrediction(reply)
	if err != nil {
		a.logger.Warn().Err(err).Str("symbol", symbol).Msg("Unparseable LLM reply, holding")
		return models.HoldSignal("ai reply unparseable"), nil
	}

	return predictionToSignal(prediction, price), nil
}

func buildMarketPrompt(symbol string, price float64, candles []models.Candle) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Instrument: %s\nCurrent price: %.2f\nRecent 15m closes (newest first):", symbol, price)
	limit := len(candles)
	if limit > 24 {
		limit = 24
	}
	for _, c := range candles[:limit] {
		fmt.Fprintf(&b, " %.2f", c.Close)
	}
	return b.String()
}

var jsonFenceRe = regexp.MustCompile("(?s)```(?:json)?\\s*(\\{.*?\\})\\s*```")

// parsePrediction extracts the JSON object from the LLM reply, tolerating
// markdown fences and surrounding prose.
func parsePrediction(reply string) (aiPrediction, error) {
	candidate := strings.TrimSpace(reply)

	if match := jsonFenceRe.FindStringSubmatch(candidate); match != nil {
		candidate = match[1]
	} else if start := strings.Index(candidate, "{"); start >= 0 {
		if end := strings.LastIndex(candidate, "}"); end > start {
			candidate = candidate[start : end+1]
		}
	}

	var prediction aiPrediction
	if err := json.Unmarshal([]byte(candidate), &prediction); err != nil {
		return aiPrediction{}, fmt.Errorf("parse prediction: %w", err)
	}
	if prediction.Confidence < 0 || prediction.Confidence > 1 {
		return aiPrediction{}, fmt.Errorf("confidence %.2f out of range", prediction.Confidence)
	}
	return prediction, nil
}

func predictionToSignal(prediction aiPrediction, price float64) models.TradingSignal {
	var kind models.SignalKind
	switch strings.ToLower(prediction.Direction) {
	case "up", "bullish":
		kind = models.Buy
	case "down", "bearish":
		kind = models.Sell
	default:
		kind = models.Hold
	}

	return models.TradingSignal{
		Kind:       kind,
		Strength:   prediction.Confidence,
		Confidence: prediction.Confidence,
		EntryPrice: price,
		Reason:     "ai: " + prediction.Reason,
	}
}
