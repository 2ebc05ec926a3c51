package fusion

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"okx-trader/internal/config"
	"okx-trader/internal/models"
)

func testFusionConfig() config.FusionConfig {
	return config.FusionConfig{
		MinConfidence:        0.6,
		ConsensusThreshold:   0.7,
		ConsensusBonus:       0.1,
		LowConsensusDiscount: 0.2,
		RecentAccuracyAlpha:  0.1,
	}
}

func newTestEngine() *Engine {
	return NewEngine(DefaultEngineConfig(testFusionConfig()), zerolog.Nop())
}

func TestFuseEmptyInputHolds(t *testing.T) {
	engine := newTestEngine()

	result := engine.Fuse(nil, models.MarketNormal)

	assert.Equal(t, models.Hold, result.Signal.Kind)
	assert.Zero(t, result.Signal.Confidence)
	assert.NotEmpty(t, result.Signal.Reason)
}

func TestFuseFlagsBuySellConflict(t *testing.T) {
	engine := newTestEngine()

	result := engine.Fuse(map[models.SignalSource]models.TradingSignal{
		models.SourceTechnical: {Kind: models.Buy, Strength: 0.7, Confidence: 0.8},
		models.SourceAI:        {Kind: models.Sell, Strength: 0.6, Confidence: 0.75},
	}, models.MarketNormal)

	assert.True(t, result.Conflict)
	assert.Equal(t, uint64(1), engine.Statistics().ConflictsDetected)
}

func TestFuseAgreeingSourcesWithOneMissing(t *testing.T) {
	engine := newTestEngine()

	result := engine.Fuse(map[models.SignalSource]models.TradingSignal{
		models.SourceTechnical: {Kind: models.Buy, Strength: 0.6, Confidence: 0.8, EntryPrice: 65000},
		models.SourceModel:     {Kind: models.Buy, Strength: 0.4, Confidence: 0.7, EntryPrice: 65010},
	}, models.MarketNormal)

	assert.Equal(t, models.Buy, result.Signal.Kind)
	assert.GreaterOrEqual(t, result.Signal.Confidence, 0.7,
		"full agreement earns the consensus bonus")
	assert.False(t, result.Conflict)
	assert.InDelta(t, 1.0, result.Consensus, 1e-9)

	assert.Contains(t, result.Signal.Reason, string(models.SourceTechnical))
	assert.Contains(t, result.Signal.Reason, string(models.SourceModel))
	assert.NotContains(t, result.Signal.Reason, string(models.SourceAI),
		"absent sources must not appear in the reason")
}

func TestFuseLowConfidenceBecomesHold(t *testing.T) {
	engine := newTestEngine()

	result := engine.Fuse(map[models.SignalSource]models.TradingSignal{
		models.SourceTechnical: {Kind: models.Buy, Strength: 0.9, Confidence: 0.5},
	}, models.MarketNormal)

	assert.Equal(t, models.Hold, result.Signal.Kind)
	assert.Contains(t, result.Signal.Reason, "below threshold")
}

func TestFuseSingleSourcePassesThrough(t *testing.T) {
	engine := newTestEngine()

	result := engine.Fuse(map[models.SignalSource]models.TradingSignal{
		models.SourceAI: {Kind: models.Sell, Strength: 0.65, Confidence: 0.8, EntryPrice: 64500},
	}, models.MarketTrending)

	assert.Equal(t, models.Sell, result.Signal.Kind)
	assert.InDelta(t, 0.65, result.Signal.Strength, 1e-9)
	assert.InDelta(t, 0.8, result.Signal.Confidence, 1e-9,
		"a lone voter gets no consensus bonus")
	assert.InDelta(t, 64500, result.Signal.EntryPrice, 1e-9)
}

func TestFuseTieBreaksByDeclaredSourceOrder(t *testing.T) {
	cfg := DefaultEngineConfig(testFusionConfig())
	// Equal market weights and equal confidences force an exact vote tie.
	cfg.MarketWeights = map[models.MarketCondition]map[models.SignalSource]float64{
		models.MarketNormal: {
			models.SourceTechnical: 0.5,
			models.SourceAI:        0.5,
		},
	}
	engine := NewEngine(cfg, zerolog.Nop())

	for i := 0; i < 10; i++ {
		result := engine.Fuse(map[models.SignalSource]models.TradingSignal{
			models.SourceTechnical: {Kind: models.Buy, Strength: 0.7, Confidence: 0.9},
			models.SourceAI:        {Kind: models.Sell, Strength: 0.7, Confidence: 0.9},
		}, models.MarketNormal)

		assert.Equal(t, models.Buy, result.Signal.Kind,
			"tie must resolve to the earliest-declared source's vote")
	}
}

func TestFuseLowConsensusDiscountsConfidence(t *testing.T) {
	engine := newTestEngine()

	result := engine.Fuse(map[models.SignalSource]models.TradingSignal{
		models.SourceTechnical: {Kind: models.Buy, Strength: 0.7, Confidence: 0.9},
		models.SourceAI:        {Kind: models.Sell, Strength: 0.7, Confidence: 0.9},
		models.SourceModel:     {Kind: models.Hold, Strength: 0.7, Confidence: 0.9},
	}, models.MarketNormal)

	require.Less(t, result.Consensus, 0.5)
	assert.Less(t, result.Signal.Confidence, 0.9,
		"split vote must cost confidence")
	assert.Contains(t, result.Signal.Reason, "low consensus")
}

func TestUpdatePerformanceShiftsWeightTowardAccurateSource(t *testing.T) {
	engine := newTestEngine()

	// AI keeps being right, the model keeps being wrong.
	for i := 0; i < 20; i++ {
		engine.UpdatePerformance(models.SourceAI, models.Buy, models.Buy, 0.8)
		engine.UpdatePerformance(models.SourceModel, models.Buy, models.Sell, 0.8)
	}

	result := engine.Fuse(map[models.SignalSource]models.TradingSignal{
		models.SourceAI:    {Kind: models.Buy, Strength: 0.6, Confidence: 0.8},
		models.SourceModel: {Kind: models.Sell, Strength: 0.6, Confidence: 0.8},
	}, models.MarketNormal)

	assert.Greater(t, result.Weights[models.SourceAI], result.Weights[models.SourceModel])
	assert.Equal(t, models.Buy, result.Signal.Kind)
}

func TestPerformanceReportTracksOutcomes(t *testing.T) {
	engine := newTestEngine()

	engine.UpdatePerformance(models.SourceTechnical, models.Buy, models.Buy, 0.8)
	engine.UpdatePerformance(models.SourceTechnical, models.Buy, models.Hold, 0.6)

	report := engine.PerformanceReport()
	perf := report[models.SourceTechnical]

	assert.Equal(t, uint64(2), perf.TotalSignals)
	assert.Equal(t, uint64(1), perf.Correct)
	assert.Equal(t, uint64(1), perf.FalsePositives)
	assert.InDelta(t, 0.5, perf.Accuracy(), 1e-9)
	assert.InDelta(t, 0.7, perf.AvgConfidence, 1e-9)
	assert.InDelta(t, 0.495, perf.RecentAccuracy, 1e-9, "hit then miss: 0.9*(0.1+0.9*0.5)")
}

func TestPerformanceNeutralPriorsWithoutHistory(t *testing.T) {
	perf := NewSignalPerformance(models.SourceModel)

	assert.InDelta(t, 0.5, perf.Accuracy(), 1e-9)
	assert.InDelta(t, 0.5, perf.Precision(), 1e-9)
	assert.InDelta(t, 0.5, perf.Recall(), 1e-9)
	assert.InDelta(t, 0.5, perf.RecentAccuracy, 1e-9)
}
