// Package fusion merges per-source trading opinions into a single signal
// using performance-weighted, market-condition-adaptive voting.
package fusion

import (
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"okx-trader/internal/config"
	"okx-trader/internal/models"
)

// EngineConfig holds the fusion engine's weight tables and thresholds.
// It is immutable once the engine is constructed; tests substitute
// alternate regimes by injecting their own tables.
type EngineConfig struct {
	// BaseWeights is the fallback per-source weight when a market
	// condition has no entry.
	BaseWeights map[models.SignalSource]float64

	// MarketWeights adapts per-source weights to the market regime:
	// technical indicators matter more in sideways/high-volatility
	// markets, predictive models in trending/low-volatility ones.
	MarketWeights map[models.MarketCondition]map[models.SignalSource]float64

	// Blend fractions for the three weight inputs. Must sum to 1.
	MarketBlend      float64
	PerformanceBlend float64
	ConfidenceBlend  float64

	MinConfidence        float64
	ConsensusThreshold   float64
	ConsensusBonus       float64
	LowConsensusDiscount float64
	RecentAccuracyAlpha  float64
}

// DefaultEngineConfig returns the default weight tables and the thresholds
// from the application configuration.
func DefaultEngineConfig(cfg config.FusionConfig) EngineConfig {
	return EngineConfig{
		BaseWeights: map[models.SignalSource]float64{
			models.SourceTechnical: 0.40,
			models.SourceAI:        0.35,
			models.SourceModel:     0.25,
		},
		MarketWeights: map[models.MarketCondition]map[models.SignalSource]float64{
			models.MarketNormal: {
				models.SourceTechnical: 0.40,
				models.SourceAI:        0.35,
				models.SourceModel:     0.25,
			},
			models.MarketHighVolatility: {
				models.SourceTechnical: 0.50,
				models.SourceAI:        0.30,
				models.SourceModel:     0.20,
			},
			models.MarketLowVolatility: {
				models.SourceTechnical: 0.30,
				models.SourceAI:        0.40,
				models.SourceModel:     0.30,
			},
			models.MarketTrending: {
				models.SourceTechnical: 0.35,
				models.SourceAI:        0.40,
				models.SourceModel:     0.25,
			},
			models.MarketSideways: {
				models.SourceTechnical: 0.45,
				models.SourceAI:        0.30,
				models.SourceModel:     0.25,
			},
		},
		MarketBlend:          0.5,
		PerformanceBlend:     0.3,
		ConfidenceBlend:      0.2,
		MinConfidence:        cfg.MinConfidence,
		ConsensusThreshold:   cfg.ConsensusThreshold,
		ConsensusBonus:       cfg.ConsensusBonus,
		LowConsensusDiscount: cfg.LowConsensusDiscount,
		RecentAccuracyAlpha:  cfg.RecentAccuracyAlpha,
	}
}

// Result is the outcome of one fusion call.
type Result struct {
	Signal    models.TradingSignal
	Conflict  bool    // BUY and SELL both present among inputs
	Consensus float64 // fraction of weight agreeing with the winning kind
	Weights   map[models.SignalSource]float64
}

// Stats holds fusion counters.
type Stats struct {
	TotalFusions           uint64
	ConflictsDetected      uint64
	ConsensusAchieved      uint64
	PerformanceAdjustments uint64
}

// Engine fuses signals from multiple sources. Safe for concurrent use.
type Engine struct {
	cfg    EngineConfig
	logger zerolog.Logger

	mu          sync.Mutex
	performance map[models.SignalSource]*SignalPerformance
	stats       Stats
}

// NewEngine creates a fusion engine.
func NewEngine(cfg EngineConfig, logger zerolog.Logger) *Engine {
	perf := make(map[models.SignalSource]*SignalPerformance)
	for _, source := range models.AllSignalSources() {
		perf[source] = NewSignalPerformance(source)
	}
	return &Engine{
		cfg:         cfg,
		logger:      logger,
		performance: perf,
	}
}

// Fuse merges the given per-source signals into one decision. Missing
// sources are a normal condition given staleness: an empty input yields
// HOLD with confidence 0 and an explicit reason, never an error.
func (e *Engine) Fuse(signals map[models.SignalSource]models.TradingSignal, condition models.MarketCondition) Result {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.stats.TotalFusions++

	if len(signals) == 0 {
		return Result{
			Signal:  models.HoldSignal("no signal inputs available"),
			Weights: map[models.SignalSource]float64{},
		}
	}

	conflict := detectConflict(signals)
	if conflict {
		e.stats.ConflictsDetected++
		e.logger.Warn().Msg("Conflicting BUY/SELL signals detected")
	}

	weights := e.computeWeights(signals, condition)
	fused, consensus := e.performFusion(signals, weights)

	if len(signals) > 1 && consensus >= e.cfg.ConsensusThreshold {
		e.stats.ConsensusAchieved++
		fused.Confidence = clamp01(fused.Confidence * (1 + e.cfg.ConsensusBonus))
	}

	final := e.applyFinalFilters(fused, consensus)

	e.logger.Debug().
		Str("kind", string(final.Kind)).
		Float64("strength", final.Strength).
		Float64("confidence", final.Confidence).
		Float64("consensus", consensus).
		Bool("conflict", conflict).
		Msg("Fusion complete")

	return Result{
		Signal:    final,
		Conflict:  conflict,
		Consensus: consensus,
		Weights:   weights,
	}
}

// detectConflict reports whether opposing BUY and SELL opinions are both
// present. A conflict is flagged for observability, it is not itself a veto.
func detectConflict(signals map[models.SignalSource]models.TradingSignal) bool {
	var hasBuy, hasSell bool
	for _, s := range signals {
		switch s.Kind {
		case models.Buy:
			hasBuy = true
		case models.Sell:
			hasSell = true
		}
	}
	return hasBuy && hasSell
}

// computeWeights blends three normalized inputs per present source:
// market-condition weight, historical performance, and the signal's own
// confidence. The result is renormalized to sum to 1 across the sources
// present in this call.
func (e *Engine) computeWeights(signals map[models.SignalSource]models.TradingSignal, condition models.MarketCondition) map[models.SignalSource]float64 {
	marketWeights, ok := e.cfg.MarketWeights[condition]
	if !ok {
		marketWeights = e.cfg.BaseWeights
	}

	perfScores := make(map[models.SignalSource]float64, len(signals))
	totalPerf := 0.0
	for source := range signals {
		score := 0.5
		if perf, ok := e.performance[source]; ok {
			score = perf.Accuracy()*0.4 + perf.Precision()*0.3 + perf.RecentAccuracy*0.3
		}
		perfScores[source] = score
		totalPerf += score
	}

	weights := make(map[models.SignalSource]float64, len(signals))
	totalWeight := 0.0
	for source, signal := range signals {
		marketWeight, ok := marketWeights[source]
		if !ok {
			marketWeight = e.cfg.BaseWeights[source]
		}

		perfWeight := perfScores[source]
		if totalPerf > 0 {
			perfWeight = perfWeight / totalPerf * float64(len(signals))
		}

		w := marketWeight*e.cfg.MarketBlend +
			perfWeight*e.cfg.PerformanceBlend +
			signal.Confidence*e.cfg.ConfidenceBlend

		weights[source] = w
		totalWeight += w
	}

	if totalWeight > 0 {
		for source := range weights {
			weights[source] /= totalWeight
		}
	}

	return weights
}

// performFusion runs the weighted vote and weighted aggregation, returning
// the fused signal and the consensus score (fraction of weight agreeing
// with the winning kind).
func (e *Engine) performFusion(signals map[models.SignalSource]models.TradingSignal, weights map[models.SignalSource]float64) (models.TradingSignal, float64) {
	votes := map[models.SignalKind]float64{}
	var strength, confidence, entryPrice, totalWeight float64

	for source, signal := range signals {
		w := weights[source]
		votes[signal.Kind] += w
		strength += signal.Strength * w
		confidence += signal.Confidence * w
		entryPrice += signal.EntryPrice * w
		totalWeight += w
	}

	winner := winningKind(signals, votes)

	if totalWeight > 0 {
		strength /= totalWeight
		confidence /= totalWeight
		entryPrice /= totalWeight
	}

	consensus := 0.0
	if totalWeight > 0 {
		consensus = votes[winner] / totalWeight
	}

	return models.TradingSignal{
		Kind:       winner,
		Strength:   strength,
		Confidence: confidence,
		EntryPrice: entryPrice,
		Reason:     fusionReason(signals, weights),
	}, consensus
}

// winningKind picks the kind with the highest total vote weight. Ties are
// broken by earliest-declared source order, never randomly.
func winningKind(signals map[models.SignalSource]models.TradingSignal, votes map[models.SignalKind]float64) models.SignalKind {
	const tolerance = 1e-12

	best := models.Hold
	bestVote := -1.0
	for _, source := range models.AllSignalSources() {
		signal, ok := signals[source]
		if !ok {
			continue
		}
		if votes[signal.Kind] > bestVote+tolerance {
			best = signal.Kind
			bestVote = votes[signal.Kind]
		}
	}
	return best
}

// fusionReason renders each contributing source, its weight and its vote,
// for auditability.
func fusionReason(signals map[models.SignalSource]models.TradingSignal, weights map[models.SignalSource]float64) string {
	parts := make([]string, 0, len(signals))
	for _, source := range models.AllSignalSources() {
		signal, ok := signals[source]
		if !ok {
			continue
		}
		parts = append(parts, fmt.Sprintf("%s(%.0f%%):%s", source, weights[source]*100, signal.Kind))
	}
	return "fused: " + strings.Join(parts, ", ")
}

// applyFinalFilters enforces the minimum-confidence and low-consensus
// rules. A low-confidence trade is treated as no signal at all.
func (e *Engine) applyFinalFilters(signal models.TradingSignal, consensus float64) models.TradingSignal {
	if signal.Confidence < e.cfg.MinConfidence {
		return models.TradingSignal{
			Kind:       models.Hold,
			Strength:   signal.Strength,
			Confidence: signal.Confidence,
			EntryPrice: signal.EntryPrice,
			Reason:     fmt.Sprintf("confidence %.2f below threshold %.2f", signal.Confidence, e.cfg.MinConfidence),
		}
	}

	if consensus < 0.5 {
		signal.Confidence *= 1 - e.cfg.LowConsensusDiscount
		signal.Reason += fmt.Sprintf(" (low consensus: %.0f%%)", consensus*100)
	}

	return signal
}

// Statistics returns fusion counters.
func (e *Engine) Statistics() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stats
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
