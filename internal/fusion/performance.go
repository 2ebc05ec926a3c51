package fusion

import (
	"okx-trader/internal/models"
)

// SignalPerformance tracks how well a source's signals have been doing.
// RecentAccuracy is an exponential moving average so a source that has
// gone cold loses weight within a few dozen outcomes, while long-run
// accuracy still anchors the score.
type SignalPerformance struct {
	Source         models.SignalSource
	TotalSignals   uint64
	Correct        uint64
	FalsePositives uint64
	FalseNegatives uint64
	AvgConfidence  float64
	RecentAccuracy float64
}

// NewSignalPerformance creates a record with a neutral 0.5 prior, so an
// unproven source is neither trusted nor buried before it has history.
func NewSignalPerformance(source models.SignalSource) *SignalPerformance {
	return &SignalPerformance{
		Source:         source,
		RecentAccuracy: 0.5,
	}
}

// Accuracy returns the long-run hit rate, 0.5 when there is no history.
func (p *SignalPerformance) Accuracy() float64 {
	if p.TotalSignals == 0 {
		return 0.5
	}
	return float64(p.Correct) / float64(p.TotalSignals)
}

// Precision returns correct / (correct + false positives), 0.5 with no history.
func (p *SignalPerformance) Precision() float64 {
	denom := p.Correct + p.FalsePositives
	if denom == 0 {
		return 0.5
	}
	return float64(p.Correct) / float64(denom)
}

// Recall returns correct / (correct + false negatives), 0.5 with no history.
func (p *SignalPerformance) Recall() float64 {
	denom := p.Correct + p.FalseNegatives
	if denom == 0 {
		return 0.5
	}
	return float64(p.Correct) / float64(denom)
}

func (p *SignalPerformance) record(predicted, actual models.SignalKind, confidence, alpha float64) {
	p.TotalSignals++

	correct := predicted == actual
	if correct {
		p.Correct++
	} else if predicted != models.Hold && actual == models.Hold {
		p.FalsePositives++
	} else if predicted == models.Hold && actual != models.Hold {
		p.FalseNegatives++
	} else {
		// Wrong direction counts against precision too.
		p.FalsePositives++
	}

	n := float64(p.TotalSignals)
	p.AvgConfidence += (confidence - p.AvgConfidence) / n

	outcome := 0.0
	if correct {
		outcome = 1.0
	}
	p.RecentAccuracy = alpha*outcome + (1-alpha)*p.RecentAccuracy
}

// UpdatePerformance records the outcome of a past signal from a source.
// predicted is what the source said, actual is what the market did.
func (e *Engine) UpdatePerformance(source models.SignalSource, predicted, actual models.SignalKind, confidence float64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	perf, ok := e.performance[source]
	if !ok {
		perf = NewSignalPerformance(source)
		e.performance[source] = perf
	}

	perf.record(predicted, actual, confidence, e.cfg.RecentAccuracyAlpha)
	e.stats.PerformanceAdjustments++

	e.logger.Debug().
		Str("source", string(source)).
		Float64("accuracy", perf.Accuracy()).
		Float64("recent_accuracy", perf.RecentAccuracy).
		Msg("Signal performance updated")
}

// PerformanceReport returns a snapshot of every source's performance record.
func (e *Engine) PerformanceReport() map[models.SignalSource]SignalPerformance {
	e.mu.Lock()
	defer e.mu.Unlock()

	report := make(map[models.SignalSource]SignalPerformance, len(e.performance))
	for source, perf := range e.performance {
		report[source] = *perf
	}
	return report
}
