package store

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"okx-trader/internal/models"
)

// Property: for any valid signal record, saving it and retrieving it by
// symbol produces an equivalent record (round-trip consistency), and the
// per-source statistics count every saved signal exactly once.
func TestProperty_SignalRoundTripConsistency(t *testing.T) {
	dbPath := "test_signals_property.db"
	defer os.Remove(dbPath)

	store, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	defer store.Close()

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)

	symbols := []string{"BTC-USDT-SWAP", "ETH-USDT-SWAP", "SOL-USDT-SWAP", "DOGE-USDT-SWAP"}
	kinds := []models.SignalKind{models.Buy, models.Sell, models.Hold}
	sources := []string{string(models.SourceTechnical), string(models.SourceAI), string(models.SourceModel), SourceFused}

	seq := 0

	properties.Property("Signal round-trip: save then retrieve produces equivalent data", prop.ForAll(
		func(symbolIdx, kindIdx, sourceIdx int, strength, confidence, price float64) bool {
			ctx := context.Background()
			seq++
			id := fmt.Sprintf("sig_%d_%d", time.Now().UnixNano(), seq)

			record := &SignalRecord{
				ID:        id,
				Timestamp: time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC).Add(time.Duration(seq) * time.Second),
				Symbol:    symbols[symbolIdx%len(symbols)],
				Source:    sources[sourceIdx%len(sources)],
				Signal: models.TradingSignal{
					Kind:       kinds[kindIdx%len(kinds)],
					Strength:   strength,
					Confidence: confidence,
					EntryPrice: price,
					Reason:     "property test",
				},
				MarketCondition: models.MarketNormal,
				Consensus:       confidence,
			}

			if err := store.SaveSignal(ctx, record); err != nil {
				t.Logf("Failed to save signal: %v", err)
				return false
			}

			retrieved, err := store.GetSignals(ctx, SignalFilter{Symbol: record.Symbol, Limit: 0})
			if err != nil {
				t.Logf("Failed to get signals: %v", err)
				return false
			}

			for _, got := range retrieved {
				if got.ID != id {
					continue
				}
				return got.Source == record.Source &&
					got.Signal.Kind == record.Signal.Kind &&
					floatEqual(got.Signal.Strength, strength, 1e-9) &&
					floatEqual(got.Signal.Confidence, confidence, 1e-9) &&
					floatEqual(got.Signal.EntryPrice, price, 1e-6) &&
					!got.Evaluated
			}
			t.Logf("Saved signal %s not found on retrieval", id)
			return false
		},
		gen.IntRange(0, len(symbols)-1),
		gen.IntRange(0, len(kinds)-1),
		gen.IntRange(0, len(sources)-1),
		gen.Float64Range(0, 1),
		gen.Float64Range(0, 1),
		gen.Float64Range(100, 100000),
	))

	properties.Property("Statistics count every saved signal", prop.ForAll(
		func(unused int) bool {
			stats, err := store.GetSignalStats(context.Background(), DateRange{})
			if err != nil {
				t.Logf("Failed to get stats: %v", err)
				return false
			}
			total := 0
			for _, st := range stats {
				if st.Correct > st.Evaluated || st.Evaluated > st.Total {
					return false
				}
				total += st.Total
			}
			return total == seq
		},
		gen.IntRange(0, 1),
	))

	properties.TestingRun(t)
}

// floatEqual compares two floats with a tolerance.
func floatEqual(a, b, tolerance float64) bool {
	diff := a - b
	if diff < 0 {
		diff = -diff
	}
	return diff <= tolerance
}
