package risk

import (
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"okx-trader/internal/models"
)

// Property: under any price path, a long position's stop-loss never moves
// down and a short position's stop-loss never moves up. The trailing logic
// may tighten a stop, nothing may loosen one.
func TestProperty_StopLossOnlyRatchetsFavorably(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)

	priceGen := gen.SliceOfN(30, gen.Float64Range(80, 120))

	properties.Property("long stop never decreases", prop.ForAll(
		func(prices []float64) bool {
			m := newTestManager()
			pr := openLong(m, 100, 1)

			prevStop := pr.StopLoss
			for _, price := range prices {
				m.Update(pr.ID, price)
				got, ok := m.Get(pr.ID)
				if !ok {
					return false
				}
				if got.StopLoss < prevStop {
					return false
				}
				prevStop = got.StopLoss
			}
			return true
		},
		priceGen,
	))

	properties.Property("short stop never increases", prop.ForAll(
		func(prices []float64) bool {
			m := newTestManager()
			pr := m.Open(models.PositionInfo{
				Symbol: "BTC-USDT-SWAP", Side: models.Short, Size: 1, AvgPrice: 100, MarkPrice: 100,
			}, models.TradingSignal{}, 0)

			prevStop := pr.StopLoss
			for _, price := range prices {
				m.Update(pr.ID, price)
				got, ok := m.Get(pr.ID)
				if !ok {
					return false
				}
				if got.StopLoss > prevStop {
					return false
				}
				prevStop = got.StopLoss
			}
			return true
		},
		priceGen,
	))

	properties.TestingRun(t)
}

// Property: the partial-profit total is monotonically non-decreasing and
// never exceeds the position size, under any price path.
func TestProperty_PartialProfitsMonotoneAndBounded(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)

	properties.Property("taken size is monotone and bounded by position size", prop.ForAll(
		func(prices []float64, size float64) bool {
			m := newTestManager()
			pr := m.Open(models.PositionInfo{
				Symbol: "BTC-USDT-SWAP", Side: models.Long, Size: size, AvgPrice: 100, MarkPrice: 100,
			}, models.TradingSignal{}, 0)

			prevTaken := 0.0
			for _, price := range prices {
				m.Update(pr.ID, price)
				got, ok := m.Get(pr.ID)
				if !ok {
					return false
				}
				if got.PartialProfitsTaken < prevTaken {
					return false
				}
				if got.PartialProfitsTaken > size+1e-9 {
					return false
				}
				prevTaken = got.PartialProfitsTaken
			}
			return true
		},
		gen.SliceOfN(30, gen.Float64Range(90, 115)),
		gen.Float64Range(0.01, 10),
	))

	properties.TestingRun(t)
}
