package cli

import (
	"regexp"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"okx-trader/pkg/utils"
)

var usdPattern = regexp.MustCompile(`^-?\$(\d{1,3})(,\d{3})*\.\d{2}$`)

func TestFormatUSDProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)

	properties.Property("output matches currency shape", prop.ForAll(
		func(v float64) bool {
			return usdPattern.MatchString(utils.FormatUSD(v))
		},
		gen.Float64Range(-1e12, 1e12),
	))

	properties.Property("negative amounts carry a leading minus", prop.ForAll(
		func(v float64) bool {
			formatted := utils.FormatUSD(-v)
			if v < 0.005 {
				// Rounds to zero; sign is dropped.
				return true
			}
			return strings.HasPrefix(formatted, "-$")
		},
		gen.Float64Range(0, 1e9),
	))

	properties.Property("value survives a parse round trip", prop.ForAll(
		func(v float64) bool {
			formatted := utils.FormatUSD(v)
			cleaned := strings.NewReplacer("$", "", ",", "").Replace(formatted)
			parsed, err := strconv.ParseFloat(cleaned, 64)
			if err != nil {
				return false
			}
			diff := parsed - v
			if diff < 0 {
				diff = -diff
			}
			return diff < 0.005+1e-9
		},
		gen.Float64Range(-1e9, 1e9),
	))

	properties.TestingRun(t)
}
