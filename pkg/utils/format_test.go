package utils

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFormatUSD(t *testing.T) {
	assert.Equal(t, "$0.00", FormatUSD(0))
	assert.Equal(t, "$65,000.00", FormatUSD(65000))
	assert.Equal(t, "$1,234,567.89", FormatUSD(1234567.891))
	assert.Equal(t, "-$42.50", FormatUSD(-42.5))
	assert.Equal(t, "$999.99", FormatUSD(999.99))
}

func TestFormatCompact(t *testing.T) {
	assert.Equal(t, "$500.00", FormatCompact(500))
	assert.Equal(t, "65.00K", FormatCompact(65000))
	assert.Equal(t, "1.23M", FormatCompact(1234567))
	assert.Equal(t, "2.10B", FormatCompact(2.1e9))
	assert.Equal(t, "-65.00K", FormatCompact(-65000))
}

func TestFormatPnL(t *testing.T) {
	assert.Equal(t, "+$125.50", FormatPnL(125.5))
	assert.Equal(t, "-$125.50", FormatPnL(-125.5))
	assert.Equal(t, "$0.00", FormatPnL(0))
}

func TestNextFundingTime(t *testing.T) {
	at := func(hour, minute int) time.Time {
		return time.Date(2025, 6, 1, hour, minute, 0, 0, time.UTC)
	}

	assert.Equal(t, at(8, 0), NextFundingTime(at(3, 30)))
	assert.Equal(t, at(16, 0), NextFundingTime(at(8, 0)), "settlement instant rolls to the next window")
	assert.Equal(t, time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC), NextFundingTime(at(23, 59)))
}

func TestIsFundingImminent(t *testing.T) {
	justBefore := time.Date(2025, 6, 1, 7, 55, 0, 0, time.UTC)
	assert.True(t, IsFundingImminent(justBefore, 10*time.Minute))
	assert.False(t, IsFundingImminent(justBefore, time.Minute))
}
