package utils

import "time"

// Perpetual swaps settle funding every 8 hours at fixed UTC times.
const fundingInterval = 8 * time.Hour

// NextFundingTime returns the next funding settlement at or after t
// (00:00, 08:00, 16:00 UTC).
func NextFundingTime(t time.Time) time.Time {
	utc := t.UTC()
	midnight := time.Date(utc.Year(), utc.Month(), utc.Day(), 0, 0, 0, 0, time.UTC)

	next := midnight
	for !next.After(utc) {
		next = next.Add(fundingInterval)
	}
	return next
}

// TimeUntilFunding returns how long until the next funding settlement.
func TimeUntilFunding(t time.Time) time.Duration {
	return NextFundingTime(t).Sub(t.UTC())
}

// IsFundingImminent reports whether funding settles within the window.
// Entries right before settlement pay the full funding rate for minutes
// of exposure.
func IsFundingImminent(t time.Time, window time.Duration) bool {
	return TimeUntilFunding(t) <= window
}
