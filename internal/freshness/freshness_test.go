package freshness

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"okx-trader/internal/config"
)

func testConfig() config.FreshnessConfig {
	return config.FreshnessConfig{
		PriceValiditySec:     30,
		TechnicalValiditySec: 120,
		AIValiditySec:        300,
		ModelValiditySec:     600,
		SyncWindowSec:        60,
	}
}

func newTestTracker(t *testing.T) (*Tracker, *time.Time) {
	t.Helper()
	tracker := New(testConfig())
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	tracker.SetClock(func() time.Time { return now })
	return tracker, &now
}

func TestGetReturnsStoredPayloadWhileValid(t *testing.T) {
	tracker, _ := newTestTracker(t)

	tracker.Update(SourcePrice, 65000.0, time.Time{})

	got, ok := tracker.Get(SourcePrice, 0)
	require.True(t, ok)
	assert.Equal(t, 65000.0, got)
}

func TestGetExpiresBySourceValidity(t *testing.T) {
	tracker, now := newTestTracker(t)

	tracker.Update(SourcePrice, 65000.0, time.Time{})
	tracker.Update(SourceModel, "prediction", time.Time{})

	// 31s later the price is stale but the model prediction is still fine.
	*now = now.Add(31 * time.Second)

	_, ok := tracker.Get(SourcePrice, 0)
	assert.False(t, ok, "price older than 30s must be unavailable")

	_, ok = tracker.Get(SourceModel, 0)
	assert.True(t, ok, "model prediction is valid for 600s")
}

func TestGetHonorsCallerMaxAge(t *testing.T) {
	tracker, now := newTestTracker(t)

	tracker.Update(SourceModel, "prediction", time.Time{})
	*now = now.Add(2 * time.Minute)

	_, ok := tracker.Get(SourceModel, 0)
	require.True(t, ok)

	_, ok = tracker.Get(SourceModel, time.Minute)
	assert.False(t, ok, "caller's stricter max age must win")
}

func TestLastWriteWins(t *testing.T) {
	tracker, _ := newTestTracker(t)

	tracker.Update(SourcePrice, 65000.0, time.Time{})
	tracker.Update(SourcePrice, 66000.0, time.Time{})

	got, ok := tracker.Get(SourcePrice, 0)
	require.True(t, ok)
	assert.Equal(t, 66000.0, got)
}

func TestGetSynchronizedReturnsAlignedSubset(t *testing.T) {
	tracker, now := newTestTracker(t)

	base := *now
	tracker.Update(SourceTechnical, "tech", base.Add(-90*time.Second))
	tracker.Update(SourceAI, "ai", base.Add(-10*time.Second))
	tracker.Update(SourceModel, "model", base.Add(-30*time.Second))

	// Reference is the AI timestamp (most recent valid). The technical
	// signal is 80s behind it, outside a 60s window.
	synced := tracker.GetSynchronized([]Source{SourceTechnical, SourceAI, SourceModel}, 60*time.Second)

	assert.NotContains(t, synced, SourceTechnical)
	assert.Contains(t, synced, SourceAI)
	assert.Contains(t, synced, SourceModel)
}

func TestGetSynchronizedEmptyWhenNothingValid(t *testing.T) {
	tracker, now := newTestTracker(t)

	tracker.Update(SourcePrice, 65000.0, time.Time{})
	*now = now.Add(time.Hour)

	synced := tracker.GetSynchronized([]Source{SourcePrice, SourceAI}, 60*time.Second)
	assert.Empty(t, synced)
}

func TestCleanupEvictsOnlyExpired(t *testing.T) {
	tracker, now := newTestTracker(t)

	tracker.Update(SourcePrice, 65000.0, time.Time{})
	tracker.Update(SourceAI, "ai", time.Time{})

	*now = now.Add(60 * time.Second)

	removed := tracker.Cleanup()
	assert.Equal(t, 1, removed, "only the price entry is past its window")

	stats := tracker.Statistics()
	assert.Equal(t, 1, stats.ActiveSources)
	assert.Equal(t, uint64(1), stats.Expired)
}

func TestFreshnessReport(t *testing.T) {
	tracker, now := newTestTracker(t)

	tracker.Update(SourceTechnical, "tech", time.Time{})
	*now = now.Add(60 * time.Second)

	report, ok := tracker.Freshness(SourceTechnical)
	require.True(t, ok)
	assert.True(t, report.Valid)
	assert.InDelta(t, 0.5, report.FreshnessRatio, 0.01, "60s into a 120s window")
}

func TestSuspiciousTimestampCountsSyncConflict(t *testing.T) {
	tracker, now := newTestTracker(t)

	tracker.Update(SourcePrice, 65000.0, now.Add(10*time.Minute))

	assert.Equal(t, uint64(1), tracker.Statistics().SyncConflicts)
}
