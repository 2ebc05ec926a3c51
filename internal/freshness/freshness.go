// Package freshness tracks the age and validity of data arriving from
// differently-stale sources. Live prices expire in seconds while deep-model
// predictions stay usable for minutes; collapsing them to one staleness rule
// would either discard usable slow signals or accept dangerously stale fast
// ones, so each source carries its own validity window.
package freshness

import (
	"sync"
	"time"

	"okx-trader/internal/config"
	"okx-trader/internal/models"
)

// Source identifies a tracked data source.
type Source string

const (
	SourcePrice     Source = "price"
	SourceTechnical Source = "technical_signal"
	SourceAI        Source = "ai_prediction"
	SourceModel     Source = "model_prediction"
)

// SourceFor maps a signal source onto its freshness source.
func SourceFor(s models.SignalSource) Source {
	switch s {
	case models.SourceTechnical:
		return SourceTechnical
	case models.SourceAI:
		return SourceAI
	case models.SourceModel:
		return SourceModel
	default:
		return Source(s)
	}
}

// entry is a stored payload with its timestamp and validity window.
// Entries are owned by the Tracker; callers always receive payload values,
// never references into the cache.
type entry struct {
	payload  interface{}
	ts       time.Time
	validity time.Duration
}

func (e entry) age(now time.Time) time.Duration {
	return now.Sub(e.ts)
}

func (e entry) valid(now time.Time) bool {
	return e.age(now) <= e.validity
}

// Report describes how fresh a source's data currently is.
type Report struct {
	Source         Source
	Timestamp      time.Time
	Age            time.Duration
	Validity       time.Duration
	Valid          bool
	FreshnessRatio float64 // 1 = just arrived, 0 = expired
}

// Stats holds tracker counters.
type Stats struct {
	TotalUpdates  uint64
	SyncConflicts uint64
	Expired       uint64
	ActiveSources int
	ValidSources  int
}

// Tracker stores the latest value per source (last-write-wins, no history)
// and answers validity and time-alignment questions. Safe for concurrent use.
type Tracker struct {
	mu       sync.RWMutex
	cache    map[Source]entry
	validity map[Source]time.Duration
	now      func() time.Time

	totalUpdates  uint64
	syncConflicts uint64
	expired       uint64
}

// New creates a tracker with per-source validity windows from configuration.
func New(cfg config.FreshnessConfig) *Tracker {
	return &Tracker{
		cache: make(map[Source]entry),
		validity: map[Source]time.Duration{
			SourcePrice:     time.Duration(cfg.PriceValiditySec) * time.Second,
			SourceTechnical: time.Duration(cfg.TechnicalValiditySec) * time.Second,
			SourceAI:        time.Duration(cfg.AIValiditySec) * time.Second,
			SourceModel:     time.Duration(cfg.ModelValiditySec) * time.Second,
		},
		now: time.Now,
	}
}

// SetClock replaces the tracker's time source. Tests only.
func (t *Tracker) SetClock(now func() time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.now = now
}

// Update stores the latest value for a source. A zero timestamp means "now".
// A timestamp far ahead of the wall clock is counted as a sync conflict but
// still stored: last write wins.
func (t *Tracker) Update(source Source, payload interface{}, ts time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	if ts.IsZero() {
		ts = now
	}

	validity, ok := t.validity[source]
	if !ok {
		validity = 5 * time.Minute
	}

	if ts.After(now.Add(validity)) || now.Sub(ts) > 2*validity {
		t.syncConflicts++
	}

	t.cache[source] = entry{payload: payload, ts: ts, validity: validity}
	t.totalUpdates++
}

// Get returns the payload for a source, or false if it is absent, past its
// validity window, or older than the caller's own maxAge (0 = no extra
// constraint).
func (t *Tracker) Get(source Source, maxAge time.Duration) (interface{}, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	e, ok := t.cache[source]
	if !ok {
		return nil, false
	}

	now := t.now()
	if !e.valid(now) {
		return nil, false
	}
	if maxAge > 0 && e.age(now) > maxAge {
		return nil, false
	}

	return e.payload, true
}

// GetSynchronized returns the payloads of the requested sources that are
// mutually time-aligned: the most recent valid timestamp among them is the
// reference, and only sources within window of it are included. The result
// may be partial or empty; missing sources are a normal condition, the
// caller decides whether partial data is acceptable.
func (t *Tracker) GetSynchronized(sources []Source, window time.Duration) map[Source]interface{} {
	t.mu.RLock()
	defer t.mu.RUnlock()

	now := t.now()

	var reference time.Time
	for _, source := range sources {
		if e, ok := t.cache[source]; ok && e.valid(now) && e.ts.After(reference) {
			reference = e.ts
		}
	}
	if reference.IsZero() {
		return map[Source]interface{}{}
	}

	result := make(map[Source]interface{}, len(sources))
	for _, source := range sources {
		e, ok := t.cache[source]
		if !ok || !e.valid(now) {
			continue
		}
		diff := reference.Sub(e.ts)
		if diff < 0 {
			diff = -diff
		}
		if diff <= window {
			result[source] = e.payload
		}
	}

	return result
}

// Freshness reports how fresh a source's data is, or false if absent.
func (t *Tracker) Freshness(source Source) (Report, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	e, ok := t.cache[source]
	if !ok {
		return Report{}, false
	}

	now := t.now()
	age := e.age(now)
	ratio := 0.0
	if e.validity > 0 && age < e.validity {
		ratio = float64(e.validity-age) / float64(e.validity)
	}

	return Report{
		Source:         source,
		Timestamp:      e.ts,
		Age:            age,
		Validity:       e.validity,
		Valid:          e.valid(now),
		FreshnessRatio: ratio,
	}, true
}

// Cleanup evicts all entries past their validity window and returns the
// number removed. Meant to be called periodically, not on every read.
func (t *Tracker) Cleanup() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	removed := 0
	for source, e := range t.cache {
		if !e.valid(now) {
			delete(t.cache, source)
			removed++
		}
	}
	t.expired += uint64(removed)
	return removed
}

// Statistics returns tracker counters.
func (t *Tracker) Statistics() Stats {
	t.mu.RLock()
	defer t.mu.RUnlock()

	now := t.now()
	valid := 0
	for _, e := range t.cache {
		if e.valid(now) {
			valid++
		}
	}

	return Stats{
		TotalUpdates:  t.totalUpdates,
		SyncConflicts: t.syncConflicts,
		Expired:       t.expired,
		ActiveSources: len(t.cache),
		ValidSources:  valid,
	}
}
