package health

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"llm-relay/domain/routing"
)

// unhealthyAfter is the consecutive-failure count that marks a provider
// unhealthy. One success restores it.
const unhealthyAfter = 3

// latencySmoothing is the weight of the newest sample in the rolling
// latency average.
const latencySmoothing = 0.2

type record struct {
	mu    sync.Mutex
	stats routing.ProviderStats
}

// Tracker is the in-memory health and stats store. Each provider gets its
// own record with its own lock so concurrent outcomes on different providers
// never contend, and concurrent outcomes on the same provider never lose an
// update.
type Tracker struct {
	mu      sync.RWMutex
	records map[string]*record
}

func NewTracker() *Tracker {
	return &Tracker{records: make(map[string]*record)}
}

// Register creates the stats record for a provider. Idempotent; providers
// start healthy.
func (t *Tracker) Register(providerID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.records[providerID]; ok {
		return
	}
	t.records[providerID] = &record{
		stats: routing.ProviderStats{ProviderID: providerID, IsHealthy: true},
	}
}

func (t *Tracker) get(providerID string) *record {
	t.mu.RLock()
	rec, ok := t.records[providerID]
	t.mu.RUnlock()
	if ok {
		return rec
	}
	// Unregistered ids can appear when outcomes race registration; create
	// on demand rather than dropping the update.
	t.mu.Lock()
	defer t.mu.Unlock()
	if rec, ok = t.records[providerID]; ok {
		return rec
	}
	rec = &record{stats: routing.ProviderStats{ProviderID: providerID, IsHealthy: true}}
	t.records[providerID] = rec
	return rec
}

// RecordSuccess notes a successful attempt. A single success clears any
// failure streak and restores health.
func (t *Tracker) RecordSuccess(providerID string, latency time.Duration) {
	rec := t.get(providerID)
	now := time.Now()
	sample := float64(latency) / float64(time.Millisecond)

	rec.mu.Lock()
	restored := !rec.stats.IsHealthy
	rec.stats.TotalRequests++
	rec.stats.Successes++
	rec.stats.ConsecutiveFailures = 0
	rec.stats.IsHealthy = true
	rec.stats.LastSuccessAt = &now
	if rec.stats.RollingAvgLatencyMs == 0 {
		rec.stats.RollingAvgLatencyMs = sample
	} else {
		rec.stats.RollingAvgLatencyMs = rec.stats.RollingAvgLatencyMs*(1-latencySmoothing) + sample*latencySmoothing
	}
	rec.mu.Unlock()

	if restored {
		logrus.WithField("provider", providerID).Info("Provider restored to healthy")
	}
}

// RecordFailure notes a failed attempt. Three consecutive failures mark the
// provider unhealthy.
func (t *Tracker) RecordFailure(providerID string) {
	rec := t.get(providerID)
	now := time.Now()

	rec.mu.Lock()
	rec.stats.TotalRequests++
	rec.stats.Failures++
	rec.stats.ConsecutiveFailures++
	rec.stats.LastFailureAt = &now
	tripped := rec.stats.IsHealthy && rec.stats.ConsecutiveFailures >= unhealthyAfter
	if tripped {
		rec.stats.IsHealthy = false
	}
	failures := rec.stats.ConsecutiveFailures
	rec.mu.Unlock()

	if tripped {
		logrus.WithFields(logrus.Fields{
			"provider":             providerID,
			"consecutive_failures": failures,
		}).Warn("Provider marked unhealthy")
	}
}

// RecordCheck applies an explicit health probe outcome. Probes do not count
// as traffic: request counters and timestamps stay untouched. A passing
// probe interrupts any failure streak; a failing probe marks the provider
// unhealthy on its own.
func (t *Tracker) RecordCheck(providerID string, healthy bool) {
	rec := t.get(providerID)

	rec.mu.Lock()
	changed := rec.stats.IsHealthy != healthy
	rec.stats.IsHealthy = healthy
	if healthy {
		rec.stats.ConsecutiveFailures = 0
	}
	rec.mu.Unlock()

	if changed {
		if healthy {
			logrus.WithField("provider", providerID).Info("Provider restored to healthy")
		} else {
			logrus.WithField("provider", providerID).Warn("Provider failed health check")
		}
	}
}

// Stats returns a copy of one provider's record.
func (t *Tracker) Stats(providerID string) (routing.ProviderStats, bool) {
	t.mu.RLock()
	rec, ok := t.records[providerID]
	t.mu.RUnlock()
	if !ok {
		return routing.ProviderStats{}, false
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return rec.stats, true
}

// Snapshot returns copies of every record.
func (t *Tracker) Snapshot() map[string]routing.ProviderStats {
	t.mu.RLock()
	recs := make([]*record, 0, len(t.records))
	for _, rec := range t.records {
		recs = append(recs, rec)
	}
	t.mu.RUnlock()

	out := make(map[string]routing.ProviderStats, len(recs))
	for _, rec := range recs {
		rec.mu.Lock()
		out[rec.stats.ProviderID] = rec.stats
		rec.mu.Unlock()
	}
	return out
}
