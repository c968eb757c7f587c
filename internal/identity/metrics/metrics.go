package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for identity resolution. All methods are
// safe on a nil receiver.
type Metrics struct {
	// Merge attempts by outcome: completed, failed, already_merged, rejected
	Merges        *prometheus.CounterVec
	MergeDuration prometheus.Histogram

	ConflictsCreated    prometheus.Counter
	ConflictsSuppressed prometheus.Counter
	// Conflict resolutions by action: reject, merge, merge_opposite
	ConflictsResolved *prometheus.CounterVec

	AutoMerges prometheus.Counter
	// Automatic merges held back, by reason: recent_invitation, name_mismatch
	AutoMergesBlocked *prometheus.CounterVec

	// Reconciled records by outcome: updated, skipped, error
	SyncRecords      *prometheus.CounterVec
	LegacyCacheHits  prometheus.Counter
	LegacyCacheMiss  prometheus.Counter
	LegacyFetchError prometheus.Counter
}

// New registers identity metrics on reg. Tests pass a fresh
// prometheus.NewRegistry() so repeated construction does not collide.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Merges: f.NewCounterVec(prometheus.CounterOpts{
			Name: "rollcall_merges_total",
			Help: "Person merge attempts by outcome",
		}, []string{"outcome"}),
		MergeDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "rollcall_merge_duration_seconds",
			Help:    "Duration of person merges including audit writes",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}),
		ConflictsCreated: f.NewCounter(prometheus.CounterOpts{
			Name: "rollcall_conflicts_created_total",
			Help: "Email conflicts created for manual confirmation",
		}),
		ConflictsSuppressed: f.NewCounter(prometheus.CounterOpts{
			Name: "rollcall_conflicts_suppressed_total",
			Help: "Conflict creations that returned an existing unresolved conflict",
		}),
		ConflictsResolved: f.NewCounterVec(prometheus.CounterOpts{
			Name: "rollcall_conflicts_resolved_total",
			Help: "Conflicts resolved by action",
		}, []string{"action"}),
		AutoMerges: f.NewCounter(prometheus.CounterOpts{
			Name: "rollcall_auto_merges_total",
			Help: "Persons merged automatically after an email collision",
		}),
		AutoMergesBlocked: f.NewCounterVec(prometheus.CounterOpts{
			Name: "rollcall_auto_merges_blocked_total",
			Help: "Email collisions routed to manual confirmation, by reason",
		}, []string{"reason"}),
		SyncRecords: f.NewCounterVec(prometheus.CounterOpts{
			Name: "rollcall_sync_records_total",
			Help: "Legacy records reconciled by outcome",
		}, []string{"outcome"}),
		LegacyCacheHits: f.NewCounter(prometheus.CounterOpts{
			Name: "rollcall_legacy_cache_hits_total",
			Help: "Legacy snapshot cache hits",
		}),
		LegacyCacheMiss: f.NewCounter(prometheus.CounterOpts{
			Name: "rollcall_legacy_cache_misses_total",
			Help: "Legacy snapshot cache misses",
		}),
		LegacyFetchError: f.NewCounter(prometheus.CounterOpts{
			Name: "rollcall_legacy_fetch_errors_total",
			Help: "Failed legacy source requests",
		}),
	}
}

func (m *Metrics) ObserveMerge(outcome string, start time.Time) {
	if m == nil {
		return
	}
	m.Merges.WithLabelValues(outcome).Inc()
	m.MergeDuration.Observe(time.Since(start).Seconds())
}

func (m *Metrics) IncConflictCreated() {
	if m != nil {
		m.ConflictsCreated.Inc()
	}
}

func (m *Metrics) IncConflictSuppressed() {
	if m != nil {
		m.ConflictsSuppressed.Inc()
	}
}

func (m *Metrics) IncConflictResolved(action string) {
	if m != nil {
		m.ConflictsResolved.WithLabelValues(action).Inc()
	}
}

func (m *Metrics) IncAutoMerge() {
	if m != nil {
		m.AutoMerges.Inc()
	}
}

func (m *Metrics) IncAutoMergeBlocked(reason string) {
	if m != nil {
		m.AutoMergesBlocked.WithLabelValues(reason).Inc()
	}
}

func (m *Metrics) IncSyncRecord(outcome string) {
	if m != nil {
		m.SyncRecords.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) IncLegacyCache(hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.LegacyCacheHits.Inc()
		return
	}
	m.LegacyCacheMiss.Inc()
}

func (m *Metrics) IncLegacyFetchError() {
	if m != nil {
		m.LegacyFetchError.Inc()
	}
}
