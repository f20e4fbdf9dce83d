package authcore

import "sync/atomic"

// MetricID identifies one engine counter.
type MetricID uint16

const (
	// MetricLoginSuccess counts logins that issued a session directly.
	MetricLoginSuccess MetricID = iota
	// MetricLoginFailure counts rejected credential checks.
	MetricLoginFailure
	// MetricChallengeIssued counts logins deferred to a second factor.
	MetricChallengeIssued
	// MetricChallengeSuccess counts completed second factor challenges.
	MetricChallengeSuccess
	// MetricChallengeFailure counts rejected second factor codes.
	MetricChallengeFailure
	// MetricChallengeRateLimited counts challenges killed by the attempt cap.
	MetricChallengeRateLimited
	// MetricBackupCodeUsed counts successful backup code redemptions.
	MetricBackupCodeUsed
	// MetricBackupCodeFailed counts backup codes that matched nothing.
	MetricBackupCodeFailed
	// MetricBackupCodeRegenerated counts backup code set replacements.
	MetricBackupCodeRegenerated
	// MetricSessionCreated counts sessions persisted.
	MetricSessionCreated
	// MetricSessionCreateFailed counts session writes that failed.
	MetricSessionCreateFailed
	// MetricSessionRevoked counts sessions deactivated, singly or in bulk.
	MetricSessionRevoked
	// MetricTOTPEnabled counts activations of the authenticator factor.
	MetricTOTPEnabled
	// MetricTOTPDisabled counts removals of the authenticator factor.
	MetricTOTPDisabled
	metricIDCount
)

const cacheLineSize = 64

type paddedCounter struct {
	value uint64
	_     [cacheLineSize - 8]byte
}

// Metrics is a fixed set of atomic counters. A nil or disabled Metrics
// accepts increments and reports zeroes.
type Metrics struct {
	enabled  bool
	counters [metricIDCount]paddedCounter
}

// NewMetrics returns a counter set honoring cfg.Enabled.
func NewMetrics(cfg MetricsConfig) *Metrics {
	return &Metrics{enabled: cfg.Enabled}
}

// Enabled reports whether counters are being recorded.
func (m *Metrics) Enabled() bool {
	return m != nil && m.enabled
}

// Inc bumps one counter.
func (m *Metrics) Inc(id MetricID) {
	if m == nil || !m.enabled || id >= metricIDCount {
		return
	}
	atomic.AddUint64(&m.counters[id].value, 1)
}

// Value reads one counter.
func (m *Metrics) Value(id MetricID) uint64 {
	if m == nil || id >= metricIDCount {
		return 0
	}
	return atomic.LoadUint64(&m.counters[id].value)
}

// MetricsSnapshot is a point-in-time copy of every counter.
type MetricsSnapshot struct {
	Counters map[MetricID]uint64
}

// Snapshot copies the counters. Disabled metrics yield an empty map.
func (m *Metrics) Snapshot() MetricsSnapshot {
	if m == nil || !m.enabled {
		return MetricsSnapshot{Counters: map[MetricID]uint64{}}
	}

	s := MetricsSnapshot{Counters: make(map[MetricID]uint64, int(metricIDCount))}
	for id := MetricID(0); id < metricIDCount; id++ {
		s.Counters[id] = atomic.LoadUint64(&m.counters[id].value)
	}
	return s
}
