package authcore

import (
	"sync"

	"github.com/sitekit/authcore/challenge"
	"github.com/sitekit/authcore/password"
	"github.com/sitekit/authcore/session"
)

// Engine is the authentication core. It is configured once through the
// Builder and safe for concurrent use afterwards.
type Engine struct {
	config     Config
	accounts   AccountProvider
	sessions   session.Store
	challenges challenge.Store

	// ownsChallenges is set when Build created the default in-process
	// store, in which case Close also stops its sweeper.
	ownsChallenges bool

	audit        *auditDispatcher
	metrics      *Metrics
	passwordHash *password.Hasher
	totp         *totpManager

	// accountLocks serializes backup code consumption per account so a
	// code spent twice concurrently is redeemed exactly once.
	accountLocks keyedMutex
}

// Close flushes the audit pipeline and stops any stores the engine owns.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	if e.audit != nil {
		e.audit.Close()
	}
	if e.ownsChallenges && e.challenges != nil {
		_ = e.challenges.Close()
	}
}

// AuditDropped reports audit events lost to backpressure.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

// MetricsSnapshot copies the engine counters.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{Counters: map[MetricID]uint64{}}
	}
	return e.metrics.Snapshot()
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

// keyedMutex hands out one mutex per key, dropping entries once the
// last holder releases.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedLock
}

type keyedLock struct {
	mu   sync.Mutex
	refs int
}

// lock acquires the mutex for key and returns its release func.
func (k *keyedMutex) lock(key string) func() {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*keyedLock)
	}
	entry, ok := k.locks[key]
	if !ok {
		entry = &keyedLock{}
		k.locks[key] = entry
	}
	entry.refs++
	k.mu.Unlock()

	entry.mu.Lock()

	return func() {
		entry.mu.Unlock()

		k.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
