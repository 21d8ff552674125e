package idempotency

import (
	"context"
	"sync"
	"time"
)

var _ Ledger = (*MemoryLedger)(nil)

// MemoryLedger is an in-memory Ledger for single-node deployments and
// tests. Records expire after a configurable TTL; expired entries are
// cleaned up lazily on access.
type MemoryLedger struct {
	mu      sync.Mutex
	records map[string]Record
	expiry  map[string]time.Time
	ttl     time.Duration
	clock   func() time.Time
}

// NewMemoryLedger creates a MemoryLedger whose records live for ttl.
func NewMemoryLedger(ttl time.Duration) *MemoryLedger {
	return &MemoryLedger{
		records: make(map[string]Record),
		expiry:  make(map[string]time.Time),
		ttl:     ttl,
		clock:   time.Now,
	}
}

// Find returns the live record for key, or nil.
func (l *MemoryLedger) Find(_ context.Context, key string) (*Record, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	rec, ok := l.liveLocked(key)
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

// Save performs the atomic compare-and-insert.
func (l *MemoryLedger) Save(_ context.Context, rec Record) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if existing, ok := l.liveLocked(rec.Key); ok {
		if existing.Fingerprint != rec.Fingerprint {
			return ErrConflict
		}
		return nil
	}

	l.records[rec.Key] = rec
	l.expiry[rec.Key] = l.clock().Add(l.ttl)
	l.sweepLocked()
	return nil
}

// liveLocked returns the record for key if it exists and has not expired,
// removing it when stale. Caller holds l.mu.
func (l *MemoryLedger) liveLocked(key string) (Record, bool) {
	exp, ok := l.expiry[key]
	if !ok {
		return Record{}, false
	}
	if l.clock().After(exp) {
		delete(l.records, key)
		delete(l.expiry, key)
		return Record{}, false
	}
	return l.records[key], true
}

// sweepLocked drops all expired entries. Caller holds l.mu.
func (l *MemoryLedger) sweepLocked() {
	now := l.clock()
	for key, exp := range l.expiry {
		if now.After(exp) {
			delete(l.records, key)
			delete(l.expiry, key)
		}
	}
}
