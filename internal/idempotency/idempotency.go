// Package idempotency provides the ledger that makes mutating checkout
// operations safe to retry: the first successful call bearing a key records
// its response, replays with the same key and fingerprint return it
// verbatim, and replays with a different fingerprint are conflicts.
package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/go-faster/errors"
)

// ErrConflict is returned when an idempotency key is reused with a request
// fingerprint different from the one originally recorded. The caller must
// pick a new key.
var ErrConflict = errors.New("idempotency key reused with a different request")

// Record is one entry in the ledger.
type Record struct {
	Key         string
	Fingerprint string
	// Response is the serialized session snapshot returned by the original
	// call, replayed byte-for-byte.
	Response  []byte
	CreatedAt time.Time
}

// Ledger stores idempotency records. Save must be an atomic
// compare-and-insert so two concurrent identical retries cannot both execute
// side effects.
type Ledger interface {
	// Find returns the record for key, or nil when none exists.
	Find(ctx context.Context, key string) (*Record, error)
	// Save inserts rec if its key is absent. An existing record with the
	// same fingerprint makes Save a no-op; a different fingerprint returns
	// ErrConflict.
	Save(ctx context.Context, rec Record) error
}

// Fingerprint hashes a mutating request's identity: operation name, target
// session id, and canonical body bytes. Two requests with equal fingerprints
// are considered the same logical request.
func Fingerprint(op, sessionID string, body []byte) string {
	h := sha256.New()
	h.Write([]byte(op))
	h.Write([]byte{0})
	h.Write([]byte(sessionID))
	h.Write([]byte{0})
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}
