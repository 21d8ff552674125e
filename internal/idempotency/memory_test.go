package idempotency

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFingerprint(t *testing.T) {
	a := Fingerprint("update", "cs-1", []byte(`{"quantity":2}`))
	same := Fingerprint("update", "cs-1", []byte(`{"quantity":2}`))
	assert.Equal(t, a, same)

	assert.NotEqual(t, a, Fingerprint("complete", "cs-1", []byte(`{"quantity":2}`)))
	assert.NotEqual(t, a, Fingerprint("update", "cs-2", []byte(`{"quantity":2}`)))
	assert.NotEqual(t, a, Fingerprint("update", "cs-1", []byte(`{"quantity":3}`)))

	// Field boundaries must matter: ("ab","c") differs from ("a","bc").
	assert.NotEqual(t, Fingerprint("ab", "c", nil), Fingerprint("a", "bc", nil))
}

func TestMemoryLedger(t *testing.T) {
	ctx := context.Background()

	rec := Record{
		Key:         "key-1",
		Fingerprint: "fp-1",
		Response:    []byte(`{"id":"cs-1"}`),
		CreatedAt:   time.Now(),
	}

	t.Run("find absent returns nil", func(t *testing.T) {
		l := NewMemoryLedger(time.Hour)
		got, err := l.Find(ctx, "missing")
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("save then find", func(t *testing.T) {
		l := NewMemoryLedger(time.Hour)
		require.NoError(t, l.Save(ctx, rec))

		got, err := l.Find(ctx, "key-1")
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, "fp-1", got.Fingerprint)
		assert.JSONEq(t, `{"id":"cs-1"}`, string(got.Response))
	})

	t.Run("same fingerprint is a no-op", func(t *testing.T) {
		l := NewMemoryLedger(time.Hour)
		require.NoError(t, l.Save(ctx, rec))
		require.NoError(t, l.Save(ctx, rec))

		got, err := l.Find(ctx, "key-1")
		require.NoError(t, err)
		require.NotNil(t, got)
	})

	t.Run("different fingerprint conflicts", func(t *testing.T) {
		l := NewMemoryLedger(time.Hour)
		require.NoError(t, l.Save(ctx, rec))

		other := rec
		other.Fingerprint = "fp-2"
		assert.ErrorIs(t, l.Save(ctx, other), ErrConflict)

		// The original record survives the conflicting attempt.
		got, err := l.Find(ctx, "key-1")
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, "fp-1", got.Fingerprint)
	})

	t.Run("records expire after the ttl", func(t *testing.T) {
		l := NewMemoryLedger(time.Hour)
		now := time.Now()
		l.clock = func() time.Time { return now }
		require.NoError(t, l.Save(ctx, rec))

		l.clock = func() time.Time { return now.Add(2 * time.Hour) }
		got, err := l.Find(ctx, "key-1")
		require.NoError(t, err)
		assert.Nil(t, got)

		// An expired key may be claimed again, even with a new fingerprint.
		fresh := rec
		fresh.Fingerprint = "fp-2"
		assert.NoError(t, l.Save(ctx, fresh))
	})
}
