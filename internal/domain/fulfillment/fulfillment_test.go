package fulfillment

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validAddress() Address {
	return Address{
		Name:       "Ada Lovelace",
		Line1:      "12 Garden Way",
		City:       "Portland",
		Region:     "OR",
		PostalCode: "97201",
		Country:    "US",
	}
}

func TestResolverResolve(t *testing.T) {
	r := NewResolver(NewStaticSource(DefaultOptions()))

	t.Run("complete address resolves options", func(t *testing.T) {
		opts, err := r.Resolve(context.Background(), validAddress())
		require.NoError(t, err)
		require.NotEmpty(t, opts)
		for _, o := range opts {
			assert.NotEmpty(t, o.ID)
			assert.NotEmpty(t, o.Title)
		}
	})

	t.Run("incomplete addresses are rejected", func(t *testing.T) {
		for _, mutate := range []func(*Address){
			func(a *Address) { a.Line1 = "" },
			func(a *Address) { a.City = "" },
			func(a *Address) { a.Country = "" },
		} {
			addr := validAddress()
			mutate(&addr)
			_, err := r.Resolve(context.Background(), addr)
			assert.ErrorIs(t, err, ErrIncompleteAddress)
		}
	})
}

func TestSelect(t *testing.T) {
	opts := DefaultOptions()

	got, err := Select(opts[0].ID, opts)
	require.NoError(t, err)
	assert.Equal(t, opts[0].ID, got.ID)

	_, err = Select("shipping_teleport", opts)
	assert.ErrorIs(t, err, ErrOptionNotFound)

	_, err = Select("", nil)
	assert.ErrorIs(t, err, ErrOptionNotFound)
}
