package kvstore_test

import (
	"testing"

	"github.com/stretchr/testify/require"
	"quotefeed/internal/kvstore"
)

// The file and memory stores must behave identically through the Store
// interface; the suite runs against both.
func TestStores(t *testing.T) {
	t.Parallel()

	stores := map[string]func(t *testing.T) kvstore.Store{
		"memory": func(t *testing.T) kvstore.Store { return kvstore.NewMemory() },
		"file": func(t *testing.T) kvstore.Store {
			s, err := kvstore.NewFile(t.TempDir())
			require.NoError(t, err)
			return s
		},
	}

	for name, open := range stores {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			s := open(t)
			defer s.Close()

			// Act: roundtrip a value
			require.NoError(t, s.Set(t.Context(), "quote:AAPL", []byte(`{"price":189.84}`)))
			got, err := s.Get(t.Context(), "quote:AAPL")
			require.NoError(t, err)
			require.JSONEq(t, `{"price":189.84}`, string(got))

			// Act: overwrite
			require.NoError(t, s.Set(t.Context(), "quote:AAPL", []byte(`{"price":190.01}`)))
			got, err = s.Get(t.Context(), "quote:AAPL")
			require.NoError(t, err)
			require.JSONEq(t, `{"price":190.01}`, string(got))

			// Assert: missing keys report not found
			_, err = s.Get(t.Context(), "quote:MSFT")
			require.ErrorIs(t, err, kvstore.ErrNotFound)

			// Assert: keys with characters unsafe for file names survive
			key := `search:apple inc & co/日本`
			require.NoError(t, s.Set(t.Context(), key, []byte(`{}`)))
			got, err = s.Get(t.Context(), key)
			require.NoError(t, err)
			require.JSONEq(t, `{}`, string(got))

			keys, err := s.Keys(t.Context())
			require.NoError(t, err)
			require.ElementsMatch(t, []string{"quote:AAPL", key}, keys)

			// Act: delete is idempotent
			require.NoError(t, s.Delete(t.Context(), key))
			require.NoError(t, s.Delete(t.Context(), key))
			_, err = s.Get(t.Context(), key)
			require.ErrorIs(t, err, kvstore.ErrNotFound)

			keys, err = s.Keys(t.Context())
			require.NoError(t, err)
			require.Equal(t, []string{"quote:AAPL"}, keys)
		})
	}
}
