package session

import (
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/require"

	"github.com/nkiryanov/thesisportal/internal/testutil"
)

func TestPostgresBackend(t *testing.T) {
	t.Parallel() // It's ok to run in parallel with other tests, but not with subtests

	pg := testutil.StartPostgresContainer(t)
	t.Cleanup(pg.Terminate)

	t.Run("missing key", func(t *testing.T) {
		testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
			backend := NewPostgresBackend(tx, "")

			_, err := backend.Get(t.Context(), TokensKey)

			require.ErrorIs(t, err, ErrNotFound)
		})
	})

	t.Run("store roundtrip", func(t *testing.T) {
		testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
			store := NewStore(NewPostgresBackend(tx, "alice"), nil)

			require.NoError(t, store.Write(t.Context(), testSession()))
			got, ok := store.Read(t.Context())
			require.True(t, ok)
			require.Equal(t, testSession(), got)

			updated := testSession().WithAccess("second-access")
			require.NoError(t, store.Write(t.Context(), updated), "upsert must replace existing rows")
			got, ok = store.Read(t.Context())
			require.True(t, ok)
			require.Equal(t, "second-access", got.Access)

			require.NoError(t, store.Clear(t.Context()))
			_, ok = store.Read(t.Context())
			require.False(t, ok)
		})
	})

	t.Run("namespaces isolate profiles", func(t *testing.T) {
		testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
			require.NoError(t, NewStore(NewPostgresBackend(tx, "alice"), nil).Write(t.Context(), testSession()))

			_, ok := NewStore(NewPostgresBackend(tx, "bob"), nil).Read(t.Context())
			require.False(t, ok)
		})
	})

	t.Run("missing table", func(t *testing.T) {
		testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
			_, err := tx.Exec(t.Context(), "DROP TABLE session_entries")
			require.NoError(t, err)

			_, err = NewPostgresBackend(tx, "").Get(t.Context(), TokensKey)

			require.ErrorIs(t, err, ErrNotMigrated)
		})
	})
}
