package session

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nkiryanov/thesisportal/internal/apperrors"
	"github.com/nkiryanov/thesisportal/internal/models"
)

func testSession() models.Session {
	return models.Session{
		Access:  "access-token",
		Refresh: "refresh-token",
		User: &models.User{
			ID:        42,
			Username:  "awa",
			Email:     "awa@univ.sn",
			FirstName: "Awa",
			LastName:  "Diop",
			Role:      models.RoleStudent,
			Entity:    &models.Entity{ID: 3, Name: "UFR SAT"},
			IsActive:  true,
		},
	}
}

// failingBackend fails every call with err
type failingBackend struct {
	err error
}

func (f failingBackend) Get(context.Context, string) ([]byte, error) { return nil, f.err }
func (f failingBackend) Set(context.Context, string, []byte) error   { return f.err }
func (f failingBackend) Delete(context.Context, ...string) error     { return f.err }

func TestStore(t *testing.T) {
	t.Parallel()

	t.Run("empty store", func(t *testing.T) {
		store := NewStore(NewMemoryBackend(), nil)

		_, ok := store.Read(t.Context())

		require.False(t, ok)
	})

	t.Run("write then read", func(t *testing.T) {
		store := NewStore(NewMemoryBackend(), nil)
		want := testSession()

		err := store.Write(t.Context(), want)
		require.NoError(t, err)

		got, ok := store.Read(t.Context())
		require.True(t, ok)
		require.Equal(t, want, got)
	})

	t.Run("persisted layout", func(t *testing.T) {
		backend := NewMemoryBackend()
		store := NewStore(backend, nil)

		err := store.Write(t.Context(), testSession())
		require.NoError(t, err)

		raw, err := backend.Get(t.Context(), TokensKey)
		require.NoError(t, err)
		require.JSONEq(t, `{"access":"access-token","refresh":"refresh-token"}`, string(raw))

		raw, err = backend.Get(t.Context(), UserKey)
		require.NoError(t, err)
		require.Contains(t, string(raw), `"role":"etudiant"`)
		require.Contains(t, string(raw), `"first_name":"Awa"`)
	})

	t.Run("write rejects incomplete session", func(t *testing.T) {
		store := NewStore(NewMemoryBackend(), nil)
		s := testSession()
		s.User = nil

		err := store.Write(t.Context(), s)

		require.ErrorIs(t, err, apperrors.ErrInvalidSession)
	})

	t.Run("clear", func(t *testing.T) {
		store := NewStore(NewMemoryBackend(), nil)
		require.NoError(t, store.Write(t.Context(), testSession()))

		require.NoError(t, store.Clear(t.Context()))
		require.NoError(t, store.Clear(t.Context()), "clearing twice is fine")

		_, ok := store.Read(t.Context())
		require.False(t, ok)
	})

	t.Run("unusable data is cleared", func(t *testing.T) {
		tests := []struct {
			name   string
			tokens []byte
			user   []byte
		}{
			{"tokens not json", []byte("{nope"), []byte(`{"id":1,"role":"etudiant"}`)},
			{"user not json", []byte(`{"access":"a","refresh":"r"}`), []byte("garbage")},
			{"user is null", []byte(`{"access":"a","refresh":"r"}`), []byte("null")},
			{"refresh missing", []byte(`{"access":"a"}`), []byte(`{"id":1,"role":"etudiant"}`)},
			{"access missing", []byte(`{"refresh":"r"}`), []byte(`{"id":1,"role":"etudiant"}`)},
			{"tokens without user", []byte(`{"access":"a","refresh":"r"}`), nil},
			{"user without tokens", nil, []byte(`{"id":1,"role":"etudiant"}`)},
			{"user without role", []byte(`{"access":"a","refresh":"r"}`), []byte(`{"id":1,"username":"awa"}`)},
			{"user with unknown role", []byte(`{"access":"a","refresh":"r"}`), []byte(`{"id":1,"role":"professeur"}`)},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				backend := NewMemoryBackend()
				if tt.tokens != nil {
					require.NoError(t, backend.Set(t.Context(), TokensKey, tt.tokens))
				}
				if tt.user != nil {
					require.NoError(t, backend.Set(t.Context(), UserKey, tt.user))
				}
				store := NewStore(backend, nil)

				_, ok := store.Read(t.Context())
				require.False(t, ok)

				_, err := backend.Get(t.Context(), TokensKey)
				require.ErrorIs(t, err, ErrNotFound, "tokens must be wiped")
				_, err = backend.Get(t.Context(), UserKey)
				require.ErrorIs(t, err, ErrNotFound, "user must be wiped")
			})
		}
	})

	t.Run("backend failure is no session", func(t *testing.T) {
		store := NewStore(failingBackend{err: errors.New("disk on fire")}, nil)

		_, ok := store.Read(t.Context())
		require.False(t, ok)

		err := store.Write(t.Context(), testSession())
		require.Error(t, err)
		require.ErrorContains(t, err, "disk on fire")
	})
}
