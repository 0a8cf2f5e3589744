package api

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nkiryanov/thesisportal/internal/apperrors"
	"github.com/nkiryanov/thesisportal/internal/models"
	"github.com/nkiryanov/thesisportal/internal/session"
	"github.com/nkiryanov/thesisportal/internal/testutil/fakeapi"
)

func TestClient_AuthEndpoints(t *testing.T) {
	t.Parallel()

	api := fakeapi.Start(t)
	api.AddUser(models.User{Username: "awa", Role: models.RoleStudent, IsActive: true}, "correct-horse")
	api.AddUser(models.User{Username: "off", Role: models.RoleSecretary, IsActive: false}, "correct-horse")
	past := time.Now().Add(-24 * time.Hour)
	api.AddUser(models.User{Username: "old", Role: models.RoleStudent, IsActive: true, ExpiresAt: &past}, "correct-horse")

	t.Run("login", func(t *testing.T) {
		c := newClient(t, api.URL, nil)

		resp, err := c.Login(t.Context(), models.Credentials{Username: "awa", Password: "correct-horse"})

		require.NoError(t, err)
		require.NotEmpty(t, resp.Access)
		require.NotEmpty(t, resp.Refresh)
		require.Equal(t, models.RoleStudent, resp.User.Role)
		require.Equal(t, fakeapi.CSRFToken, c.csrfToken(), "csrf cookie must be kept in the jar")
	})

	t.Run("login rejections", func(t *testing.T) {
		tests := []struct {
			name     string
			username string
			password string
			want     error
		}{
			{"wrong password", "awa", "nope", apperrors.ErrInvalidCredentials},
			{"unknown user", "ghost", "correct-horse", apperrors.ErrInvalidCredentials},
			{"disabled", "off", "correct-horse", apperrors.ErrAccountDisabled},
			{"expired student", "old", "correct-horse", apperrors.ErrAccountExpired},
			{"missing password", "awa", "", apperrors.ErrValidationFailed},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				c := newClient(t, api.URL, nil)

				_, err := c.Login(t.Context(), models.Credentials{Username: tt.username, Password: tt.password})

				require.ErrorIs(t, err, tt.want)
			})
		}
	})

	t.Run("register", func(t *testing.T) {
		c := newClient(t, api.URL, nil)
		entity := int64(4)

		resp, err := c.RegisterStudent(t.Context(), models.Registration{
			Username:  "fatou",
			Email:     "fatou@univ.sn",
			Password:  "long-enough",
			FirstName: "Fatou",
			LastName:  "Sow",
			EntityID:  &entity,
		})

		require.NoError(t, err)
		require.Equal(t, models.RoleStudent, resp.User.Role)
		require.Equal(t, int64(4), resp.User.Entity.ID)
		require.NotEmpty(t, resp.Access)
	})

	t.Run("register field errors", func(t *testing.T) {
		c := newClient(t, api.URL, nil)

		_, err := c.RegisterStudent(t.Context(), models.Registration{Username: "awa", Password: "short"})

		var verr *apperrors.ValidationError
		require.ErrorAs(t, err, &verr)
		require.Contains(t, verr.Fields, "username")
		require.Contains(t, verr.Fields, "password")
	})

	t.Run("refresh keeps refresh token usable", func(t *testing.T) {
		c := newClient(t, api.URL, nil)
		_, refresh := api.Issue("awa", time.Now().Add(-time.Minute))

		first, err := c.RefreshAccess(t.Context(), refresh)
		require.NoError(t, err)
		require.NotEmpty(t, first)

		second, err := c.RefreshAccess(t.Context(), refresh)
		require.NoError(t, err)
		require.NotEmpty(t, second)
	})

	t.Run("refresh unknown token", func(t *testing.T) {
		c := newClient(t, api.URL, nil)

		_, err := c.RefreshAccess(t.Context(), "deadbeef")

		require.ErrorIs(t, err, apperrors.ErrSessionExpired)
	})

	t.Run("logout blacklists refresh", func(t *testing.T) {
		access, refresh := api.Issue("awa", time.Now().Add(time.Hour))
		store := session.NewStore(session.NewMemoryBackend(), nil)
		require.NoError(t, store.Write(t.Context(), models.Session{Access: access, Refresh: refresh, User: &models.User{ID: 1, Role: models.RoleStudent}}))
		c := newClient(t, api.URL, store)

		require.NoError(t, c.Logout(t.Context(), refresh))

		require.True(t, api.Blacklisted(refresh))
		_, err := c.RefreshAccess(t.Context(), refresh)
		require.ErrorIs(t, err, apperrors.ErrSessionExpired)
	})

	t.Run("current user and csrf on unsafe calls", func(t *testing.T) {
		c := newClient(t, api.URL, nil)
		resp, err := c.Login(t.Context(), models.Credentials{Username: "awa", Password: "correct-horse"})
		require.NoError(t, err)

		store := session.NewStore(session.NewMemoryBackend(), nil)
		require.NoError(t, store.Write(t.Context(), resp.Session()))
		c.store = store

		user, err := c.CurrentUser(t.Context())
		require.NoError(t, err)
		require.Equal(t, "awa", user.Username)

		first := "Awa"
		updated, err := c.UpdateProfile(t.Context(), user.ID, models.ProfileUpdate{FirstName: &first})
		require.NoError(t, err)
		require.Equal(t, "Awa", updated.FirstName)

		reqs := api.RequestsTo("/users/1/update_profile/")
		require.NotEmpty(t, reqs)
		require.Equal(t, fakeapi.CSRFToken, reqs[len(reqs)-1].CSRFToken)
	})

	t.Run("change password", func(t *testing.T) {
		api.AddUser(models.User{Username: "moussa", Role: models.RoleSecretary, IsActive: true}, "old-password")
		access, refresh := api.Issue("moussa", time.Now().Add(time.Hour))
		store := session.NewStore(session.NewMemoryBackend(), nil)
		require.NoError(t, store.Write(t.Context(), models.Session{Access: access, Refresh: refresh, User: &models.User{ID: 9, Role: models.RoleStudent}}))
		c := newClient(t, api.URL, store)

		err := c.ChangePassword(t.Context(), models.PasswordChange{OldPassword: "wrong", NewPassword: "new-password", ConfirmPassword: "new-password"})
		var verr *apperrors.ValidationError
		require.ErrorAs(t, err, &verr)
		require.Contains(t, verr.Fields, "old_password")

		err = c.ChangePassword(t.Context(), models.PasswordChange{OldPassword: "old-password", NewPassword: "new-password", ConfirmPassword: "new-password"})
		require.NoError(t, err)

		_, err = newClient(t, api.URL, nil).Login(t.Context(), models.Credentials{Username: "moussa", Password: "new-password"})
		require.NoError(t, err, "new password must be accepted")
	})

	t.Run("role restricted resource", func(t *testing.T) {
		access, refresh := api.Issue("awa", time.Now().Add(time.Hour))
		store := session.NewStore(session.NewMemoryBackend(), nil)
		require.NoError(t, store.Write(t.Context(), models.Session{Access: access, Refresh: refresh, User: &models.User{ID: 1, Role: models.RoleStudent}}))
		c := newClient(t, api.URL, store)

		var docs []map[string]any
		require.NoError(t, c.Do(t.Context(), http.MethodGet, "/memoires/mes_memoires/", nil, &docs))
		require.Len(t, docs, 1)

		err := c.Do(t.Context(), http.MethodGet, "/statistiques/", nil, nil)
		require.ErrorIs(t, err, apperrors.ErrInsufficientPrivilege)
	})
}
