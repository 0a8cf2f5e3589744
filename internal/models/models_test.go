package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSession_Valid(t *testing.T) {
	user := &User{ID: 1, Username: "alice", Role: RoleStudent}

	tests := []struct {
		name    string
		session Session
		valid   bool
	}{
		{"complete", Session{Access: "a", Refresh: "r", User: user}, true},
		{"no user", Session{Access: "a", Refresh: "r"}, false},
		{"no refresh", Session{Access: "a", User: user}, false},
		{"no access", Session{Refresh: "r", User: user}, false},
		{"zero", Session{}, false},
		{"user without role", Session{Access: "a", Refresh: "r", User: &User{ID: 1, Username: "alice"}}, false},
		{"unknown role", Session{Access: "a", Refresh: "r", User: &User{ID: 1, Role: "professeur"}}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.valid, tt.session.Valid())
		})
	}

	require.True(t, Session{}.Empty())
}

func TestSession_With(t *testing.T) {
	s := Session{Access: "old", Refresh: "r", User: &User{Username: "alice"}}

	fresh := s.WithAccess("new")
	require.Equal(t, "new", fresh.Access)
	require.Equal(t, "r", fresh.Refresh, "refresh token is kept")
	require.Equal(t, "old", s.Access, "original must be untouched")

	updated := s.WithUser(User{Username: "bob"})
	require.Equal(t, "bob", updated.User.Username)
	require.Equal(t, "alice", s.User.Username)
}

func TestRole(t *testing.T) {
	for _, r := range []Role{RoleStudent, RoleEntityAdmin, RoleGeneralAdmin, RoleSecretary} {
		require.True(t, r.Valid(), "role %q should be valid", r)
	}
	require.False(t, Role("professeur").Valid())
	require.False(t, Role("").Valid())

	require.True(t, RoleEntityAdmin.IsAdmin())
	require.True(t, RoleGeneralAdmin.IsAdmin())
	require.False(t, RoleSecretary.IsAdmin())
}

func TestUser(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	require.True(t, User{ExpiresAt: &past}.IsExpired(now))
	require.False(t, User{ExpiresAt: &future}.IsExpired(now))
	require.False(t, User{}.IsExpired(now), "users without expiry never expire")

	require.Equal(t, "Awa Diop", User{FirstName: "Awa", LastName: "Diop", Username: "adiop"}.FullName())
	require.Equal(t, "adiop", User{Username: "adiop"}.FullName())
}

func TestAuthResponse_Session(t *testing.T) {
	resp := AuthResponse{User: User{ID: 7, Role: RoleSecretary}, Access: "a", Refresh: "r"}

	s := resp.Session()
	require.True(t, s.Valid())
	require.Equal(t, RoleSecretary, s.User.Role)
}
