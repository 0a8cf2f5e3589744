package guard

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nkiryanov/thesisportal/internal/models"
)

func TestDefaultRoute(t *testing.T) {
	tests := []struct {
		role models.Role
		want string
	}{
		{models.RoleStudent, "/dashboard/etudiant"},
		{models.RoleSecretary, "/dashboard/secretaire"},
		{models.RoleEntityAdmin, "/dashboard"},
		{models.RoleGeneralAdmin, "/dashboard"},
		{models.Role("unknown"), "/dashboard"},
	}

	for _, tt := range tests {
		t.Run(string(tt.role), func(t *testing.T) {
			require.Equal(t, tt.want, DefaultRoute(tt.role))
		})
	}
}

func TestPolicy_Decide(t *testing.T) {
	p := DefaultPolicy()

	anon := Anonymous()
	student := Authenticated(models.RoleStudent)
	secretary := Authenticated(models.RoleSecretary)
	entityAdmin := Authenticated(models.RoleEntityAdmin)
	generalAdmin := Authenticated(models.RoleGeneralAdmin)

	tests := []struct {
		name  string
		state State
		path  string
		want  Decision
	}{
		// public routes
		{"anonymous on home", anon, "/", allow()},
		{"anonymous on public documents", anon, "/memoires-publics", allow()},
		{"anonymous on public document page", anon, "/memoires-publics/12", allow()},
		{"anonymous on search with query", anon, "/recherche?q=reseaux", allow()},
		{"anonymous on login", anon, "/login", allow()},
		{"prefix without slash is not public", anon, "/recherche-avancee", redirect("/login")},

		// anonymous on private
		{"anonymous on secretary dashboard", anon, "/dashboard/secretaire", redirect("/login")},
		{"anonymous on profile", anon, "/dashboard/profil", redirect("/login")},

		// auth only
		{"student on login", student, "/login", redirect("/dashboard/etudiant")},
		{"secretary on register", secretary, "/register", redirect("/dashboard/secretaire")},
		{"admin on login with trailing slash", generalAdmin, "/login/", redirect("/dashboard")},
		{"student on home", student, "/", allow()},

		// role prefixes
		{"secretary on admin users", secretary, "/dashboard/users", redirect("/dashboard/secretaire")},
		{"secretary on pending documents", secretary, "/dashboard/secretaire/memoires-attente", allow()},
		{"secretary on downloads", secretary, "/dashboard/telechargements", redirect("/dashboard/secretaire")},
		{"secretary on dashboard root", secretary, "/dashboard", redirect("/dashboard/secretaire")},
		{"student on own documents", student, "/dashboard/etudiant/deposer-memoire", allow()},
		{"student on admin dashboard", student, "/dashboard", redirect("/dashboard/etudiant")},
		{"student on secretary area", student, "/dashboard/secretaire", redirect("/dashboard/etudiant")},
		{"entity admin on entities", entityAdmin, "/dashboard/entites", allow()},
		{"entity admin on statistics", entityAdmin, "/dashboard/statistiques", allow()},
		{"entity admin on secretary area", entityAdmin, "/dashboard/secretaire/creer-compte", allow()},
		{"general admin on dashboard", generalAdmin, "/dashboard", allow()},
		{"general admin on entities", generalAdmin, "/dashboard/entites/3", allow()},
		{"general admin on add document", generalAdmin, "/dashboard/memoires/ajouter", allow()},
		{"general admin on student area", generalAdmin, "/dashboard/etudiant/deposer-memoire", allow()},
		{"general admin on secretary area", generalAdmin, "/dashboard/secretaire/memoires-attente", allow()},
		{"admin prefix without slash", generalAdmin, "/dashboards", redirect("/dashboard")},

		// personal
		{"student on profile", student, "/dashboard/profil", allow()},
		{"secretary on settings", secretary, "/dashboard/parametres", allow()},

		// unknown role
		{"unknown role on admin area", Authenticated("professeur"), "/dashboard/users", redirect("/dashboard")},

		// not settled
		{"initializing", Initializing(), "/dashboard", pending()},
		{"uninitialized", State{}, "/", pending()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, p.Decide(tt.state, tt.path))
		})
	}
}

func TestPolicy_PublicOnly(t *testing.T) {
	p := DefaultPolicy()

	require.Equal(t, allow(), p.PublicOnly(Anonymous()))
	require.Equal(t, redirect("/dashboard/secretaire"), p.PublicOnly(Authenticated(models.RoleSecretary)))
	require.Equal(t, redirect("/dashboard"), p.PublicOnly(Authenticated(models.RoleEntityAdmin)))
	require.True(t, p.PublicOnly(Initializing()).Pending)
}

func TestPolicy_RequireRole(t *testing.T) {
	p := DefaultPolicy()

	require.Equal(t, redirect("/login"), p.RequireRole(Anonymous(), models.RoleStudent))
	require.Equal(t, allow(), p.RequireRole(Authenticated(models.RoleStudent), models.RoleStudent))
	require.Equal(t, redirect("/dashboard/etudiant"), p.RequireRole(Authenticated(models.RoleStudent), models.RoleGeneralAdmin))
	require.Equal(t, allow(), p.RequireRole(Authenticated(models.RoleSecretary), ""), "empty role admits any user")
	require.True(t, p.RequireRole(Initializing(), models.RoleStudent).Pending)
}

func TestRedirectsAreAdmitted(t *testing.T) {
	p := DefaultPolicy()

	for _, role := range []models.Role{models.RoleStudent, models.RoleSecretary, models.RoleEntityAdmin, models.RoleGeneralAdmin} {
		t.Run(string(role), func(t *testing.T) {
			state := Authenticated(role)

			require.Equal(t, allow(), p.Decide(state, DefaultRoute(role)), "landing route must be admitted")

			for _, item := range Navigation(role) {
				require.Equal(t, allow(), p.Decide(state, item.Href), "menu entry %q must be admitted", item.Href)
			}
		})
	}
}

func TestNormalize(t *testing.T) {
	tests := map[string]string{
		"":                         "/",
		"/":                        "/",
		"dashboard":                "/dashboard",
		"/dashboard/":              "/dashboard",
		"/dashboard//users":        "/dashboard/users",
		"/dashboard/users?page=2":  "/dashboard/users",
		"/dashboard/users#top":     "/dashboard/users",
		"/dashboard/etudiant/../x": "/dashboard/x",
	}

	for in, want := range tests {
		assert.Equal(t, want, Normalize(in), "Normalize(%q)", in)
	}
}
