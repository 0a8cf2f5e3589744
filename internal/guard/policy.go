// Package guard decides which routes a session may visit.
//
// The decision is pure: state and path in, allow or redirect out. The single
// role to landing route mapping lives in DefaultRoute and every redirect goes
// through it.
package guard

import (
	"path"
	"strings"

	"github.com/nkiryanov/thesisportal/internal/models"
)

const (
	HomeRoute     = "/"
	LoginRoute    = "/login"
	RegisterRoute = "/register"

	AdminDashboard     = "/dashboard"
	StudentDashboard   = "/dashboard/etudiant"
	SecretaryDashboard = "/dashboard/secretaire"

	ProfileRoute  = "/dashboard/profil"
	SettingsRoute = "/dashboard/parametres"
)

// DefaultRoute is the landing route of the role. Unknown roles land on the
// shared admin dashboard where the policy sends them back if not allowed.
func DefaultRoute(role models.Role) string {
	switch role {
	case models.RoleStudent:
		return StudentDashboard
	case models.RoleSecretary:
		return SecretaryDashboard
	default:
		return AdminDashboard
	}
}

// Rule admits a path. Non exact rules admit the path and everything below it.
type Rule struct {
	Path  string
	Exact bool
}

func (r Rule) Match(p string) bool {
	if p == r.Path {
		return true
	}
	if r.Exact {
		return false
	}
	return strings.HasPrefix(p, strings.TrimSuffix(r.Path, "/")+"/")
}

type Policy struct {
	// Reachable in any settled state
	Public []Rule

	// Public routes an authenticated user is sent away from
	AuthOnly []Rule

	// Private routes open to every authenticated role
	Personal []Rule

	Roles map[models.Role][]Rule
}

// DefaultPolicy returns the portal route table
func DefaultPolicy() Policy {
	// Admins reach the whole dashboard tree, other roles their own area
	admin := []Rule{{Path: AdminDashboard}}

	return Policy{
		Public: []Rule{
			{Path: HomeRoute, Exact: true},
			{Path: LoginRoute},
			{Path: RegisterRoute},
			{Path: "/memoires-publics"},
			{Path: "/recherche"},
		},
		AuthOnly: []Rule{
			{Path: LoginRoute, Exact: true},
			{Path: RegisterRoute, Exact: true},
		},
		Personal: []Rule{
			{Path: ProfileRoute, Exact: true},
			{Path: SettingsRoute, Exact: true},
		},
		Roles: map[models.Role][]Rule{
			models.RoleGeneralAdmin: admin,
			models.RoleEntityAdmin:  admin,
			models.RoleSecretary: {
				{Path: SecretaryDashboard},
			},
			models.RoleStudent: {
				{Path: StudentDashboard},
			},
		},
	}
}

// Decision is the outcome of route admission.
// Pending means the session is not settled yet and nothing was decided.
type Decision struct {
	Allow    bool
	Redirect string
	Pending  bool
}

func allow() Decision             { return Decision{Allow: true} }
func redirect(to string) Decision { return Decision{Redirect: to} }
func pending() Decision           { return Decision{Pending: true} }
func matchAny(rules []Rule, p string) bool {
	for _, r := range rules {
		if r.Match(p) {
			return true
		}
	}
	return false
}

// Decide admits path for the state or tells where to go instead
func (p Policy) Decide(state State, route string) Decision {
	if !state.Settled() {
		return pending()
	}

	route = Normalize(route)
	public := matchAny(p.Public, route)

	if state.Status == StatusAnonymous {
		if public {
			return allow()
		}
		return redirect(LoginRoute)
	}

	if matchAny(p.AuthOnly, route) {
		return redirect(DefaultRoute(state.Role))
	}
	if public || matchAny(p.Personal, route) || matchAny(p.Roles[state.Role], route) {
		return allow()
	}

	return redirect(DefaultRoute(state.Role))
}

// PublicOnly is for pages meant for visitors: authenticated users are sent
// to their landing route
func (p Policy) PublicOnly(state State) Decision {
	switch state.Status {
	case StatusAnonymous:
		return allow()
	case StatusAuthenticated:
		return redirect(DefaultRoute(state.Role))
	default:
		return pending()
	}
}

// RequireRole admits only the given role. Empty role admits any
// authenticated user.
func (p Policy) RequireRole(state State, role models.Role) Decision {
	switch {
	case !state.Settled():
		return pending()
	case state.Status == StatusAnonymous:
		return redirect(LoginRoute)
	case role != "" && state.Role != role:
		return redirect(DefaultRoute(state.Role))
	default:
		return allow()
	}
}

// Normalize strips query and fragment, cleans the path and drops the
// trailing slash
func Normalize(route string) string {
	if i := strings.IndexAny(route, "?#"); i >= 0 {
		route = route[:i]
	}
	if route == "" {
		return HomeRoute
	}
	if !strings.HasPrefix(route, "/") {
		route = "/" + route
	}
	return path.Clean(route)
}
