package guard

import (
	"github.com/nkiryanov/thesisportal/internal/models"
)

type NavItem struct {
	Name string
	Href string
}

var (
	adminNav = []NavItem{
		{"Tableau de bord", AdminDashboard},
		{"Utilisateurs", "/dashboard/users"},
		{"Statistiques", "/dashboard/statistiques"},
		{"Téléchargements", "/dashboard/telechargements"},
		{"Mon Profil", ProfileRoute},
		{"Mémoires", "/dashboard/memoires"},
	}

	roleNav = map[models.Role][]NavItem{
		models.RoleGeneralAdmin: append([]NavItem{adminNav[0], adminNav[1], {"Entités", "/dashboard/entites"}}, adminNav[2:]...),
		models.RoleEntityAdmin:  adminNav,
		models.RoleSecretary: {
			{"Dashboard Secrétaire", SecretaryDashboard},
			{"Mémoires en Attente", "/dashboard/secretaire/memoires-attente"},
			{"Créer Compte Étudiant", "/dashboard/secretaire/creer-compte"},
			{"Comptes Expirés", "/dashboard/secretaire/etudiants-expires"},
		},
		models.RoleStudent: {
			{"Mon Dashboard", StudentDashboard},
			{"Déposer un Mémoire", "/dashboard/etudiant/deposer-memoire"},
			{"Mes Statistiques", "/dashboard/etudiant/statistiques"},
		},
	}

	personalNav = []NavItem{
		{"Paramètres", SettingsRoute},
	}
)

// Navigation returns menu of the role followed by personal entries.
// Every entry is admitted by DefaultPolicy for that role.
func Navigation(role models.Role) []NavItem {
	items := make([]NavItem, 0, len(roleNav[role])+len(personalNav))
	items = append(items, roleNav[role]...)
	return append(items, personalNav...)
}
