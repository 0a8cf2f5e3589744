package models

import (
	"time"
)

// Role is the account kind assigned by the portal
type Role string

const (
	RoleStudent      Role = "etudiant"
	RoleEntityAdmin  Role = "admin_entite"
	RoleGeneralAdmin Role = "admin_general"
	RoleSecretary    Role = "secretaire"
)

func (r Role) Valid() bool {
	switch r {
	case RoleStudent, RoleEntityAdmin, RoleGeneralAdmin, RoleSecretary:
		return true
	default:
		return false
	}
}

// IsAdmin reports both admin kinds
func (r Role) IsAdmin() bool {
	return r == RoleEntityAdmin || r == RoleGeneralAdmin
}

// Entity is an academic department or institution
type Entity struct {
	ID          int64  `json:"id"`
	Name        string `json:"nom"`
	Description string `json:"description,omitempty"`
}

type User struct {
	ID         int64      `json:"id"`
	Username   string     `json:"username"`
	Email      string     `json:"email"`
	FirstName  string     `json:"first_name"`
	LastName   string     `json:"last_name"`
	Role       Role       `json:"role"`
	Entity     *Entity    `json:"entite,omitempty"`
	EntityName string     `json:"entite_nom,omitempty"`
	ExpiresAt  *time.Time `json:"date_expiration,omitempty"` // students only
	IsActive   bool       `json:"is_active"`
	DateJoined time.Time  `json:"date_joined"`
	LastLogin  *time.Time `json:"last_login,omitempty"`
}

// FullName returns "First Last" or the username when names are empty
func (u User) FullName() string {
	switch {
	case u.FirstName != "" && u.LastName != "":
		return u.FirstName + " " + u.LastName
	case u.FirstName != "":
		return u.FirstName
	case u.LastName != "":
		return u.LastName
	default:
		return u.Username
	}
}

// IsExpired reports a passed student expiry date. Display only, the
// remote API is the authority.
func (u User) IsExpired(now time.Time) bool {
	return u.ExpiresAt != nil && !u.ExpiresAt.After(now)
}
