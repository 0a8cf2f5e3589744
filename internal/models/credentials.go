package models

type Credentials struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

// Registration is the student self sign-up form
type Registration struct {
	Username  string `json:"username" validate:"required,max=150"`
	Email     string `json:"email" validate:"required,email"`
	Password  string `json:"password" validate:"required,min=8"`
	FirstName string `json:"first_name" validate:"required"`
	LastName  string `json:"last_name" validate:"required"`
	EntityID  *int64 `json:"entite,omitempty"`
}

type PasswordChange struct {
	OldPassword     string `json:"old_password" validate:"required"`
	NewPassword     string `json:"new_password1" validate:"required,min=8"`
	ConfirmPassword string `json:"new_password2" validate:"required"`
}

// ProfileUpdate holds the fields a user may edit on their own profile.
// Nil means unchanged.
type ProfileUpdate struct {
	Email     *string `json:"email,omitempty" validate:"omitempty,email"`
	FirstName *string `json:"first_name,omitempty"`
	LastName  *string `json:"last_name,omitempty"`
}

// AuthResponse is returned by login and registration
type AuthResponse struct {
	User    User   `json:"user"`
	Access  string `json:"access"`
	Refresh string `json:"refresh"`
	Message string `json:"message,omitempty"`
}

// Session converts the response to the persisted form
func (r AuthResponse) Session() Session {
	u := r.User
	return Session{Access: r.Access, Refresh: r.Refresh, User: &u}
}
