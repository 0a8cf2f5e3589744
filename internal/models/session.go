package models

// Session is the persisted login: a token pair plus the user snapshot
// taken at login, registration, refresh or profile update.
type Session struct {
	Access  string `json:"access"`
	Refresh string `json:"refresh"`
	User    *User  `json:"user,omitempty"`
}

// Valid reports that tokens and user are all present and the user has a
// known role
func (s Session) Valid() bool {
	return s.Access != "" && s.Refresh != "" && s.User != nil && s.User.Role.Valid()
}

// Empty reports the zero session
func (s Session) Empty() bool {
	return s.Access == "" && s.Refresh == "" && s.User == nil
}

// WithAccess returns copy of the session with the access token replaced
func (s Session) WithAccess(access string) Session {
	s.Access = access
	return s
}

// WithUser returns copy of the session with the user snapshot replaced
func (s Session) WithUser(u User) Session {
	s.User = &u
	return s
}
