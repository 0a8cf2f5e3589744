package guard

import (
	"fmt"

	"github.com/nkiryanov/thesisportal/internal/models"
)

type Status int

const (
	StatusUninitialized Status = iota
	StatusInitializing
	StatusAnonymous
	StatusAuthenticated
)

func (s Status) String() string {
	switch s {
	case StatusUninitialized:
		return "uninitialized"
	case StatusInitializing:
		return "initializing"
	case StatusAnonymous:
		return "anonymous"
	case StatusAuthenticated:
		return "authenticated"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// State is the session state routes are admitted against.
// Role is set only when authenticated.
type State struct {
	Status Status
	Role   models.Role
}

func Initializing() State { return State{Status: StatusInitializing} }

func Anonymous() State { return State{Status: StatusAnonymous} }

func Authenticated(role models.Role) State {
	return State{Status: StatusAuthenticated, Role: role}
}

// Settled reports that initialization finished
func (s State) Settled() bool {
	return s.Status == StatusAnonymous || s.Status == StatusAuthenticated
}

func (s State) String() string {
	if s.Status == StatusAuthenticated {
		return fmt.Sprintf("%s(%s)", s.Status, s.Role)
	}
	return s.Status.String()
}

// CanTransition reports whether moving from s to next is allowed
func (s State) CanTransition(next State) bool {
	if next.Status == StatusAuthenticated && next.Role == "" {
		return false
	}

	switch s.Status {
	case StatusUninitialized:
		return next.Status == StatusInitializing
	case StatusInitializing:
		return next.Settled()
	case StatusAnonymous, StatusAuthenticated:
		// re-login, profile change and repeated teardown are all allowed
		return next.Settled()
	default:
		return false
	}
}
