package guard

import (
	"context"

	"github.com/nkiryanov/thesisportal/internal/models"
)

// StateSource publishes session state. Ready is closed once initialization
// finished, State is meaningful only after that.
type StateSource interface {
	Ready() <-chan struct{}
	State() State
}

type Guard struct {
	source StateSource
	policy Policy
}

func New(source StateSource, policy Policy) *Guard {
	return &Guard{source: source, policy: policy}
}

// Admit waits for session initialization and decides on the route.
// It returns ctx error if initialization does not finish in time.
func (g *Guard) Admit(ctx context.Context, route string) (Decision, error) {
	state, err := g.settled(ctx)
	if err != nil {
		return pending(), err
	}
	return g.policy.Decide(state, route), nil
}

// PublicOnly waits for initialization and applies Policy.PublicOnly
func (g *Guard) PublicOnly(ctx context.Context) (Decision, error) {
	state, err := g.settled(ctx)
	if err != nil {
		return pending(), err
	}
	return g.policy.PublicOnly(state), nil
}

// RequireRole waits for initialization and applies Policy.RequireRole
func (g *Guard) RequireRole(ctx context.Context, role models.Role) (Decision, error) {
	state, err := g.settled(ctx)
	if err != nil {
		return pending(), err
	}
	return g.policy.RequireRole(state, role), nil
}

// Navigation lists menu entries for the current state
func (g *Guard) Navigation(ctx context.Context) ([]NavItem, error) {
	state, err := g.settled(ctx)
	if err != nil {
		return nil, err
	}
	if state.Status != StatusAuthenticated {
		return nil, nil
	}
	return Navigation(state.Role), nil
}

func (g *Guard) settled(ctx context.Context) (State, error) {
	select {
	case <-ctx.Done():
		return State{}, ctx.Err()
	case <-g.source.Ready():
		return g.source.State(), nil
	}
}
