// Package auth is the entry point for everything session related: login,
// logout, registration, token refresh, profile and password changes.
//
// Service owns the in-memory session state and keeps it in lockstep with the
// persisted session. Consumers read it synchronously or subscribe to changes.
package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/nkiryanov/thesisportal/internal/apperrors"
	"github.com/nkiryanov/thesisportal/internal/guard"
	"github.com/nkiryanov/thesisportal/internal/logger"
	"github.com/nkiryanov/thesisportal/internal/models"
	"github.com/nkiryanov/thesisportal/internal/validate"
)

// Client is the remote side of authentication
type Client interface {
	Login(ctx context.Context, creds models.Credentials) (models.AuthResponse, error)
	RegisterStudent(ctx context.Context, reg models.Registration) (models.AuthResponse, error)
	Logout(ctx context.Context, refresh string) error
	CurrentUser(ctx context.Context) (models.User, error)
	ChangePassword(ctx context.Context, change models.PasswordChange) error
	UpdateProfile(ctx context.Context, userID int64, update models.ProfileUpdate) (models.User, error)
}

type SessionStore interface {
	Read(ctx context.Context) (models.Session, bool)
	Write(ctx context.Context, s models.Session) error
	Clear(ctx context.Context) error
}

type TokenManager interface {
	IsExpired(access string) bool
	Refresh(ctx context.Context) (models.Session, error)
}

// Snapshot is the observable session state. User is nil unless authenticated.
type Snapshot struct {
	State guard.State
	User  *models.User
}

type Service struct {
	client Client
	store  SessionStore
	tokens TokenManager
	logger logger.Logger

	mu    sync.RWMutex
	state guard.State
	user  *models.User
	subs  map[int]chan Snapshot
	subID int

	ready     chan struct{}
	readyOnce sync.Once
}

func NewService(store SessionStore, tokens TokenManager, client Client, l logger.Logger) *Service {
	return &Service{
		client: client,
		store:  store,
		tokens: tokens,
		logger: logger.OrNoOp(l).With("component", "auth"),
		subs:   make(map[int]chan Snapshot),
		ready:  make(chan struct{}),
	}
}

// Init restores the persisted session. Expired access token is refreshed and
// the user re-fetched, any failure ends as anonymous with the store cleared.
// Ready is closed when Init returns. Calling Init again does nothing.
func (s *Service) Init(ctx context.Context) error {
	s.mu.Lock()
	if s.state.Status != guard.StatusUninitialized {
		s.mu.Unlock()
		return nil
	}
	s.setLocked(guard.Initializing(), nil)
	s.mu.Unlock()

	defer s.readyOnce.Do(func() { close(s.ready) })

	stored, ok := s.store.Read(ctx)
	if !ok {
		s.set(guard.Anonymous(), nil)
		return nil
	}

	if !s.tokens.IsExpired(stored.Access) {
		s.logger.Debug("session restored", "user", stored.User.Username)
		s.set(guard.Authenticated(stored.User.Role), stored.User)
		return nil
	}

	_, err := s.tokens.Refresh(ctx)
	if err == nil {
		var user models.User
		user, err = s.client.CurrentUser(ctx)
		if err == nil {
			err = s.storeUser(ctx, user)
		}
	}

	switch {
	case err == nil:
		s.logger.Info("session renewed on startup")
		return nil
	case ctx.Err() != nil:
		// Stored session is left for the next start
		s.set(guard.Anonymous(), nil)
		return ctx.Err()
	default:
		s.logger.Info("stored session could not be renewed", "error", err)
		s.teardown(ctx)
		return nil
	}
}

// Ready is closed once Init finished
func (s *Service) Ready() <-chan struct{} {
	return s.ready
}

func (s *Service) State() guard.State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

func (s *Service) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

// CurrentUser returns cached user without network round trip
func (s *Service) CurrentUser() (models.User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.user == nil {
		return models.User{}, false
	}
	return *s.user, true
}

func (s *Service) IsAuthenticated() bool {
	return s.State().Status == guard.StatusAuthenticated
}

// LandingRoute is where the current session belongs
func (s *Service) LandingRoute() string {
	state := s.State()
	if state.Status != guard.StatusAuthenticated {
		return guard.LoginRoute
	}
	return guard.DefaultRoute(state.Role)
}

func (s *Service) Login(ctx context.Context, creds models.Credentials) (models.Session, error) {
	if err := s.requireSettled(); err != nil {
		return models.Session{}, err
	}
	if err := validate.Struct(creds); err != nil {
		return models.Session{}, err
	}

	resp, err := s.client.Login(ctx, creds)
	if err != nil {
		s.logger.Info("login rejected", "username", creds.Username, "error", err)
		return models.Session{}, err
	}

	session, err := s.start(ctx, resp)
	if err != nil {
		return models.Session{}, err
	}

	s.logger.Info("logged in", "username", session.User.Username, "role", session.User.Role)
	return session, nil
}

// Register creates student account and starts its session
func (s *Service) Register(ctx context.Context, reg models.Registration) (models.Session, error) {
	if err := s.requireSettled(); err != nil {
		return models.Session{}, err
	}
	if err := validate.Struct(reg); err != nil {
		return models.Session{}, err
	}

	resp, err := s.client.RegisterStudent(ctx, reg)
	if err != nil {
		s.logger.Info("registration rejected", "username", reg.Username, "error", err)
		return models.Session{}, err
	}

	session, err := s.start(ctx, resp)
	if err != nil {
		return models.Session{}, err
	}

	s.logger.Info("student registered", "username", session.User.Username)
	return session, nil
}

// Logout invalidates refresh token remotely when possible and always ends
// the local session
func (s *Service) Logout(ctx context.Context) {
	if stored, ok := s.store.Read(ctx); ok {
		if err := s.client.Logout(ctx, stored.Refresh); err != nil {
			s.logger.Warn("remote logout failed", "error", err)
		}
	}

	s.teardown(ctx)
	s.logger.Info("logged out")
}

// Refresh renews the access token. Failure ends the session.
func (s *Service) Refresh(ctx context.Context) (models.Session, error) {
	session, err := s.tokens.Refresh(ctx)
	if err != nil {
		if ctx.Err() == nil {
			s.teardown(ctx)
		}
		return models.Session{}, err
	}
	return session, nil
}

// FetchCurrentUser asks the API for the user and updates the cached copy.
// Expired session ends the same way as Logout.
func (s *Service) FetchCurrentUser(ctx context.Context) (models.User, error) {
	if !s.IsAuthenticated() {
		return models.User{}, apperrors.ErrNotAuthenticated
	}

	user, err := s.client.CurrentUser(ctx)
	if err != nil {
		if errors.Is(err, apperrors.ErrSessionExpired) {
			s.teardown(ctx)
		}
		return models.User{}, err
	}

	if err := s.storeUser(ctx, user); err != nil {
		return models.User{}, err
	}
	return user, nil
}

// ChangePassword checks confirmation and length before asking the API
func (s *Service) ChangePassword(ctx context.Context, oldPassword, newPassword, confirm string) error {
	if newPassword != confirm {
		return apperrors.ErrPasswordMismatch
	}

	change := models.PasswordChange{OldPassword: oldPassword, NewPassword: newPassword, ConfirmPassword: confirm}
	if err := validate.Struct(change); err != nil {
		return err
	}
	if !s.IsAuthenticated() {
		return apperrors.ErrNotAuthenticated
	}

	err := s.client.ChangePassword(ctx, change)
	if errors.Is(err, apperrors.ErrSessionExpired) {
		s.teardown(ctx)
	}
	return err
}

// UpdateProfile edits own profile and publishes the new user snapshot
func (s *Service) UpdateProfile(ctx context.Context, update models.ProfileUpdate) (models.User, error) {
	if err := validate.Struct(update); err != nil {
		return models.User{}, err
	}

	current, ok := s.CurrentUser()
	if !ok {
		return models.User{}, apperrors.ErrNotAuthenticated
	}

	user, err := s.client.UpdateProfile(ctx, current.ID, update)
	if err != nil {
		if errors.Is(err, apperrors.ErrSessionExpired) {
			s.teardown(ctx)
		}
		return models.User{}, err
	}

	if err := s.storeUser(ctx, user); err != nil {
		return models.User{}, err
	}
	return user, nil
}

// SessionExpired ends the session after the API could not renew it
func (s *Service) SessionExpired(ctx context.Context) {
	s.logger.Info("session expired")
	s.teardown(ctx)
}

// start persists session from login or registration and publishes it
func (s *Service) start(ctx context.Context, resp models.AuthResponse) (models.Session, error) {
	if err := checkRole(resp.User); err != nil {
		return models.Session{}, err
	}

	session := resp.Session()
	if err := s.store.Write(ctx, session); err != nil {
		return models.Session{}, fmt.Errorf("store session: %w", err)
	}

	s.set(guard.Authenticated(session.User.Role), session.User)
	return session, nil
}

// storeUser replaces the user snapshot in the store and in memory
func (s *Service) storeUser(ctx context.Context, user models.User) error {
	if err := checkRole(user); err != nil {
		return err
	}

	stored, ok := s.store.Read(ctx)
	if !ok {
		s.teardown(ctx)
		return apperrors.ErrSessionExpired
	}

	if err := s.store.Write(ctx, stored.WithUser(user)); err != nil {
		return fmt.Errorf("store user: %w", err)
	}

	s.set(guard.Authenticated(user.Role), &user)
	return nil
}

// checkRole rejects users the session state cannot represent
func checkRole(user models.User) error {
	if !user.Role.Valid() {
		return fmt.Errorf("%w: user %q has unknown role %q", apperrors.ErrUnexpectedResponse, user.Username, user.Role)
	}
	return nil
}

// teardown clears the store and moves to anonymous. Safe to repeat.
func (s *Service) teardown(ctx context.Context) {
	if err := s.store.Clear(context.WithoutCancel(ctx)); err != nil {
		s.logger.Error("failed to clear session", "error", err)
	}
	s.set(guard.Anonymous(), nil)
}

func (s *Service) requireSettled() error {
	if !s.State().Settled() {
		return apperrors.ErrNotInitialized
	}
	return nil
}

func (s *Service) set(state guard.State, user *models.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setLocked(state, user)
}

func (s *Service) setLocked(next guard.State, user *models.User) {
	if !s.state.CanTransition(next) {
		s.logger.Error("invalid session transition", "from", s.state.String(), "to", next.String())
		return
	}

	if user != nil {
		u := *user
		user = &u
	}
	s.state = next
	s.user = user

	snap := s.snapshotLocked()
	for _, ch := range s.subs {
		// keep only the latest snapshot for slow readers
		select {
		case <-ch:
		default:
		}
		ch <- snap
	}
}

func (s *Service) snapshotLocked() Snapshot {
	snap := Snapshot{State: s.state}
	if s.user != nil {
		u := *s.user
		snap.User = &u
	}
	return snap
}

// Subscribe returns channel that receives the current snapshot and then every
// change. Slow readers see only the latest one. Call cancel to unsubscribe.
func (s *Service) Subscribe() (<-chan Snapshot, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch := make(chan Snapshot, 1)
	ch <- s.snapshotLocked()

	id := s.subID
	s.subID++
	s.subs[id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			if _, ok := s.subs[id]; ok {
				delete(s.subs, id)
				close(ch)
			}
		})
	}

	return ch, cancel
}

// Close ends all subscriptions
func (s *Service) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, ch := range s.subs {
		delete(s.subs, id)
		close(ch)
	}
}
