// Package session persists the authenticated session across restarts.
//
// A session is stored under two keys, one for the token pair and one for the
// user snapshot. Anything that cannot be read back as a complete session is
// treated as absent and wiped.
package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/goccy/go-json"

	"github.com/nkiryanov/thesisportal/internal/apperrors"
	"github.com/nkiryanov/thesisportal/internal/logger"
	"github.com/nkiryanov/thesisportal/internal/models"
)

const (
	TokensKey = "auth_tokens"
	UserKey   = "user_data"
)

// ErrNotFound is returned by backends for absent keys
var ErrNotFound = errors.New("key not found")

// Backend is a key-value storage for raw session records
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, keys ...string) error
}

type tokens struct {
	Access  string `json:"access"`
	Refresh string `json:"refresh"`
}

type Store struct {
	backend Backend
	logger  logger.Logger
}

func NewStore(backend Backend, l logger.Logger) *Store {
	return &Store{
		backend: backend,
		logger:  logger.OrNoOp(l).With("component", "session"),
	}
}

// Read returns the persisted session.
// It never fails: absent, partial or corrupt data is reported as no session,
// and partial or corrupt data is cleared on the way.
func (s *Store) Read(ctx context.Context) (models.Session, bool) {
	rawTokens, tokErr := s.backend.Get(ctx, TokensKey)
	rawUser, userErr := s.backend.Get(ctx, UserKey)

	switch {
	case errors.Is(tokErr, ErrNotFound) && errors.Is(userErr, ErrNotFound):
		return models.Session{}, false
	case tokErr != nil && !errors.Is(tokErr, ErrNotFound):
		s.logger.Warn("session backend read failed", "key", TokensKey, "error", tokErr)
		return models.Session{}, false
	case userErr != nil && !errors.Is(userErr, ErrNotFound):
		s.logger.Warn("session backend read failed", "key", UserKey, "error", userErr)
		return models.Session{}, false
	}

	session, err := decode(rawTokens, rawUser)
	if err != nil {
		s.logger.Warn("stored session is unusable, clearing", "error", err)
		if err := s.Clear(ctx); err != nil {
			s.logger.Error("failed to clear unusable session", "error", err)
		}
		return models.Session{}, false
	}

	return session, true
}

// Write persists the session. The user record goes first, so a crash
// between the two writes leaves a user without tokens, which Read wipes.
func (s *Store) Write(ctx context.Context, session models.Session) error {
	if !session.Valid() {
		return apperrors.ErrInvalidSession
	}

	rawUser, err := json.Marshal(session.User)
	if err != nil {
		return fmt.Errorf("encode user: %w", err)
	}

	rawTokens, err := json.Marshal(tokens{Access: session.Access, Refresh: session.Refresh})
	if err != nil {
		return fmt.Errorf("encode tokens: %w", err)
	}

	if err := s.backend.Set(ctx, UserKey, rawUser); err != nil {
		return fmt.Errorf("store user: %w", err)
	}
	if err := s.backend.Set(ctx, TokensKey, rawTokens); err != nil {
		return fmt.Errorf("store tokens: %w", err)
	}

	return nil
}

// Clear removes the session. Clearing an empty store is not an error.
func (s *Store) Clear(ctx context.Context) error {
	err := s.backend.Delete(ctx, TokensKey, UserKey)
	if err != nil {
		return fmt.Errorf("clear session: %w", err)
	}
	return nil
}

func decode(rawTokens, rawUser []byte) (models.Session, error) {
	if rawTokens == nil {
		return models.Session{}, errors.New("user without tokens")
	}
	if rawUser == nil {
		return models.Session{}, errors.New("tokens without user")
	}

	var t tokens
	if err := json.Unmarshal(rawTokens, &t); err != nil {
		return models.Session{}, fmt.Errorf("decode tokens: %w", err)
	}

	var u *models.User
	if err := json.Unmarshal(rawUser, &u); err != nil {
		return models.Session{}, fmt.Errorf("decode user: %w", err)
	}

	session := models.Session{Access: t.Access, Refresh: t.Refresh, User: u}
	if !session.Valid() {
		return models.Session{}, apperrors.ErrInvalidSession
	}

	return session, nil
}
