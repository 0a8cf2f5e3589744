// Package token tracks access token expiry and renews it with the refresh
// token. Concurrent refresh requests share one exchange.
package token

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/sync/singleflight"

	"github.com/nkiryanov/thesisportal/internal/apperrors"
	"github.com/nkiryanov/thesisportal/internal/logger"
	"github.com/nkiryanov/thesisportal/internal/models"
)

const (
	defaultLeeway         = 10 * time.Second
	defaultRefreshTimeout = 15 * time.Second

	refreshKey = "refresh"
)

// Exchanger trades refresh token for a new access token
type Exchanger interface {
	RefreshAccess(ctx context.Context, refresh string) (string, error)
}

// SessionStore is the persisted session the manager keeps current
type SessionStore interface {
	Read(ctx context.Context) (models.Session, bool)
	Write(ctx context.Context, s models.Session) error
	Clear(ctx context.Context) error
}

// Token manager with sensible defaults
type Config struct {
	// Tokens expiring within Leeway are treated as expired
	// If not set than default is used
	Leeway time.Duration

	// Limit for one refresh exchange. It is not bound to any caller's context.
	// If not set than default is used
	RefreshTimeout time.Duration

	// Clock, time.Now when nil
	Now func() time.Time
}

type Manager struct {
	store     SessionStore
	exchanger Exchanger
	logger    logger.Logger

	leeway  time.Duration
	timeout time.Duration
	now     func() time.Time

	group singleflight.Group

	mu        sync.RWMutex
	onExpired func(ctx context.Context)
}

func NewManager(cfg Config, store SessionStore, exchanger Exchanger, l logger.Logger) *Manager {
	if cfg.Leeway == 0 {
		cfg.Leeway = defaultLeeway
	}
	if cfg.RefreshTimeout == 0 {
		cfg.RefreshTimeout = defaultRefreshTimeout
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &Manager{
		store:     store,
		exchanger: exchanger,
		logger:    logger.OrNoOp(l).With("component", "token"),
		leeway:    cfg.Leeway,
		timeout:   cfg.RefreshTimeout,
		now:       cfg.Now,
	}
}

// OnExpired registers the callback run after a failed refresh cleared the
// store. It runs even when no caller waits for the exchange any more.
func (m *Manager) OnExpired(fn func(ctx context.Context)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onExpired = fn
}

// ExpiresAt returns the exp claim of the token.
// The signature is not verified: only the issuer holds the key.
func ExpiresAt(access string) (time.Time, error) {
	claims := jwt.RegisteredClaims{}
	_, _, err := jwt.NewParser().ParseUnverified(access, &claims)
	if err != nil {
		return time.Time{}, fmt.Errorf("decode token: %w", err)
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, errors.New("token has no exp claim")
	}
	return claims.ExpiresAt.Time, nil
}

// IsExpired reports whether access token can no longer be used.
// Undecodable tokens and tokens without exp are expired.
func (m *Manager) IsExpired(access string) bool {
	exp, err := ExpiresAt(access)
	if err != nil {
		m.logger.Debug("access token is not decodable", "error", err)
		return true
	}
	return !m.now().Add(m.leeway).Before(exp)
}

// Valid returns stored session when its access token is still usable
func (m *Manager) Valid(ctx context.Context) (models.Session, bool) {
	s, ok := m.store.Read(ctx)
	if !ok || m.IsExpired(s.Access) {
		return models.Session{}, false
	}
	return s, true
}

// Refresh exchanges stored refresh token for a new access token and stores
// the updated session. Callers arriving while an exchange is in flight get
// its result. The exchange is not cancelled when ctx is: the caller just
// stops waiting.
//
// Any failure clears the store, runs the OnExpired callback and returns
// error matching apperrors.ErrSessionExpired.
func (m *Manager) Refresh(ctx context.Context) (models.Session, error) {
	ch := m.group.DoChan(refreshKey, func() (any, error) {
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.timeout)
		defer cancel()

		return m.refresh(rctx)
	})

	select {
	case <-ctx.Done():
		return models.Session{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return models.Session{}, res.Err
		}
		return res.Val.(models.Session), nil
	}
}

func (m *Manager) refresh(ctx context.Context) (models.Session, error) {
	current, ok := m.store.Read(ctx)
	if !ok {
		m.expire(ctx)
		return models.Session{}, fmt.Errorf("no stored session: %w", apperrors.ErrSessionExpired)
	}

	access, err := m.exchanger.RefreshAccess(ctx, current.Refresh)
	if err != nil {
		m.logger.Info("refresh rejected, clearing session", "error", err)
		m.clear(ctx)
		m.expire(ctx)
		return models.Session{}, fmt.Errorf("%w: %w", apperrors.ErrSessionExpired, err)
	}

	next := current.WithAccess(access)
	if err := m.store.Write(ctx, next); err != nil {
		m.logger.Error("failed to store refreshed session", "error", err)
		m.clear(ctx)
		m.expire(ctx)
		return models.Session{}, fmt.Errorf("%w: %w", apperrors.ErrSessionExpired, err)
	}

	m.logger.Debug("access token refreshed", "user", current.User.Username)
	return next, nil
}

func (m *Manager) clear(ctx context.Context) {
	if err := m.store.Clear(ctx); err != nil {
		m.logger.Error("failed to clear session", "error", err)
	}
}

func (m *Manager) expire(ctx context.Context) {
	m.mu.RLock()
	fn := m.onExpired
	m.mu.RUnlock()

	if fn != nil {
		fn(context.WithoutCancel(ctx))
	}
}
