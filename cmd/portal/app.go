package main

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/nkiryanov/thesisportal/internal/api"
	"github.com/nkiryanov/thesisportal/internal/auth"
	"github.com/nkiryanov/thesisportal/internal/db"
	"github.com/nkiryanov/thesisportal/internal/guard"
	"github.com/nkiryanov/thesisportal/internal/logger"
	"github.com/nkiryanov/thesisportal/internal/session"
	"github.com/nkiryanov/thesisportal/internal/token"
)

const redisPrefix = "thesisportal:session:"

// App is the wired session core of one profile
type App struct {
	Logger  logger.Logger
	Client  *api.Client
	Tokens  *token.Manager
	Service *auth.Service
	Guard   *guard.Guard

	closers []func()
}

func NewApp(ctx context.Context, c *Config) (*App, error) {
	// Initialize logger
	log, err := logger.New(c.Environment, c.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("error while initializing logger: %w", err)
	}
	log = log.With("profile", c.Profile)

	app := &App{Logger: log}

	// Open session backend
	backend, err := app.openBackend(ctx, c)
	if err != nil {
		app.Close()
		return nil, fmt.Errorf("error while opening %s store. Err: %w", c.Store, err)
	}
	store := session.NewStore(backend, log)

	// Initialize client and services
	client, err := api.New(api.Config{BaseURL: c.APIURL, Timeout: c.Timeout}, store, log)
	if err != nil {
		app.Close()
		return nil, fmt.Errorf("error while creating api client. Err: %w", err)
	}
	tokens := token.NewManager(token.Config{}, store, client, log)
	client.SetRefresher(tokens)

	service := auth.NewService(store, tokens, client, log)
	client.OnSessionExpired(service.SessionExpired)
	tokens.OnExpired(service.SessionExpired)
	app.closers = append(app.closers, service.Close)

	app.Client = client
	app.Tokens = tokens
	app.Service = service
	app.Guard = guard.New(service, guard.DefaultPolicy())

	return app, nil
}

func (a *App) openBackend(ctx context.Context, c *Config) (session.Backend, error) {
	switch c.Store {
	case StoreMemory:
		return session.NewMemoryBackend(), nil
	case StoreFile:
		return session.NewFileBackend(filepath.Join(c.StoreDir, c.Profile))
	case StoreRedis:
		client, err := session.ConnectRedis(ctx, c.RedisAddr)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() { _ = client.Close() })
		return session.NewRedisBackend(client, redisPrefix+c.Profile+":"), nil
	case StorePostgres:
		pool, err := db.ConnectAndMigrate(ctx, c.DatabaseDSN)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, pool.Close)
		return session.NewPostgresBackend(pool, c.Profile), nil
	default:
		return nil, fmt.Errorf("unknown store %q", c.Store)
	}
}

// Close releases connections in reverse order of opening
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
