package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"

	"github.com/nkiryanov/thesisportal/internal/logger"
)

// Session store kinds
const (
	StoreFile     = "file"
	StoreMemory   = "memory"
	StoreRedis    = "redis"
	StorePostgres = "postgres"
)

const (
	defaultAPIURL       = "http://localhost:8000/api"
	defaultStore        = StoreFile
	defaultProfile      = "default"
	defaultLoggingLevel = logger.LevelWarn
	defaultEnvironment  = logger.EnvDevelopment
	defaultTimeout      = 15 * time.Second
)

type Config struct {
	// API root, endpoint paths are appended to it
	APIURL string

	// Where the session is kept: file, memory, redis or postgres
	Store string

	// Directory of the file store. Each profile gets a subdirectory.
	StoreDir string

	// Profile separates sessions of different accounts on the same store
	Profile string

	// Redis address or redis:// URL, used by redis store
	RedisAddr string

	// Database to connect to, used by postgres store
	DatabaseDSN string

	// Default logging level
	LogLevel string

	// Environment
	Environment string

	// Timeout of a single API request
	Timeout time.Duration
}

func NewConfig() *Config {
	return &Config{
		APIURL:      defaultAPIURL,
		Store:       defaultStore,
		StoreDir:    defaultStoreDir(),
		Profile:     defaultProfile,
		LogLevel:    defaultLoggingLevel,
		Environment: defaultEnvironment,
		Timeout:     defaultTimeout,
	}
}

func defaultStoreDir() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "thesisportal")
	}
	return filepath.Join(dir, "thesisportal")
}

// Load variable from '.env' file (should be located at working directory)
func (c *Config) LoadDotEnv(getwd func() (string, error)) error {
	wd, err := getwd()
	if err != nil {
		return err
	}

	envMap, err := godotenv.Read(filepath.Join(wd, ".env"))

	switch {
	case err == nil:
		return c.LoadEnv(func(key string) string {
			return envMap[key]
		})
	case errors.Is(err, os.ErrNotExist):
		return nil
	default:
		return err
	}
}

func (c *Config) LoadEnv(getenv func(string) string) error {
	// Set option to value if it not empty
	setString := func(o *string) func(value string) error {
		return func(value string) error {
			if value != "" {
				*o = value
			}
			return nil
		}
	}
	setDuration := func(o *time.Duration) func(value string) error {
		return func(value string) error {
			if value == "" {
				return nil
			}
			d, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			*o = d
			return nil
		}
	}

	envMap := map[string]func(string) error{
		"API_URL":         setString(&c.APIURL),
		"STORE":           setString(&c.Store),
		"STORE_DIR":       setString(&c.StoreDir),
		"PROFILE":         setString(&c.Profile),
		"REDIS_ADDR":      setString(&c.RedisAddr),
		"DATABASE_URI":    setString(&c.DatabaseDSN),
		"LOG_LEVEL":       setString(&c.LogLevel),
		"ENVIRONMENT":     setString(&c.Environment),
		"REQUEST_TIMEOUT": setDuration(&c.Timeout),
	}

	var errs []error
	for key, parseFn := range envMap {
		if err := parseFn(getenv(key)); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
		}
	}
	return errors.Join(errs...)
}

// BindFlags registers options on fs with current values as defaults
func (c *Config) BindFlags(fs *pflag.FlagSet) {
	fs.StringVarP(&c.APIURL, "api-url", "u", c.APIURL, "API root URL")
	fs.StringVar(&c.Store, "store", c.Store, "Session store (file, memory, redis, postgres)")
	fs.StringVar(&c.StoreDir, "store-dir", c.StoreDir, "Directory of the file store")
	fs.StringVar(&c.Profile, "profile", c.Profile, "Session profile")
	fs.StringVar(&c.RedisAddr, "redis-addr", c.RedisAddr, "Redis address for redis store")
	fs.StringVarP(&c.DatabaseDSN, "database", "d", c.DatabaseDSN, "Database connection string for postgres store")
	fs.StringVarP(&c.LogLevel, "log-level", "l", c.LogLevel, "Logging level (debug, info, warn, error)")
	fs.StringVarP(&c.Environment, "environment", "e", c.Environment, "Environment (development, production)")
	fs.DurationVar(&c.Timeout, "timeout", c.Timeout, "API request timeout")
}

func (c *Config) ParseFlags(args []string) error {
	fs := pflag.NewFlagSet("portal", pflag.ContinueOnError)
	c.BindFlags(fs)
	return fs.Parse(args)
}

func (c *Config) Validate() error {
	var errs []error

	if c.APIURL == "" {
		errs = append(errs, errors.New("api url is required"))
	}
	if c.Profile == "" {
		errs = append(errs, errors.New("profile is required"))
	}
	if c.Timeout <= 0 {
		errs = append(errs, errors.New("timeout must be positive"))
	}

	switch c.Store {
	case StoreMemory:
	case StoreFile:
		if c.StoreDir == "" {
			errs = append(errs, errors.New("store dir is required for file store"))
		}
	case StoreRedis:
		if c.RedisAddr == "" {
			errs = append(errs, errors.New("redis address is required for redis store"))
		}
	case StorePostgres:
		if c.DatabaseDSN == "" {
			errs = append(errs, errors.New("database is required for postgres store"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown store %q", c.Store))
	}

	return errors.Join(errs...)
}
