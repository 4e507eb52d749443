package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	DriverMongo  = "mongo"
	DriverSQLite = "sqlite"
	DriverMemory = "memory"
)

type Config struct {
	ServerPort string

	StoreDriver       string
	MongoURI          string
	MongoDBName       string
	MongoTransactions bool
	SQLitePath        string

	// EventsServiceURL, when set, makes event lookups go to the events service
	// instead of the local store.
	EventsServiceURL string

	JWTSecret    string
	AllowedRoles []string
	CORSOrigin   string

	LogFile  string
	LogLevel string

	RequestTimeout time.Duration
	MaxTreeDepth   int
}

// Load reads envFile into the process environment (variables already set win)
// and builds the configuration from it. A missing envFile is not an error.
func Load(envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", envFile, err)
		}
	}

	cfg := &Config{
		ServerPort:       getEnv("SERVER_PORT", "8002"),
		StoreDriver:      strings.ToLower(getEnv("STORE_DRIVER", DriverMongo)),
		MongoURI:         getEnv("MONGO_URI", "mongodb://localhost:27017"),
		MongoDBName:      getEnv("MONGO_DB_NAME", "tasks_db"),
		SQLitePath:       getEnv("SQLITE_PATH", "tasks.db"),
		EventsServiceURL: os.Getenv("EVENTS_SERVICE_URL"),
		JWTSecret:        os.Getenv("JWT_SECRET"),
		AllowedRoles:     splitList(getEnv("ALLOWED_ROLES", "exec,manager")),
		CORSOrigin:       getEnv("CORS_ORIGIN", "*"),
		LogFile:          os.Getenv("LOG_FILE"),
		LogLevel:         getEnv("LOG_LEVEL", "info"),
	}

	var err error
	if cfg.MongoTransactions, err = strconv.ParseBool(getEnv("MONGO_TRANSACTIONS", "true")); err != nil {
		return nil, fmt.Errorf("MONGO_TRANSACTIONS: %w", err)
	}
	if cfg.RequestTimeout, err = time.ParseDuration(getEnv("REQUEST_TIMEOUT", "10s")); err != nil {
		return nil, fmt.Errorf("REQUEST_TIMEOUT: %w", err)
	}
	if cfg.MaxTreeDepth, err = strconv.Atoi(getEnv("MAX_TREE_DEPTH", "64")); err != nil {
		return nil, fmt.Errorf("MAX_TREE_DEPTH: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	switch c.StoreDriver {
	case DriverMongo, DriverSQLite, DriverMemory:
	default:
		return fmt.Errorf("STORE_DRIVER must be one of mongo, sqlite, memory, got %q", c.StoreDriver)
	}
	if c.JWTSecret == "" {
		return errors.New("JWT_SECRET is not set")
	}
	if len(c.AllowedRoles) == 0 {
		return errors.New("ALLOWED_ROLES must name at least one role")
	}
	if c.MaxTreeDepth <= 0 {
		return fmt.Errorf("MAX_TREE_DEPTH must be positive, got %d", c.MaxTreeDepth)
	}
	return nil
}

func (c *Config) Addr() string {
	return ":" + strings.TrimPrefix(c.ServerPort, ":")
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func splitList(value string) []string {
	var items []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	return items
}
