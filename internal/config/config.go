// Package config loads the service configuration from environment variables
// with github.com/caarlos0/env.
//
// Every setting has a default, so an empty environment starts the server on
// :8080 with a SQLite file under data/. Pointing DATABASE_URL (or DB_HOST and
// friends) at a Postgres server switches the store.
package config

import (
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Store drivers.
const (
	DriverAuto     = "auto"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config is the full process configuration.
type Config struct {
	Port            int           `env:"PORT" envDefault:"8080"`
	LogLevel        string        `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat       string        `env:"LOG_FORMAT" envDefault:"text"`
	AdminJWTSecret  string        `env:"ADMIN_JWT_SECRET"`
	OTLPEndpoint    string        `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"30s"`
	RequestTimeout  time.Duration `env:"REQUEST_TIMEOUT" envDefault:"10s"`

	Database Database
}

// Database selects and configures the contact store.
//
// The DB_* names match the ones the Postgres deployment already uses.
type Database struct {
	Driver   string `env:"DB_DRIVER" envDefault:"auto"`
	Path     string `env:"DB_PATH" envDefault:"data/identity.db"`
	URL      string `env:"DATABASE_URL"`
	Host     string `env:"DB_HOST"`
	Port     int    `env:"DB_PORT" envDefault:"5432"`
	Username string `env:"DB_USERNAME" envDefault:"postgres"`
	Password string `env:"DB_PASSWORD"`
	Name     string `env:"DB_NAME" envDefault:"contact_identity"`
	SSL      bool   `env:"DB_SSL" envDefault:"false"`
}

// Load reads the configuration from the process environment.
func Load() (*Config, error) {
	return parse(env.Options{})
}

// LoadFrom reads the configuration from environ instead of the process
// environment. Tests and the CLI use it.
func LoadFrom(environ map[string]string) (*Config, error) {
	return parse(env.Options{Environment: environ})
}

func parse(opts env.Options) (*Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return nil, fmt.Errorf("config: parse env: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("config: PORT %d out of range", c.Port)
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		return err
	}
	switch strings.ToLower(c.LogFormat) {
	case "text", "json":
	default:
		return fmt.Errorf("config: LOG_FORMAT must be text or json, got %q", c.LogFormat)
	}
	switch c.Database.Driver {
	case DriverAuto, DriverSQLite, DriverPostgres:
	default:
		return fmt.Errorf("config: DB_DRIVER must be auto, sqlite or postgres, got %q", c.Database.Driver)
	}
	if c.Database.ResolvedDriver() == DriverPostgres && c.Database.URL == "" && c.Database.Host == "" {
		return fmt.Errorf("config: DB_DRIVER=postgres needs DATABASE_URL or DB_HOST")
	}
	if c.ShutdownTimeout <= 0 {
		return fmt.Errorf("config: SHUTDOWN_TIMEOUT must be positive")
	}
	return nil
}

// Addr is the listen address for the HTTP server.
func (c *Config) Addr() string {
	return ":" + strconv.Itoa(c.Port)
}

// ResolvedDriver turns "auto" into a concrete driver: postgres when a
// DATABASE_URL or DB_HOST is configured, sqlite otherwise.
func (d Database) ResolvedDriver() string {
	if d.Driver != DriverAuto {
		return d.Driver
	}
	if d.URL != "" || d.Host != "" {
		return DriverPostgres
	}
	return DriverSQLite
}

// PostgresDSN returns the connection URL for lib/pq. DATABASE_URL wins;
// otherwise the URL is assembled from the DB_* parts. Without DB_SSL the
// connection is made with sslmode=disable.
func (d Database) PostgresDSN() string {
	if d.URL != "" {
		return d.URL
	}

	u := url.URL{
		Scheme: "postgres",
		Host:   net.JoinHostPort(d.Host, strconv.Itoa(d.Port)),
		Path:   "/" + d.Name,
	}
	if d.Password != "" {
		u.User = url.UserPassword(d.Username, d.Password)
	} else {
		u.User = url.User(d.Username)
	}

	q := url.Values{}
	if d.SSL {
		q.Set("sslmode", "require")
	} else {
		q.Set("sslmode", "disable")
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// ParseLevel maps LOG_LEVEL to a slog level.
func ParseLevel(level string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return 0, fmt.Errorf("config: LOG_LEVEL: %w", err)
	}
	return l, nil
}
