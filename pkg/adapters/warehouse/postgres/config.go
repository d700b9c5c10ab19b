package postgres

import (
	"fmt"
	"net/url"

	"github.com/ekaya-inc/portfolio-chat/pkg/config"
)

// Config contains PostgreSQL connection options.
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string // "disable", "require", "verify-ca", "verify-full"
	MaxConns int
}

// DefaultPort returns the default PostgreSQL port.
func DefaultPort() int {
	return 5432
}

// DefaultSSLMode returns the default SSL mode.
func DefaultSSLMode() string {
	return "require"
}

// FromWarehouseConfig builds a Config from the warehouse section of the
// application config. localhost resolves to the Docker host when containerised.
func FromWarehouseConfig(wc config.WarehouseConfig) *Config {
	port := wc.EffectivePort()
	if port == 0 {
		port = DefaultPort()
	}
	sslMode := wc.SSLMode
	if sslMode == "" {
		sslMode = DefaultSSLMode()
	}
	return &Config{
		Host:     wc.EffectiveHost(),
		Port:     port,
		User:     wc.User,
		Password: wc.Password,
		Database: wc.Database,
		SSLMode:  sslMode,
		MaxConns: wc.MaxConns,
	}
}

// Validate checks that the config can produce a connection string.
func (c *Config) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("host is required")
	}
	if c.User == "" {
		return fmt.Errorf("user is required")
	}
	if c.Database == "" {
		return fmt.Errorf("database is required")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Port)
	}
	return nil
}

// ConnectionString builds a PostgreSQL URL. Every user-provided field is
// escaped so passwords containing @, /, # or ? survive URL parsing.
func (c *Config) ConnectionString() string {
	sslMode := c.SSLMode
	if sslMode == "" {
		sslMode = DefaultSSLMode()
	}
	connStr := fmt.Sprintf(
		"postgresql://%s:%s@%s:%d/%s?sslmode=%s",
		url.QueryEscape(c.User),
		url.QueryEscape(c.Password),
		c.Host,
		c.Port,
		url.QueryEscape(c.Database),
		sslMode,
	)
	if c.MaxConns > 0 {
		connStr += fmt.Sprintf("&pool_max_conns=%d", c.MaxConns)
	}
	return connStr
}

// PoolKey identifies the pool for this config. It never contains the password.
func (c *Config) PoolKey() string {
	return fmt.Sprintf("postgres:%s@%s:%d/%s", c.User, c.Host, c.Port, c.Database)
}
