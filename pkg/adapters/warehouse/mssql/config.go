package mssql

import (
	"fmt"
	"net/url"
	"strconv"

	"github.com/ekaya-inc/portfolio-chat/pkg/config"
)

// Config contains SQL Server connection options.
type Config struct {
	Host     string
	Port     int
	Database string
	Username string
	Password string

	Encrypt                bool
	TrustServerCertificate bool
	ConnectionTimeout      int
	MaxConns               int
}

// DefaultPort returns the default SQL Server port.
func DefaultPort() int {
	return 1433
}

// DefaultConnectionTimeout returns the default connection timeout in seconds.
func DefaultConnectionTimeout() int {
	return 30
}

// FromWarehouseConfig builds a Config from the warehouse section of the
// application config. Host resolution accounts for running inside Docker.
func FromWarehouseConfig(wc config.WarehouseConfig) *Config {
	port := wc.EffectivePort()
	if port == 0 {
		port = DefaultPort()
	}
	return &Config{
		Host:                   wc.EffectiveHost(),
		Port:                   port,
		Database:               wc.Database,
		Username:               wc.User,
		Password:               wc.Password,
		Encrypt:                wc.Encrypt,
		TrustServerCertificate: wc.TrustServerCertificate,
		ConnectionTimeout:      DefaultConnectionTimeout(),
		MaxConns:               wc.MaxConns,
	}
}

// Validate checks that the config can produce a connection string.
func (c *Config) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("host is required")
	}
	if c.Database == "" {
		return fmt.Errorf("database is required")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Port)
	}
	if c.Username == "" {
		return fmt.Errorf("username is required for SQL authentication")
	}
	return nil
}

// ConnectionString returns a sqlserver:// URL for go-mssqldb.
func (c *Config) ConnectionString() string {
	query := url.Values{}
	query.Add("database", c.Database)
	query.Add("encrypt", strconv.FormatBool(c.Encrypt))
	if c.TrustServerCertificate {
		query.Add("TrustServerCertificate", "true")
	}
	if c.ConnectionTimeout > 0 {
		query.Add("connection timeout", strconv.Itoa(c.ConnectionTimeout))
	}

	u := url.URL{
		Scheme:   "sqlserver",
		User:     url.UserPassword(c.Username, c.Password),
		Host:     fmt.Sprintf("%s:%d", c.Host, c.Port),
		RawQuery: query.Encode(),
	}
	return u.String()
}

// PoolKey identifies the pool for this config. It never contains the password.
func (c *Config) PoolKey() string {
	return fmt.Sprintf("mssql:%s@%s:%d/%s", c.Username, c.Host, c.Port, c.Database)
}
